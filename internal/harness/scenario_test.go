package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/horizon_backfill.yaml")
	require.NoError(t, err)

	assert.Equal(t, "horizon_backfill", s.Name)
	assert.Equal(t, "a.org", s.ServerName)
	assert.True(t, s.Authorize)
	require.Len(t, s.Events, 10)

	early := s.Events[2]
	require.NotNil(t, early.Prev)
	assert.Equal(t, []string{"late"}, *early.Prev)
	assert.Nil(t, early.Auth)

	create := s.Events[0]
	require.NotNil(t, create.StateKey)
	assert.Equal(t, "", *create.StateKey)
	assert.Equal(t, "@alice:a.org", create.Content["creator"])
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}

func TestParseScenarioDefaults(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: tiny
description: one event
events:
  - name: a
    room: "!r:x.org"
    type: m.room.message
    sender: "@u:x.org"
`))
	require.NoError(t, err)
	assert.Equal(t, DefaultServerName, s.ServerName)
	assert.Nil(t, s.Horizon)
}

func TestParseScenarioRejects(t *testing.T) {
	const event = `
  - name: a
    room: "!r:x.org"
    type: m.room.message
    sender: "@u:x.org"`

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "name: x\ndescription: d\nevnts: []\n", "field evnts not found"},
		{"no name", "description: d\nevents:" + event, "name is required"},
		{"no description", "name: x\nevents:" + event, "description is required"},
		{"no events", "name: x\ndescription: d\n", "events list is required"},
		{"bad kind", "name: x\ndescription: d\nkinds: [SIDEWAYS]\nevents:" + event, "kinds"},
		{"duplicate step", "name: x\ndescription: d\nevents:" + event + event, "duplicate name"},
		{"bad expect", "name: x\ndescription: d\nevents:" + event + "\n    expect: maybe", "invalid expect"},
		{"missing type", "name: x\ndescription: d\nevents:\n  - name: a\n    room: \"!r:x.org\"\n    sender: \"@u:x.org\"", "required"},
		{"unknown assertion", "name: x\ndescription: d\nevents:" + event + "\nassertions:\n  - type: vibes", "unknown assertion type"},
		{"unknown target", "name: x\ndescription: d\nevents:" + event + "\nassertions:\n  - type: edge\n    target: zz\n    source: a\n    kind: NEXT", "unknown event"},
		{"edge without kind", "name: x\ndescription: d\nevents:" + event + "\nassertions:\n  - type: edge\n    target: a\n    source: a", "unknown reference kind"},
		{"power without user", "name: x\ndescription: d\nevents:" + event + "\nassertions:\n  - type: power_level\n    room: \"!r:x.org\"", "requires room and user"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseExpect(t *testing.T) {
	ok, code, err := parseExpect("")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, code)

	ok, code, err = parseExpect("rejected:DUPLICATE_EVENT")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "DUPLICATE_EVENT", code)

	ok, _, err = parseExpect("rejected")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScenarioFilesParse(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)
	for _, p := range paths {
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		_, err = ParseScenario(data)
		assert.NoError(t, err, p)
	}
}
