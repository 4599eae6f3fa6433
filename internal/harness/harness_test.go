package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/horizon_backfill.yaml")
	require.NoError(t, err)

	result, err := RunWithGolden(t, s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRunIsDeterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/horizon_backfill.yaml")
	require.NoError(t, err)

	a, err := Run(context.Background(), s)
	require.NoError(t, err)
	b, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, Render(s.Name, a), Render(s.Name, b))
}

func TestRunReportsFailedExpectations(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: wrong
description: expectations that do not hold
authorize: true
events:
  - name: msg
    room: "!r:a.org"
    type: m.room.message
    sender: "@alice:a.org"
  - name: create
    room: "!r:a.org"
    type: m.room.create
    sender: "@alice:a.org"
    state_key: ""
    expect: rejected
assertions:
  - type: edge
    target: create
    kind: NEXT
    source: msg
  - type: horizon_pending
    missing: "$nothing:a.org"
    count: 2
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "msg: expected admitted, got UNAUTHORIZED")
	assert.Contains(t, result.Errors[1], "create: expected rejected, was admitted")
	assert.Contains(t, result.Errors[2], "Assertion failed: edge")
	assert.Contains(t, result.Errors[3], "Assertion failed: horizon_pending")
}

func TestRunWithoutHorizon(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: no_horizon
description: unresolved references are dropped when the horizon is off
horizon: false
kinds: [NEXT]
events:
  - name: early
    room: "!r:a.org"
    type: m.room.message
    sender: "@alice:a.org"
    prev: [late]
  - name: late
    room: "!r:a.org"
    type: m.room.message
    sender: "@alice:a.org"
    prev: []
  - name: again
    room: "!r:a.org"
    type: m.room.message
    sender: "@alice:a.org"
    id: "$early:a.org"
    expect: rejected:DUPLICATE_EVENT
assertions:
  - type: no_edge
    target: late
    kind: NEXT
    source: early
  - type: horizon_pending
    missing: late
    count: 0
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Steps, 3)
	assert.Equal(t, []string{"NEXT missing $late:a.org"}, result.Steps[0].Outcomes)
	assert.Empty(t, result.Edges)
	assert.Empty(t, result.Pending)
}
