package cli

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	_ "github.com/mattn/go-sqlite3"
)

func golden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestAdmitText(t *testing.T) {
	w := newWorkspace(t)
	out, err := w.run(t, "admit", filepath.Join("testdata", "events.jsonl"))

	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "1 event(s) rejected")
	golden(t).Assert(t, "admit", []byte(out))
}

func TestAdmitJSONWithMetrics(t *testing.T) {
	w := newWorkspace(t)
	out, _ := w.run(t, "--format", "json", "admit", "--metrics", filepath.Join("testdata", "events.jsonl"))

	var resp struct {
		Status string      `json:"status"`
		Data   AdmitResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Admitted, 5)
	require.Len(t, resp.Data.Rejected, 1)
	assert.Equal(t, "UNAUTHORIZED", resp.Data.Rejected[0].Code)
	assert.Equal(t, "$bad:a.org", resp.Data.Rejected[0].EventID)

	m := resp.Data.Metrics
	assert.Equal(t, 5.0, m["roomdag_admissions_total{result=ok}"])
	assert.Equal(t, 1.0, m["roomdag_admissions_total{result=unauthorized}"])
	assert.Equal(t, 1.0, m["roomdag_refs_edges_total{kind=RELATES}"])
	assert.Equal(t, 1.0, m["roomdag_horizon_resumed_total"])
	assert.Equal(t, 0.0, m["roomdag_horizon_pending"])
	assert.Contains(t, m, "roomdag_store_disk_bytes")
}

func TestAdmitDuplicatesOnSecondRun(t *testing.T) {
	w := newWorkspace(t)
	w.admitFixture(t)

	out, err := w.run(t, "admit", filepath.Join("testdata", "events.jsonl"))
	require.Error(t, err)
	assert.Contains(t, out, "0 admitted, 6 rejected")
	assert.Contains(t, out, "rejected DUPLICATE_EVENT: event already admitted (event=$create:a.org)")
}

func TestAdmitYAML(t *testing.T) {
	w := newWorkspace(t)
	out, err := w.run(t, "admit", filepath.Join("testdata", "events.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "admitted $second:a.org idx=2 edges=0")
	assert.Contains(t, out, "2 admitted, 0 rejected")
}

func TestAdmitMissingFile(t *testing.T) {
	w := newWorkspace(t)
	_, err := w.run(t, "admit", filepath.Join(w.dir, "nope.jsonl"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load events")
}

func TestRefs(t *testing.T) {
	w := newWorkspace(t)
	w.admitFixture(t)

	out, err := w.run(t, "refs", "$msg:a.org")
	require.NoError(t, err)
	golden(t).Assert(t, "refs", []byte(out))
}

func TestRefsByKind(t *testing.T) {
	w := newWorkspace(t)
	w.admitFixture(t)

	out, err := w.run(t, "--format", "json", "refs", "$msg:a.org", "--kind", "relates")
	require.NoError(t, err)
	refs := gjson.Get(out, "data.referrers")
	require.Len(t, refs.Array(), 1)
	assert.Equal(t, "RELATES", refs.Get("0.kind").String())
	assert.Equal(t, "$reply:a.org", refs.Get("0.event_id").String())
	assert.Equal(t, int64(4), refs.Get("0.idx").Int())
}

func TestRefsAfter(t *testing.T) {
	w := newWorkspace(t)
	w.admitFixture(t)

	out, err := w.run(t, "--format", "json", "refs", "$msg:a.org", "--kind", "next", "--after", "4")
	require.NoError(t, err)
	refs := gjson.Get(out, "data.referrers")
	require.Len(t, refs.Array(), 1)
	assert.Equal(t, "$late:a.org", refs.Get("0.event_id").String())
	assert.Equal(t, int64(5), refs.Get("0.idx").Int())

	_, err = w.run(t, "refs", "$msg:a.org", "--after", "4")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRefsErrors(t *testing.T) {
	w := newWorkspace(t)
	w.admitFixture(t)

	_, err := w.run(t, "refs", "$nope:a.org")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "event not found: $nope:a.org")

	_, err = w.run(t, "refs", "$msg:a.org", "--kind", "LIKES")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestPower(t *testing.T) {
	w := newWorkspace(t)
	w.admitFixture(t)

	out, err := w.run(t, "power", "!r:a.org", "@alice:a.org")
	require.NoError(t, err)
	assert.Equal(t, "@alice:a.org in !r:a.org: level 100 (power levels)\n", out)

	out, err = w.run(t, "power", "!r:a.org", "@bob:a.org", "--type", "m.room.topic", "--state-key", "")
	require.NoError(t, err)
	assert.Equal(t,
		"@bob:a.org in !r:a.org: level 0 (power levels)\nm.room.topic requires 50: not authorized\n", out)

	out, err = w.run(t, "--format", "json", "power", "!r:a.org", "@bob:a.org", "--type", "m.room.message")
	require.NoError(t, err)
	assert.True(t, gjson.Get(out, "data.authorized").Bool())
	assert.Equal(t, int64(0), gjson.Get(out, "data.required").Int())

	out, err = w.run(t, "power", "!r:a.org", "@alice:a.org", "--prop", "redact")
	require.NoError(t, err)
	assert.Contains(t, out, "redact requires 50: authorized")
}

func TestPowerWithoutPowerLevels(t *testing.T) {
	w := newWorkspace(t)
	_, err := w.run(t, "admit", filepath.Join("testdata", "events.yaml"))
	require.NoError(t, err)

	out, err := w.run(t, "power", "!y:a.org", "@carol:a.org")
	require.NoError(t, err)
	assert.Equal(t, "@carol:a.org in !y:a.org: level 100 (creator defaults)\n", out)

	_, err = w.run(t, "power", "!unknown:a.org", "@carol:a.org")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "room has no create event")
}

func TestComposePower(t *testing.T) {
	w := newWorkspace(t)
	out, err := w.run(t, "compose-power", "@alice:a.org")
	require.NoError(t, err)

	content := strings.TrimSpace(out)
	require.True(t, gjson.Valid(content))
	assert.Equal(t, int64(100), gjson.Get(content, `users.@alice:a\.org`).Int())
	assert.Equal(t, int64(50), gjson.Get(content, "state_default").Int())

	out, err = w.run(t, "--format", "json", "compose-power", "@alice:a.org")
	require.NoError(t, err)
	assert.Equal(t, int64(50), gjson.Get(out, "data.ban").Int())
}

func TestHorizon(t *testing.T) {
	w := newWorkspace(t)
	events := filepath.Join(w.dir, "orphan.jsonl")
	require.NoError(t, os.WriteFile(events, []byte(
		`{"event_id":"$orphan:a.org","type":"m.room.message","room_id":"!o:a.org","sender":"@alice:a.org","content":{},"prev_events":["$gone:b.org"],"auth_events":[],"depth":1,"origin_server_ts":1}`+"\n"), 0o644))

	out, err := w.run(t, "horizon")
	require.NoError(t, err)
	assert.Equal(t, "no pending references\n", out)

	// No create event, so admission must run unauthorized.
	t.Setenv("ROOMDAG_AUTHORIZE", "false")
	_, err = w.run(t, "admit", events)
	require.NoError(t, err)

	out, err = w.run(t, "horizon")
	require.NoError(t, err)
	assert.Equal(t, "$gone:b.org <-NEXT- $orphan:a.org (idx 1)\n1 pending, 1 missing id(s)\n", out)
}

func TestStats(t *testing.T) {
	w := newWorkspace(t)
	w.admitFixture(t)

	out, err := w.run(t, "--format", "json", "stats")
	require.NoError(t, err)
	assert.Equal(t, int64(5), gjson.Get(out, "data.events").Int())
	assert.Equal(t, int64(5), gjson.Get(out, "data.last_idx").Int())
	assert.Equal(t, int64(7), gjson.Get(out, "data.edges").Int())
	assert.Equal(t, int64(5), gjson.Get(out, "data.edges_by_kind.NEXT").Int())
	assert.Equal(t, int64(0), gjson.Get(out, "data.horizon_markers").Int())
	assert.Equal(t, int64(2), gjson.Get(out, "data.state_entries").Int())

	out, err = w.run(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "events:          5\n")
	assert.Contains(t, out, "  NEXT_AUTH      1\n")
}

func TestExport(t *testing.T) {
	w := newWorkspace(t)
	w.admitFixture(t)
	target := filepath.Join(w.dir, "graph.sqlite")

	out, err := w.run(t, "export", "--sqlite", target)
	require.NoError(t, err)
	assert.Equal(t, "exported 5 events, 7 edges, 0 horizon markers to "+target+"\n", out)

	db, err := sql.Open("sqlite3", target)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM edges WHERE kind = 'RELATES'`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestExportRequiresTarget(t *testing.T) {
	w := newWorkspace(t)
	_, err := w.run(t, "export")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestReindex(t *testing.T) {
	w := newWorkspace(t)
	w.admitFixture(t)

	out, err := w.run(t, "reindex", "$pl:a.org")
	require.NoError(t, err)
	golden(t).Assert(t, "reindex", []byte(out))

	_, err = w.run(t, "reindex", "$nope:a.org")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
