package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/roomdag/internal/testutil"
)

// workspace is a temporary store plus config for command tests.
type workspace struct {
	dir    string
	db     string
	config string
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	dir := t.TempDir()
	cfg := filepath.Join(dir, "roomdag.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("server_name: a.org\nlog:\n  level: error\n"), 0o644))
	return &workspace{dir: dir, db: filepath.Join(dir, "graph"), config: cfg}
}

// run executes the root command with the workspace's store and config and
// returns stdout.
func (w *workspace) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	opts := &RootOptions{Traces: testutil.NewFixedTraceGenerator("trace")}
	cmd := newRootCommand(opts)
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(append([]string{
		"--config", w.config,
		"--env-file", filepath.Join(w.dir, "missing.env"),
		"--db", w.db,
	}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// admitFixture admits testdata/events.jsonl, which rejects one event.
func (w *workspace) admitFixture(t *testing.T) {
	t.Helper()
	_, err := w.run(t, "admit", filepath.Join("testdata", "events.jsonl"))
	require.Error(t, err)
	require.Equal(t, ExitFailure, GetExitCode(err))
}
