package store

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/roach88/roomdag/internal/refs"
)

// ComparerName is persisted by pebble and checked on every open.
const ComparerName = "roomdag.refs.v1"

// Options configures Open.
type Options struct {
	// Sync fsyncs the WAL on every commit.
	Sync bool
	// InMemory backs the database with an in-memory filesystem; path is
	// then only a name.
	InMemory bool
	// Logger receives store lifecycle messages. Defaults to slog.Default().
	Logger *slog.Logger
}

// Store provides durable storage for the event graph.
type Store struct {
	reader
	db     *pebble.DB
	path   string
	sync   bool
	logger *slog.Logger
}

// Open creates or opens a pebble database at path.
//
// The database is configured with:
//   - the refs comparer (ComparerName)
//   - the WAL enabled; Options.Sync chooses fsync per commit
//
// This function is idempotent - safe to call on an existing database.
func Open(path string, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pOpts := &pebble.Options{
		Comparer: Comparer(),
	}
	if opts.InMemory {
		pOpts.FS = vfs.NewMem()
	}

	db, err := pebble.Open(path, pOpts)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}

	s := &Store{
		reader: reader{src: db},
		db:     db,
		path:   path,
		sync:   opts.Sync,
		logger: logger,
	}
	logger.Debug("store opened", "path", path, "in_memory", opts.InMemory, "sync", opts.Sync)
	return s, nil
}

// Close closes the database. Safe to call more than once.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Path returns the path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// NewTxn starts a write transaction. Callers must Commit or Close it.
func (s *Store) NewTxn() *Txn {
	return &Txn{batch: s.db.NewBatch(), sync: s.sync}
}

// Snapshot returns a point-in-time reader. Callers must Close it.
func (s *Store) Snapshot() *Snapshot {
	snap := s.db.NewSnapshot()
	return &Snapshot{reader: reader{src: snap}, snap: snap}
}

// Snapshot is a consistent read-only view of the store.
type Snapshot struct {
	reader
	snap *pebble.Snapshot
}

// Close releases the snapshot.
func (s *Snapshot) Close() error {
	return s.snap.Close()
}

// Comparer returns the pebble comparer for roomdag databases: refs.Compare
// within the refs column, byte order everywhere else.
func Comparer() *pebble.Comparer {
	c := *pebble.DefaultComparer
	c.Name = ComparerName
	c.Compare = compareKeys
	return &c
}

func compareKeys(a, b []byte) int {
	if len(a) > 0 && len(b) > 0 && a[0] == byte(ColRefs) && b[0] == byte(ColRefs) {
		return refs.Compare(a[1:], b[1:])
	}
	return bytes.Compare(a, b)
}

// IsNotFound reports whether err is pebble's not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, pebble.ErrNotFound)
}
