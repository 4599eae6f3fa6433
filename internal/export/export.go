// Package export copies the event graph into a SQLite database for ad-hoc
// analysis.
package export

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"iter"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/roomdag/internal/event"
	"github.com/roach88/roomdag/internal/horizon"
	"github.com/roach88/roomdag/internal/refs"
	"github.com/roach88/roomdag/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Source is a consistent view of the graph, usually a *store.Snapshot.
type Source interface {
	store.Reader
	Events() iter.Seq2[*event.Event, error]
	Edges() iter.Seq2[refs.Edge, error]
}

// Summary counts the rows written by one export.
type Summary struct {
	Events  int `json:"events"`
	Edges   int `json:"edges"`
	Markers int `json:"horizon_markers"`
}

// SQLite is an export target.
type SQLite struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at path and applies the schema.
//
// The database is configured with:
//   - WAL mode
//   - NORMAL synchronous mode
//   - 5-second busy timeout
//   - Foreign key enforcement
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Write copies every event, edge and horizon marker of src in one SQL
// transaction. Rows already present are left alone, so exporting the same
// store twice is idempotent.
func (s *SQLite) Write(ctx context.Context, src Source) (Summary, error) {
	var sum Summary

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return sum, fmt.Errorf("export: begin: %w", err)
	}
	defer tx.Rollback()

	insEvent, err := tx.PrepareContext(ctx, `
		INSERT INTO events
		(idx, event_id, room_id, type, sender, state_key, depth, origin_server_ts, json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return sum, fmt.Errorf("export: prepare events: %w", err)
	}
	defer insEvent.Close()

	for ev, err := range src.Events() {
		if err != nil {
			return sum, fmt.Errorf("export events: %w", err)
		}
		raw, err := json.Marshal(ev)
		if err != nil {
			return sum, fmt.Errorf("export event %s: %w", ev.ID, err)
		}
		var stateKey sql.NullString
		if sk, ok := ev.StateKeyValue(); ok {
			stateKey = sql.NullString{String: sk, Valid: true}
		}
		if _, err := insEvent.ExecContext(ctx,
			int64(ev.Idx), ev.ID, ev.RoomID, ev.Type, ev.Sender, stateKey,
			ev.Depth, ev.OriginServerTS, string(raw),
		); err != nil {
			return sum, fmt.Errorf("export event %s: %w", ev.ID, err)
		}
		sum.Events++
	}

	insEdge, err := tx.PrepareContext(ctx, `
		INSERT INTO edges (target, kind, source)
		VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return sum, fmt.Errorf("export: prepare edges: %w", err)
	}
	defer insEdge.Close()

	for e, err := range src.Edges() {
		if err != nil {
			return sum, fmt.Errorf("export edges: %w", err)
		}
		if _, err := insEdge.ExecContext(ctx, int64(e.Target), e.Kind.String(), int64(e.Source)); err != nil {
			return sum, fmt.Errorf("export edge %s: %w", e, err)
		}
		sum.Edges++
	}

	insMarker, err := tx.PrepareContext(ctx, `
		INSERT INTO horizon (missing_id, event_id, idx, kind)
		VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return sum, fmt.Errorf("export: prepare horizon: %w", err)
	}
	defer insMarker.Close()

	for kv, err := range src.Iterate(store.ColHorizon, nil) {
		if err != nil {
			return sum, fmt.Errorf("export horizon: %w", err)
		}
		m, err := horizon.DecodeMarker(kv.Key, kv.Value)
		if err != nil {
			return sum, fmt.Errorf("export horizon: %w", err)
		}
		if _, err := insMarker.ExecContext(ctx, m.MissingID, m.EventID, int64(m.Idx), m.Kind.String()); err != nil {
			return sum, fmt.Errorf("export marker %s: %w", m, err)
		}
		sum.Markers++
	}

	if err := tx.Commit(); err != nil {
		return sum, fmt.Errorf("export: commit: %w", err)
	}
	return sum, nil
}
