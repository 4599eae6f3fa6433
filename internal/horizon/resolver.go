package horizon

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/roomdag/internal/event"
	"github.com/roach88/roomdag/internal/store"
)

// Resumer re-evaluates exactly one deferred reference of ev into txn.
type Resumer interface {
	Resume(txn store.Sink, ev *event.Event, m Marker) error
}

// ResumeFunc adapts a function to Resumer.
type ResumeFunc func(txn store.Sink, ev *event.Event, m Marker) error

// Resume calls f.
func (f ResumeFunc) Resume(txn store.Sink, ev *event.Event, m Marker) error {
	return f(txn, ev, m)
}

// EventSource loads admitted events.
type EventSource interface {
	Event(idx event.Idx) (*event.Event, bool, error)
}

// Txn is a transaction Resolve writes resumed edges into.
type Txn interface {
	store.Sink
	Commit() error
	Close() error
}

// committer is implemented by transactions that can defer work until their
// commit succeeds, like *store.Txn.
type committer interface {
	OnCommit(fn func())
}

// Deps are the collaborators of a Resolver.
type Deps struct {
	Resumer Resumer
	Events  EventSource
	Begin   func() Txn
	Logger  *slog.Logger
	Metrics *store.Metrics
}

// Resolver tracks references to events that are not yet admitted.
//
// Register, Resolve and the read accessors are safe for concurrent use.
// Each registered marker is resumed at most once per Register.
type Resolver struct {
	deps   Deps
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string][]Marker // missing id -> markers
	n       int
}

// New creates an empty Resolver.
func New(deps Deps) *Resolver {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		deps:    deps,
		logger:  logger,
		pending: make(map[string][]Marker),
	}
}

// Register records that m waits on missingID. The durable marker is
// appended to txn. When txn supports commit hooks the in-memory entry is
// added only once txn commits, so Resolve never sees a marker whose
// dependent event is not yet stored.
func (r *Resolver) Register(txn store.Sink, missingID string, m Marker) error {
	m.MissingID = missingID
	val, err := encodeMarker(m)
	if err != nil {
		return fmt.Errorf("register %s: %w", m, err)
	}
	if err := txn.Append(store.ColHorizon, store.OpPut, m.Key(), val); err != nil {
		return fmt.Errorf("register %s: %w", m, err)
	}
	if c, ok := txn.(committer); ok {
		c.OnCommit(func() { r.add(m) })
	} else {
		r.add(m)
	}
	r.logger.Debug("reference deferred",
		"event_id", m.EventID,
		"missing_id", missingID,
		"kind", m.Kind.String(),
	)
	return nil
}

// Load rebuilds the in-memory map from the horizon column. It returns the
// number of markers loaded.
func (r *Resolver) Load(reader store.Reader) (int, error) {
	loaded := 0
	for kv, err := range reader.Iterate(store.ColHorizon, nil) {
		if err != nil {
			return loaded, fmt.Errorf("load horizon: %w", err)
		}
		m, err := DecodeMarker(kv.Key, kv.Value)
		if err != nil {
			return loaded, fmt.Errorf("load horizon: %w", err)
		}
		r.add(m)
		loaded++
	}
	r.logger.Debug("horizon loaded", "markers", loaded)
	return loaded, nil
}

// Resolve resumes every marker waiting on knownID. Matching markers are
// removed under the lock before any is resumed, so concurrent calls never
// resume one marker twice. Each marker is resumed in its own transaction
// that also deletes the durable marker. It returns the number resumed.
//
// On error the marker that failed and every marker not yet attempted are
// put back.
func (r *Resolver) Resolve(ctx context.Context, knownID string) (int, error) {
	markers := r.take(knownID)
	for i, m := range markers {
		if err := ctx.Err(); err != nil {
			r.restore(markers[i:])
			return i, err
		}
		if err := r.resume(m); err != nil {
			r.restore(markers[i:])
			return i, fmt.Errorf("resolve %s: %w", knownID, err)
		}
		r.deps.Metrics.HorizonResumed()
		r.logger.Debug("reference resumed",
			"event_id", m.EventID,
			"ref", knownID,
			"kind", m.Kind.String(),
		)
	}
	return len(markers), nil
}

func (r *Resolver) resume(m Marker) error {
	ev, ok, err := r.deps.Events.Event(m.Idx)
	if err != nil {
		return fmt.Errorf("load %s: %w", m.EventID, err)
	}

	txn := r.deps.Begin()
	defer txn.Close()

	// Delete first: a Resumer that re-registers the same marker must win.
	if err := txn.Append(store.ColHorizon, store.OpDelete, m.Key(), nil); err != nil {
		return err
	}
	if !ok {
		r.logger.Error("deferred reference has no dependent event",
			"event_id", m.EventID,
			"idx", uint64(m.Idx),
			"missing_id", m.MissingID,
		)
	} else if err := r.deps.Resumer.Resume(txn, ev, m); err != nil {
		return err
	}
	return txn.Commit()
}

// Pending returns every pending marker ordered by missing id, then idx,
// then kind.
func (r *Resolver) Pending() []Marker {
	r.mu.Lock()
	out := make([]Marker, 0, r.n)
	for _, ms := range r.pending {
		out = append(out, ms...)
	}
	r.mu.Unlock()
	slices.SortFunc(out, compareMarkers)
	return out
}

// PendingFor returns the markers waiting on id.
func (r *Resolver) PendingFor(id string) []Marker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.pending[id])
}

// MissingIDs returns every id with at least one pending marker, sorted.
func (r *Resolver) MissingIDs() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.pending))
	for id := range r.pending {
		out = append(out, id)
	}
	r.mu.Unlock()
	slices.Sort(out)
	return out
}

// Len returns the number of pending markers.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func (r *Resolver) add(m Marker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.pending[m.MissingID] {
		if existing.Idx == m.Idx && existing.Kind == m.Kind {
			return
		}
	}
	r.pending[m.MissingID] = append(r.pending[m.MissingID], m)
	r.n++
	r.deps.Metrics.HorizonPending(r.n)
}

func (r *Resolver) take(id string) []Marker {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms := r.pending[id]
	delete(r.pending, id)
	r.n -= len(ms)
	r.deps.Metrics.HorizonPending(r.n)
	return ms
}

func (r *Resolver) restore(ms []Marker) {
	for _, m := range ms {
		r.add(m)
	}
}

func compareMarkers(a, b Marker) int {
	return cmp.Or(
		cmp.Compare(a.MissingID, b.MissingID),
		cmp.Compare(a.Idx, b.Idx),
		cmp.Compare(a.Kind, b.Kind),
	)
}
