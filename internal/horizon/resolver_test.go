package horizon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/roomdag/internal/event"
	"github.com/roach88/roomdag/internal/refs"
	"github.com/roach88/roomdag/internal/store"
)

type fixture struct {
	store    *store.Store
	resolver *Resolver

	mu      sync.Mutex
	resumed []Marker
	fail    error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open("horizon", store.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	f := &fixture{store: s}
	f.resolver = New(Deps{
		Resumer: ResumeFunc(f.resume),
		Events:  s,
		Begin:   func() Txn { return s.NewTxn() },
	})
	return f
}

// resume appends the edge the marker was waiting for, resolving the target
// by id like the indexer does.
func (f *fixture) resume(txn store.Sink, ev *event.Event, m Marker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	target, ok, err := f.store.EventIdx(m.MissingID)
	if err != nil || !ok {
		return fmt.Errorf("target %s: ok=%v err=%v", m.MissingID, ok, err)
	}
	f.resumed = append(f.resumed, m)
	return store.PutEdge(txn, refs.Edge{Target: target, Kind: m.Kind, Source: ev.Idx})
}

func (f *fixture) admit(t *testing.T, id string, idx event.Idx, deferred ...string) {
	t.Helper()
	txn := f.store.NewTxn()
	defer txn.Close()
	ev := &event.Event{ID: id, Idx: idx, Type: event.TypeMessage, RoomID: "!r:a.org", Sender: "@a:a.org"}
	require.NoError(t, store.PutEvent(txn, ev))
	for _, missing := range deferred {
		require.NoError(t, f.resolver.Register(txn, missing, Marker{EventID: id, Idx: idx, Kind: refs.Next}))
	}
	require.NoError(t, txn.Commit())
}

func TestRegisterWaitsForCommit(t *testing.T) {
	f := newFixture(t)

	txn := f.store.NewTxn()
	require.NoError(t, f.resolver.Register(txn, "$q:a.org", Marker{EventID: "$e:a.org", Idx: 2, Kind: refs.Next}))
	assert.Zero(t, f.resolver.Len(), "not visible before commit")
	require.NoError(t, txn.Close())
	assert.Zero(t, f.resolver.Len(), "discarded with the transaction")

	f.admit(t, "$e:a.org", 2, "$q:a.org")
	assert.Equal(t, 1, f.resolver.Len())
	assert.Equal(t, []Marker{{MissingID: "$q:a.org", EventID: "$e:a.org", Idx: 2, Kind: refs.Next}}, f.resolver.PendingFor("$q:a.org"))
}

func TestResolveResumesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.admit(t, "$e:a.org", 1, "$q:a.org")
	f.admit(t, "$q:a.org", 2)

	n, err := f.resolver.Resolve(context.Background(), "$q:a.org")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.resolver.Resolve(context.Background(), "$q:a.org")
	require.NoError(t, err)
	assert.Zero(t, n)

	byKind, err := f.store.ReferrersByKind(2)
	require.NoError(t, err)
	assert.Equal(t, map[refs.Kind][]event.Idx{refs.Next: {1}}, byKind)

	_, ok, err := f.store.Get(store.ColHorizon, Marker{MissingID: "$q:a.org", Idx: 1, Kind: refs.Next}.Key())
	require.NoError(t, err)
	assert.False(t, ok, "durable marker deleted")
	assert.Zero(t, f.resolver.Len())
}

func TestResolveUnrelatedIDIsNoop(t *testing.T) {
	f := newFixture(t)
	f.admit(t, "$e:a.org", 1, "$q:a.org")

	n, err := f.resolver.Resolve(context.Background(), "$other:a.org")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, f.resolver.Len())
}

func TestResolveFailureRestoresMarkers(t *testing.T) {
	f := newFixture(t)
	f.admit(t, "$e1:a.org", 1, "$q:a.org")
	f.admit(t, "$e2:a.org", 2, "$q:a.org")
	f.admit(t, "$q:a.org", 3)

	f.fail = errors.New("disk full")
	n, err := f.resolver.Resolve(context.Background(), "$q:a.org")
	assert.ErrorContains(t, err, "disk full")
	assert.Zero(t, n)
	assert.Equal(t, 2, f.resolver.Len())

	f.fail = nil
	n, err = f.resolver.Resolve(context.Background(), "$q:a.org")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestResolveHonorsCancellation(t *testing.T) {
	f := newFixture(t)
	f.admit(t, "$e:a.org", 1, "$q:a.org")
	f.admit(t, "$q:a.org", 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := f.resolver.Resolve(ctx, "$q:a.org")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
	assert.Equal(t, 1, f.resolver.Len())
}

func TestLoadRebuildsFromStore(t *testing.T) {
	f := newFixture(t)
	f.admit(t, "$e1:a.org", 1, "$q:a.org", "$r:a.org")
	f.admit(t, "$e2:a.org", 2, "$q:a.org")

	fresh := New(Deps{Events: f.store})
	n, err := fresh.Load(f.store)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"$q:a.org", "$r:a.org"}, fresh.MissingIDs())
	assert.Equal(t, []Marker{
		{MissingID: "$q:a.org", EventID: "$e1:a.org", Idx: 1, Kind: refs.Next},
		{MissingID: "$q:a.org", EventID: "$e2:a.org", Idx: 2, Kind: refs.Next},
		{MissingID: "$r:a.org", EventID: "$e1:a.org", Idx: 1, Kind: refs.Next},
	}, fresh.Pending())
}

func TestRegisterDeduplicates(t *testing.T) {
	r := New(Deps{})
	sink := &memSink{}
	m := Marker{EventID: "$e:a.org", Idx: 1, Kind: refs.Relates}
	require.NoError(t, r.Register(sink, "$q:a.org", m))
	require.NoError(t, r.Register(sink, "$q:a.org", m))
	assert.Equal(t, 1, r.Len(), "sinks without commit hooks register immediately")
	assert.Len(t, sink.keys, 2)
}

func TestConcurrentRegisterAndResolve(t *testing.T) {
	f := newFixture(t)
	const n = 50

	// Dependents are admitted first so every resume can load them.
	for i := 1; i <= n; i++ {
		txn := f.store.NewTxn()
		ev := &event.Event{ID: fmt.Sprintf("$e%d:a.org", i), Idx: event.Idx(i), Type: event.TypeMessage, RoomID: "!r:a.org", Sender: "@a:a.org"}
		require.NoError(t, store.PutEvent(txn, ev))
		require.NoError(t, txn.Commit())
	}
	f.admit(t, "$q:a.org", n+1)

	var wg sync.WaitGroup
	var total int
	var totalMu sync.Mutex
	for i := 1; i <= n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			txn := f.store.NewTxn()
			defer txn.Close()
			m := Marker{EventID: fmt.Sprintf("$e%d:a.org", i), Idx: event.Idx(i), Kind: refs.Next}
			assert.NoError(t, f.resolver.Register(txn, "$q:a.org", m))
			assert.NoError(t, txn.Commit())
		}()
		go func() {
			defer wg.Done()
			got, err := f.resolver.Resolve(context.Background(), "$q:a.org")
			assert.NoError(t, err)
			totalMu.Lock()
			total += got
			totalMu.Unlock()
		}()
	}
	wg.Wait()

	rest, err := f.resolver.Resolve(context.Background(), "$q:a.org")
	require.NoError(t, err)
	assert.Equal(t, n, total+rest, "every marker resumed exactly once")

	byKind, err := f.store.ReferrersByKind(n + 1)
	require.NoError(t, err)
	assert.Len(t, byKind[refs.Next], n)
}

func TestMarkerKeyRoundTrip(t *testing.T) {
	m := Marker{MissingID: "$q:a.org", EventID: "$e:a.org", Idx: 77, Kind: refs.RoomRedaction}
	val, err := encodeMarker(m)
	require.NoError(t, err)

	got, err := DecodeMarker(m.Key(), val)
	require.NoError(t, err)
	assert.Equal(t, m, got)

	_, err = DecodeMarker(m.Key()[:5], val)
	assert.Error(t, err)
	assert.Equal(t, "$e:a.org -ROOM_REDACTION-> $q:a.org", m.String())
}

type memSink struct {
	keys [][]byte
}

func (s *memSink) Append(_ store.Column, _ store.Op, key, _ []byte) error {
	s.keys = append(s.keys, key)
	return nil
}
