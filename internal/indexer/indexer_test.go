package indexer

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/roomdag/internal/event"
	"github.com/roach88/roomdag/internal/horizon"
	"github.com/roach88/roomdag/internal/refs"
	"github.com/roach88/roomdag/internal/store"
)

type fakeSink struct {
	edges   []refs.Edge
	other   int
	failure error
}

func (s *fakeSink) Append(col store.Column, _ store.Op, key, _ []byte) error {
	if s.failure != nil {
		return s.failure
	}
	if col != store.ColRefs {
		s.other++
		return nil
	}
	e, err := refs.DecodeEdge(key)
	if err != nil {
		return err
	}
	s.edges = append(s.edges, e)
	return nil
}

type fakeIDs map[string]event.Idx

func (f fakeIDs) EventIdx(id string) (event.Idx, bool, error) {
	idx, ok := f[id]
	return idx, ok, nil
}

type fakeState struct {
	pred event.Idx
	ok   bool
	err  error

	gotRoom, gotType, gotKey string
	gotBefore                event.Idx
}

func (f *fakeState) StatePredecessor(roomID, typ, stateKey string, before event.Idx) (event.Idx, bool, error) {
	f.gotRoom, f.gotType, f.gotKey, f.gotBefore = roomID, typ, stateKey, before
	return f.pred, f.ok, f.err
}

type registration struct {
	missing string
	marker  horizon.Marker
}

type fakeHorizon struct {
	regs []registration
}

func (f *fakeHorizon) Register(_ store.Sink, missingID string, m horizon.Marker) error {
	f.regs = append(f.regs, registration{missingID, m})
	return nil
}

type fixture struct {
	ids     fakeIDs
	state   *fakeState
	horizon *fakeHorizon
	sink    *fakeSink
	logs    *bytes.Buffer
}

func newFixture(t *testing.T, opts Options) (*Indexer, *fixture) {
	t.Helper()
	f := &fixture{
		ids:     fakeIDs{},
		state:   &fakeState{},
		horizon: &fakeHorizon{},
		sink:    &fakeSink{},
		logs:    &bytes.Buffer{},
	}
	logger := slog.New(slog.NewTextHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ix := New(Deps{
		Resolver: f.ids,
		State:    f.state,
		Horizon:  f.horizon,
		Logger:   logger,
	}, opts)
	return ix, f
}

func msg(id string, idx event.Idx, prev ...string) *event.Event {
	return &event.Event{
		ID:         id,
		Idx:        idx,
		Type:       event.TypeMessage,
		RoomID:     "!room:a.org",
		Sender:     "@alice:a.org",
		PrevEvents: prev,
	}
}

func TestNextEdgesForResolvedPredecessors(t *testing.T) {
	ix, f := newFixture(t, DefaultOptions("a.org"))
	f.ids["$p1:a.org"] = 1
	f.ids["$p2:a.org"] = 2

	report, err := ix.Index(f.sink, msg("$e:a.org", 3, "$p1:a.org", "$p2:a.org"))
	require.NoError(t, err)

	assert.Equal(t, []refs.Edge{
		{Target: 1, Kind: refs.Next, Source: 3},
		{Target: 2, Kind: refs.Next, Source: 3},
	}, f.sink.edges)
	assert.Equal(t, f.sink.edges, report.Edges())
	assert.Equal(t, 2, report.Count(StatusAppended))
	assert.Empty(t, f.horizon.regs)
}

func TestDuplicatePrevEventsIndexedOnce(t *testing.T) {
	ix, f := newFixture(t, DefaultOptions("a.org"))
	f.ids["$p:a.org"] = 1

	_, err := ix.Index(f.sink, msg("$e:a.org", 2, "$p:a.org", "$p:a.org"))
	require.NoError(t, err)
	assert.Len(t, f.sink.edges, 1)
}

func TestUnresolvedReferenceDeferred(t *testing.T) {
	ix, f := newFixture(t, DefaultOptions("a.org"))

	report, err := ix.Index(f.sink, msg("$e:a.org", 5, "$q:a.org"))
	require.NoError(t, err)

	assert.Empty(t, f.sink.edges)
	assert.Equal(t, []registration{{
		missing: "$q:a.org",
		marker:  horizon.Marker{EventID: "$e:a.org", Idx: 5, Kind: refs.Next},
	}}, f.horizon.regs)
	assert.Equal(t, []string{"$q:a.org"}, report.Deferred())
}

func TestUnresolvedReferenceWithoutHorizon(t *testing.T) {
	opts := DefaultOptions("a.org")
	opts.Horizon = false
	ix, f := newFixture(t, opts)

	report, err := ix.Index(f.sink, msg("$e:a.org", 5, "$q:a.org"))
	require.NoError(t, err)

	assert.Empty(t, f.horizon.regs)
	assert.Equal(t, 1, report.Count(StatusMissing))
	assert.Contains(t, f.logs.String(), "level=WARN")
	assert.Contains(t, f.logs.String(), "ref=$q:a.org")
}

func TestAuthEdgesOnlyForPowerEvents(t *testing.T) {
	ix, f := newFixture(t, DefaultOptions("a.org"))
	f.ids["$create:a.org"] = 1

	ev := msg("$m:a.org", 2)
	ev.AuthEvents = event.IDList{"$create:a.org"}
	_, err := ix.Index(f.sink, ev)
	require.NoError(t, err)
	assert.Empty(t, f.sink.edges)

	member := &event.Event{
		ID:         "$join:a.org",
		Idx:        3,
		Type:       event.TypeMember,
		RoomID:     "!room:a.org",
		Sender:     "@bob:a.org",
		StateKey:   event.StringPtr("@bob:a.org"),
		AuthEvents: event.IDList{"$create:a.org", "$gone:a.org"},
	}
	report, err := ix.Index(f.sink, member)
	require.NoError(t, err)
	assert.Equal(t, []refs.Edge{{Target: 1, Kind: refs.NextAuth, Source: 3}}, f.sink.edges)
	assert.Equal(t, 1, report.Count(StatusDeferred))
	assert.Contains(t, f.logs.String(), "level=ERROR", "missing auth events are always reported")
}

func stateEvent(id string, idx event.Idx) *event.Event {
	return &event.Event{
		ID:       id,
		Idx:      idx,
		Type:     "m.room.topic",
		RoomID:   "!room:a.org",
		Sender:   "@alice:a.org",
		StateKey: event.StringPtr(""),
	}
}

func TestStateSuccessionEdges(t *testing.T) {
	ix, f := newFixture(t, DefaultOptions("a.org"))
	f.state.pred, f.state.ok = 3, true

	report, err := ix.Index(f.sink, stateEvent("$t2:a.org", 5))
	require.NoError(t, err)

	assert.Equal(t, "!room:a.org", f.state.gotRoom)
	assert.Equal(t, "m.room.topic", f.state.gotType)
	assert.Equal(t, "", f.state.gotKey)
	assert.Equal(t, event.Idx(5), f.state.gotBefore)

	expected := []refs.Edge{
		{Target: 3, Kind: refs.NextState, Source: 5},
		{Target: 5, Kind: refs.PrevState, Source: 3},
	}
	assert.Equal(t, expected, f.sink.edges)
	assert.Equal(t, expected, report.Edges())
}

func TestStateEdgesIndependentlyToggled(t *testing.T) {
	opts := DefaultOptions("a.org")
	opts.Kinds = refs.KindsOf(refs.PrevState)
	ix, f := newFixture(t, opts)
	f.state.pred, f.state.ok = 3, true

	_, err := ix.Index(f.sink, stateEvent("$t2:a.org", 5))
	require.NoError(t, err)
	assert.Equal(t, []refs.Edge{{Target: 5, Kind: refs.PrevState, Source: 3}}, f.sink.edges)
}

func TestReplayGuardSkipsStateEdges(t *testing.T) {
	for _, pred := range []event.Idx{5, 9} {
		ix, f := newFixture(t, DefaultOptions("a.org"))
		f.state.pred, f.state.ok = pred, true

		report, err := ix.Index(f.sink, stateEvent("$t:a.org", 5))
		require.NoError(t, err)

		assert.Empty(t, f.sink.edges, "predecessor %d", pred)
		assert.Equal(t, 2, report.Count(StatusReplayGuard))
		assert.Contains(t, f.logs.String(), "replay guard")
	}
}

func TestStateWithoutPredecessor(t *testing.T) {
	ix, f := newFixture(t, DefaultOptions("a.org"))

	report, err := ix.Index(f.sink, stateEvent("$t:a.org", 5))
	require.NoError(t, err)
	assert.Empty(t, f.sink.edges)
	assert.Equal(t, 2, report.Count(StatusNoPredecessor))

	ix, f = newFixture(t, DefaultOptions("a.org"))
	f.state.ok = true
	_, err = ix.Index(f.sink, msg("$m:a.org", 6))
	require.NoError(t, err)
	assert.Empty(t, f.state.gotRoom, "non-state events never consult room state")
}

func receipt(id string, idx event.Idx, sender, target string) *event.Event {
	return &event.Event{
		ID:      id,
		Idx:     idx,
		Type:    DefaultReadReceiptType,
		RoomID:  "!room:a.org",
		Sender:  sender,
		Content: []byte(`{"event_id":"` + target + `","ts":1}`),
	}
}

func TestReadReceiptOnlyForLocalEvents(t *testing.T) {
	ix, f := newFixture(t, DefaultOptions("a.org"))
	f.ids["$m:a.org"] = 1

	_, err := ix.Index(f.sink, receipt("$r1:a.org", 2, "@alice:a.org", "$m:a.org"))
	require.NoError(t, err)
	_, err = ix.Index(f.sink, receipt("$r2:b.org", 3, "@bob:b.org", "$m:a.org"))
	require.NoError(t, err)

	assert.Equal(t, []refs.Edge{{Target: 1, Kind: refs.ReceiptRead, Source: 2}}, f.sink.edges)
}

func TestReadReceiptIgnoresEDUKey(t *testing.T) {
	ix, f := newFixture(t, DefaultOptions("a.org"))
	f.ids["$m:a.org"] = 1

	ev := receipt("$r:a.org", 2, "@alice:a.org", "$m:a.org")
	ev.Type = "m.read"
	_, err := ix.Index(f.sink, ev)
	require.NoError(t, err)
	assert.Empty(t, f.sink.edges)
	assert.Equal(t, "ircd.read", DefaultReadReceiptType)
}

func TestReadReceiptTypeConfigurable(t *testing.T) {
	opts := DefaultOptions("a.org")
	opts.ReadReceiptType = "org.example.read"
	ix, f := newFixture(t, opts)
	f.ids["$m:a.org"] = 1

	ev := receipt("$r:a.org", 2, "@alice:a.org", "$m:a.org")
	_, err := ix.Index(f.sink, ev)
	require.NoError(t, err)
	assert.Empty(t, f.sink.edges)

	ev.Type = "org.example.read"
	_, err = ix.Index(f.sink, ev)
	require.NoError(t, err)
	assert.Len(t, f.sink.edges, 1)
}

func TestRelatesAndReply(t *testing.T) {
	ix, f := newFixture(t, DefaultOptions("a.org"))
	f.ids["$thread:a.org"] = 1
	f.ids["$quoted:a.org"] = 2

	ev := msg("$e:a.org", 3)
	ev.Content = []byte(`{"body":"hi","m.relates_to":{"rel_type":"m.thread","event_id":"$thread:a.org","m.in_reply_to":{"event_id":"$quoted:a.org"}}}`)
	_, err := ix.Index(f.sink, ev)
	require.NoError(t, err)

	assert.Equal(t, []refs.Edge{
		{Target: 1, Kind: refs.Relates, Source: 3},
		{Target: 2, Kind: refs.Relates, Source: 3},
	}, f.sink.edges)
}

func TestReplyOnlyForMessages(t *testing.T) {
	ix, f := newFixture(t, DefaultOptions("a.org"))
	f.ids["$quoted:a.org"] = 2

	ev := msg("$e:a.org", 3)
	ev.Type = "m.reaction"
	ev.Content = []byte(`{"m.relates_to":{"m.in_reply_to":{"event_id":"$quoted:a.org"}}}`)
	_, err := ix.Index(f.sink, ev)
	require.NoError(t, err)
	assert.Empty(t, f.sink.edges)
}

func TestMalformedRelationsSkipped(t *testing.T) {
	tests := []struct {
		name    string
		content string
		status  Status
	}{
		{"bad relation id", `{"m.relates_to":{"event_id":"nope"}}`, StatusMalformed},
		{"reply not an object", `{"m.relates_to":{"m.in_reply_to":"$x:a.org"}}`, StatusMalformed},
		{"reply without id", `{"m.relates_to":{"m.in_reply_to":{}}}`, StatusMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ix, f := newFixture(t, DefaultOptions("a.org"))
			ev := msg("$e:a.org", 3)
			ev.Content = []byte(tt.content)

			report, err := ix.Index(f.sink, ev)
			require.NoError(t, err)
			assert.Empty(t, f.sink.edges)
			assert.Equal(t, 1, report.Count(tt.status))
			assert.Contains(t, f.logs.String(), "level=ERROR")
		})
	}
}

func TestRelationFieldNotAnObjectIgnored(t *testing.T) {
	ix, f := newFixture(t, DefaultOptions("a.org"))
	ev := msg("$e:a.org", 3)
	ev.Content = []byte(`{"m.relates_to":"$x:a.org"}`)

	report, err := ix.Index(f.sink, ev)
	require.NoError(t, err)
	assert.Empty(t, report.Outcomes)
}

func TestEmptyRelationIDIgnored(t *testing.T) {
	ix, f := newFixture(t, DefaultOptions("a.org"))
	ev := msg("$e:a.org", 3)
	ev.Content = []byte(`{"m.relates_to":{"rel_type":"m.thread","event_id":""}}`)

	report, err := ix.Index(f.sink, ev)
	require.NoError(t, err)
	assert.Empty(t, report.Outcomes)
	assert.NotContains(t, f.logs.String(), "level=ERROR")
}

func TestRedaction(t *testing.T) {
	ix, f := newFixture(t, DefaultOptions("a.org"))
	f.ids["$victim:a.org"] = 1

	top := msg("$r1:a.org", 2)
	top.Type = event.TypeRedaction
	top.Redacts = "$victim:a.org"
	_, err := ix.Index(f.sink, top)
	require.NoError(t, err)

	inContent := msg("$r2:a.org", 3)
	inContent.Type = event.TypeRedaction
	inContent.Content = []byte(`{"redacts":"$victim:a.org"}`)
	_, err = ix.Index(f.sink, inContent)
	require.NoError(t, err)

	assert.Equal(t, []refs.Edge{
		{Target: 1, Kind: refs.RoomRedaction, Source: 2},
		{Target: 1, Kind: refs.RoomRedaction, Source: 3},
	}, f.sink.edges)
}

func TestSelfReferenceSkipped(t *testing.T) {
	ix, f := newFixture(t, DefaultOptions("a.org"))
	f.ids["$e:a.org"] = 4

	report, err := ix.Index(f.sink, msg("$e:a.org", 4, "$e:a.org"))
	require.NoError(t, err)
	assert.Empty(t, f.sink.edges)
	assert.Equal(t, 1, report.Count(StatusSelfReference))
}

func TestKindsGateRules(t *testing.T) {
	opts := DefaultOptions("a.org")
	opts.Kinds = refs.AllKindsSet.Without(refs.Next)
	ix, f := newFixture(t, opts)
	f.ids["$p:a.org"] = 1

	report, err := ix.Index(f.sink, msg("$e:a.org", 2, "$p:a.org"))
	require.NoError(t, err)
	assert.Empty(t, f.sink.edges)
	assert.Empty(t, report.Outcomes)
}

func TestNoKindsIndexesNothing(t *testing.T) {
	opts := DefaultOptions("a.org")
	opts.Kinds = refs.Kinds(0)
	ix, f := newFixture(t, opts)
	f.ids["$p:a.org"] = 1
	f.state.pred, f.state.ok = 1, true

	for _, ev := range []*event.Event{msg("$e:a.org", 2, "$p:a.org"), stateEvent("$t2:a.org", 3)} {
		report, err := ix.Index(f.sink, ev)
		require.NoError(t, err)
		assert.Empty(t, report.Outcomes)
	}
	assert.Empty(t, f.sink.edges)
}

func TestIndexRequiresIdx(t *testing.T) {
	ix, f := newFixture(t, DefaultOptions("a.org"))
	_, err := ix.Index(f.sink, msg("$e:a.org", event.NoIdx))
	assert.Error(t, err)
}

func TestStorageFailurePropagates(t *testing.T) {
	ix, f := newFixture(t, DefaultOptions("a.org"))
	f.ids["$p:a.org"] = 1
	f.sink.failure = errors.New("batch closed")

	_, err := ix.Index(f.sink, msg("$e:a.org", 2, "$p:a.org"))
	assert.ErrorContains(t, err, "batch closed")

	f.sink.failure = nil
	f.state.err = errors.New("iterator failed")
	_, err = ix.Index(f.sink, stateEvent("$t:a.org", 3))
	assert.ErrorContains(t, err, "iterator failed")
}

func TestResumeAppendsExactlyOneEdge(t *testing.T) {
	ix, f := newFixture(t, DefaultOptions("a.org"))
	f.ids["$p:a.org"] = 1
	f.ids["$q:a.org"] = 6

	ev := msg("$e:a.org", 5, "$p:a.org", "$q:a.org")
	report, err := ix.Resume(f.sink, ev, horizon.Marker{MissingID: "$q:a.org", EventID: ev.ID, Idx: 5, Kind: refs.Next})
	require.NoError(t, err)

	assert.Equal(t, []refs.Edge{{Target: 6, Kind: refs.Next, Source: 5}}, f.sink.edges)
	assert.Len(t, report.Outcomes, 1)
}

func TestResumeStillMissingDefersAgain(t *testing.T) {
	ix, f := newFixture(t, DefaultOptions("a.org"))
	ev := msg("$e:a.org", 5)

	report, err := ix.Resume(f.sink, ev, horizon.Marker{MissingID: "$q:a.org", EventID: ev.ID, Idx: 5, Kind: refs.Relates})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(StatusDeferred))
	require.Len(t, f.horizon.regs, 1)
	assert.Equal(t, refs.Relates, f.horizon.regs[0].marker.Kind)
}

func TestResumeIgnoresDisabledAndStateKinds(t *testing.T) {
	opts := DefaultOptions("a.org")
	opts.Kinds = refs.AllKindsSet.Without(refs.ReceiptRead)
	ix, f := newFixture(t, opts)
	f.ids["$q:a.org"] = 1
	ev := msg("$e:a.org", 5)

	report, err := ix.Resume(f.sink, ev, horizon.Marker{MissingID: "$q:a.org", Idx: 5, Kind: refs.ReceiptRead})
	require.NoError(t, err)
	assert.Empty(t, report.Outcomes)

	report, err = ix.Resume(f.sink, ev, horizon.Marker{MissingID: "$q:a.org", Idx: 5, Kind: refs.NextState})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(StatusMalformed))
	assert.Empty(t, f.sink.edges)
}

func TestResumerAdapter(t *testing.T) {
	ix, f := newFixture(t, DefaultOptions("a.org"))
	f.ids["$q:a.org"] = 1

	err := ix.Resumer().Resume(f.sink, msg("$e:a.org", 2), horizon.Marker{MissingID: "$q:a.org", Idx: 2, Kind: refs.Next})
	require.NoError(t, err)
	assert.Len(t, f.sink.edges, 1)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "replay_guard", StatusReplayGuard.String())
	assert.Equal(t, "Status(42)", Status(42).String())
}
