package indexer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/roomdag/internal/event"
	"github.com/roach88/roomdag/internal/horizon"
	"github.com/roach88/roomdag/internal/power"
	"github.com/roach88/roomdag/internal/refs"
	"github.com/roach88/roomdag/internal/store"
)

// Resolver maps event ids to idx. Unknown ids return false, not an error.
type Resolver interface {
	EventIdx(id string) (event.Idx, bool, error)
}

// StatePredecessors finds the latest state event for (roomID, typ,
// stateKey) other than before.
type StatePredecessors interface {
	StatePredecessor(roomID, typ, stateKey string, before event.Idx) (event.Idx, bool, error)
}

// Registrar defers a reference until missingID is admitted.
type Registrar interface {
	Register(txn store.Sink, missingID string, m horizon.Marker) error
}

// Deps are the collaborators of an Indexer. Horizon and Metrics may be nil.
type Deps struct {
	Resolver Resolver
	State    StatePredecessors
	Horizon  Registrar
	Logger   *slog.Logger
	Metrics  *store.Metrics
}

// Options select which rules run.
type Options struct {
	// Kinds gates each rule by the kind of edge it emits.
	Kinds refs.Kinds
	// Horizon registers unresolved references for later resumption
	// instead of dropping them.
	Horizon bool
	// ServerName identifies locally originated events.
	ServerName string
	// ReadReceiptType is the event type indexed as RECEIPT_READ.
	ReadReceiptType string
}

// DefaultReadReceiptType is the room event type of local read receipts.
// m.read is only a key inside m.receipt EDUs and never a PDU type.
const DefaultReadReceiptType = "ircd.read"

// DefaultOptions enables every kind and horizon tracking.
func DefaultOptions(serverName string) Options {
	return Options{
		Kinds:           refs.AllKindsSet,
		Horizon:         true,
		ServerName:      serverName,
		ReadReceiptType: DefaultReadReceiptType,
	}
}

// Indexer emits reference edges for admitted events.
type Indexer struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
}

// New creates an Indexer.
func New(deps Deps, opts Options) *Indexer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ReadReceiptType == "" {
		opts.ReadReceiptType = DefaultReadReceiptType
	}
	return &Indexer{deps: deps, opts: opts, logger: logger}
}

// Options returns the options the indexer was built with.
func (ix *Indexer) Options() Options {
	return ix.opts
}

// pass is the state of one Index or Resume call.
type pass struct {
	txn    store.Sink
	ev     *event.Event
	report *Report
}

// Index appends every enabled edge of ev into txn. ev must carry its idx.
// A missing reference never fails; only storage errors are returned, in
// which case txn must be discarded.
func (ix *Indexer) Index(txn store.Sink, ev *event.Event) (*Report, error) {
	p, err := ix.begin(txn, ev)
	if err != nil {
		return nil, err
	}
	rules := []struct {
		enabled bool
		run     func(*pass) error
	}{
		{ix.opts.Kinds.Has(refs.Next), ix.indexPrev},
		{ix.opts.Kinds.Has(refs.NextAuth), ix.indexAuth},
		{ix.opts.Kinds.Has(refs.NextState) || ix.opts.Kinds.Has(refs.PrevState), ix.indexState},
		{ix.opts.Kinds.Has(refs.ReceiptRead), ix.indexReceipt},
		{ix.opts.Kinds.Has(refs.Relates), ix.indexRelates},
		{ix.opts.Kinds.Has(refs.Relates), ix.indexReply},
		{ix.opts.Kinds.Has(refs.RoomRedaction), ix.indexRedaction},
	}
	for _, rule := range rules {
		if !rule.enabled {
			continue
		}
		if err := rule.run(p); err != nil {
			return nil, fmt.Errorf("index %s: %w", ev.ID, err)
		}
	}
	ix.logger.Debug("event indexed",
		"event_id", ev.ID,
		"idx", uint64(ev.Idx),
		"edges", p.report.Count(StatusAppended),
		"deferred", p.report.Count(StatusDeferred),
	)
	return p.report, nil
}

// Resume re-evaluates the single reference m deferred for ev and appends
// at most one edge. A reference that is still unresolved is deferred again.
func (ix *Indexer) Resume(txn store.Sink, ev *event.Event, m horizon.Marker) (*Report, error) {
	p, err := ix.begin(txn, ev)
	if err != nil {
		return nil, err
	}
	if !ix.opts.Kinds.Has(m.Kind) {
		ix.logger.Debug("deferred reference kind disabled", "event_id", ev.ID, "kind", m.Kind.String())
		return p.report, nil
	}
	switch m.Kind {
	case refs.Next, refs.ReceiptRead, refs.RoomRedaction:
		err = ix.link(p, m.Kind, m.MissingID, slog.LevelWarn)
	case refs.NextAuth, refs.Relates:
		err = ix.link(p, m.Kind, m.MissingID, slog.LevelError)
	default:
		ix.malformed(p, m.Kind, fmt.Sprintf("%s references are never deferred", m.Kind))
	}
	if err != nil {
		return nil, fmt.Errorf("resume %s: %w", m, err)
	}
	return p.report, nil
}

// Resumer adapts Resume to the horizon's callback.
func (ix *Indexer) Resumer() horizon.Resumer {
	return horizon.ResumeFunc(func(txn store.Sink, ev *event.Event, m horizon.Marker) error {
		_, err := ix.Resume(txn, ev, m)
		return err
	})
}

func (ix *Indexer) begin(txn store.Sink, ev *event.Event) (*pass, error) {
	if ev.Idx == event.NoIdx {
		return nil, fmt.Errorf("index %s: event has no idx", ev.ID)
	}
	return &pass{txn: txn, ev: ev, report: &Report{EventID: ev.ID, Idx: ev.Idx}}, nil
}

func (ix *Indexer) indexPrev(p *pass) error {
	for _, id := range unique(p.ev.PrevEvents) {
		if err := ix.link(p, refs.Next, id, slog.LevelWarn); err != nil {
			return err
		}
	}
	return nil
}

func (ix *Indexer) indexAuth(p *pass) error {
	if !power.IsPowerEvent(p.ev.Type) {
		return nil
	}
	for _, id := range unique(p.ev.AuthEvents) {
		if err := ix.link(p, refs.NextAuth, id, slog.LevelError); err != nil {
			return err
		}
	}
	return nil
}

func (ix *Indexer) indexState(p *pass) error {
	stateKey, ok := p.ev.StateKeyValue()
	if !ok || p.ev.RoomID == "" {
		return nil
	}
	pred, ok, err := ix.deps.State.StatePredecessor(p.ev.RoomID, p.ev.Type, stateKey, p.ev.Idx)
	if err != nil {
		return err
	}
	kinds := []refs.Kind{refs.NextState, refs.PrevState}
	if !ok {
		for _, k := range kinds {
			if ix.opts.Kinds.Has(k) {
				p.report.add(Outcome{Kind: k, Status: StatusNoPredecessor})
			}
		}
		return nil
	}
	if pred >= p.ev.Idx {
		for _, k := range kinds {
			if !ix.opts.Kinds.Has(k) {
				continue
			}
			p.report.add(Outcome{Kind: k, Target: pred, Status: StatusReplayGuard})
			ix.deps.Metrics.EdgeSkipped(k.String(), StatusReplayGuard.String())
		}
		ix.logger.Info("state edge skipped by replay guard",
			"event_id", p.ev.ID,
			"idx", uint64(p.ev.Idx),
			"predecessor", uint64(pred),
		)
		return nil
	}
	if ix.opts.Kinds.Has(refs.NextState) {
		if err := ix.appendEdge(p, refs.Edge{Target: pred, Kind: refs.NextState, Source: p.ev.Idx}, ""); err != nil {
			return err
		}
	}
	if ix.opts.Kinds.Has(refs.PrevState) {
		if err := ix.appendEdge(p, refs.Edge{Target: p.ev.Idx, Kind: refs.PrevState, Source: pred}, ""); err != nil {
			return err
		}
	}
	return nil
}

func (ix *Indexer) indexReceipt(p *pass) error {
	if p.ev.Type != ix.opts.ReadReceiptType || !p.ev.IsLocal(ix.opts.ServerName) {
		return nil
	}
	return ix.linkRelation(p, refs.ReceiptRead, p.ev.ReceiptTarget(), slog.LevelWarn)
}

func (ix *Indexer) indexRelates(p *pass) error {
	return ix.linkRelation(p, refs.Relates, p.ev.RelatesTo(), slog.LevelError)
}

func (ix *Indexer) indexReply(p *pass) error {
	if p.ev.Type != event.TypeMessage {
		return nil
	}
	return ix.linkRelation(p, refs.Relates, p.ev.InReplyTo(), slog.LevelWarn)
}

func (ix *Indexer) indexRedaction(p *pass) error {
	if p.ev.Type != event.TypeRedaction {
		return nil
	}
	return ix.linkRelation(p, refs.RoomRedaction, p.ev.RedactsID(), slog.LevelWarn)
}

func (ix *Indexer) linkRelation(p *pass, kind refs.Kind, rel event.Relation, missingLevel slog.Level) error {
	switch rel.Kind {
	case event.RelationNone:
		return nil
	case event.RelationRef:
		return ix.link(p, kind, rel.EventID, missingLevel)
	case event.RelationMalformed:
		ix.malformed(p, kind, rel.Reason)
		return nil
	default:
		return fmt.Errorf("unexpected relation %s", rel.Kind)
	}
}

// link resolves id and appends a kind edge from it to the event, or defers
// it, or logs it at missingLevel.
func (ix *Indexer) link(p *pass, kind refs.Kind, id string, missingLevel slog.Level) error {
	target, ok, err := ix.deps.Resolver.EventIdx(id)
	if err != nil {
		return err
	}
	// The event's own id mapping is not readable until its transaction
	// commits, so compare ids as well.
	if id == p.ev.ID {
		target, ok = p.ev.Idx, true
	}
	if ok {
		if target == p.ev.Idx {
			p.report.add(Outcome{Kind: kind, Ref: id, Target: target, Status: StatusSelfReference})
			ix.deps.Metrics.EdgeSkipped(kind.String(), StatusSelfReference.String())
			ix.logger.Warn("event references itself", "event_id", p.ev.ID, "kind", kind.String())
			return nil
		}
		return ix.appendEdge(p, refs.Edge{Target: target, Kind: kind, Source: p.ev.Idx}, id)
	}

	if ix.opts.Horizon && ix.deps.Horizon != nil {
		m := horizon.Marker{EventID: p.ev.ID, Idx: p.ev.Idx, Kind: kind}
		if err := ix.deps.Horizon.Register(p.txn, id, m); err != nil {
			return err
		}
		p.report.add(Outcome{Kind: kind, Ref: id, Status: StatusDeferred})
		ix.deps.Metrics.EdgeSkipped(kind.String(), StatusDeferred.String())
		if kind == refs.NextAuth {
			ix.logMissing(p, kind, id, slog.LevelError)
		}
		return nil
	}

	p.report.add(Outcome{Kind: kind, Ref: id, Status: StatusMissing})
	ix.deps.Metrics.EdgeSkipped(kind.String(), StatusMissing.String())
	ix.logMissing(p, kind, id, missingLevel)
	return nil
}

func (ix *Indexer) appendEdge(p *pass, e refs.Edge, ref string) error {
	if err := store.PutEdge(p.txn, e); err != nil {
		return err
	}
	target := e.Target
	if e.Kind == refs.PrevState {
		target = e.Source
	}
	p.report.add(Outcome{Kind: e.Kind, Ref: ref, Target: target, Status: StatusAppended})
	ix.deps.Metrics.EdgeAppended(e.Kind.String())
	return nil
}

func (ix *Indexer) malformed(p *pass, kind refs.Kind, reason string) {
	p.report.add(Outcome{Kind: kind, Status: StatusMalformed, Reason: reason})
	ix.deps.Metrics.EdgeSkipped(kind.String(), StatusMalformed.String())
	ix.logger.Error("malformed reference",
		"event_id", p.ev.ID,
		"kind", kind.String(),
		"reason", reason,
	)
}

func (ix *Indexer) logMissing(p *pass, kind refs.Kind, id string, level slog.Level) {
	ix.logger.Log(context.Background(), level, "no index found for reference",
		"event_id", p.ev.ID,
		"ref", id,
		"kind", kind.String(),
	)
}

// unique returns ids without repeats, keeping first occurrences.
func unique(ids []string) []string {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
