package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/roomdag/internal/event"
	"github.com/roach88/roomdag/internal/horizon"
	"github.com/roach88/roomdag/internal/indexer"
	"github.com/roach88/roomdag/internal/power"
	"github.com/roach88/roomdag/internal/store"
)

// DefaultShards is the default number of room shards.
const DefaultShards = 4

// Engine admits events: it validates and authorizes them, assigns idx,
// writes the event with all of its reference edges in one transaction, and
// resumes horizon markers the new event satisfies.
//
// Events of one room always land on the same shard and are admitted one at
// a time, so the indexer sees each room as a serialized stream. Rooms on
// different shards are admitted concurrently.
type Engine struct {
	store   *store.Store
	clock   *Clock
	indexer *indexer.Indexer
	horizon *horizon.Resolver
	traces  TraceGenerator
	logger  *slog.Logger
	metrics *store.Metrics

	indexOpts indexer.Options
	authorize bool
	maxBytes  int
	queueSize int
	shards    []*shard

	// retry holds ids whose Resolve failed; the next commit resolves them.
	retryMu sync.Mutex
	retry   map[string]struct{}
}

type shard struct {
	mu    sync.Mutex
	queue *admitQueue
}

// Option configures an Engine.
type Option func(*Engine)

// WithIndexOptions sets the indexer options.
func WithIndexOptions(opts indexer.Options) Option {
	return func(e *Engine) { e.indexOpts = opts }
}

// WithAuthorize enables power-level gating of admissions.
func WithAuthorize(on bool) Option {
	return func(e *Engine) { e.authorize = on }
}

// WithMaxEventBytes rejects events whose JSON encoding exceeds n bytes.
// 0 disables the check.
func WithMaxEventBytes(n int) Option {
	return func(e *Engine) { e.maxBytes = n }
}

// WithShards sets the number of room shards. Values below 1 mean 1.
func WithShards(n int) Option {
	return func(e *Engine) { e.shards = make([]*shard, max(n, 1)) }
}

// WithQueueSize bounds each shard queue. 0 means unbounded.
func WithQueueSize(n int) Option {
	return func(e *Engine) { e.queueSize = n }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records admissions and edges.
func WithMetrics(m *store.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTraceGenerator sets the admission trace token source.
func WithTraceGenerator(g TraceGenerator) Option {
	return func(e *Engine) { e.traces = g }
}

// Admission describes one admitted event.
type Admission struct {
	Trace   string          `json:"trace"`
	Event   *event.Event    `json:"-"`
	Idx     event.Idx       `json:"idx"`
	Report  *indexer.Report `json:"report"`
	Resumed int             `json:"resumed"`
}

// New creates an Engine over s. The clock resumes after the store's last
// idx and pending horizon markers are reloaded.
func New(ctx context.Context, s *store.Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:     s,
		traces:    UUIDv7Generator{},
		logger:    slog.Default(),
		indexOpts: indexer.DefaultOptions(""),
		authorize: true,
		shards:    make([]*shard, DefaultShards),
		retry:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	for i := range e.shards {
		e.shards[i] = &shard{queue: newAdmitQueue(e.queueSize)}
	}

	last, err := s.LastIdx()
	if err != nil {
		return nil, fmt.Errorf("resume clock: %w", err)
	}
	e.clock = NewClockAt(last)

	e.horizon = horizon.New(horizon.Deps{
		Resumer: horizon.ResumeFunc(func(txn store.Sink, ev *event.Event, m horizon.Marker) error {
			_, err := e.indexer.Resume(txn, ev, m)
			return err
		}),
		Events:  s,
		Begin:   func() horizon.Txn { return s.NewTxn() },
		Logger:  e.logger,
		Metrics: e.metrics,
	})
	e.indexer = indexer.New(indexer.Deps{
		Resolver: s,
		State:    s,
		Horizon:  e.horizon,
		Logger:   e.logger,
		Metrics:  e.metrics,
	}, e.indexOpts)

	if _, err := e.Recover(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// Horizon returns the engine's horizon resolver.
func (e *Engine) Horizon() *horizon.Resolver {
	return e.horizon
}

// LastIdx returns the last idx handed out.
func (e *Engine) LastIdx() event.Idx {
	return e.clock.Current()
}

// Recover reloads durable horizon markers and resumes any whose missing
// event was admitted before a crash could resolve them. It returns the
// number of markers loaded.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	n, err := e.horizon.Load(e.store)
	if err != nil {
		return 0, err
	}
	resumed := 0
	for _, id := range e.horizon.MissingIDs() {
		_, ok, err := e.store.EventIdx(id)
		if err != nil {
			return n, fmt.Errorf("recover horizon: %w", err)
		}
		if !ok {
			continue
		}
		got, err := e.horizon.Resolve(ctx, id)
		if err != nil {
			return n, fmt.Errorf("recover horizon: %w", err)
		}
		resumed += got
	}
	e.logger.Info("horizon recovered", "markers", n, "resumed", resumed, "last_idx", uint64(e.clock.Current()))
	return n, nil
}

// Admit admits ev synchronously on its room's shard.
func (e *Engine) Admit(ctx context.Context, ev *event.Event) (*Admission, error) {
	sh := e.shardFor(ev.RoomID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return e.admit(ctx, ev)
}

// Enqueue submits ev to its room's shard loop. The result arrives on the
// returned channel once Run processes it.
func (e *Engine) Enqueue(ctx context.Context, ev *event.Event) (<-chan Result, error) {
	done := make(chan Result, 1)
	if err := e.shardFor(ev.RoomID).queue.Enqueue(request{ctx: ctx, ev: ev, done: done}); err != nil {
		return nil, err
	}
	return done, nil
}

// Run drains every shard queue until ctx is cancelled or Stop is called.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting", "shards", len(e.shards))
	g, ctx := errgroup.WithContext(ctx)
	for i, sh := range e.shards {
		g.Go(func() error { return e.runShard(ctx, i, sh) })
	}
	return g.Wait()
}

// Stop closes every shard queue. Queued events are still admitted.
func (e *Engine) Stop() {
	for _, sh := range e.shards {
		sh.queue.Close()
	}
}

func (e *Engine) runShard(ctx context.Context, id int, sh *shard) error {
	for {
		if r, ok := sh.queue.TryDequeue(); ok {
			sh.mu.Lock()
			a, err := e.admit(r.ctx, r.ev)
			sh.mu.Unlock()
			r.done <- Result{Admission: a, Err: err}
			continue
		}

		select {
		case <-ctx.Done():
			sh.queue.Close()
			for {
				r, ok := sh.queue.TryDequeue()
				if !ok {
					break
				}
				r.done <- Result{Err: ctx.Err()}
			}
			e.logger.Info("shard stopping: context cancelled", "shard", id)
			return ctx.Err()
		case <-sh.queue.Wait():
			if sh.queue.Done() {
				e.logger.Info("shard stopping: queue closed", "shard", id)
				return nil
			}
		}
	}
}

func (e *Engine) shardFor(roomID string) *shard {
	h := fnv.New64a()
	h.Write([]byte(roomID))
	return e.shards[h.Sum64()%uint64(len(e.shards))]
}

// admit runs with the event's shard locked.
func (e *Engine) admit(ctx context.Context, ev *event.Event) (*Admission, error) {
	start := time.Now()
	trace := e.traces.Generate()

	a, err := e.admitLocked(ctx, trace, ev)

	result := "ok"
	if err != nil {
		result = "error"
		var ae *AdmissionError
		if errors.As(err, &ae) {
			result = strings.ToLower(string(ae.Code))
		}
		e.logger.Warn("event rejected", "trace", trace, "event_id", ev.ID, "error", err)
	}
	e.metrics.Admission(result, time.Since(start).Seconds())
	return a, err
}

func (e *Engine) checkSize(ev *event.Event) error {
	if e.maxBytes <= 0 {
		return nil
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return invalidEvent(ev.ID, err)
	}
	if len(raw) > e.maxBytes {
		return invalidEvent(ev.ID, fmt.Errorf("event is %s, limit is %s",
			humanize.IBytes(uint64(len(raw))), humanize.IBytes(uint64(e.maxBytes))))
	}
	return nil
}

func (e *Engine) admitLocked(ctx context.Context, trace string, ev *event.Event) (*Admission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ev.Validate(); err != nil {
		return nil, invalidEvent(ev.ID, err)
	}
	if err := e.checkSize(ev); err != nil {
		return nil, err
	}
	_, dup, err := e.store.EventIdx(ev.ID)
	if err != nil {
		return nil, storageFailure(ev.ID, "lookup event id", err)
	}
	if dup {
		return nil, duplicateEvent(ev.ID)
	}
	if e.authorize {
		if err := e.checkPower(ev); err != nil {
			return nil, err
		}
	}

	admitted := *ev
	admitted.Idx = e.clock.Next()

	txn := e.store.NewTxn()
	defer txn.Close()
	if err := store.PutEvent(txn, &admitted); err != nil {
		return nil, storageFailure(ev.ID, "write event", err)
	}
	report, err := e.indexer.Index(txn, &admitted)
	if err != nil {
		return nil, storageFailure(ev.ID, "index references", err)
	}
	if err := txn.Commit(); err != nil {
		return nil, storageFailure(ev.ID, "commit", err)
	}

	e.logger.Info("event admitted",
		"trace", trace,
		"event_id", admitted.ID,
		"idx", uint64(admitted.Idx),
		"type", admitted.Type,
		"edges", report.Count(indexer.StatusAppended),
		"deferred", report.Count(indexer.StatusDeferred),
	)

	resumed := e.resolveAfterCommit(ctx, trace, &admitted, report)
	return &Admission{Trace: trace, Event: &admitted, Idx: admitted.Idx, Report: report, Resumed: resumed}, nil
}

// resolveAfterCommit resumes markers waiting on ev, then re-checks the ids
// ev itself deferred: one of them may have been admitted on another shard
// between indexing and commit, after its own Resolve ran. Failures leave
// the markers pending and are only logged; ev is already durable. Ids that
// failed on an earlier commit are retried first.
func (e *Engine) resolveAfterCommit(ctx context.Context, trace string, ev *event.Event, report *indexer.Report) int {
	resumed := e.retryFailed(ctx, trace)
	resumed += e.resolve(ctx, trace, ev.ID)

	deferred := report.Deferred()
	slices.Sort(deferred)
	for _, id := range slices.Compact(deferred) {
		_, ok, err := e.store.EventIdx(id)
		if err != nil {
			e.logger.Error("horizon recheck failed", "trace", trace, "ref", id, "error", err)
			continue
		}
		if ok {
			resumed += e.resolve(ctx, trace, id)
		}
	}
	return resumed
}

func (e *Engine) resolve(ctx context.Context, trace, id string) int {
	n, err := e.horizon.Resolve(ctx, id)
	if err != nil {
		e.logger.Error("horizon resolve failed", "trace", trace, "ref", id, "resumed", n, "error", err)
		e.retryMu.Lock()
		e.retry[id] = struct{}{}
		e.retryMu.Unlock()
	}
	if n > 0 {
		e.logger.Debug("horizon resolved", "trace", trace, "ref", id, "resumed", n)
	}
	return n
}

// retryFailed resolves every id whose Resolve failed earlier. Ids that fail
// again stay queued.
func (e *Engine) retryFailed(ctx context.Context, trace string) int {
	e.retryMu.Lock()
	ids := slices.Sorted(maps.Keys(e.retry))
	clear(e.retry)
	e.retryMu.Unlock()

	resumed := 0
	for _, id := range ids {
		resumed += e.resolve(ctx, trace, id)
	}
	return resumed
}

// RetryPending returns the ids queued for another Resolve, sorted.
func (e *Engine) RetryPending() []string {
	e.retryMu.Lock()
	defer e.retryMu.Unlock()
	return slices.Sorted(maps.Keys(e.retry))
}

// checkPower gates ev on the room's current power levels. The create event
// is always allowed and membership changes are not gated here.
func (e *Engine) checkPower(ev *event.Event) error {
	if ev.Type == event.TypeCreate || ev.Type == event.TypeMember {
		return nil
	}
	view, err := e.PowerView(ev.RoomID)
	if err != nil {
		return storageFailure(ev.ID, "load power levels", err)
	}
	if view == nil {
		return unauthorized(ev.ID, "room %s has no create event", ev.RoomID)
	}
	if !view.Authorize(ev.Sender, "", ev.Type, ev.StateKey) {
		return unauthorized(ev.ID, "%s has level %d, %s requires %d",
			ev.Sender, view.LevelUser(ev.Sender), ev.Type, view.LevelEventState(ev.Type, ev.StateKey))
	}
	if ev.Type == event.TypeRedaction {
		return e.checkRedact(ev, view)
	}
	return nil
}

// checkRedact requires the redact level to redact someone else's event.
func (e *Engine) checkRedact(ev *event.Event, view *power.View) error {
	rel := ev.RedactsID()
	if rel.Kind != event.RelationRef {
		return nil
	}
	target, ok, err := e.store.EventByID(rel.EventID)
	if err != nil {
		return storageFailure(ev.ID, "load redaction target", err)
	}
	if !ok || target.Sender == ev.Sender {
		return nil
	}
	if !view.Authorize(ev.Sender, power.PropRedact, "", nil) {
		return unauthorized(ev.ID, "%s has level %d, redact requires %d",
			ev.Sender, view.LevelUser(ev.Sender), view.Level(power.PropRedact))
	}
	return nil
}

// PowerView returns the current power levels of roomID bound to its
// creator, or nil when the room has no create event.
func (e *Engine) PowerView(roomID string) (*power.View, error) {
	return LoadPowerView(e.store, roomID)
}

// StateReader reads the current state of a room.
type StateReader interface {
	CurrentState(roomID, typ, stateKey string) (*event.Event, bool, error)
}

// LoadPowerView is PowerView over any state reader, such as a snapshot.
// It returns nil without error when the room has no create event.
func LoadPowerView(r StateReader, roomID string) (*power.View, error) {
	create, ok, err := r.CurrentState(roomID, event.TypeCreate, "")
	if err != nil || !ok {
		return nil, err
	}
	pl, _, err := r.CurrentState(roomID, event.TypePowerLevels, "")
	if err != nil {
		return nil, err
	}
	return power.FromEvent(pl, RoomCreator(create)), nil
}

// RoomCreator returns content.creator of a create event, or its sender
// when the room version no longer carries that field.
func RoomCreator(create *event.Event) string {
	if creator, ok := create.View().String("creator"); ok && creator != "" {
		return creator
	}
	return create.Sender
}

// Reindex re-runs the indexer for an already admitted event. Existing edges
// are rewritten unchanged; state edges are subject to the replay guard
// against any state admitted since.
func (e *Engine) Reindex(ctx context.Context, id string) (*indexer.Report, error) {
	ev, ok, err := e.store.EventByID(id)
	if err != nil {
		return nil, fmt.Errorf("reindex %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("reindex %s: event not found", id)
	}

	sh := e.shardFor(ev.RoomID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	txn := e.store.NewTxn()
	defer txn.Close()
	report, err := e.indexer.Index(txn, ev)
	if err != nil {
		return nil, fmt.Errorf("reindex %s: %w", id, err)
	}
	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("reindex %s: %w", id, err)
	}
	trace := e.traces.Generate()
	e.logger.Info("event reindexed",
		"trace", trace,
		"event_id", id,
		"edges", report.Count(indexer.StatusAppended),
		"replay_guard", report.Count(indexer.StatusReplayGuard),
	)
	e.resolveAfterCommit(ctx, trace, ev, report)
	return report, nil
}
