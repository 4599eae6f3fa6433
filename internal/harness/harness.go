package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/roomdag/internal/engine"
	"github.com/roach88/roomdag/internal/event"
	"github.com/roach88/roomdag/internal/indexer"
	"github.com/roach88/roomdag/internal/refs"
	"github.com/roach88/roomdag/internal/store"
	"github.com/roach88/roomdag/internal/testutil"
)

// Harness is the test execution engine.
// It runs scenarios with a deterministic clock and trace token.
type Harness struct {
	scenario *Scenario
	store    *store.Store
	engine   *engine.Engine
	clock    *testutil.DeterministicClock

	ids   map[string]string    // step name -> event id
	names map[event.Idx]string // idx -> step name
	rooms map[string]*roomState
}

// roomState tracks chaining defaults per room.
type roomState struct {
	last   string
	create string
	power  string
	depth  int64
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory store for isolation.
//
// Execution flow:
// 1. Create fresh in-memory store and engine
// 2. Admit each event, checking its expectation
// 3. Snapshot the edge graph and pending horizon markers
// 4. Evaluate assertions
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open("harness", store.Options{
		InMemory: true,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	opts := indexer.DefaultOptions(scenario.ServerName)
	if len(scenario.Kinds) > 0 {
		kinds, err := refs.ParseKinds(scenario.Kinds)
		if err != nil {
			return nil, err
		}
		opts.Kinds = kinds
	}
	if scenario.Horizon != nil {
		opts.Horizon = *scenario.Horizon
	}

	eng, err := engine.New(ctx, st,
		engine.WithIndexOptions(opts),
		engine.WithAuthorize(scenario.Authorize),
		engine.WithTraceGenerator(testutil.NewFixedTraceGenerator(scenario.Name)),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	h := &Harness{
		scenario: scenario,
		store:    st,
		engine:   eng,
		clock:    testutil.NewDeterministicClock(),
		ids:      make(map[string]string, len(scenario.Events)),
		names:    make(map[event.Idx]string, len(scenario.Events)),
		rooms:    make(map[string]*roomState),
	}
	for _, step := range scenario.Events {
		h.ids[step.Name] = step.ID
		if step.ID == "" {
			h.ids[step.Name] = "$" + step.Name + ":" + scenario.ServerName
		}
	}

	result := NewResult()
	for _, step := range scenario.Events {
		if err := h.executeStep(ctx, step, result); err != nil {
			return nil, fmt.Errorf("step %s: %w", step.Name, err)
		}
	}

	if err := h.snapshot(result); err != nil {
		return nil, err
	}

	actx := &AssertionContext{Store: st, Engine: eng, IDs: h.ids}
	for _, msg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) executeStep(ctx context.Context, step EventStep, result *Result) error {
	ev, err := h.build(step)
	if err != nil {
		return err
	}

	sr := StepResult{Name: step.Name, EventID: ev.ID}
	adm, err := h.engine.Admit(ctx, ev)
	var admErr *engine.AdmissionError
	switch {
	case err == nil:
		sr.Status = StepAdmitted
		sr.Idx = adm.Idx
		sr.Resumed = adm.Resumed
		sr.Outcomes = h.outcomes(adm.Report)
		h.names[adm.Idx] = step.Name
		h.admitted(step, ev)
	case errors.As(err, &admErr) && admErr.Code != engine.ErrCodeStorage:
		sr.Status = StepRejected
		sr.Code = string(admErr.Code)
	default:
		return err
	}
	result.Steps = append(result.Steps, sr)

	wantAdmitted, wantCode, _ := parseExpect(step.Expect)
	switch {
	case wantAdmitted && sr.Status != StepAdmitted:
		result.AddError(fmt.Sprintf("%s: expected admitted, got %s (%v)", step.Name, sr.Code, err))
	case !wantAdmitted && sr.Status != StepRejected:
		result.AddError(fmt.Sprintf("%s: expected rejected, was admitted", step.Name))
	case !wantAdmitted && wantCode != "" && wantCode != sr.Code:
		result.AddError(fmt.Sprintf("%s: expected rejection %s, got %s", step.Name, wantCode, sr.Code))
	}
	return nil
}

// build turns step into an event, filling prev, auth and depth from the
// room's admitted history.
func (h *Harness) build(step EventStep) (*event.Event, error) {
	rs := h.room(step.Room)

	content := []byte("{}")
	if step.Content != nil {
		raw, err := json.Marshal(step.Content)
		if err != nil {
			return nil, fmt.Errorf("encode content: %w", err)
		}
		content = raw
	}

	ev := &event.Event{
		ID:             h.ids[step.Name],
		Type:           step.Type,
		RoomID:         step.Room,
		Sender:         step.Sender,
		Origin:         step.Origin,
		StateKey:       step.StateKey,
		Content:        content,
		Redacts:        h.resolve(step.Redacts),
		Depth:          rs.depth + 1,
		OriginServerTS: h.clock.Next(),
		PrevEvents:     event.IDList{},
		AuthEvents:     event.IDList{},
	}

	if step.Prev != nil {
		ev.PrevEvents = h.resolveAll(*step.Prev)
	} else if rs.last != "" {
		ev.PrevEvents = event.IDList{rs.last}
	}

	if step.Auth != nil {
		ev.AuthEvents = h.resolveAll(*step.Auth)
	} else {
		for _, id := range []string{rs.create, rs.power} {
			if id != "" {
				ev.AuthEvents = append(ev.AuthEvents, id)
			}
		}
	}
	return ev, nil
}

func (h *Harness) admitted(step EventStep, ev *event.Event) {
	rs := h.room(step.Room)
	rs.last = ev.ID
	rs.depth = ev.Depth
	if ev.IsState() {
		switch ev.Type {
		case event.TypeCreate:
			rs.create = ev.ID
		case event.TypePowerLevels:
			rs.power = ev.ID
		}
	}
}

func (h *Harness) room(id string) *roomState {
	rs, ok := h.rooms[id]
	if !ok {
		rs = &roomState{}
		h.rooms[id] = rs
	}
	return rs
}

// resolve maps a step name to its event id; other strings pass through.
func (h *Harness) resolve(ref string) string {
	if id, ok := h.ids[ref]; ok {
		return id
	}
	return ref
}

func (h *Harness) resolveAll(refs []string) event.IDList {
	out := make(event.IDList, 0, len(refs))
	for _, r := range refs {
		out = append(out, h.resolve(r))
	}
	return out
}

func (h *Harness) name(idx event.Idx) string {
	if n, ok := h.names[idx]; ok {
		return n
	}
	return fmt.Sprintf("#%d", idx)
}

func (h *Harness) outcomes(r *indexer.Report) []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		line := fmt.Sprintf("%s %s", o.Kind, o.Status)
		switch {
		case o.Status == indexer.StatusAppended:
			line += " " + h.name(o.Target)
		case o.Ref != "":
			line += " " + o.Ref
		case o.Reason != "":
			line += ": " + o.Reason
		}
		out = append(out, line)
	}
	return out
}

func (h *Harness) snapshot(result *Result) error {
	snap := h.store.Snapshot()
	defer snap.Close()

	for e, err := range snap.Edges() {
		if err != nil {
			return fmt.Errorf("read edges: %w", err)
		}
		result.Edges = append(result.Edges,
			fmt.Sprintf("%s <-%s- %s", h.name(e.Target), e.Kind, h.name(e.Source)))
	}
	for _, m := range h.engine.Horizon().Pending() {
		result.Pending = append(result.Pending,
			fmt.Sprintf("%s <-%s- %s", m.MissingID, m.Kind, h.name(m.Idx)))
	}
	return nil
}
