package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/roomdag/internal/engine"
	"github.com/roach88/roomdag/internal/event"
	"github.com/roach88/roomdag/internal/refs"
	"github.com/roach88/roomdag/internal/store"
)

// AssertionContext gives assertions access to the scenario's final state.
type AssertionContext struct {
	Store  *store.Store
	Engine *engine.Engine
	IDs    map[string]string // step name -> event id
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for _, a := range assertions {
		if err := evaluate(a, actx); err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

func evaluate(a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertEdge:
		return assertEdge(a, actx, true)
	case AssertNoEdge:
		return assertEdge(a, actx, false)
	case AssertEdgeCount:
		return assertEdgeCount(a, actx)
	case AssertHorizonPending:
		return assertHorizonPending(a, actx)
	case AssertPowerLevel:
		return assertPowerLevel(a, actx)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

// idx resolves a step name to its admitted idx.
func (actx *AssertionContext) idx(name string) (event.Idx, bool, error) {
	id, ok := actx.IDs[name]
	if !ok {
		id = name
	}
	return actx.Store.EventIdx(id)
}

// referrers lists the sources referring to target, optionally by kind.
func (actx *AssertionContext) referrers(target event.Idx, kind *refs.Kind) ([]event.Idx, error) {
	var out []event.Idx
	for e, err := range actx.Store.Referrers(target, kind) {
		if err != nil {
			return nil, err
		}
		out = append(out, e.Source)
	}
	return out, nil
}

func assertEdge(a Assertion, actx *AssertionContext, want bool) error {
	desc := fmt.Sprintf("%s <-%s- %s", a.Target, strings.ToUpper(a.Kind), a.Source)
	kind, err := refs.ParseKind(a.Kind)
	if err != nil {
		return err
	}
	target, tok, err := actx.idx(a.Target)
	if err != nil {
		return err
	}
	source, sok, err := actx.idx(a.Source)
	if err != nil {
		return err
	}

	found := false
	if tok && sok {
		sources, err := actx.referrers(target, &kind)
		if err != nil {
			return err
		}
		found = slices.Contains(sources, source)
	}

	switch {
	case want && !found:
		return &AssertionError{Type: a.Type, Expected: "edge " + desc, Actual: "not found"}
	case !want && found:
		return &AssertionError{Type: a.Type, Expected: "no edge " + desc, Actual: "edge exists"}
	}
	return nil
}

func assertEdgeCount(a Assertion, actx *AssertionContext) error {
	var kind *refs.Kind
	if a.Kind != "" {
		k, err := refs.ParseKind(a.Kind)
		if err != nil {
			return err
		}
		kind = &k
	}
	target, ok, err := actx.idx(a.Target)
	if err != nil {
		return err
	}
	if !ok {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s admitted", a.Target), Actual: "not admitted"}
	}
	sources, err := actx.referrers(target, kind)
	if err != nil {
		return err
	}
	if len(sources) != a.Count {
		label := "any kind"
		if kind != nil {
			label = kind.String()
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d referrers of %s (%s)", a.Count, a.Target, label),
			Actual:   fmt.Sprintf("%d", len(sources)),
		}
	}
	return nil
}

func assertHorizonPending(a Assertion, actx *AssertionContext) error {
	id, ok := actx.IDs[a.Missing]
	if !ok {
		id = a.Missing
	}
	n := len(actx.Engine.Horizon().PendingFor(id))
	if n != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d markers waiting on %s", a.Count, id),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}

func assertPowerLevel(a Assertion, actx *AssertionContext) error {
	view, err := actx.Engine.PowerView(a.Room)
	if err != nil {
		return err
	}
	if view == nil {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("room %s created", a.Room), Actual: "no create event"}
	}
	if got := view.LevelUser(a.User); got != a.Level {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s has level %d", a.User, a.Level),
			Actual:   fmt.Sprintf("%d", got),
		}
	}
	return nil
}
