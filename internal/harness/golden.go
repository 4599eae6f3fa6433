package harness

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Render formats a result as the text stored in golden files: one block
// per step, then the final edges and pending markers.
func Render(name string, r *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", name)

	b.WriteString("\nsteps:\n")
	for _, s := range r.Steps {
		switch s.Status {
		case StepAdmitted:
			fmt.Fprintf(&b, "  %s idx=%d admitted", s.Name, s.Idx)
			if s.Resumed > 0 {
				fmt.Fprintf(&b, " resumed=%d", s.Resumed)
			}
			b.WriteString("\n")
		default:
			fmt.Fprintf(&b, "  %s rejected %s\n", s.Name, s.Code)
		}
		for _, o := range s.Outcomes {
			fmt.Fprintf(&b, "    %s\n", o)
		}
	}

	b.WriteString("\nedges:\n")
	for _, e := range r.Edges {
		fmt.Fprintf(&b, "  %s\n", e)
	}

	b.WriteString("\npending:\n")
	for _, p := range r.Pending {
		fmt.Fprintf(&b, "  %s\n", p)
	}
	return []byte(b.String())
}

// RunWithGolden executes a scenario and compares the rendered result against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an already computed result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, Render(name, result))
}
