package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/roomdag/internal/event"
)

// Step status values.
const (
	StepAdmitted = "admitted"
	StepRejected = "rejected"
)

// StepResult records what happened to one scenario event.
type StepResult struct {
	Name     string    `json:"name"`
	EventID  string    `json:"event_id"`
	Status   string    `json:"status"`
	Code     string    `json:"code,omitempty"`
	Idx      event.Idx `json:"idx,omitempty"`
	Outcomes []string  `json:"outcomes,omitempty"`
	Resumed  int       `json:"resumed,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	Pass bool `json:"pass"`

	// Steps holds one entry per scenario event, in order.
	Steps []StepResult `json:"steps"`

	// Edges lists the final graph as "target <-KIND- source" lines, in key
	// order, naming events by step name.
	Edges []string `json:"edges"`

	// Pending lists horizon markers still waiting after the last step.
	Pending []string `json:"pending"`

	// Errors contains expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Steps:   []StepResult{},
		Edges:   []string{},
		Pending: []string{},
		Errors:  []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// parseExpect splits an EventStep.Expect value.
func parseExpect(expect string) (admitted bool, code string, err error) {
	switch {
	case expect == "" || expect == StepAdmitted:
		return true, "", nil
	case expect == StepRejected:
		return false, "", nil
	case strings.HasPrefix(expect, StepRejected+":"):
		return false, strings.TrimPrefix(expect, StepRejected+":"), nil
	default:
		return false, "", fmt.Errorf("invalid expect %q", expect)
	}
}
