package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/roomdag/internal/refs"
)

// Scenario defines a conformance test scenario.
// A scenario admits a sequence of room events through a fresh engine and
// asserts on the resulting reference graph.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// ServerName is the local server. Defaults to "a.org".
	ServerName string `yaml:"server_name,omitempty"`

	// Authorize enables power-level gating of admissions.
	Authorize bool `yaml:"authorize,omitempty"`

	// Kinds restricts the indexed edge kinds. Empty means all.
	Kinds []string `yaml:"kinds,omitempty"`

	// Horizon disables deferral of unresolved references when false.
	// Defaults to true.
	Horizon *bool `yaml:"horizon,omitempty"`

	// Events are admitted in order.
	Events []EventStep `yaml:"events"`

	// Assertions validate the final graph.
	// Supported types: edge, no_edge, edge_count, horizon_pending, power_level
	Assertions []Assertion `yaml:"assertions"`
}

// EventStep describes one event to admit.
//
// Every step has a Name. Other steps refer to it by that name in prev, auth,
// redacts and assertions; the name resolves to the step's event id, which
// is ID when set and "$<name>:<server_name>" otherwise.
type EventStep struct {
	Name     string         `yaml:"name"`
	ID       string         `yaml:"id,omitempty"`
	Room     string         `yaml:"room"`
	Type     string         `yaml:"type"`
	Sender   string         `yaml:"sender"`
	StateKey *string        `yaml:"state_key,omitempty"`
	Content  map[string]any `yaml:"content,omitempty"`
	Origin   string         `yaml:"origin,omitempty"`
	Redacts  string         `yaml:"redacts,omitempty"`

	// Prev overrides prev_events. When absent the step cites the last
	// admitted event of its room.
	Prev *[]string `yaml:"prev,omitempty"`

	// Auth overrides auth_events. When absent the step cites the room's
	// admitted create and power-levels events.
	Auth *[]string `yaml:"auth,omitempty"`

	// Expect is "admitted" (the default), "rejected", or "rejected:<CODE>".
	Expect string `yaml:"expect,omitempty"`
}

// Assertion validates the final graph.
type Assertion struct {
	// Type specifies the assertion type:
	// - "edge": an edge target <-kind- source exists
	// - "no_edge": no such edge exists
	// - "edge_count": target has exactly Count referrers (of Kind, if set)
	// - "horizon_pending": Missing has exactly Count pending markers
	// - "power_level": User has Level in Room
	Type string `yaml:"type"`

	Target string `yaml:"target,omitempty"`
	Kind   string `yaml:"kind,omitempty"`
	Source string `yaml:"source,omitempty"`
	Count  int    `yaml:"count,omitempty"`

	Missing string `yaml:"missing,omitempty"`

	Room  string `yaml:"room,omitempty"`
	User  string `yaml:"user,omitempty"`
	Level int64  `yaml:"level,omitempty"`
}

// Assertion type constants.
const (
	AssertEdge           = "edge"
	AssertNoEdge         = "no_edge"
	AssertEdgeCount      = "edge_count"
	AssertHorizonPending = "horizon_pending"
	AssertPowerLevel     = "power_level"
)

// DefaultServerName is used when a scenario names no server.
const DefaultServerName = "a.org"

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.ServerName == "" {
		scenario.ServerName = DefaultServerName
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Events) == 0 {
		return fmt.Errorf("events list is required and must be non-empty")
	}
	if _, err := refs.ParseKinds(s.Kinds); err != nil {
		return fmt.Errorf("kinds: %w", err)
	}

	names := make(map[string]bool, len(s.Events))
	for i, step := range s.Events {
		if step.Name == "" {
			return fmt.Errorf("events[%d]: name is required", i)
		}
		if names[step.Name] {
			return fmt.Errorf("events[%d]: duplicate name %q", i, step.Name)
		}
		names[step.Name] = true
		if step.Room == "" || step.Type == "" || step.Sender == "" {
			return fmt.Errorf("events[%d] (%s): room, type and sender are required", i, step.Name)
		}
		if _, _, err := parseExpect(step.Expect); err != nil {
			return fmt.Errorf("events[%d] (%s): %w", i, step.Name, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a, names); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion, names map[string]bool) error {
	requireName := func(field, v string) error {
		if v == "" {
			return fmt.Errorf("%s requires %s", a.Type, field)
		}
		if !names[v] {
			return fmt.Errorf("%s: unknown event %q", field, v)
		}
		return nil
	}
	switch a.Type {
	case AssertEdge, AssertNoEdge:
		if err := requireName("target", a.Target); err != nil {
			return err
		}
		if err := requireName("source", a.Source); err != nil {
			return err
		}
		if _, err := refs.ParseKind(a.Kind); err != nil {
			return err
		}
	case AssertEdgeCount:
		if err := requireName("target", a.Target); err != nil {
			return err
		}
		if a.Kind != "" {
			if _, err := refs.ParseKind(a.Kind); err != nil {
				return err
			}
		}
	case AssertHorizonPending:
		if a.Missing == "" {
			return fmt.Errorf("%s requires missing", a.Type)
		}
	case AssertPowerLevel:
		if a.Room == "" || a.User == "" {
			return fmt.Errorf("%s requires room and user", a.Type)
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
