package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is one scripted sequence of commands.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Steps run in order against one root.
	Steps []Step `yaml:"steps"`

	// Assertions are checked against the trace after all steps ran.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is a single scenario step. Exactly one of Command, Call or Advance
// is set.
type Step struct {
	// Command is a generic {module, action, params} object.
	Command map[string]any `yaml:"command,omitempty"`

	// Call names a typed constructor such as "kv.set".
	Call string `yaml:"call,omitempty"`

	// Args are the typed constructor arguments.
	Args map[string]any `yaml:"args,omitempty"`

	// Advance moves the scenario clock forward, e.g. "11s".
	Advance string `yaml:"advance,omitempty"`

	// Expect validates the step outcome. Nil means the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect is the expected outcome of a step.
type Expect struct {
	// OK is the expected success flag. Nil defaults to true unless Kind is set.
	OK *bool `yaml:"ok,omitempty"`

	// Kind is the expected error kind.
	Kind string `yaml:"kind,omitempty"`

	// Data is matched as a subset of the returned data.
	Data map[string]any `yaml:"data,omitempty"`
}

func (e *Expect) wantOK() bool {
	if e == nil {
		return true
	}
	if e.OK != nil {
		return *e.OK
	}
	return e.Kind == ""
}

// Assertion validates the complete trace.
type Assertion struct {
	Type    string         `yaml:"type"`
	Action  string         `yaml:"action,omitempty"`
	Actions []string       `yaml:"actions,omitempty"`
	Count   int            `yaml:"count,omitempty"`
	Data    map[string]any `yaml:"data,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		set := 0
		if step.Command != nil {
			set++
		}
		if step.Call != "" {
			set++
			if _, ok := calls[step.Call]; !ok {
				return fmt.Errorf("steps[%d]: unknown call %q", i, step.Call)
			}
		}
		if step.Advance != "" {
			set++
			d, err := time.ParseDuration(step.Advance)
			if err != nil {
				return fmt.Errorf("steps[%d]: advance: %w", i, err)
			}
			if d < 0 {
				return fmt.Errorf("steps[%d]: advance must not be negative", i)
			}
			if step.Expect != nil {
				return fmt.Errorf("steps[%d]: advance steps take no expect", i)
			}
		}
		if set != 1 {
			return fmt.Errorf("steps[%d]: exactly one of command, call or advance is required", i)
		}
		if step.Args != nil && step.Call == "" {
			return fmt.Errorf("steps[%d]: args are only valid with call", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
