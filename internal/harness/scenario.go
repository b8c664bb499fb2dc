package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/bouncer/internal/bouncer"
)

// Scenario defines a debounce test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config overrides Debouncer settings. Unset fields use the defaults.
	Config ScenarioConfig `yaml:"config,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and store state.
	Assertions []Assertion `yaml:"assertions"`
}

// ScenarioConfig mirrors the debounce section of bouncer.yaml.
type ScenarioConfig struct {
	Delay         *time.Duration `yaml:"delay,omitempty"`
	Buffer        *time.Duration `yaml:"buffer,omitempty"`
	SkipBuffer    *time.Duration `yaml:"skip_buffer,omitempty"`
	SkipCheck     *bool          `yaml:"skip_check,omitempty"`
	FirstRun      bool           `yaml:"first_run,omitempty"`
	ResetFirstRun bool           `yaml:"reset_first_run,omitempty"`
}

func (c ScenarioConfig) options() []bouncer.Option {
	var opts []bouncer.Option
	if c.Delay != nil {
		opts = append(opts, bouncer.WithDelay(*c.Delay))
	}
	if c.Buffer != nil {
		opts = append(opts, bouncer.WithBuffer(*c.Buffer))
	}
	if c.SkipBuffer != nil {
		opts = append(opts, bouncer.WithSkipBuffer(*c.SkipBuffer))
	}
	if c.SkipCheck != nil {
		opts = append(opts, bouncer.WithSkipCheck(*c.SkipCheck))
	}
	return append(opts,
		bouncer.WithFirstRun(c.FirstRun),
		bouncer.WithResetFirstRun(c.ResetFirstRun),
	)
}

// Step is one action at one instant.
// Exactly one of Request, FirstRun, Admit, or Advance must be set.
type Step struct {
	// At is the wall-clock instant in epoch seconds.
	At float64 `yaml:"at"`

	Request  *Trigger `yaml:"request,omitempty"`
	FirstRun *Trigger `yaml:"first_run,omitempty"`
	Admit    *Trigger `yaml:"admit,omitempty"`

	// Advance fires every job due at or before At.
	Advance bool `yaml:"advance,omitempty"`

	// Expect is the expected decision: scheduled, skipped or dispatched for
	// requests, admitted or rejected for admit steps.
	Expect string `yaml:"expect,omitempty"`
}

// Trigger names an identity and, for requests, an optional delay.
type Trigger struct {
	Topic  string         `yaml:"topic"`
	Params []any          `yaml:"params,omitempty"`
	Delay  *time.Duration `yaml:"delay,omitempty"`
}

// Identity builds the debounce identity for t.
func (t Trigger) Identity() bouncer.Identity {
	return bouncer.NewIdentity(t.Topic, t.Params...)
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Topic and Params select an identity (record, first_run_marker,
	// optionally admitted_count).
	Topic  string `yaml:"topic,omitempty"`
	Params []any  `yaml:"params,omitempty"`

	// Count is the expected number (admitted_count, pending_jobs, trace_count).
	Count *int `yaml:"count,omitempty"`

	// Value is the expected stored record (record).
	Value string `yaml:"value,omitempty"`

	// Absent expects no stored record (record).
	Absent bool `yaml:"absent,omitempty"`

	// Present is the expected marker state (first_run_marker).
	Present *bool `yaml:"present,omitempty"`

	// Event and Decision filter trace events (trace_count).
	Event    string `yaml:"event,omitempty"`
	Decision string `yaml:"decision,omitempty"`
}

func (a Assertion) identity() bouncer.Identity {
	return bouncer.NewIdentity(a.Topic, a.Params...)
}

// Assertion type constants.
const (
	AssertAdmittedCount  = "admitted_count"
	AssertRecord         = "record"
	AssertPendingJobs    = "pending_jobs"
	AssertFirstRunMarker = "first_run_marker"
	AssertTraceCount     = "trace_count"
)

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
	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
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

// validateScenario checks that required fields are present and valid.
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

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
		if i > 0 && step.At < s.Steps[i-1].At {
			return fmt.Errorf("steps[%d]: at %v is before the previous step", i, step.At)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, step Step) error {
	actions := 0
	var trigger *Trigger
	for _, t := range []*Trigger{step.Request, step.FirstRun, step.Admit} {
		if t != nil {
			actions++
			trigger = t
		}
	}
	if step.Advance {
		actions++
	}
	if actions != 1 {
		return fmt.Errorf("steps[%d]: exactly one of request, first_run, admit, advance is required", index)
	}
	if step.At < 0 {
		return fmt.Errorf("steps[%d]: at must be non-negative", index)
	}

	if trigger != nil && trigger.Topic == "" {
		return fmt.Errorf("steps[%d]: topic is required", index)
	}
	if trigger != nil && trigger.Delay != nil && *trigger.Delay < 0 {
		return fmt.Errorf("steps[%d]: delay must be non-negative", index)
	}

	if step.Expect == "" {
		return nil
	}
	switch {
	case step.Advance:
		return fmt.Errorf("steps[%d]: advance steps take no expect", index)
	case step.Admit != nil:
		if step.Expect != "admitted" && step.Expect != "rejected" {
			return fmt.Errorf("steps[%d]: admit expect must be admitted or rejected, got %q", index, step.Expect)
		}
	default:
		switch step.Expect {
		case bouncer.Scheduled.String(), bouncer.Skipped.String(), bouncer.Dispatched.String():
		default:
			return fmt.Errorf("steps[%d]: request expect must be scheduled, skipped or dispatched, got %q", index, step.Expect)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertAdmittedCount, AssertPendingJobs:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for %s", index, a.Type)
		}
	case AssertRecord:
		if a.Topic == "" {
			return fmt.Errorf("assertions[%d]: topic is required for record", index)
		}
		if (a.Value == "") == !a.Absent {
			return fmt.Errorf("assertions[%d]: record needs exactly one of value or absent", index)
		}
	case AssertFirstRunMarker:
		if a.Topic == "" {
			return fmt.Errorf("assertions[%d]: topic is required for first_run_marker", index)
		}
		if a.Present == nil {
			return fmt.Errorf("assertions[%d]: present is required for first_run_marker", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
