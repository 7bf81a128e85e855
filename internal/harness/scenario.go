package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/reviewpc/internal/config"
	"github.com/roach88/reviewpc/internal/engine"
	"github.com/roach88/reviewpc/internal/keys"
	"github.com/roach88/reviewpc/internal/timeout"
)

// Scenario is an automation script run against an engine on a manual
// clock, with expectations per step and assertions over the event trace.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Settings override the engine's factory settings.
	Settings *Settings `yaml:"settings,omitempty"`

	// Steps are applied in order; each is exactly one of command, key or advance.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	// Supported types: event_contains, event_order, event_count, final_state, audit_row
	Assertions []Assertion `yaml:"assertions"`
}

// Settings are per-scenario overrides. Unset fields keep the defaults.
type Settings struct {
	BatchSize       *int            `yaml:"batch_size,omitempty"`
	CyclingEnabled  *bool           `yaml:"cycling_enabled,omitempty"`
	CyclingSequence config.Sequence `yaml:"cycling_sequence,omitempty"`
	CancelPolicy    string          `yaml:"cancel_policy,omitempty"`
	AutoStartNext   *bool           `yaml:"auto_start_next,omitempty"`
	TimeoutSeconds  *float64        `yaml:"timeout_seconds,omitempty"`
	LagSeconds      *float64        `yaml:"lag_seconds,omitempty"`

	// Seed fixes the random source used for popups and timeout images.
	Seed *uint64 `yaml:"seed,omitempty"`
}

// Step is one scripted input.
type Step struct {
	// Command is an engine command name (start, pause, inject_lag, ...).
	Command string `yaml:"command,omitempty"`

	// Key is a key name as accepted by keys.ParseKey (N, M, Enter, Esc, ok, ng, ...).
	Key string `yaml:"key,omitempty"`

	// Advance moves the manual clock by a Go duration ("10s", "1500ms").
	Advance string `yaml:"advance,omitempty"`

	// Command arguments. Only the ones the command uses are read.
	Size     *int            `yaml:"size,omitempty"`
	Enabled  *bool           `yaml:"enabled,omitempty"`
	Sequence config.Sequence `yaml:"sequence,omitempty"`
	Seconds  *float64        `yaml:"seconds,omitempty"`

	// Expect checks the engine right after this step.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect is a subset match against the outcome of a step.
type Expect struct {
	Handled            *bool  `yaml:"handled,omitempty"`
	Error              string `yaml:"error,omitempty"` // error code, e.g. ILLEGAL_TRANSITION
	State              string `yaml:"state,omitempty"`
	Index              *int   `yaml:"index,omitempty"`         // 1-based image under review
	CurrentIndex       *int   `yaml:"current_index,omitempty"` // images judged so far
	OK                 *int   `yaml:"ok,omitempty"`
	NG                 *int   `yaml:"ng,omitempty"`
	Timeouts           *int   `yaml:"timeouts,omitempty"`
	Batch              *int   `yaml:"batch,omitempty"`
	Size               *int   `yaml:"size,omitempty"`
	AwaitingTimeoutKey *bool  `yaml:"awaiting_timeout_key,omitempty"`
	TimeoutActive      *bool  `yaml:"timeout_active,omitempty"`
	LagPending         *bool  `yaml:"lag_pending,omitempty"`
}

// EventMatch selects trace events by kind and a subset of fields.
type EventMatch struct {
	Kind   string         `yaml:"kind"`
	Fields map[string]any `yaml:"fields,omitempty"`
}

// Assertion validates the trace, the final snapshot or the audit store.
type Assertion struct {
	// Type specifies the assertion type:
	// - "event_contains": an event of Kind with matching Fields was published
	// - "event_order": Events occur in this order (others may interleave)
	// - "event_count": events of Kind with matching Fields occur exactly Count times
	// - "final_state": the final snapshot matches Expect
	// - "audit_row": exactly one row of Table matching Where has the Expect values
	Type string `yaml:"type"`

	Kind   string         `yaml:"kind,omitempty"`
	Fields map[string]any `yaml:"fields,omitempty"`

	Events []EventMatch `yaml:"events,omitempty"`

	Count *int `yaml:"count,omitempty"`

	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertEventContains = "event_contains"
	AssertEventOrder    = "event_order"
	AssertEventCount    = "event_count"
	AssertFinalState    = "final_state"
	AssertAuditRow      = "audit_row"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or fails validation.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
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

	if s.Settings != nil {
		if _, err := s.Settings.apply(engine.DefaultSettings()); err != nil {
			return fmt.Errorf("settings: %w", err)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step Step) error {
	set := 0
	for _, v := range []string{step.Command, step.Key, step.Advance} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("exactly one of command, key or advance is required")
	}

	switch {
	case step.Key != "":
		if _, err := keys.ParseKey(step.Key); err != nil {
			return err
		}
	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("advance: %w", err)
		}
		if d < 0 {
			return fmt.Errorf("advance must not be negative")
		}
	default:
		if _, err := step.command(); err != nil {
			return err
		}
	}
	return nil
}

// command builds the engine command for a command step.
func (step Step) command() (engine.Command, error) {
	c := engine.Command{Name: engine.CommandName(step.Command)}
	known := false
	for _, name := range engine.Commands {
		if name == c.Name {
			known = true
			break
		}
	}
	if !known {
		return c, fmt.Errorf("unknown command %q", step.Command)
	}

	switch c.Name {
	case engine.CmdSetBatchSize:
		if step.Size == nil {
			return c, fmt.Errorf("%s requires size", step.Command)
		}
		c.Size = *step.Size
	case engine.CmdConfigureCycling:
		if step.Enabled == nil {
			return c, fmt.Errorf("%s requires enabled", step.Command)
		}
		c.Enabled = *step.Enabled
		c.Sequence = []int(step.Sequence)
	case engine.CmdOverrideTimeout:
		if step.Seconds == nil {
			return c, fmt.Errorf("%s requires seconds", step.Command)
		}
		c.Duration = timeout.Seconds(*step.Seconds)
	case engine.CmdInjectLag:
		if step.Seconds != nil {
			c.Duration = timeout.Seconds(*step.Seconds)
		}
	}
	return c, nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertEventContains:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for event_contains", index)
		}
	case AssertEventOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for event_order", index)
		}
		for j, m := range a.Events {
			if m.Kind == "" {
				return fmt.Errorf("assertions[%d].events[%d]: kind is required", index, j)
			}
		}
	case AssertEventCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for event_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for event_count", index)
		}
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertAuditRow:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for audit_row", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for audit_row", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
