package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/casecore/internal/failure"
	"github.com/roach88/casecore/internal/wire"
)

// Scenario is one scripted verification session.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Definitions is a directory of CUE interaction definitions, relative
	// to the scenario file. The contract recorded from it is written to
	// ${contracts}.
	Definitions string `yaml:"definitions"`

	// Stub lists the routes of the stub HTTP server. It stands in for the
	// provider under test, and for the consumer while recording
	// interactions the provider sends.
	Stub []Route `yaml:"stub,omitempty"`

	// Flow is the conversation with the protocol server.
	Flow []Step `yaml:"flow"`

	// Assertions run against the trace and the run database.
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// StepTimeout bounds how long a step waits for a frame. Zero means
	// DefaultStepTimeout.
	StepTimeout time.Duration `yaml:"step_timeout,omitempty"`
}

// Route is one canned answer of the stub server.
type Route struct {
	Method string `yaml:"method,omitempty"`
	Path   string `yaml:"path"`
	Status int    `yaml:"status,omitempty"`
	Body   any    `yaml:"body,omitempty"`
}

// Step is one action of the flow.
type Step struct {
	Send    wire.Kind      `yaml:"send,omitempty"`
	ID      string         `yaml:"id,omitempty"`
	Payload map[string]any `yaml:"payload,omitempty"`
	Async   bool           `yaml:"async,omitempty"`

	Await  wire.Kind `yaml:"await,omitempty"`
	Call   *Call     `yaml:"call,omitempty"`
	Result string    `yaml:"result,omitempty"`

	// Expect checks the result of a send or result step.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Call is an HTTP request made while playing the consumer.
type Call struct {
	Method string `yaml:"method,omitempty"`
	Path   string `yaml:"path"`
	// Status, when set, is the status the mock must answer with.
	Status int `yaml:"status,omitempty"`
}

// Expect describes a result. Only the fields that are set are checked;
// Message is a substring and Value a subset.
type Expect struct {
	Status   wire.Status  `yaml:"status"`
	Kind     failure.Kind `yaml:"kind,omitempty"`
	Location []string     `yaml:"location,omitempty"`
	Message  string       `yaml:"message,omitempty"`
	Value    any          `yaml:"value,omitempty"`
}

// Assertion validates the trace or the run database after the flow.
type Assertion struct {
	Type string `yaml:"type"`

	// Kind is the frame kind (trace_contains, trace_count).
	Kind wire.Kind `yaml:"kind,omitempty"`

	// Direction restricts trace assertions to "sent" or "received" frames.
	Direction string `yaml:"direction,omitempty"`

	// Body is a subset of a frame's payload, or of a result's value
	// (trace_contains).
	Body any `yaml:"body,omitempty"`

	// Kinds is the expected relative order (trace_order).
	Kinds []wire.Kind `yaml:"kinds,omitempty"`

	// Count is the expected number of frames or runs.
	Count int `yaml:"count,omitempty"`

	// Consumer and Provider select runs (recorded_runs).
	Consumer string `yaml:"consumer,omitempty"`
	Provider string `yaml:"provider,omitempty"`

	// Expect is a subset every selected run must match (recorded_runs).
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertRecordedRuns  = "recorded_runs"
)

// LoadScenario reads and validates a scenario file. The definitions path
// is resolved relative to the file. Unknown fields are rejected so that
// typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Definitions != "" && !filepath.IsAbs(scenario.Definitions) {
		scenario.Definitions = filepath.Join(filepath.Dir(path), scenario.Definitions)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
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
	if s.Definitions == "" {
		return fmt.Errorf("definitions is required")
	}
	if _, err := os.Stat(s.Definitions); err != nil {
		return fmt.Errorf("definitions: %w", err)
	}
	if s.StepTimeout < 0 {
		return fmt.Errorf("step_timeout must not be negative")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for i, r := range s.Stub {
		if r.Path == "" {
			return fmt.Errorf("stub[%d]: path is required", i)
		}
	}

	for i, step := range s.Flow {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step *Step) error {
	actions := 0
	for _, set := range []bool{step.Send != "", step.Await != "", step.Call != nil, step.Result != ""} {
		if set {
			actions++
		}
	}
	if actions != 1 {
		return fmt.Errorf("flow[%d]: exactly one of send, await, call or result is required", index)
	}

	switch {
	case step.Send != "":
		if !step.Send.IsRequest() {
			return fmt.Errorf("flow[%d]: %s is not a request kind", index, step.Send)
		}
		if step.Async && step.ID == "" {
			return fmt.Errorf("flow[%d]: an async send needs an id for its result step", index)
		}
	case step.Await != "":
		if step.Expect != nil {
			return fmt.Errorf("flow[%d]: await steps take no expect", index)
		}
	case step.Call != nil:
		if step.Call.Path == "" {
			return fmt.Errorf("flow[%d].call: path is required", index)
		}
		if step.Expect != nil {
			return fmt.Errorf("flow[%d]: call steps take no expect; use call.status", index)
		}
	}

	if step.Expect != nil {
		switch step.Expect.Status {
		case wire.StatusSuccess, wire.StatusFailure:
		default:
			return fmt.Errorf("flow[%d].expect: status must be %q or %q", index, wire.StatusSuccess, wire.StatusFailure)
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	switch a.Direction {
	case "", directionSent, directionReceived:
	default:
		return fmt.Errorf("assertions[%d]: direction must be %q or %q", index, directionSent, directionReceived)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertRecordedRuns:
		if a.Consumer == "" || a.Provider == "" {
			return fmt.Errorf("assertions[%d]: consumer and provider are required for recorded_runs", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
