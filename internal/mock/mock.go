// Package mock dispatches mock descriptors to the setup routines that wire
// concrete transports.
//
// A descriptor declares, per contract mode, the effective setup type. The
// same declaration is a consumer-side mock while recording and the literal
// interaction expected of the provider while verifying: before dispatch the
// declared type is replaced with the effective type for the current mode.
package mock

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/casecore/internal/failure"
	"github.com/roach88/casecore/internal/match"
)

// Type identifies a mock setup routine.
type Type string

// Mock types supplied by the HTTP plugin.
const (
	HTTPServer Type = "MOCK_HTTP_SERVER"
	HTTPClient Type = "MOCK_HTTP_CLIENT"
)

// VariableSource says where provider-state variables come from.
type VariableSource string

const (
	// FromDefaults uses the defaults declared with the state.
	FromDefaults VariableSource = "default"
	// FromState uses values returned by state handlers.
	FromState VariableSource = "state"
)

// TriggerSource says who exercises the mock.
type TriggerSource string

const (
	// TriggersProvided means caller code drives the traffic.
	TriggersProvided TriggerSource = "provided"
	// TriggersGenerated means the mock drives the traffic itself.
	TriggersGenerated TriggerSource = "generated"
)

// Setup is the per-mode part of a descriptor.
type Setup struct {
	Type           Type           `json:"type"`
	StateVariables VariableSource `json:"stateVariables"`
	Triggers       TriggerSource  `json:"triggers"`
}

// Descriptor describes one interaction's mock.
type Descriptor struct {
	Type     Type                 `json:"type"`
	Request  any                  `json:"request,omitempty"`
	Response any                  `json:"response,omitempty"`
	Setup    map[match.Mode]Setup `json:"setup"`
}

// Effective returns a copy of d whose Type is the effective type for mode.
func (d Descriptor) Effective(mode match.Mode) (Descriptor, error) {
	if len(d.Setup) == 0 {
		return Descriptor{}, failure.Core(nil, "mock descriptor of type %q has no setup information", d.Type)
	}
	s, ok := d.Setup[mode]
	if !ok {
		return Descriptor{}, failure.Core(nil, "mock descriptor of type %q has no setup for %s mode", d.Type, mode)
	}
	if s.Type == "" {
		return Descriptor{}, failure.Core(nil, "mock descriptor of type %q has no effective type for %s mode", d.Type, mode)
	}
	out := d
	out.Type = s.Type
	return out, nil
}

// TriggerBased reports whether caller code must drive the mock in mode.
func (d Descriptor) TriggerBased(mode match.Mode) bool {
	return d.Setup[mode].Triggers == TriggersProvided
}

// Variables reports the variable source for mode.
func (d Descriptor) Variables(mode match.Mode) VariableSource {
	return d.Setup[mode].StateVariables
}

// Info describes a running mock to the code that exercises it, such as
// the base URL of a mock server.
type Info map[string]string

// Handle is a running mock.
type Handle interface {
	// Info returns connection details for trigger code.
	Info() Info
	// Exercise drives generated triggers. It is a no-op for mocks that
	// caller code drives.
	Exercise(ctx context.Context) error
	// Verify checks the traffic the mock observed.
	Verify(ctx context.Context) ([]*match.MatchError, error)
	// Close releases the mock's resources.
	Close() error
}

// Config carries per-run settings for setup routines.
type Config struct {
	// BaseURL is the address of the real system under test, used by mocks
	// that send traffic.
	BaseURL string
}

// SetupFunc starts a mock for an effective descriptor.
type SetupFunc func(ctx context.Context, mc match.Context, d Descriptor, cfg Config) (Handle, error)

// Dispatcher maps mock types to setup routines.
type Dispatcher struct {
	mu     sync.RWMutex
	setups map[Type]SetupFunc
	logger *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		setups: make(map[Type]SetupFunc),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register installs fn for t, overriding any previous routine.
func (d *Dispatcher) Register(t Type, fn SetupFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.setups[t]; exists {
		d.logger.Debug("overriding mock setup", "type", t)
	}
	d.setups[t] = fn
}

// Types returns the registered mock types, sorted.
func (d *Dispatcher) Types() []Type {
	d.mu.RLock()
	defer d.mu.RUnlock()
	types := make([]Type, 0, len(d.setups))
	for t := range d.setups {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Clone returns an independent copy.
func (d *Dispatcher) Clone() *Dispatcher {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c := &Dispatcher{setups: make(map[Type]SetupFunc, len(d.setups)), logger: d.logger}
	for t, fn := range d.setups {
		c.setups[t] = fn
	}
	return c
}

// Setup inverts desc for the context's mode and starts the matching mock.
func (d *Dispatcher) Setup(ctx context.Context, mc match.Context, desc Descriptor, cfg Config) (Handle, error) {
	effective, err := desc.Effective(mc.Mode)
	if err != nil {
		return nil, err
	}
	if effective.Type != desc.Type {
		d.logger.Debug("inverting mock for contract mode",
			"declared", desc.Type,
			"effective", effective.Type,
			"mode", mc.Mode)
	}

	d.mu.RLock()
	fn, ok := d.setups[effective.Type]
	d.mu.RUnlock()
	if !ok {
		return nil, failure.Core(mc.Location(), "no mock setup registered for type %q", effective.Type)
	}

	h, err := fn(ctx, mc, effective, cfg)
	if err != nil {
		return nil, fmt.Errorf("setup %s: %w", effective.Type, err)
	}
	return h, nil
}
