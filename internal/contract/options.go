package contract

import (
	"context"
	"log/slog"

	"github.com/roach88/casecore/internal/match"
	"github.com/roach88/casecore/internal/mock"
	"github.com/roach88/casecore/internal/plugin"
)

// Trigger exercises the code under test against a running mock. info
// carries the mock's connection details.
type Trigger func(ctx context.Context, info mock.Info) error

// StateHandler sets up a provider state and returns its variables.
type StateHandler func(ctx context.Context) (map[string]any, error)

// Invoker runs the core's verification of a delegated test and returns
// its result. It may be called at most once per test.
type Invoker func(ctx context.Context) *InteractionResult

// RunTestFunc hands a trigger-based interaction to a remote test runner.
// The runner drives the code under test against info, calls invoke, and
// returns its own verdict.
type RunTestFunc func(ctx context.Context, testName string, info mock.Info, invoke Invoker) error

// Writer persists a finished contract.
type Writer interface {
	Save(ctx context.Context, c *Contract) error
}

type settings struct {
	registry       *match.Registry
	dispatcher     *mock.Dispatcher
	logger         *slog.Logger
	matchBy        match.MatchBy
	baseURL        string
	callerVersions []string
	runTest        RunTestFunc
	stateHandlers  map[string]StateHandler
	triggers       map[string]Trigger
}

// Option configures a Recorder or a Verifier.
type Option func(*settings)

// WithRegistry sets the matcher registry. Default: the built-in matchers
// plus every plugin in the default catalog.
func WithRegistry(r *match.Registry) Option {
	return func(s *settings) {
		s.registry = r
	}
}

// WithDispatcher sets the mock dispatcher. Default: every mock in the
// default catalog.
func WithDispatcher(d *mock.Dispatcher) Option {
	return func(s *settings) {
		s.dispatcher = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		s.logger = l
	}
}

// WithMatchBy overrides the mode's default fidelity.
func WithMatchBy(mb match.MatchBy) Option {
	return func(s *settings) {
		s.matchBy = mb
	}
}

// WithBaseURL sets the address of the system under test.
func WithBaseURL(url string) Option {
	return func(s *settings) {
		s.baseURL = url
	}
}

// WithCallerVersions records caller versions in the contract metadata.
func WithCallerVersions(versions ...string) Option {
	return func(s *settings) {
		s.callerVersions = versions
	}
}

// WithRunTest delegates trigger-based interactions that have no local
// trigger to fn.
func WithRunTest(fn RunTestFunc) Option {
	return func(s *settings) {
		s.runTest = fn
	}
}

// WithStateHandlers sets provider-state handlers by state name.
func WithStateHandlers(handlers map[string]StateHandler) Option {
	return func(s *settings) {
		s.stateHandlers = handlers
	}
}

// WithTriggers sets local triggers, keyed by test name or description.
func WithTriggers(triggers map[string]Trigger) Option {
	return func(s *settings) {
		s.triggers = triggers
	}
}

// StaticStates builds state handlers that return fixed variables.
func StaticStates(states map[string]map[string]any) map[string]StateHandler {
	handlers := make(map[string]StateHandler, len(states))
	for name, vars := range states {
		handlers[name] = func(context.Context) (map[string]any, error) {
			return vars, nil
		}
	}
	return handlers
}

func newSettings(opts []Option) (*settings, error) {
	s := &settings{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil || s.dispatcher == nil {
		reg, disp := match.NewRegistry(match.WithRegistryLogger(s.logger)), mock.NewDispatcher(mock.WithLogger(s.logger))
		catalog := plugin.Default()
		if _, err := catalog.Load(catalog.Names(), reg, disp); err != nil {
			return nil, err
		}
		if s.registry == nil {
			s.registry = reg
		}
		if s.dispatcher == nil {
			s.dispatcher = disp
		}
	}
	return s, nil
}

func (s *settings) matchContext(mode match.Mode, tables *match.Tables) match.Context {
	opts := []match.ContextOption{match.WithTables(tables), match.WithLogger(s.logger)}
	if s.matchBy != "" {
		opts = append(opts, match.WithMatchBy(s.matchBy))
	}
	return match.NewContext(s.registry, mode, opts...)
}
