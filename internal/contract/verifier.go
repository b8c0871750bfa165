package contract

import (
	"context"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/casecore/internal/failure"
	"github.com/roach88/casecore/internal/match"
	"github.com/roach88/casecore/internal/mock"
	"github.com/roach88/casecore/internal/telemetry"
)

// Filter selects interactions by test name. The zero Filter selects all.
type Filter struct {
	TestNames []string
}

func (f Filter) includes(name string) bool {
	return len(f.TestNames) == 0 || slices.Contains(f.TestNames, name)
}

// Verifier replays a contract against a real provider.
type Verifier struct {
	*settings
	contract *Contract
	tables   *match.Tables
}

// NewVerifier prepares c for verification.
func NewVerifier(c *Contract, opts ...Option) (*Verifier, error) {
	if c == nil {
		return nil, failure.Configuration(nil, "no contract to verify")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	s, err := newSettings(opts)
	if err != nil {
		return nil, err
	}
	tables := match.NewTables()
	for name, node := range c.Matchers {
		if err := tables.SaveLookupable(name, node); err != nil {
			return nil, err
		}
	}
	return &Verifier{settings: s, contract: c, tables: tables}, nil
}

// Contract returns the contract under verification.
func (v *Verifier) Contract() *Contract {
	return v.contract
}

// Available lists the test names of every interaction.
func (v *Verifier) Available() []string {
	return v.contract.TestNames()
}

// Run verifies the interactions selected by filter. A failing interaction
// never stops the run; the error return is reserved for a cancelled
// context or a filter that selects nothing.
func (v *Verifier) Run(ctx context.Context, filter Filter) (report *Report, err error) {
	ctx, span := telemetry.Start(ctx, "contract.verify",
		attribute.String("consumer", v.contract.Consumer),
		attribute.String("provider", v.contract.Provider))
	defer func() { telemetry.End(span, err) }()

	report = &Report{Consumer: v.contract.Consumer, Provider: v.contract.Provider, Pass: true, Results: []*InteractionResult{}}
	for i, in := range v.contract.Interactions {
		name := v.contract.TestName(i)
		if !filter.includes(name) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := v.verify(ctx, i, in)
		report.Results = append(report.Results, res)
		if !res.Pass {
			report.Pass = false
		}
	}
	if len(report.Results) == 0 && len(filter.TestNames) > 0 {
		return nil, failure.Configuration(nil, "no interactions in %s matched %v", v.contract.Filename(), filter.TestNames)
	}
	v.logger.Info("verification finished",
		"consumer", report.Consumer,
		"provider", report.Provider,
		"interactions", len(report.Results),
		"failures", report.Failures())
	return report, nil
}

func (v *Verifier) verify(ctx context.Context, index int, in *Interaction) *InteractionResult {
	name := v.contract.TestName(index)
	ctx, span := telemetry.Start(ctx, "contract.interaction", attribute.String("test", name))
	res := &InteractionResult{Index: index, TestName: name, Description: in.Description, Pass: true}
	defer func() { telemetry.End(span, res.Err()) }()
	logger := v.logger.With("test", name)

	scope := v.tables.Scope()
	if err := v.setupStates(ctx, scope, in.States); err != nil {
		res.addError(err)
		return res
	}
	mc := v.matchContext(match.ModeRead, scope)

	h, err := v.dispatcher.Setup(ctx, mc, in.Mock, mock.Config{BaseURL: v.baseURL})
	if err != nil {
		res.addError(err)
		return res
	}
	defer closeHandle(logger, h)

	if !in.Mock.TriggerBased(match.ModeRead) {
		if err := h.Exercise(ctx); err != nil {
			res.addError(err)
			return res
		}
		check(ctx, h, res)
		return res
	}

	if trigger, ok := v.trigger(name, in.Description); ok {
		if err := trigger(ctx, h.Info()); err != nil {
			res.addError(triggerError(err, name))
			return res
		}
		check(ctx, h, res)
		return res
	}

	if v.runTest == nil {
		res.addError(failure.Configuration(nil,
			"interaction %q is trigger-based but no trigger or test runner was configured", name))
		return res
	}
	v.delegate(ctx, name, h, res)
	return res
}

// delegate hands the test to the remote runner. The runner's verdict only
// adds an error when the core's own verification passed, so a failure the
// runner merely echoes is reported once.
func (v *Verifier) delegate(ctx context.Context, name string, h mock.Handle, res *InteractionResult) {
	var (
		mu       sync.Mutex
		verified *InteractionResult
	)
	invoke := func(ctx context.Context) *InteractionResult {
		mu.Lock()
		defer mu.Unlock()
		if verified != nil {
			return verified
		}
		r := &InteractionResult{Index: res.Index, TestName: res.TestName, Description: res.Description, Pass: true}
		check(ctx, h, r)
		verified = r
		return r
	}

	remoteErr := v.runTest(ctx, name, h.Info(), invoke)

	mu.Lock()
	got := verified
	mu.Unlock()
	if got == nil {
		if remoteErr != nil {
			res.addError(triggerError(remoteErr, name))
			return
		}
		res.addError(failure.Configuration(nil, "the test for %q finished without invoking verification", name))
		return
	}
	res.Errors = append(res.Errors, got.Errors...)
	res.Pass = got.Pass
	if remoteErr != nil && got.Pass {
		res.addError(remoteErr)
	}
}

func (v *Verifier) trigger(names ...string) (Trigger, bool) {
	for _, n := range names {
		if t, ok := v.triggers[n]; ok {
			return t, true
		}
	}
	return nil, false
}

// setupStates runs the handler of every state and installs the variables
// they return.
func (v *Verifier) setupStates(ctx context.Context, scope *match.Tables, states []State) error {
	for _, state := range states {
		handler, ok := v.stateHandlers[state.Name]
		if !ok {
			if len(state.Variables) > 0 {
				return failure.Configuration(nil,
					"state %q declares variables but no state handler was registered for it", state.Name)
			}
			v.logger.Warn("no handler for provider state", "state", state.Name)
			continue
		}
		vars, err := handler(ctx)
		if err != nil {
			return failure.Trigger(err, "state handler %q failed", state.Name)
		}
		for name := range state.Variables {
			if _, ok := vars[name]; !ok {
				return failure.Configuration(nil,
					"state handler %q did not return a value for variable %q", state.Name, name)
			}
		}
		for name, value := range vars {
			scope.AddStateVariable(name, value)
		}
	}
	return nil
}

func check(ctx context.Context, h mock.Handle, res *InteractionResult) {
	errs, err := h.Verify(ctx)
	if err != nil {
		res.addError(err)
		return
	}
	res.addMatchErrors(errs)
}
