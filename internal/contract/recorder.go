package contract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/casecore/internal/failure"
	"github.com/roach88/casecore/internal/match"
	"github.com/roach88/casecore/internal/mock"
	"github.com/roach88/casecore/internal/telemetry"
)

// Recorder builds a contract on the consumer side.
//
// Thread-safety: Record may be called from multiple goroutines; interactions
// are appended in the order their recordings finish.
type Recorder struct {
	*settings

	mu       sync.Mutex
	contract *Contract
	tables   *match.Tables
	ended    bool
}

// NewRecorder starts a contract between consumer and provider.
func NewRecorder(consumer, provider string, opts ...Option) (*Recorder, error) {
	if consumer == "" || provider == "" {
		return nil, failure.Configuration(nil, "a recorder needs both a consumer and a provider name")
	}
	s, err := newSettings(opts)
	if err != nil {
		return nil, err
	}
	return &Recorder{
		settings: s,
		contract: New(consumer, provider, s.callerVersions...),
		tables:   match.NewTables(),
	}, nil
}

// Contract returns the contract recorded so far.
func (r *Recorder) Contract() *Contract {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contract
}

// Record runs one interaction: the matchers are self-verified, the mock is
// started, trigger (or the mock itself) exercises it, and the observed
// traffic is checked. A passing interaction is appended to the contract.
// The returned error summarises a failed result.
func (r *Recorder) Record(ctx context.Context, def Definition, trigger Trigger) (res *InteractionResult, err error) {
	ctx, span := telemetry.Start(ctx, "contract.record",
		attribute.String("consumer", r.contract.Consumer),
		attribute.String("provider", r.contract.Provider))
	defer func() { telemetry.End(span, err) }()

	r.mu.Lock()
	if r.ended {
		r.mu.Unlock()
		return nil, failure.Configuration(nil, "the recorder has already ended")
	}
	index := len(r.contract.Interactions)
	r.mu.Unlock()

	scope := r.tables.Scope()
	for _, state := range def.States {
		for name, node := range state.Variables {
			scope.AddDefaultVariable(name, node)
		}
	}
	mc := r.matchContext(match.ModeWrite, scope)

	description := def.Description
	if description == "" {
		description, err = describeInteraction(mc, def.Mock, def.States)
		if err != nil {
			return nil, err
		}
	}
	res = &InteractionResult{
		Index:       index,
		TestName:    fmt.Sprintf("%d: %s", index, description),
		Description: description,
		Pass:        true,
	}
	logger := r.logger.With("test", res.TestName)

	examples, err := selfVerify(ctx, mc, def.Mock)
	if err != nil {
		res.addError(err)
		return res, res.Err()
	}

	h, err := r.dispatcher.Setup(ctx, mc, def.Mock, mock.Config{BaseURL: r.baseURL})
	if err != nil {
		res.addError(err)
		return res, res.Err()
	}
	defer closeHandle(logger, h)

	if def.Mock.TriggerBased(match.ModeWrite) {
		if trigger == nil {
			res.addError(failure.Configuration(nil, "interaction %q needs a trigger to exercise its mock", res.TestName))
			return res, res.Err()
		}
		if err := trigger(ctx, h.Info()); err != nil {
			res.addError(triggerError(err, res.TestName))
			return res, res.Err()
		}
	} else if err := h.Exercise(ctx); err != nil {
		res.addError(err)
		return res, res.Err()
	}

	errs, err := h.Verify(ctx)
	if err != nil {
		res.addError(err)
		return res, res.Err()
	}
	res.addMatchErrors(errs)
	if !res.Pass {
		logger.Info("interaction did not match", "errors", len(res.Errors))
		return res, res.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return nil, failure.Configuration(nil, "the recorder ended while %q was recording", res.TestName)
	}
	// Interactions recorded concurrently land in completion order.
	res.Index = len(r.contract.Interactions)
	res.TestName = fmt.Sprintf("%d: %s", res.Index, description)
	r.contract.Interactions = append(r.contract.Interactions, &Interaction{
		Description: description,
		States:      def.States,
		Mock:        def.Mock,
		Examples:    examples,
	})
	logger.Debug("interaction recorded", "states", stateNames(def.States))
	return res, nil
}

// End seals the contract and hands it to w. w may be nil.
func (r *Recorder) End(ctx context.Context, w Writer) (*Contract, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return nil, failure.Configuration(nil, "the recorder has already ended")
	}
	r.ended = true

	if lookups := r.tables.Lookups(); len(lookups) > 0 {
		r.contract.Matchers = lookups
	}
	if err := r.contract.Seal(); err != nil {
		return nil, err
	}
	if w != nil {
		if err := w.Save(ctx, r.contract); err != nil {
			return nil, fmt.Errorf("save contract %s: %w", r.contract.Filename(), err)
		}
	}
	r.logger.Info("contract written",
		"consumer", r.contract.Consumer,
		"provider", r.contract.Provider,
		"interactions", len(r.contract.Interactions),
		"hash", r.contract.Metadata.Hash)
	return r.contract, nil
}

// selfVerify checks that both matcher trees accept their own examples and
// returns those examples.
func selfVerify(ctx context.Context, mc match.Context, d mock.Descriptor) (*Examples, error) {
	ex := &Examples{}
	for _, side := range []struct {
		name string
		node any
		out  *any
	}{
		{"request", d.Request, &ex.Request},
		{"response", d.Response, &ex.Response},
	} {
		if side.node == nil {
			continue
		}
		errs, err := mc.SelfVerify(ctx, side.node)
		if err != nil {
			return nil, err
		}
		if len(errs) > 0 {
			return nil, failure.Configuration(errs[0].Location,
				"the %s matcher does not accept its own example: %s", side.name, errs[0].Message)
		}
		stripped, err := match.Strip(mc, side.node)
		if err != nil {
			return nil, err
		}
		*side.out = stripped
	}
	return ex, nil
}

func triggerError(err error, testName string) error {
	var fe *failure.Error
	if errors.As(err, &fe) {
		return err
	}
	return failure.Trigger(err, "trigger for %q failed", testName)
}

func closeHandle(logger *slog.Logger, h mock.Handle) {
	if err := h.Close(); err != nil {
		logger.Warn("closing mock failed", "error", err)
	}
}
