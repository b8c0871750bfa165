package match

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/casecore/internal/failure"
)

// Executor implements the three operations for one matcher kind.
//
// Check returns mismatches as data. The error return is reserved for
// core and configuration errors, which abort the enclosing check.
type Executor interface {
	Check(ctx context.Context, mc Context, m Matcher, actual any) ([]*MatchError, error)
	Strip(mc Context, m Matcher) (any, error)
	Describe(mc Context, m Matcher) (string, error)
}

// Funcs adapts plain functions to Executor.
type Funcs struct {
	CheckFn    func(ctx context.Context, mc Context, m Matcher, actual any) ([]*MatchError, error)
	StripFn    func(mc Context, m Matcher) (any, error)
	DescribeFn func(mc Context, m Matcher) (string, error)
}

func (f Funcs) Check(ctx context.Context, mc Context, m Matcher, actual any) ([]*MatchError, error) {
	return f.CheckFn(ctx, mc, m, actual)
}

func (f Funcs) Strip(mc Context, m Matcher) (any, error) {
	return f.StripFn(mc, m)
}

func (f Funcs) Describe(mc Context, m Matcher) (string, error) {
	return f.DescribeFn(mc, m)
}

// Registry maps matcher kinds to executors.
//
// Registration happens at plugin-load time; matching only reads. The lock
// gives load-time exclusivity against in-flight lookups.
type Registry struct {
	mu        sync.RWMutex
	executors map[Kind]Executor
	logger    *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger used for registration events.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

// NewRegistry returns a registry holding the built-in executors.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		executors: make(map[Kind]Executor),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	registerPrimitives(r)
	registerStrings(r)
	registerStructure(r)
	registerLookups(r)
	return r
}

// Register installs ex for kind. A kind that is already registered is
// overridden.
func (r *Registry) Register(kind Kind, ex Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[kind]; exists {
		r.logger.Debug("overriding matcher executor", "kind", kind)
	}
	r.executors[kind] = ex
}

// Lookup returns the executor for kind.
func (r *Registry) Lookup(kind Kind) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.executors[kind]
	if !ok {
		return nil, failure.Core(nil, "no matcher executor registered for kind %q", kind)
	}
	return ex, nil
}

// Has reports whether kind is registered.
func (r *Registry) Has(kind Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[kind]
	return ok
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.executors))
	for k := range r.executors {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Clone returns an independent copy. Sessions clone the base registry so
// that plugin loading stays session-local.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := &Registry{
		executors: make(map[Kind]Executor, len(r.executors)),
		logger:    r.logger,
	}
	for k, ex := range r.executors {
		c.executors[k] = ex
	}
	return c
}
