// Package correlate implements a single-shot future registry keyed by
// opaque identifiers.
//
// A correlation id links an asynchronous request to its eventual response,
// which may arrive much later and interleaved with other traffic. Each id is
// resolved at most once; resolving it a second time, or resolving an id the
// table never issued, is an error.
package correlate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrUnknownID indicates an id the table never issued.
	ErrUnknownID = errors.New("unknown correlation id")
	// ErrAlreadyResolved indicates a second resolution of the same id.
	ErrAlreadyResolved = errors.New("correlation id already resolved")
	// ErrClosed indicates the table was closed before resolution.
	ErrClosed = errors.New("correlation table closed")
	// ErrTimeout indicates an await exceeded the configured timeout.
	ErrTimeout = errors.New("timed out awaiting resolution")
)

// Hook post-processes a resolved value. It runs exactly once, inside
// Resolve, and its result is what Await returns.
type Hook func(value any) (any, error)

type entry struct {
	done     chan struct{}
	resolved bool
	hook     Hook

	// value and err are written once before done is closed.
	value any
	err   error
}

// Table is a per-session correlation table.
//
// Thread-safety: all methods are safe for concurrent use. Resolution is a
// test-and-set under the table lock; hooks run outside the lock.
type Table struct {
	mu       sync.Mutex
	entries  map[string]*entry
	closed   bool
	closeErr error

	ids     IDGenerator
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Table.
type Option func(*Table)

// WithIDGenerator sets the id generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(t *Table) {
		t.ids = g
	}
}

// WithAwaitTimeout bounds Await. Zero (the default) waits indefinitely.
func WithAwaitTimeout(d time.Duration) Option {
	return func(t *Table) {
		t.timeout = d
	}
}

// WithLogger sets the table logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Table) {
		t.logger = l
	}
}

// New creates an empty table.
func New(opts ...Option) *Table {
	t := &Table{
		entries: make(map[string]*entry),
		ids:     UUIDv7Generator{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewID allocates an id with an optional hook. On a closed table the entry
// is born failed with the close error.
func (t *Table) NewID(hook Hook) string {
	id := t.ids.Generate()
	e := &entry{done: make(chan struct{}), hook: hook}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		e.resolved = true
		e.err = t.closeErr
		close(e.done)
	}
	t.entries[id] = e
	return id
}

// Resolve completes id with value. The hook, if any, runs before waiters
// are released; a hook error is both returned and delivered to waiters.
func (t *Table) Resolve(id string, value any) error {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("resolve %q: %w", id, ErrUnknownID)
	}
	if e.resolved {
		t.mu.Unlock()
		return fmt.Errorf("resolve %q: %w", id, ErrAlreadyResolved)
	}
	e.resolved = true
	t.mu.Unlock()

	result, err := value, error(nil)
	if e.hook != nil {
		result, err = e.hook(value)
	}
	e.value, e.err = result, err
	close(e.done)

	t.logger.Debug("correlation resolved", "id", id, "hook", e.hook != nil, "error", err)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", id, err)
	}
	return nil
}

// Await blocks until id is resolved, the table is closed, ctx is done, or
// the configured timeout elapses.
func (t *Table) Await(ctx context.Context, id string) (any, error) {
	t.mu.Lock()
	e, ok := t.entries[id]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("await %q: %w", id, ErrUnknownID)
	}

	var timeout <-chan time.Time
	if t.timeout > 0 {
		timer := time.NewTimer(t.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-e.done:
		return e.value, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, fmt.Errorf("await %q after %s: %w", id, t.timeout, ErrTimeout)
	}
}

// Pending returns the number of unresolved ids.
func (t *Table) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.entries {
		if !e.resolved {
			n++
		}
	}
	return n
}

// Close fails every pending id with err (ErrClosed when nil). Later calls
// are no-ops.
func (t *Table) Close(err error) {
	if err == nil {
		err = ErrClosed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.closeErr = err

	released := 0
	for _, e := range t.entries {
		if e.resolved {
			continue
		}
		e.resolved = true
		e.err = err
		close(e.done)
		released++
	}
	if released > 0 {
		t.logger.Debug("correlation table closed", "released", released)
	}
}
