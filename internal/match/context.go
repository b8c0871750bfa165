package match

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/casecore/internal/failure"
)

// Mode is the contract mode of a traversal.
type Mode string

const (
	// ModeWrite records a contract (consumer side).
	ModeWrite Mode = "write"
	// ModeRead verifies a recorded contract (provider side).
	ModeRead Mode = "read"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeWrite || m == ModeRead
}

// MatchBy selects comparison fidelity.
type MatchBy string

const (
	// ByType compares shape only.
	ByType MatchBy = "type"
	// ByExact compares literal values.
	ByExact MatchBy = "exact"
)

// Context is the state carried through one traversal. It is a value:
// At and With* return modified copies.
type Context struct {
	Mode         Mode
	MatchBy      MatchBy
	Serialisable bool

	location []string
	tables   *Tables
	registry *Registry
	logger   *slog.Logger
}

// ContextOption configures a new Context.
type ContextOption func(*Context)

// WithMatchBy overrides the mode's default fidelity.
func WithMatchBy(mb MatchBy) ContextOption {
	return func(c *Context) {
		c.MatchBy = mb
	}
}

// WithTables attaches lookup and variable tables.
func WithTables(t *Tables) ContextOption {
	return func(c *Context) {
		c.tables = t
	}
}

// WithLogger sets the logger carried by the context.
func WithLogger(l *slog.Logger) ContextOption {
	return func(c *Context) {
		c.logger = l
	}
}

// WithLocation sets the root location.
func WithLocation(segments ...string) ContextOption {
	return func(c *Context) {
		c.location = append([]string(nil), segments...)
	}
}

// NewContext creates a root context. Write mode defaults to ByType, read
// mode to ByExact.
func NewContext(reg *Registry, mode Mode, opts ...ContextOption) Context {
	c := Context{
		Mode:         mode,
		MatchBy:      ByType,
		Serialisable: true,
		registry:     reg,
	}
	if mode == ModeRead {
		c.MatchBy = ByExact
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.tables == nil {
		c.tables = NewTables()
	}
	return c
}

// At returns a child context one segment deeper. An empty segment keeps
// the location unchanged.
func (c Context) At(segment string) Context {
	if segment == "" {
		return c
	}
	loc := make([]string, len(c.location), len(c.location)+1)
	copy(loc, c.location)
	c.location = append(loc, segment)
	return c
}

// WithMatchBy returns a copy of c using mb.
func (c Context) WithMatchBy(mb MatchBy) Context {
	c.MatchBy = mb
	return c
}

// Location returns a copy of the location path.
func (c Context) Location() []string {
	return append([]string(nil), c.location...)
}

// Path renders the location path.
func (c Context) Path() string {
	return FormatPath(c.location)
}

// Tables returns the lookup and variable tables.
func (c Context) Tables() *Tables {
	return c.tables
}

// Registry returns the executor registry.
func (c Context) Registry() *Registry {
	return c.registry
}

// Logger returns the context logger, falling back to slog's default.
func (c Context) Logger() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

func (c Context) coreError(format string, args ...any) error {
	return failure.Core(c.location, format, args...)
}

func (c Context) configError(format string, args ...any) error {
	return failure.Configuration(c.location, format, args...)
}

// FormatPath renders location segments. Index segments ("[0]") and
// qualifier segments (":jsonStringify") attach to the previous segment.
func FormatPath(location []string) string {
	var b strings.Builder
	for i, seg := range location {
		if i > 0 && !strings.HasPrefix(seg, "[") && !strings.HasPrefix(seg, ":") {
			b.WriteByte('.')
		}
		b.WriteString(seg)
	}
	return b.String()
}

// MatchError is a single mismatch found by Check.
type MatchError struct {
	Message  string
	Expected string
	Actual   any
	Location []string
}

// Error implements the error interface.
func (e *MatchError) Error() string {
	path := e.Path()
	if path == "" {
		path = "(root)"
	}
	return fmt.Sprintf("%s: %s", path, e.Message)
}

// Path renders the location of the mismatch.
func (e *MatchError) Path() string {
	return FormatPath(e.Location)
}

// Kind returns the failure kind reported for mismatches.
func (e *MatchError) Kind() failure.Kind {
	return failure.KindFailedAssertion
}

// Mismatch builds a MatchError at mc's location. Expected is the
// description of node under mc.
func Mismatch(mc Context, node any, message string, actual any) *MatchError {
	expected, err := Describe(mc, node)
	if err != nil {
		expected = "<undescribable>"
	}
	return &MatchError{
		Message:  message,
		Expected: expected,
		Actual:   actual,
		Location: mc.Location(),
	}
}
