package contract

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/casecore/internal/failure"
	"github.com/roach88/casecore/internal/match"
)

// ErrorDetail is one failure attached to an interaction result.
type ErrorDetail struct {
	Kind     failure.Kind `json:"kind"`
	Message  string       `json:"message"`
	Location string       `json:"location,omitempty"`
	Expected string       `json:"expected,omitempty"`
	Actual   any          `json:"actual,omitempty"`
}

// MatchDetail converts a mismatch.
func MatchDetail(e *match.MatchError) ErrorDetail {
	return ErrorDetail{
		Kind:     e.Kind(),
		Message:  e.Message,
		Location: e.Path(),
		Expected: e.Expected,
		Actual:   e.Actual,
	}
}

// ErrDetail converts a classified error.
func ErrDetail(err error) ErrorDetail {
	d := ErrorDetail{Kind: failure.KindOf(err), Message: err.Error()}
	var fe *failure.Error
	if errors.As(err, &fe) {
		d.Message = fe.Message
		if fe.Err != nil {
			d.Message = fmt.Sprintf("%s: %v", fe.Message, fe.Err)
		}
		d.Location = match.FormatPath(fe.Location)
	}
	return d
}

// InteractionResult is the outcome of recording or verifying one
// interaction.
type InteractionResult struct {
	Index       int           `json:"index"`
	TestName    string        `json:"testName"`
	Description string        `json:"description"`
	Pass        bool          `json:"pass"`
	Errors      []ErrorDetail `json:"errors,omitempty"`
}

func (r *InteractionResult) addMatchErrors(errs []*match.MatchError) {
	for _, e := range errs {
		r.Errors = append(r.Errors, MatchDetail(e))
	}
	r.Pass = len(r.Errors) == 0
}

func (r *InteractionResult) addError(err error) {
	r.Errors = append(r.Errors, ErrDetail(err))
	r.Pass = false
}

// Err summarises a failed result as a classified error, or nil on pass.
// The kind is that of the first error.
func (r *InteractionResult) Err() error {
	if r.Pass {
		return nil
	}
	if len(r.Errors) == 0 {
		return failure.Core(nil, "interaction %q failed without reporting an error", r.TestName)
	}
	first := r.Errors[0]
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.String()
	}
	return failure.New(first.Kind, splitPath(first.Location), "%s failed: %s", r.TestName, strings.Join(msgs, "; "))
}

// String renders the detail as "path: message".
func (d ErrorDetail) String() string {
	if d.Location == "" {
		return d.Message
	}
	return d.Location + ": " + d.Message
}

func splitPath(p string) []string {
	if p == "" {
		return nil
	}
	return []string{p}
}

// Report collects the results of one verification run.
type Report struct {
	Consumer string               `json:"consumer"`
	Provider string               `json:"provider"`
	Pass     bool                 `json:"pass"`
	Results  []*InteractionResult `json:"results"`
}

// Failures counts failed interactions.
func (r *Report) Failures() int {
	n := 0
	for _, res := range r.Results {
		if !res.Pass {
			n++
		}
	}
	return n
}

// Errors returns every error detail in result order.
func (r *Report) Errors() []ErrorDetail {
	var out []ErrorDetail
	for _, res := range r.Results {
		out = append(out, res.Errors...)
	}
	return out
}

// Print writes a human-readable summary of r.
func (r *Report) Print(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Verifying %s -> %s\n", r.Consumer, r.Provider)
	for _, res := range r.Results {
		if res.Pass {
			printSuccessTitle(&b, res)
			continue
		}
		printFailureTitle(&b, res)
		for _, e := range res.Errors {
			printError(&b, e)
		}
	}
	fmt.Fprintf(&b, "%d passed, %d failed\n", len(r.Results)-r.Failures(), r.Failures())
	_, err := io.WriteString(w, b.String())
	return err
}

func printSuccessTitle(b *strings.Builder, res *InteractionResult) {
	fmt.Fprintf(b, "  ✓ %s\n", res.TestName)
}

func printFailureTitle(b *strings.Builder, res *InteractionResult) {
	fmt.Fprintf(b, "  ✗ %s\n", res.TestName)
}

func printError(b *strings.Builder, e ErrorDetail) {
	location := e.Location
	if location == "" {
		location = "(root)"
	}
	fmt.Fprintf(b, "      [%s] %s: %s\n", e.Kind, location, e.Message)
	if e.Expected != "" {
		fmt.Fprintf(b, "        expected %s\n", e.Expected)
		fmt.Fprintf(b, "        actual   %s\n", renderActual(e.Actual))
	}
}

func renderActual(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", val)
	}
	return fmt.Sprintf("%v", v)
}
