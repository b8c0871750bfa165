package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/roach88/casecore/internal/store"
	"github.com/roach88/casecore/internal/wire"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %s", ev.Seq, ev.Direction, ev.Kind, ev.ID)
			if ev.Status != "" {
				fmt.Fprintf(&buf, " %s", ev.Status)
			}
			if ev.FailureKind != "" {
				fmt.Fprintf(&buf, " %s", ev.FailureKind)
			}
			buf.WriteString("\n")
		}
	}
	return buf.String()
}

// RunLister reads recorded verification runs.
type RunLister interface {
	Runs(ctx context.Context, consumer, provider string) ([]store.Run, error)
}

// EvaluateAssertions evaluates every assertion and returns a message per
// failure. runs may be nil when no recorded_runs assertion is used.
func EvaluateAssertions(ctx context.Context, result *Result, assertions []Assertion, runs RunLister) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertRecordedRuns:
			if runs == nil {
				err = fmt.Errorf("recorded_runs requires a run database")
			} else {
				err = assertRecordedRuns(ctx, runs, a)
			}
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func selects(ev TraceEvent, a Assertion, kind wire.Kind) bool {
	return ev.Kind == kind && (a.Direction == "" || a.Direction == ev.Direction)
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	want := normalize(a.Body)
	for _, ev := range trace {
		if selects(ev, a, a.Kind) && isSubset(want, ev.Body) {
			return nil
		}
	}
	expected := string(a.Kind)
	if a.Body != nil {
		expected = fmt.Sprintf("%s with %s", a.Kind, render(want))
	}
	return &AssertionError{Type: AssertTraceContains, Expected: expected, Actual: "no matching frame", Trace: trace}
}

// assertTraceOrder checks that Kinds appear as a subsequence of the trace.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, ev := range trace {
		if next < len(a.Kinds) && selects(ev, a, a.Kinds[next]) {
			next++
		}
	}
	if next == len(a.Kinds) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: fmt.Sprintf("%v in order", a.Kinds),
		Actual:   fmt.Sprintf("stopped before %s", a.Kinds[next]),
		Trace:    trace,
	}
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if selects(ev, a, a.Kind) {
			n++
		}
	}
	if n == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceCount,
		Expected: fmt.Sprintf("%s %d time(s)", a.Kind, a.Count),
		Actual:   fmt.Sprintf("%d time(s)", n),
		Trace:    trace,
	}
}

func assertRecordedRuns(ctx context.Context, runs RunLister, a Assertion) error {
	got, err := runs.Runs(ctx, a.Consumer, a.Provider)
	if err != nil {
		return err
	}
	if len(got) != a.Count {
		return &AssertionError{
			Type:     AssertRecordedRuns,
			Expected: fmt.Sprintf("%d run(s) for %s -> %s", a.Count, a.Consumer, a.Provider),
			Actual:   fmt.Sprintf("%d run(s)", len(got)),
		}
	}
	want := normalize(a.Expect)
	for _, r := range got {
		if actual := normalize(r); !isSubset(want, actual) {
			return &AssertionError{
				Type:     AssertRecordedRuns,
				Expected: render(want),
				Actual:   render(actual),
			}
		}
	}
	return nil
}

// checkExpect lists the ways r differs from expect.
func checkExpect(r *wire.Result, expect *Expect) []string {
	var problems []string
	if r.Status != expect.Status {
		msg := fmt.Sprintf("status is %s, want %s", r.Status, expect.Status)
		if r.Failure != nil {
			msg += fmt.Sprintf(" (%s: %s)", r.Failure.Kind, r.Failure.Message)
		}
		return append(problems, msg)
	}
	if expect.Kind != "" || expect.Location != nil || expect.Message != "" {
		if r.Failure == nil {
			return append(problems, "result carries no failure")
		}
		if expect.Kind != "" && r.Failure.Kind != expect.Kind {
			problems = append(problems, fmt.Sprintf("failure kind is %s, want %s", r.Failure.Kind, expect.Kind))
		}
		if expect.Location != nil && !slices.Equal(r.Failure.Location, expect.Location) {
			problems = append(problems, fmt.Sprintf("failure location is %v, want %v", r.Failure.Location, expect.Location))
		}
		if expect.Message != "" && !strings.Contains(r.Failure.Message, expect.Message) {
			problems = append(problems, fmt.Sprintf("failure message %q does not contain %q", r.Failure.Message, expect.Message))
		}
	}
	if expect.Value != nil {
		want, actual := normalize(expect.Value), normalize(r.Value)
		if !isSubset(want, actual) {
			problems = append(problems, fmt.Sprintf("value %s does not contain %s", render(actual), render(want)))
		}
	}
	return problems
}

// normalize round-trips v through JSON so that values decoded from YAML
// and values received off the wire compare alike.
func normalize(v any) any {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

// isSubset reports whether actual contains want. Objects match when every
// expected key matches; arrays match element by element, and may be
// longer than expected.
func isSubset(want, actual any) bool {
	switch w := want.(type) {
	case nil:
		return true
	case map[string]any:
		a, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, wv := range w {
			av, exists := a[k]
			if !exists || !isSubset(wv, av) {
				return false
			}
		}
		return true
	case []any:
		a, ok := actual.([]any)
		if !ok || len(a) < len(w) {
			return false
		}
		for i := range w {
			if !isSubset(w[i], a[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(want, actual)
}

func render(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
