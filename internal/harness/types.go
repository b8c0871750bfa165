package harness

import (
	"github.com/roach88/casecore/internal/failure"
	"github.com/roach88/casecore/internal/wire"
)

const (
	directionSent     = "sent"
	directionReceived = "received"
)

// TraceEvent is one frame exchanged with the server.
type TraceEvent struct {
	Seq       int       `json:"seq"`
	Direction string    `json:"direction"`
	Kind      wire.Kind `json:"kind"`
	ID        string    `json:"id,omitempty"`
	// Body is the decoded payload of a request, or the value of a result.
	Body        any          `json:"body,omitempty"`
	Status      wire.Status  `json:"status,omitempty"`
	FailureKind failure.Kind `json:"failureKind,omitempty"`
}

// Result is the outcome of a scenario.
type Result struct {
	Name   string       `json:"name"`
	Pass   bool         `json:"pass"`
	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult(name string) *Result {
	return &Result{Name: name, Pass: true, Trace: []TraceEvent{}, Errors: []string{}}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) trace(direction string, msg *wire.Message, body any) {
	ev := TraceEvent{
		Seq:       len(r.Trace) + 1,
		Direction: direction,
		Kind:      msg.Kind,
		ID:        msg.ID,
		Body:      body,
	}
	if msg.Result != nil {
		ev.Status = msg.Result.Status
		if msg.Result.Failure != nil {
			ev.FailureKind = msg.Result.Failure.Kind
		}
	}
	r.Trace = append(r.Trace, ev)
}
