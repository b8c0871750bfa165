package wire

import (
	"errors"
	"fmt"

	"github.com/roach88/casecore/internal/failure"
)

// Origin tags failures raised by the protocol layer.
const Origin = "casecore protocol"

// Status is the outcome of a request.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Result is the body of a RESULT frame and of a RESULT_RESPONSE payload.
type Result struct {
	Status  Status   `json:"status" jsonschema:"enum=success,enum=failure"`
	Value   any      `json:"value,omitempty"`
	Failure *Failure `json:"failure,omitempty"`
}

// Failure carries a classified error across the stream.
type Failure struct {
	Kind     failure.Kind `json:"kind"`
	Message  string       `json:"message"`
	Location []string     `json:"location,omitempty"`
	Origin   string       `json:"origin,omitempty"`
}

// Success wraps value in a successful result.
func Success(value any) *Result {
	return &Result{Status: StatusSuccess, Value: value}
}

// Failed builds a failed result.
func Failed(kind failure.Kind, message, origin string) *Result {
	return &Result{Status: StatusFailure, Failure: &Failure{Kind: kind, Message: message, Origin: origin}}
}

// FromError converts err into a failed result, keeping its classification.
// The message is prefixed with the error's type name the way remote
// callers expect: "[Error] message".
func FromError(err error) *Result {
	kind := failure.KindOf(err)
	name, message := "Error", err.Error()
	var location []string
	var fe *failure.Error
	if errors.As(err, &fe) {
		name = errorName(fe.Kind)
		location = fe.Location
		message = fe.Message
		if fe.Err != nil {
			message = fmt.Sprintf("%s: %v", fe.Message, fe.Err)
		}
	}
	return &Result{
		Status: StatusFailure,
		Failure: &Failure{
			Kind:     kind,
			Message:  fmt.Sprintf("[%s] %s", name, message),
			Location: location,
			Origin:   Origin,
		},
	}
}

func errorName(k failure.Kind) string {
	switch k {
	case failure.KindConfiguration:
		return "CaseConfigurationError"
	case failure.KindTrigger:
		return "CaseTriggerError"
	case failure.KindFailedAssertion:
		return "CaseFailedAssertionError"
	case failure.KindCore:
		return "CaseCoreError"
	}
	return "Error"
}

// OK reports whether r is a success.
func (r *Result) OK() bool {
	return r != nil && r.Status == StatusSuccess
}

// Err converts a failed result back into a classified error, or nil for
// a success.
func (r *Result) Err() error {
	if r.OK() {
		return nil
	}
	if r == nil || r.Failure == nil {
		return failure.Core(nil, "result has status %q but no failure", statusOf(r))
	}
	kind := r.Failure.Kind
	if !kind.Valid() {
		kind = failure.KindCore
	}
	return failure.New(kind, r.Failure.Location, "%s", r.Failure.Message)
}

func statusOf(r *Result) Status {
	if r == nil {
		return ""
	}
	return r.Status
}
