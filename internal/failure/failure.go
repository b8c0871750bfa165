// Package failure defines the error taxonomy shared by the matching engine,
// the contract recorder/verifier and the verification protocol.
//
// Every error that crosses a package boundary and is meant to reach a
// remote caller is a *Error carrying one of the Kind codes below. The codes
// are part of the wire format: connectors map them back to their own
// exception types.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes a failure.
type Kind string

const (
	// KindCore indicates an internal invariant violation: unknown matcher or
	// mock type, unreachable protocol branch, missing required field.
	KindCore Kind = "CASE_CORE_ERROR"

	// KindConfiguration indicates caller misuse, such as a mock that was
	// never invoked or malformed configuration.
	KindConfiguration Kind = "CASE_CONFIGURATION_ERROR"

	// KindTrigger indicates a failure while invoking a delegated test body
	// or a provider-state handler.
	KindTrigger Kind = "CASE_TRIGGER_ERROR"

	// KindBroker indicates a failure talking to a contract broker.
	KindBroker Kind = "CASE_BROKER_ERROR"

	// KindFailedAssertion indicates a data mismatch found during check.
	KindFailedAssertion Kind = "CASE_FAILED_ASSERTION_ERROR"

	// KindVerifyReturn indicates the caller's verification function
	// rejected the value returned by its trigger.
	KindVerifyReturn Kind = "CASE_VERIFY_RETURN_ERROR"
)

// Kinds lists every known failure kind in a stable order.
var Kinds = []Kind{
	KindCore,
	KindConfiguration,
	KindTrigger,
	KindBroker,
	KindFailedAssertion,
	KindVerifyReturn,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Error is a classified failure.
type Error struct {
	// Kind identifies the failure category.
	Kind Kind

	// Message is a human-readable description.
	Message string

	// Location is the matcher-tree path at which the failure was raised,
	// if any.
	Location []string

	// Err is the underlying cause (optional).
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if len(e.Location) > 0 {
		return fmt.Sprintf("%s: %s (at %s)", e.Kind, msg, strings.Join(e.Location, "."))
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error of the given kind.
func New(kind Kind, location []string, format string, args ...any) *Error {
	return &Error{
		Kind:     kind,
		Message:  fmt.Sprintf(format, args...),
		Location: append([]string(nil), location...),
	}
}

// Core creates a KindCore error.
func Core(location []string, format string, args ...any) *Error {
	return New(KindCore, location, format, args...)
}

// Configuration creates a KindConfiguration error.
func Configuration(location []string, format string, args ...any) *Error {
	return New(KindConfiguration, location, format, args...)
}

// Trigger wraps err as a KindTrigger error.
func Trigger(err error, format string, args ...any) *Error {
	return &Error{Kind: KindTrigger, Message: fmt.Sprintf(format, args...), Err: err}
}

// Wrap attaches a kind to an arbitrary error. Errors that already carry a
// kind keep it.
func Wrap(kind Kind, err error) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return &Error{Kind: kind, Message: err.Error()}
}

// KindOf returns the kind of err. Unclassified errors are core errors:
// anything that escaped without a classification is a bug in the core.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindCore
}

// IsCore reports whether err is a KindCore error.
func IsCore(err error) bool {
	return isKind(err, KindCore)
}

// IsConfiguration reports whether err is a KindConfiguration error.
func IsConfiguration(err error) bool {
	return isKind(err, KindConfiguration)
}

// IsTrigger reports whether err is a KindTrigger error.
func IsTrigger(err error) bool {
	return isKind(err, KindTrigger)
}

func isKind(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}
