// Package wire defines the message envelope exchanged over a verification
// stream.
//
// Every message is one JSON object:
//
//	{"id": "...", "kind": "RUN_VERIFICATION", "payload": {...}}
//	{"id": "...", "kind": "RESULT", "result": {"status": "success", "value": ...}}
//
// Requests carry a payload; responses echo the request id and carry a
// result. Server events (START_TEST_EVENT) carry a fresh correlation id and
// a payload.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind identifies a message type.
type Kind string

// Request kinds sent by the remote caller.
const (
	KindBeginVerification            Kind = "BEGIN_VERIFICATION"
	KindAvailableContractDefinitions Kind = "AVAILABLE_CONTRACT_DEFINITIONS"
	KindRunVerification              Kind = "RUN_VERIFICATION"
	KindInvokeTest                   Kind = "INVOKE_TEST"
	KindResultResponse               Kind = "RESULT_RESPONSE"
	KindLoadPlugin                   Kind = "LOAD_PLUGIN"
)

// Kinds sent by the server.
const (
	KindResult         Kind = "RESULT"
	KindStartTestEvent Kind = "START_TEST_EVENT"
)

// RequestKinds lists every kind a remote caller may send.
var RequestKinds = []Kind{
	KindBeginVerification,
	KindAvailableContractDefinitions,
	KindRunVerification,
	KindInvokeTest,
	KindResultResponse,
	KindLoadPlugin,
}

// IsRequest reports whether k is a request kind.
func (k Kind) IsRequest() bool {
	for _, r := range RequestKinds {
		if k == r {
			return true
		}
	}
	return false
}

var (
	// ErrMissingID indicates a message without an identifier.
	ErrMissingID = errors.New("message has no id")
	// ErrUnknownKind indicates a kind outside the protocol.
	ErrUnknownKind = errors.New("unknown message kind")
)

// Message is the envelope for every frame on the stream.
type Message struct {
	ID      string          `json:"id,omitempty" jsonschema:"description=Correlation id echoed by responses"`
	Kind    Kind            `json:"kind" jsonschema:"enum=BEGIN_VERIFICATION,enum=AVAILABLE_CONTRACT_DEFINITIONS,enum=RUN_VERIFICATION,enum=INVOKE_TEST,enum=RESULT_RESPONSE,enum=LOAD_PLUGIN,enum=RESULT,enum=START_TEST_EVENT"`
	Payload json.RawMessage `json:"payload,omitempty" jsonschema:"type=object"`
	Result  *Result         `json:"result,omitempty"`
}

// Validate checks the envelope of an inbound request. The id is checked
// first so that every other problem can be reported against it.
func (m *Message) Validate() error {
	if m.ID == "" {
		return ErrMissingID
	}
	if !m.Kind.IsRequest() {
		return fmt.Errorf("%w %q", ErrUnknownKind, m.Kind)
	}
	return nil
}

// Decode parses one frame.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &m, nil
}

// Encode renders m as a single line of JSON without a trailing newline.
func Encode(m *Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", m.Kind, err)
	}
	return b, nil
}

// NewRequest builds a request frame with a JSON payload.
func NewRequest(id string, kind Kind, payload any) (*Message, error) {
	m := &Message{ID: id, Kind: kind}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", kind, err)
		}
		m.Payload = raw
	}
	return m, nil
}

// NewResult builds a response frame correlated to id.
func NewResult(id string, r *Result) *Message {
	return &Message{ID: id, Kind: KindResult, Result: r}
}

// DecodePayload unmarshals the payload of m into v. An absent payload
// leaves v at its zero value.
func (m *Message) DecodePayload(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Kind, err)
	}
	return nil
}
