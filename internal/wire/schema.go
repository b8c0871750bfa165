package wire

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Schema returns the JSON Schema of the message envelope and its payloads.
func Schema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		ExpandedStruct: true,
	}
	s := r.Reflect(&Message{})
	s.Title = "casecore verification message"

	payloads := []struct {
		name string
		v    any
	}{
		{"BeginVerification", &BeginVerification{}},
		{"RunVerification", &RunVerification{}},
		{"InvokeTest", &InvokeTest{}},
		{"ResultResponse", &ResultResponse{}},
		{"LoadPlugin", &LoadPlugin{}},
		{"StartTestEvent", &StartTestEvent{}},
	}
	if s.Definitions == nil {
		s.Definitions = jsonschema.Definitions{}
	}
	inline := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	for _, p := range payloads {
		s.Definitions[p.name] = inline.Reflect(p.v)
	}
	return s
}

// SchemaJSON renders Schema as indented JSON.
func SchemaJSON() ([]byte, error) {
	b, err := json.MarshalIndent(Schema(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	return b, nil
}
