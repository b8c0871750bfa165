package match

import (
	"encoding/json"
	"fmt"
	"math"
)

// KeyKind is the key under which a matcher node carries its kind.
const KeyKind = "_match"

// Kind identifies a matcher executor.
type Kind string

// Built-in matcher kinds.
const (
	KindString          Kind = "string"
	KindNumber          Kind = "number"
	KindBoolean         Kind = "boolean"
	KindNull            Kind = "null"
	KindStringContains  Kind = "string-contains"
	KindStringPrefix    Kind = "string-prefix"
	KindStringSuffix    Kind = "string-suffix"
	KindBase64          Kind = "base64"
	KindJSONStringified Kind = "json-stringified"
	KindLookup          Kind = "lookup"
	KindStateVariable   Kind = "state-variable"
	KindCascadingExact  Kind = "cascading-exact"
	KindCascadingType   Kind = "cascading-type"
	KindAnd             Kind = "and"
	KindArrayEach       Kind = "array-each"
)

// Matcher is a matcher node: a JSON object tagged with a kind.
type Matcher map[string]any

// AsMatcher reports whether v is a matcher node. Both Matcher values and
// decoded JSON objects carrying a string KeyKind qualify.
func AsMatcher(v any) (Matcher, bool) {
	var m map[string]any
	switch val := v.(type) {
	case Matcher:
		m = val
	case map[string]any:
		m = val
	default:
		return nil, false
	}
	if _, ok := m[KeyKind].(string); !ok {
		return nil, false
	}
	return Matcher(m), true
}

// Kind returns the node's kind.
func (m Matcher) Kind() Kind {
	k, _ := m[KeyKind].(string)
	return Kind(k)
}

// Field returns a field of the node.
func (m Matcher) Field(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

// StringField returns a string field, or a core error naming the field.
func (m Matcher) StringField(mc Context, name string) (string, error) {
	v, ok := m[name]
	if !ok {
		return "", mc.coreError("%s matcher is missing field %q", m.Kind(), name)
	}
	s, ok := v.(string)
	if !ok {
		return "", mc.coreError("%s matcher field %q must be a string, got %s", m.Kind(), name, typeName(v))
	}
	return s, nil
}

// Child returns the required "child" field.
func (m Matcher) Child(mc Context) (any, error) {
	v, ok := m["child"]
	if !ok {
		return nil, mc.coreError("%s matcher is missing its child", m.Kind())
	}
	return v, nil
}

// typeName names the JSON kind of v for error messages.
func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any, map[string]string, Matcher:
		return "object"
	case []any, []string:
		return "array"
	}
	if _, ok := toFloat(v); ok {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}

// toFloat converts any Go or JSON numeric representation to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// asObject accepts the object shapes produced by JSON decoding and by Go
// callers building literals by hand.
func asObject(v any) (map[string]any, bool) {
	switch val := v.(type) {
	case map[string]any:
		return val, true
	case Matcher:
		return map[string]any(val), true
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, s := range val {
			out[k] = s
		}
		return out, true
	}
	return nil, false
}

func asArray(v any) ([]any, bool) {
	switch val := v.(type) {
	case []any:
		return val, true
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(val))
		for i, m := range val {
			out[i] = m
		}
		return out, true
	}
	return nil, false
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
