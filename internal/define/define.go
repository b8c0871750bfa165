// Package define compiles CUE contract definitions into interactions and
// records them without hand-written consumer code.
//
// A definition directory holds one CUE package:
//
//	consumer: "web"
//	provider: "things"
//	interactions: {
//		"get things": {
//			states: [{name: "things exist"}]
//			request: {method: "GET", path: "/things"}
//			response: {
//				status: 200
//				body: id: {"_match": "cascading-type", child: {"_match": "string", example: "abc"}}
//			}
//		}
//	}
//
// Matchers are written as JSON objects tagged with a quoted "_match"
// field; an unquoted _match would be a hidden CUE field. Interactions
// default to direction "send" (the consumer calls the provider); "receive"
// declares a request the provider makes of the consumer.
package define

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/casecore/internal/contract"
	"github.com/roach88/casecore/internal/failure"
	"github.com/roach88/casecore/internal/plugin/httpcase"
)

// Direction says which side sends the request.
type Direction string

const (
	DirectionSend    Direction = "send"
	DirectionReceive Direction = "receive"
)

// Set is the compiled content of one definition package.
type Set struct {
	Consumer     string
	Provider     string
	Interactions []Interaction
}

// Interaction is one named definition.
type Interaction struct {
	Name       string
	Direction  Direction
	Definition contract.Definition
}

// CompileError locates a problem in a definition file.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load compiles the CUE package in dir.
func Load(dir string) (*Set, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, failure.Configuration(nil, "definitions directory %s: %v", dir, err)
	}
	if !info.IsDir() {
		return nil, failure.Configuration(nil, "not a directory: %s", dir)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, failure.Configuration(nil, "scan %s: %v", dir, err)
	}
	if len(files) == 0 {
		return nil, failure.Configuration(nil, "no CUE files found in %s", dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, failure.Configuration(nil, "no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, configError(formatCUEError(inst.Err))
	}
	return Compile(cuecontext.New().BuildInstance(inst))
}

// CompileString compiles a single CUE document. filename is used in
// error positions.
func CompileString(src, filename string) (*Set, error) {
	return Compile(cuecontext.New().CompileString(src, cue.Filename(filename)))
}

// Compile turns a built CUE value into a Set. Every error is a
// configuration error wrapping a *CompileError where a position is known.
func Compile(v cue.Value) (*Set, error) {
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, configError(formatCUEError(err))
	}

	set := &Set{}
	var err error
	if set.Consumer, err = requiredString(v, "consumer"); err != nil {
		return nil, configError(err)
	}
	if set.Provider, err = requiredString(v, "provider"); err != nil {
		return nil, configError(err)
	}

	interactions := v.LookupPath(cue.ParsePath("interactions"))
	if !interactions.Exists() {
		return nil, configError(&CompileError{Field: "interactions", Message: "at least one interaction is required", Pos: v.Pos()})
	}
	iter, err := interactions.Fields()
	if err != nil {
		return nil, configError(formatCUEError(err))
	}
	for iter.Next() {
		in, err := compileInteraction(iter.Label(), iter.Value())
		if err != nil {
			return nil, configError(err)
		}
		set.Interactions = append(set.Interactions, in)
	}
	if len(set.Interactions) == 0 {
		return nil, configError(&CompileError{Field: "interactions", Message: "at least one interaction is required", Pos: interactions.Pos()})
	}
	return set, nil
}

func compileInteraction(name string, v cue.Value) (Interaction, error) {
	in := Interaction{Name: name, Direction: DirectionSend}
	if d := v.LookupPath(cue.ParsePath("direction")); d.Exists() {
		s, err := d.String()
		if err != nil {
			return in, formatCUEError(err)
		}
		in.Direction = Direction(s)
		if in.Direction != DirectionSend && in.Direction != DirectionReceive {
			return in, &CompileError{Field: name + ".direction", Message: fmt.Sprintf("must be %q or %q, got %q", DirectionSend, DirectionReceive, s), Pos: d.Pos()}
		}
	}

	req, err := object(v, name, "request")
	if err != nil {
		return in, err
	}
	for _, field := range []string{"method", "path"} {
		if _, ok := req[field]; !ok {
			return in, &CompileError{Field: name + ".request." + field, Message: "is required", Pos: v.Pos()}
		}
	}
	resp, err := object(v, name, "response")
	if err != nil {
		return in, err
	}
	if _, ok := resp["status"]; !ok {
		return in, &CompileError{Field: name + ".response.status", Message: "is required", Pos: v.Pos()}
	}

	states, err := compileStates(v, name)
	if err != nil {
		return in, err
	}

	request := httpcase.Request(httpcase.RequestSpec{
		Method:     req["method"],
		Path:       req["path"],
		Query:      req["query"],
		Headers:    req["headers"],
		Body:       req["body"],
		UniqueName: stringField(req, "uniqueName"),
	})
	response := httpcase.Response(httpcase.ResponseSpec{
		Status:     resp["status"],
		Headers:    resp["headers"],
		Body:       resp["body"],
		UniqueName: stringField(resp, "uniqueName"),
	})
	in.Definition = contract.Definition{Description: name, States: states}
	if in.Direction == DirectionReceive {
		in.Definition.Mock = httpcase.WillReceiveHTTPRequest(request, response)
	} else {
		in.Definition.Mock = httpcase.WillSendHTTPRequest(request, response)
	}
	return in, nil
}

func compileStates(v cue.Value, name string) ([]contract.State, error) {
	sv := v.LookupPath(cue.ParsePath("states"))
	if !sv.Exists() {
		return nil, nil
	}
	var raw []struct {
		Name      string         `json:"name"`
		Variables map[string]any `json:"variables"`
	}
	if err := decodeJSON(sv, &raw); err != nil {
		return nil, &CompileError{Field: name + ".states", Message: err.Error(), Pos: sv.Pos()}
	}
	states := make([]contract.State, 0, len(raw))
	for i, s := range raw {
		if s.Name == "" {
			return nil, &CompileError{Field: fmt.Sprintf("%s.states[%d].name", name, i), Message: "is required", Pos: sv.Pos()}
		}
		states = append(states, contract.InState(s.Name, s.Variables))
	}
	return states, nil
}

// object decodes field of v through JSON so numbers match what a decoded
// contract holds.
func object(v cue.Value, name, field string) (map[string]any, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return nil, &CompileError{Field: name + "." + field, Message: "is required", Pos: v.Pos()}
	}
	var m map[string]any
	if err := decodeJSON(fv, &m); err != nil {
		return nil, &CompileError{Field: name + "." + field, Message: err.Error(), Pos: fv.Pos()}
	}
	return m, nil
}

func decodeJSON(v cue.Value, out any) error {
	b, err := v.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func requiredString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{Field: field, Message: "is required", Pos: v.Pos()}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	if s == "" {
		return "", &CompileError{Field: field, Message: "must not be empty", Pos: fv.Pos()}
	}
	return s, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// formatCUEError keeps the first error and its position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &CompileError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}

func configError(err error) error {
	return &failure.Error{Kind: failure.KindConfiguration, Message: "invalid contract definitions", Err: err}
}
