package match

import (
	"reflect"
	"sync"

	"github.com/roach88/casecore/internal/failure"
)

// lookupTable holds named matchers for one contract.
type lookupTable struct {
	mu       sync.RWMutex
	matchers map[string]any
}

// Tables holds the named lookup matchers of a contract and the
// provider-state variables of one interaction.
//
// Lookups are contract-wide and shared by every Scope; variables belong
// to a single scope.
type Tables struct {
	lookups *lookupTable

	mu       sync.RWMutex
	defaults map[string]any
	state    map[string]any
}

// NewTables creates empty tables.
func NewTables() *Tables {
	return &Tables{
		lookups:  &lookupTable{matchers: make(map[string]any)},
		defaults: make(map[string]any),
		state:    make(map[string]any),
	}
}

// Scope returns tables sharing the lookups of t with fresh variables.
func (t *Tables) Scope() *Tables {
	return &Tables{
		lookups:  t.lookups,
		defaults: make(map[string]any),
		state:    make(map[string]any),
	}
}

// SaveLookupable records node under name. Saving a different node under
// a name that is already taken is a configuration error.
func (t *Tables) SaveLookupable(name string, node any) error {
	t.lookups.mu.Lock()
	defer t.lookups.mu.Unlock()
	if existing, ok := t.lookups.matchers[name]; ok {
		if !reflect.DeepEqual(existing, node) {
			return failure.Configuration(nil,
				"the lookupable matcher %q is already defined with a different value", name)
		}
		return nil
	}
	t.lookups.matchers[name] = node
	return nil
}

// LookupMatcher returns the matcher saved under name.
func (t *Tables) LookupMatcher(name string) (any, bool) {
	t.lookups.mu.RLock()
	defer t.lookups.mu.RUnlock()
	node, ok := t.lookups.matchers[name]
	return node, ok
}

// Lookups returns a snapshot of every saved lookup.
func (t *Tables) Lookups() map[string]any {
	t.lookups.mu.RLock()
	defer t.lookups.mu.RUnlock()
	out := make(map[string]any, len(t.lookups.matchers))
	for k, v := range t.lookups.matchers {
		out[k] = v
	}
	return out
}

// AddDefaultVariable records the default matcher for a state variable.
func (t *Tables) AddDefaultVariable(name string, node any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.defaults[name] = node
}

// AddStateVariable records a value produced by a provider-state handler.
func (t *Tables) AddStateVariable(name string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state[name] = value
}

// LookupVariable resolves a variable: state handler values win over
// defaults.
func (t *Tables) LookupVariable(name string) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if v, ok := t.state[name]; ok {
		return v, true
	}
	v, ok := t.defaults[name]
	return v, ok
}
