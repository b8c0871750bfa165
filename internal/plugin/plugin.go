// Package plugin resolves plugin module names to the matcher executors
// and mock setups they contribute.
package plugin

import (
	"fmt"
	"slices"

	"github.com/roach88/casecore/internal/failure"
	"github.com/roach88/casecore/internal/match"
	"github.com/roach88/casecore/internal/mock"
	"github.com/roach88/casecore/internal/plugin/httpcase"
)

// Plugin contributes matcher kinds and mock types.
type Plugin interface {
	Name() string
	Version() string
	Register(reg *match.Registry, disp *mock.Dispatcher)
}

// Loaded describes a plugin installed into a session.
type Loaded struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Catalog is a static set of plugins addressable by module name.
type Catalog struct {
	plugins map[string]Plugin
}

// NewCatalog creates a catalog. Later plugins with the same name win.
func NewCatalog(plugins ...Plugin) *Catalog {
	c := &Catalog{plugins: make(map[string]Plugin, len(plugins))}
	for _, p := range plugins {
		c.plugins[p.Name()] = p
	}
	return c
}

// Default returns the catalog of built-in plugins.
func Default() *Catalog {
	return NewCatalog(httpcase.Plugin{})
}

// Names returns the module names in the catalog, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.plugins))
	for n := range c.plugins {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Get returns the plugin registered under name.
func (c *Catalog) Get(name string) (Plugin, error) {
	p, ok := c.plugins[name]
	if !ok {
		return nil, failure.Configuration(nil, "unknown plugin module %q (available: %v)", name, c.Names())
	}
	return p, nil
}

// Load installs the named plugins into reg and disp in order. Nothing is
// installed unless every name resolves.
func (c *Catalog) Load(names []string, reg *match.Registry, disp *mock.Dispatcher) ([]Loaded, error) {
	resolved := make([]Plugin, 0, len(names))
	for _, name := range names {
		p, err := c.Get(name)
		if err != nil {
			return nil, fmt.Errorf("load plugins: %w", err)
		}
		resolved = append(resolved, p)
	}
	loaded := make([]Loaded, len(resolved))
	for i, p := range resolved {
		p.Register(reg, disp)
		loaded[i] = Loaded{Name: p.Name(), Version: p.Version()}
	}
	return loaded, nil
}
