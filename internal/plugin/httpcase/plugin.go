// Package httpcase supplies HTTP request/response matchers and the mock
// server and client used to record and verify HTTP interactions.
package httpcase

import (
	"github.com/roach88/casecore/internal/match"
	"github.com/roach88/casecore/internal/mock"
)

// ModuleName is the name callers use to load this plugin.
const ModuleName = "http"

// Version is reported when the plugin is loaded.
const Version = "1.0.0"

// Plugin installs the HTTP matchers and mocks.
type Plugin struct{}

func (Plugin) Name() string    { return ModuleName }
func (Plugin) Version() string { return Version }

// Register installs every HTTP matcher executor and mock setup routine.
func (Plugin) Register(reg *match.Registry, disp *mock.Dispatcher) {
	RegisterMatchers(reg)
	RegisterMocks(disp)
}
