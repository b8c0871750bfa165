package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/casecore/internal/failure"
	"github.com/roach88/casecore/internal/match"
	"github.com/roach88/casecore/internal/mock"
	"github.com/roach88/casecore/internal/plugin/httpcase"
)

func TestDefault_LoadsHTTP(t *testing.T) {
	reg := match.NewRegistry()
	disp := mock.NewDispatcher()
	assert.False(t, reg.Has(httpcase.KindRequest))

	loaded, err := Default().Load([]string{"http"}, reg, disp)
	require.NoError(t, err)
	assert.Equal(t, []Loaded{{Name: "http", Version: httpcase.Version}}, loaded)

	assert.True(t, reg.Has(httpcase.KindRequest))
	assert.True(t, reg.Has(httpcase.KindBasicAuth))
	assert.Equal(t, []mock.Type{mock.HTTPClient, mock.HTTPServer}, disp.Types())
}

func TestLoad_UnknownModuleInstallsNothing(t *testing.T) {
	reg := match.NewRegistry()
	disp := mock.NewDispatcher()

	_, err := Default().Load([]string{"http", "grpc"}, reg, disp)
	require.Error(t, err)
	assert.True(t, failure.IsConfiguration(err))
	assert.False(t, reg.Has(httpcase.KindRequest))
	assert.Empty(t, disp.Types())
}

func TestCatalog_Names(t *testing.T) {
	assert.Equal(t, []string{"http"}, Default().Names())
	assert.Empty(t, NewCatalog().Names())
}
