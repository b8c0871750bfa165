// Package testutil holds shared fixtures for package tests outside
// internal/contract.
package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/casecore/internal/contract"
	"github.com/roach88/casecore/internal/match"
	"github.com/roach88/casecore/internal/plugin/httpcase"
)

// GetThings is the interaction most tests verify: GET path answered by
// 200 {"id": <any string>}.
func GetThings(path string) *contract.Interaction {
	return &contract.Interaction{
		Description: "get " + path,
		Mock: httpcase.WillSendHTTPRequest(
			httpcase.Request(httpcase.RequestSpec{Method: "GET", Path: path}),
			httpcase.Response(httpcase.ResponseSpec{Status: 200, Body: map[string]any{"id": match.AnyString("abc")}}),
		),
	}
}

// Contract builds a sealed contract with one GetThings interaction per
// path.
func Contract(t testing.TB, consumer, provider string, paths ...string) *contract.Contract {
	t.Helper()
	c := contract.New(consumer, provider)
	for _, p := range paths {
		c.Interactions = append(c.Interactions, GetThings(p))
	}
	require.NoError(t, c.Seal())
	return c
}

// Save writes c through w.
func Save(t testing.TB, w contract.Writer, c *contract.Contract) {
	t.Helper()
	require.NoError(t, w.Save(context.Background(), c))
}
