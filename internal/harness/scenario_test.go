package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "defs"), 0o755))
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const validHeader = `name: s
description: d
definitions: defs
`

func TestLoadScenario_ResolvesDefinitions(t *testing.T) {
	path := writeScenario(t, validHeader+`flow:
  - send: BEGIN_VERIFICATION
`)
	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "defs"), s.Definitions)
}

func TestLoadScenario_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "unknown field", body: validHeader + "flows: []\n", wantErr: "field flows not found"},
		{name: "missing name", body: "description: d\ndefinitions: defs\nflow: [{send: BEGIN_VERIFICATION}]\n", wantErr: "name is required"},
		{name: "missing definitions dir", body: "name: s\ndescription: d\ndefinitions: nope\nflow: [{send: BEGIN_VERIFICATION}]\n", wantErr: "definitions:"},
		{name: "empty flow", body: validHeader + "flow: []\n", wantErr: "flow list is required"},
		{name: "two actions", body: validHeader + "flow: [{send: BEGIN_VERIFICATION, await: START_TEST_EVENT}]\n", wantErr: "flow[0]: exactly one of"},
		{name: "server kind sent", body: validHeader + "flow: [{send: START_TEST_EVENT}]\n", wantErr: "not a request kind"},
		{name: "async without id", body: validHeader + "flow: [{send: RUN_VERIFICATION, async: true}]\n", wantErr: "needs an id"},
		{name: "bad status", body: validHeader + "flow: [{send: BEGIN_VERIFICATION, expect: {status: ok}}]\n", wantErr: "status must be"},
		{name: "call without path", body: validHeader + "flow: [{call: {method: GET}}]\n", wantErr: "path is required"},
		{name: "stub without path", body: validHeader + "stub: [{status: 200}]\nflow: [{send: BEGIN_VERIFICATION}]\n", wantErr: "stub[0]: path is required"},
		{
			name:    "unknown assertion",
			body:    validHeader + "flow: [{send: BEGIN_VERIFICATION}]\nassertions: [{type: final_state}]\n",
			wantErr: `unknown assertion type "final_state"`,
		},
		{
			name:    "recorded_runs without pair",
			body:    validHeader + "flow: [{send: BEGIN_VERIFICATION}]\nassertions: [{type: recorded_runs, consumer: web}]\n",
			wantErr: "consumer and provider are required",
		},
		{
			name:    "bad direction",
			body:    validHeader + "flow: [{send: BEGIN_VERIFICATION}]\nassertions: [{type: trace_count, kind: RESULT, direction: up}]\n",
			wantErr: "direction must be",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}
