package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/casecore/internal/contract"
	"github.com/roach88/casecore/internal/match"
	"github.com/roach88/casecore/internal/plugin/httpcase"
	"github.com/roach88/casecore/internal/store"
	"github.com/roach88/casecore/internal/testutil"
)

// contractDir saves cs into a fresh directory.
func contractDir(t *testing.T, cs ...*contract.Contract) string {
	t.Helper()
	dir := t.TempDir()
	files := store.NewFiles(dir)
	for _, c := range cs {
		testutil.Save(t, files, c)
	}
	return dir
}

func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status, out)
	b, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, v))
}

func TestVerify(t *testing.T) {
	dir := contractDir(t, testutil.Contract(t, "web", "things", "/things"))

	tests := []struct {
		name     string
		id       any
		wantCode int
		wantOut  []string
	}{
		{name: "passing provider", id: "abc", wantCode: ExitSuccess, wantOut: []string{"✓ 0: get /things", "1 passed, 0 failed"}},
		{name: "failing provider", id: 123, wantCode: ExitFailure, wantOut: []string{"✗ 0: get /things", "body.id", "0 passed, 1 failed"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := testutil.Provider(t, map[string]any{"/things": tt.id})
			out, _, err := execute(t, "verify", "--contracts", dir, "--base-url", provider.URL)
			if tt.wantCode == ExitSuccess {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, GetExitCode(err))
			}
			for _, want := range tt.wantOut {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestVerify_JSON(t *testing.T) {
	dir := contractDir(t,
		testutil.Contract(t, "web", "things", "/things"),
		testutil.Contract(t, "mobile", "things", "/things"))
	provider := testutil.Provider(t, map[string]any{"/things": "abc"})

	out, _, err := execute(t, "verify", "--contracts", dir, "--base-url", provider.URL, "--format", "json")
	require.NoError(t, err)

	var result verifyResult
	decodeData(t, out, &result)
	assert.True(t, result.Pass)
	assert.NotEmpty(t, result.VerificationID)
	require.Len(t, result.Reports, 2)
	assert.Equal(t, "mobile", result.Reports[0].Consumer, "reports follow the sorted file order")
	assert.Equal(t, "web", result.Reports[1].Consumer)
}

func TestVerify_TestFilter(t *testing.T) {
	dir := contractDir(t, testutil.Contract(t, "web", "things", "/things", "/widgets"))
	provider := testutil.Provider(t, map[string]any{"/things": "abc"})

	out, _, err := execute(t, "verify", "--contracts", dir, "--base-url", provider.URL, "--test", "0: get /things")
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed")
	assert.NotContains(t, out, "/widgets")

	_, _, err = execute(t, "verify", "--contracts", dir, "--base-url", provider.URL, "--test", "9: nothing")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestVerify_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "empty directory", args: []string{"--contracts", t.TempDir()}},
		{name: "missing file", args: []string{"--contract", filepath.Join(t.TempDir(), "nope.case.json")}},
		{name: "missing states file", args: []string{"--contracts", contractDir(t, testutil.Contract(t, "web", "things", "/things")), "--states", "nope.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errOut, err := execute(t, append([]string{"verify"}, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, errOut, "CASE_CONFIGURATION_ERROR")
		})
	}
}

func TestVerify_States(t *testing.T) {
	c := contract.New("web", "things")
	c.Interactions = append(c.Interactions, &contract.Interaction{
		Description: "get a thing",
		States:      []contract.State{contract.InState("a thing exists", map[string]any{"id": match.AnyString("abc")})},
		Mock: httpcase.WillSendHTTPRequest(
			httpcase.Request(httpcase.RequestSpec{Method: "GET", Path: match.StringPrefix("/things/", match.StateVariable("id"))}),
			httpcase.Response(httpcase.ResponseSpec{Status: 200, Body: map[string]any{"id": match.StateVariable("id")}}),
		),
	})
	require.NoError(t, c.Seal())
	dir := contractDir(t, c)

	states := filepath.Join(t.TempDir(), "states.yaml")
	require.NoError(t, os.WriteFile(states, []byte("a thing exists:\n  id: \"42\"\n"), 0o644))
	provider := testutil.Provider(t, map[string]any{"/things/42": "42"})

	out, _, err := execute(t, "verify", "--contracts", dir, "--base-url", provider.URL, "--states", states)
	require.NoError(t, err, out)
	assert.Contains(t, out, "1 passed, 0 failed")

	_, _, err = execute(t, "verify", "--contracts", dir, "--base-url", provider.URL)
	assert.Equal(t, ExitFailure, GetExitCode(err), "a state with variables needs its handler")
}

func TestVerify_RecordsRunsInDatabase(t *testing.T) {
	dir := contractDir(t, testutil.Contract(t, "web", "things", "/things"))
	db := filepath.Join(t.TempDir(), "casecore.db")
	provider := testutil.Provider(t, map[string]any{"/things": "abc"})

	_, _, err := execute(t, "verify", "--contracts", dir, "--base-url", provider.URL, "--sqlite", db)
	require.NoError(t, err)

	out, _, err := execute(t, "contracts", "runs", "web", "things", "--sqlite", db)
	require.NoError(t, err)
	assert.Contains(t, out, "pass")
	assert.Contains(t, out, "0/1 failed")

	out, _, err = execute(t, "contracts", "list", "--sqlite", db)
	require.NoError(t, err)
	assert.Contains(t, out, "web -> things  #1  1 interaction(s)")

	out, _, err = execute(t, "contracts", "show", "web", "things", "--sqlite", db)
	require.NoError(t, err)
	assert.Contains(t, out, "0: get /things")

	_, _, err = execute(t, "contracts", "show", "web", "nobody", "--sqlite", db)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestContractsList_Files(t *testing.T) {
	dir := contractDir(t,
		testutil.Contract(t, "web", "things", "/things"),
		testutil.Contract(t, "mobile", "things", "/things"))

	out, _, err := execute(t, "contracts", "list", "--contracts", dir)
	require.NoError(t, err)
	assert.Equal(t, "mobile-things.case.json\nweb-things.case.json\n", out)

	out, _, err = execute(t, "contracts", "list", "--contracts", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "No contracts.\n", out)
}

func TestContractsRuns_NeedsDatabase(t *testing.T) {
	_, errOut, err := execute(t, "contracts", "runs", "web", "things")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, errOut, "no contract database configured")
}

func TestDescribe(t *testing.T) {
	c := testutil.Contract(t, "web", "things", "/things", "/widgets")
	dir := contractDir(t, c)
	path := filepath.Join(dir, c.Filename())

	out, _, err := execute(t, "describe", path)
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"web -> things",
		"hash: " + c.Metadata.Hash,
		"  0: get /things",
		"  1: get /widgets",
		"",
	}, "\n"), out)

	out, _, err = execute(t, "describe", path, "--format", "json")
	require.NoError(t, err)
	var d contractDescription
	decodeData(t, out, &d)
	require.Len(t, d.Interactions, 2)
	assert.Equal(t, "get /widgets", d.Interactions[1].Description)
}

func TestDescribe_RejectsTamperedContract(t *testing.T) {
	c := testutil.Contract(t, "web", "things", "/things")
	dir := contractDir(t, c)
	path := filepath.Join(dir, c.Filename())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(string(data), `"/things"`, `"/widgets"`, 1)), 0o644))

	_, _, err = execute(t, "describe", path)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

const thingsDefinition = `package things

consumer: "web"
provider: "things"
interactions: {
	"get things": {
		request: {method: "GET", path: "/things"}
		response: {
			status: 200
			body: id: {"_match": "cascading-type", child: {"_match": "string", example: "abc"}}
		}
	}
}
`

func TestDefine_ThenVerify(t *testing.T) {
	defs := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(defs, "things.cue"), []byte(thingsDefinition), 0o644))
	out := t.TempDir()

	stdout, _, err := execute(t, "define", defs, "--out", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Recorded 1 interaction(s) between web and things")

	file := filepath.Join(out, "web-things.case.json")
	require.FileExists(t, file)

	provider := testutil.Provider(t, map[string]any{"/things": "xyz"})
	stdout, _, err = execute(t, "verify", "--contract", file, "--base-url", provider.URL)
	require.NoError(t, err, stdout)
	assert.Contains(t, stdout, "✓ 0: get things")
}

func TestDefine_InvalidDefinitions(t *testing.T) {
	defs := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(defs, "bad.cue"), []byte("package bad\nconsumer: \"web\"\n"), 0o644))

	_, errOut, err := execute(t, "define", defs, "--out", t.TempDir())
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, errOut, "provider")
}

func TestScenario(t *testing.T) {
	out, _, err := execute(t, "scenario",
		"../harness/testdata/scenarios/get_things_pass.yaml",
		"../harness/testdata/scenarios/out_of_order.yaml")
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ get_things_pass")
	assert.Contains(t, out, "✓ out_of_order")
	assert.Contains(t, out, "2 passed, 0 failed")

	_, errOut, err := execute(t, "scenario", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, errOut, "failed to load scenario")
}
