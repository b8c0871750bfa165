package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/casecore/internal/contract"
	"github.com/roach88/casecore/internal/correlate"
	"github.com/roach88/casecore/internal/failure"
	"github.com/roach88/casecore/internal/match"
	"github.com/roach88/casecore/internal/mock"
	"github.com/roach88/casecore/internal/plugin"
	"github.com/roach88/casecore/internal/plugin/httpcase"
	"github.com/roach88/casecore/internal/transport"
	"github.com/roach88/casecore/internal/wire"
)

type testClient struct {
	t    *testing.T
	ctx  context.Context
	end  *transport.PipeEnd
	done chan error
}

func startServer(t *testing.T, opts ...Option) *testClient {
	t.Helper()
	srv, err := NewServer(append([]Option{WithIDGenerator(correlate.NewSequenceGenerator("srv"))}, opts...)...)
	require.NoError(t, err)

	serverEnd, clientEnd := transport.Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	c := &testClient{t: t, ctx: ctx, end: clientEnd, done: make(chan error, 1)}
	go func() { c.done <- srv.Serve(ctx, serverEnd) }()
	t.Cleanup(func() { clientEnd.Close() })
	return c
}

func (c *testClient) send(id string, kind wire.Kind, payload any) {
	c.t.Helper()
	msg, err := wire.NewRequest(id, kind, payload)
	require.NoError(c.t, err)
	frame, err := wire.Encode(msg)
	require.NoError(c.t, err)
	require.NoError(c.t, c.end.Send(c.ctx, frame))
}

func (c *testClient) sendRaw(frame string) {
	c.t.Helper()
	require.NoError(c.t, c.end.Send(c.ctx, []byte(frame)))
}

func (c *testClient) recv() *wire.Message {
	c.t.Helper()
	frame, err := c.end.Recv(c.ctx)
	require.NoError(c.t, err)
	msg, err := wire.Decode(frame)
	require.NoError(c.t, err)
	return msg
}

// result reads the next frame and requires it to answer id.
func (c *testClient) result(id string) *wire.Result {
	c.t.Helper()
	msg := c.recv()
	require.Equal(c.t, wire.KindResult, msg.Kind)
	require.Equal(c.t, id, msg.ID)
	require.NotNil(c.t, msg.Result)
	return msg.Result
}

func (c *testClient) call(id string, kind wire.Kind, payload any) *wire.Result {
	c.t.Helper()
	c.send(id, kind, payload)
	return c.result(id)
}

func (c *testClient) begin(cfg wire.Config) string {
	c.t.Helper()
	r := c.call("begin", wire.KindBeginVerification, wire.BeginVerification{Config: cfg, CallerVersions: []string{"test-connector@1"}})
	require.True(c.t, r.OK(), "begin failed: %+v", r.Failure)
	var v wire.BeginVerificationResult
	remarshal(c.t, r.Value, &v)
	return v.VerificationID
}

func remarshal(t *testing.T, in, out any) {
	t.Helper()
	b, err := json.Marshal(in)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, out))
}

func inlineContract(t *testing.T, interactions ...*contract.Interaction) json.RawMessage {
	t.Helper()
	c := contract.New("web", "things")
	c.Interactions = interactions
	require.NoError(t, c.Seal())
	var buf bytes.Buffer
	require.NoError(t, contract.Encode(&buf, c))
	return buf.Bytes()
}

func getThings(status any) *contract.Interaction {
	return &contract.Interaction{
		Description: "get things",
		Mock: httpcase.WillSendHTTPRequest(
			httpcase.Request(httpcase.RequestSpec{Method: "GET", Path: "/things"}),
			httpcase.Response(httpcase.ResponseSpec{Status: status, Body: map[string]any{"id": match.AnyString("abc")}}),
		),
	}
}

func receiveThings() *contract.Interaction {
	return &contract.Interaction{
		Description: "receive things",
		Mock: httpcase.WillReceiveHTTPRequest(
			httpcase.Request(httpcase.RequestSpec{Method: "GET", Path: "/things"}),
			httpcase.Response(httpcase.ResponseSpec{Status: 200, Body: map[string]any{"id": match.AnyString("abc")}}),
		),
	}
}

func provider(t *testing.T, status int, id any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/things" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": id})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestServe_GetThings(t *testing.T) {
	tests := []struct {
		name         string
		id           any
		wantOK       bool
		wantLocation []string
	}{
		{name: "matching provider", id: "abc", wantOK: true},
		{name: "wrong id type", id: 123, wantLocation: []string{"body.id"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := provider(t, 200, tt.id)
			c := startServer(t)
			id := c.begin(wire.Config{Contract: inlineContract(t, getThings(200)), BaseURL: p.URL})
			assert.Equal(t, "srv-1", id)

			r := c.call("run", wire.KindRunVerification, wire.RunVerification{})
			assert.Equal(t, tt.wantOK, r.OK())

			var reports []contract.Report
			remarshal(t, r.Value, &reports)
			require.Len(t, reports, 1)
			require.Len(t, reports[0].Results, 1)
			assert.Equal(t, "0: get things", reports[0].Results[0].TestName)

			if !tt.wantOK {
				errs := reports[0].Results[0].Errors
				require.Len(t, errs, 1)
				assert.Equal(t, failure.KindFailedAssertion, errs[0].Kind)
				require.NotNil(t, r.Failure)
				assert.Equal(t, failure.KindFailedAssertion, r.Failure.Kind)
				assert.Equal(t, tt.wantLocation, r.Failure.Location)
				assert.True(t, strings.HasPrefix(r.Failure.Message, "[CaseFailedAssertionError] "))
				assert.Equal(t, wire.Origin, r.Failure.Origin)
			}
		})
	}
}

func TestServe_TriggerBasedInteraction(t *testing.T) {
	c := startServer(t)
	c.begin(wire.Config{Contract: inlineContract(t, receiveThings())})
	c.send("run", wire.KindRunVerification, wire.RunVerification{})

	event := c.recv()
	require.Equal(t, wire.KindStartTestEvent, event.Kind)
	var start wire.StartTestEvent
	require.NoError(t, event.DecodePayload(&start))
	assert.Equal(t, "0: receive things", start.TestName)
	require.NotEmpty(t, start.InvokerID)
	require.NotEmpty(t, start.Info["baseUrl"])

	// A result for an id the server never issued does not resolve the test.
	r := c.call("bogus", wire.KindResultResponse, wire.ResultResponse{Result: wire.Success(nil)})
	require.False(t, r.OK())
	assert.Equal(t, failure.KindConfiguration, r.Failure.Kind)

	resp, err := http.Get(start.Info["baseUrl"] + "/things")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	invoked := c.call("invoke", wire.KindInvokeTest, wire.InvokeTest{InvokerID: start.InvokerID})
	require.True(t, invoked.OK(), "verification failed: %+v", invoked.Failure)

	again := c.call("invoke-again", wire.KindInvokeTest, wire.InvokeTest{InvokerID: start.InvokerID})
	require.False(t, again.OK(), "an invoker id resolves once")
	assert.Equal(t, failure.KindConfiguration, again.Failure.Kind)

	c.send(event.ID, wire.KindResultResponse, wire.ResultResponse{Result: invoked})
	final := c.result("run")
	assert.True(t, final.OK(), "run failed: %+v", final.Failure)
}

func TestServe_ConcurrentRuns(t *testing.T) {
	c := startServer(t)
	c.begin(wire.Config{Contract: inlineContract(t, receiveThings())})

	// Both runs are pending on their own delegated test before either is
	// answered.
	c.send("run-a", wire.KindRunVerification, wire.RunVerification{})
	c.send("run-b", wire.KindRunVerification, wire.RunVerification{})

	events := map[string]wire.StartTestEvent{}
	for len(events) < 2 {
		msg := c.recv()
		require.Equal(t, wire.KindStartTestEvent, msg.Kind, "no run may finish before its test is answered")
		var start wire.StartTestEvent
		require.NoError(t, msg.DecodePayload(&start))
		events[msg.ID] = start
	}

	// A run answered early may finish while the other test is invoked, so
	// results are sorted by id as they arrive.
	results := map[string]*wire.Result{}
	await := func(id string) *wire.Result {
		for results[id] == nil {
			msg := c.recv()
			require.Equal(t, wire.KindResult, msg.Kind)
			require.NotNil(t, msg.Result)
			results[msg.ID] = msg.Result
		}
		return results[id]
	}

	i := 0
	for eventID, start := range events {
		resp, err := http.Get(start.Info["baseUrl"] + "/things")
		require.NoError(t, err)
		resp.Body.Close()

		invokeID := fmt.Sprintf("invoke-%d", i)
		c.send(invokeID, wire.KindInvokeTest, wire.InvokeTest{InvokerID: start.InvokerID})
		invoked := await(invokeID)
		require.True(t, invoked.OK(), "verification failed: %+v", invoked.Failure)
		c.send(eventID, wire.KindResultResponse, wire.ResultResponse{Result: invoked})
		i++
	}

	for _, id := range []string{"run-a", "run-b"} {
		r := await(id)
		assert.True(t, r.OK(), "%s failed: %+v", id, r.Failure)
	}
}

func TestServe_DelegatedFailureIsReportedOnce(t *testing.T) {
	c := startServer(t)
	c.begin(wire.Config{Contract: inlineContract(t, receiveThings())})
	c.send("run", wire.KindRunVerification, wire.RunVerification{})

	event := c.recv()
	var start wire.StartTestEvent
	require.NoError(t, event.DecodePayload(&start))

	resp, err := http.Get(start.Info["baseUrl"] + "/widgets")
	require.NoError(t, err)
	resp.Body.Close()

	invoked := c.call("invoke", wire.KindInvokeTest, wire.InvokeTest{InvokerID: start.InvokerID})
	require.False(t, invoked.OK())
	assert.Equal(t, []string{"path"}, invoked.Failure.Location)

	// The connector echoes the failure back.
	c.send(event.ID, wire.KindResultResponse, wire.ResultResponse{Result: invoked})
	final := c.result("run")
	require.False(t, final.OK())

	var reports []contract.Report
	remarshal(t, final.Value, &reports)
	require.Len(t, reports, 1)
	assert.Len(t, reports[0].Results[0].Errors, 1)
}

// lenientStatus overrides the http status matcher to accept any status.
type lenientStatus struct{}

func (lenientStatus) Name() string    { return "lenient-status" }
func (lenientStatus) Version() string { return "0.0.1" }
func (lenientStatus) Register(reg *match.Registry, _ *mock.Dispatcher) {
	reg.Register(httpcase.KindStatus, match.Funcs{
		CheckFn: func(context.Context, match.Context, match.Matcher, any) ([]*match.MatchError, error) {
			return nil, nil
		},
		StripFn: func(_ match.Context, m match.Matcher) (any, error) {
			return m["example"], nil
		},
		DescribeFn: func(match.Context, match.Matcher) (string, error) {
			return "any status", nil
		},
	})
}

func TestServe_LoadPluginOverridesMatcher(t *testing.T) {
	p := provider(t, 500, "abc")
	c := startServer(t, WithCatalog(plugin.NewCatalog(httpcase.Plugin{}, lenientStatus{})))
	c.begin(wire.Config{Contract: inlineContract(t, getThings(httpcase.StatusCode(200, "2XX"))), BaseURL: p.URL})

	before := c.call("run-1", wire.KindRunVerification, wire.RunVerification{})
	require.False(t, before.OK())
	assert.Equal(t, []string{"status"}, before.Failure.Location)

	loaded := c.call("load", wire.KindLoadPlugin, wire.LoadPlugin{ModuleNames: []string{"lenient-status"}})
	require.True(t, loaded.OK(), "load failed: %+v", loaded.Failure)
	var body struct {
		Loaded []plugin.Loaded `json:"loaded"`
	}
	remarshal(t, loaded.Value, &body)
	assert.Equal(t, []plugin.Loaded{{Name: "lenient-status", Version: "0.0.1"}}, body.Loaded)

	after := c.call("run-2", wire.KindRunVerification, wire.RunVerification{})
	assert.True(t, after.OK(), "run failed: %+v", after.Failure)

	unknown := c.call("load-2", wire.KindLoadPlugin, wire.LoadPlugin{ModuleNames: []string{"grpc"}})
	require.False(t, unknown.OK())
	assert.Equal(t, failure.KindConfiguration, unknown.Failure.Kind)
}

func TestServe_LoadPluginIsPerSession(t *testing.T) {
	p := provider(t, 500, "abc")
	srv, err := NewServer(WithCatalog(plugin.NewCatalog(httpcase.Plugin{}, lenientStatus{})))
	require.NoError(t, err)

	cfg := wire.Config{Contract: inlineContract(t, getThings(httpcase.StatusCode(200, "2XX"))), BaseURL: p.URL}
	run := func(load bool) bool {
		serverEnd, clientEnd := transport.Pipe()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		c := &testClient{t: t, ctx: ctx, end: clientEnd, done: make(chan error, 1)}
		go func() { c.done <- srv.Serve(ctx, serverEnd) }()
		defer clientEnd.Close()

		c.begin(cfg)
		if load {
			require.True(t, c.call("load", wire.KindLoadPlugin, wire.LoadPlugin{ModuleNames: []string{"lenient-status"}}).OK())
		}
		return c.call("run", wire.KindRunVerification, wire.RunVerification{}).OK()
	}

	assert.True(t, run(true))
	assert.False(t, run(false), "a plugin loaded by one session must not leak into the next")
}

func TestServe_MalformedRequests(t *testing.T) {
	c := startServer(t)

	tests := []struct {
		name   string
		frame  string
		wantID string
	}{
		{name: "not json", frame: `{"id":`, wantID: ""},
		{name: "missing id", frame: `{"kind":"BEGIN_VERIFICATION"}`, wantID: ""},
		{name: "unknown kind", frame: `{"id":"x","kind":"SELF_DESTRUCT"}`, wantID: "x"},
		{name: "server-only kind", frame: `{"id":"y","kind":"RESULT"}`, wantID: "y"},
		{name: "malformed payload", frame: `{"id":"z","kind":"BEGIN_VERIFICATION","payload":"nope"}`, wantID: "z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.sendRaw(tt.frame)
			r := c.result(tt.wantID)
			require.False(t, r.OK())
			assert.Equal(t, failure.KindCore, r.Failure.Kind)
			assert.True(t, strings.HasPrefix(r.Failure.Message, "[CaseCoreError] "), r.Failure.Message)
		})
	}

	// The stream survives protocol errors.
	c.begin(wire.Config{Contract: inlineContract(t, getThings(200))})
}

func TestServe_SessionStates(t *testing.T) {
	c := startServer(t)

	for _, kind := range []wire.Kind{wire.KindAvailableContractDefinitions, wire.KindRunVerification} {
		r := c.call(string(kind), kind, nil)
		require.False(t, r.OK(), "%s before begin", kind)
		assert.Equal(t, failure.KindConfiguration, r.Failure.Kind)
	}

	missing := c.call("begin-0", wire.KindBeginVerification, wire.BeginVerification{})
	require.False(t, missing.OK(), "begin without a contract")
	assert.Equal(t, failure.KindConfiguration, missing.Failure.Kind)

	c.begin(wire.Config{Contract: inlineContract(t, getThings(200), receiveThings())})

	again := c.call("begin-2", wire.KindBeginVerification, wire.BeginVerification{Config: wire.Config{Contract: inlineContract(t, getThings(200))}})
	require.False(t, again.OK())
	assert.Equal(t, failure.KindConfiguration, again.Failure.Kind)

	avail := c.call("available", wire.KindAvailableContractDefinitions, nil)
	require.True(t, avail.OK())
	var defs []wire.ContractDefinition
	remarshal(t, avail.Value, &defs)
	assert.Equal(t, []wire.ContractDefinition{
		{TestName: "0: get things", Description: "get things", Consumer: "web", Provider: "things"},
		{TestName: "1: receive things", Description: "receive things", Consumer: "web", Provider: "things"},
	}, defs)

	r := c.call("run", wire.KindRunVerification, wire.RunVerification{Config: wire.Config{TestNames: []string{"7: nothing"}}})
	require.False(t, r.OK())
	assert.Equal(t, failure.KindConfiguration, r.Failure.Kind)
}

func TestServe_BeginRejectsUnknownLogLevel(t *testing.T) {
	c := startServer(t)
	r := c.call("begin", wire.KindBeginVerification, wire.BeginVerification{
		Config: wire.Config{Contract: inlineContract(t, getThings(200)), LogLevel: "loud"},
	})
	require.False(t, r.OK())
	assert.Equal(t, failure.KindConfiguration, r.Failure.Kind)
}

func TestServe_StreamEndReleasesPendingTests(t *testing.T) {
	c := startServer(t)
	c.begin(wire.Config{Contract: inlineContract(t, receiveThings())})
	c.send("run", wire.KindRunVerification, wire.RunVerification{})

	event := c.recv()
	require.Equal(t, wire.KindStartTestEvent, event.Kind)

	require.NoError(t, c.end.Close())
	select {
	case err := <-c.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after the stream closed")
	}
}

type recordedRun struct {
	verificationID string
	consumer       string
	pass           bool
}

type fakeRuns struct {
	mu   sync.Mutex
	runs []recordedRun
}

func (f *fakeRuns) RecordRun(_ context.Context, id string, c *contract.Contract, r *contract.Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, recordedRun{verificationID: id, consumer: c.Consumer, pass: r.Pass})
	return nil
}

func TestServe_RecordsRuns(t *testing.T) {
	p := provider(t, 200, "abc")
	runs := &fakeRuns{}
	c := startServer(t, WithRunRecorder(runs))
	id := c.begin(wire.Config{Contract: inlineContract(t, getThings(200))})

	r := c.call("run", wire.KindRunVerification, wire.RunVerification{Config: wire.Config{BaseURL: p.URL}})
	require.True(t, r.OK(), "run failed: %+v", r.Failure)

	runs.mu.Lock()
	defer runs.mu.Unlock()
	assert.Equal(t, []recordedRun{{verificationID: id, consumer: "web", pass: true}}, runs.runs)
}

func TestMergeConfig(t *testing.T) {
	base := wire.Config{ContractDir: "contracts", BaseURL: "http://a", TestNames: []string{"0: x"}}

	cfg, reload := mergeConfig(base, wire.Config{})
	assert.False(t, reload)
	assert.Equal(t, base, cfg)

	cfg, reload = mergeConfig(base, wire.Config{ContractFile: "one.case.json", BaseURL: "http://b"})
	assert.True(t, reload)
	assert.Equal(t, wire.Config{ContractFile: "one.case.json", BaseURL: "http://b", TestNames: []string{"0: x"}}, cfg)
}
