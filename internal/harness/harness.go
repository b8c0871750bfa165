package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/roach88/casecore/internal/correlate"
	"github.com/roach88/casecore/internal/define"
	"github.com/roach88/casecore/internal/protocol"
	"github.com/roach88/casecore/internal/store"
	"github.com/roach88/casecore/internal/transport"
	"github.com/roach88/casecore/internal/wire"
)

// DefaultStepTimeout bounds how long a step waits for a frame.
const DefaultStepTimeout = 10 * time.Second

// Harness plays the connector side of one scenario.
type Harness struct {
	scenario *Scenario
	conn     *conn
	client   *http.Client

	vars   map[string]string
	last   *wire.Result
	result *Result
}

// Run executes scenario against a fresh protocol server.
//
// Each run gets its own contract directory, stub server and in-memory run
// database, and the server numbers verifications "verification-1",
// "verification-2" and so on. The error return is reserved for setup
// problems; whatever the flow and assertions find is reported in the
// Result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	stub := newStub(scenario.Stub)
	defer stub.Close()

	contracts, err := os.MkdirTemp("", "casecore-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create contract dir: %w", err)
	}
	defer os.RemoveAll(contracts)

	set, err := define.Load(scenario.Definitions)
	if err != nil {
		return nil, fmt.Errorf("failed to compile definitions: %w", err)
	}
	if _, err := define.Record(ctx, set, define.RecordOptions{
		BaseURL: stub.URL,
		Writer:  store.NewFiles(contracts),
		Logger:  logger,
	}); err != nil {
		return nil, fmt.Errorf("failed to record contract: %w", err)
	}

	db, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer db.Close()

	srv, err := protocol.NewServer(
		protocol.WithLogger(logger),
		protocol.WithIDGenerator(correlate.NewSequenceGenerator("verification")),
		protocol.WithRunRecorder(db),
	)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	serverEnd, clientEnd := transport.Pipe()
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, serverEnd) }()

	h := &Harness{
		scenario: scenario,
		client:   &http.Client{Timeout: DefaultStepTimeout},
		vars:     map[string]string{"stub": stub.URL, "contracts": contracts},
		result:   NewResult(scenario.Name),
	}
	h.conn = newConn(clientEnd, h.result)

	h.executeFlow(ctx)

	// Ending the stream lets in-flight runs finish and be recorded before
	// the assertions look at the database.
	clientEnd.Close()
	if err := <-served; err != nil {
		h.result.AddError(fmt.Sprintf("server: %v", err))
	}

	for _, msg := range EvaluateAssertions(ctx, h.result, scenario.Assertions, db) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

// executeFlow runs the steps in order. A step that cannot complete ends
// the flow; an unmet expectation is recorded and the flow continues.
func (h *Harness) executeFlow(ctx context.Context) {
	for i, step := range h.scenario.Flow {
		if err := h.executeStep(ctx, i, step); err != nil {
			h.result.AddError(fmt.Sprintf("flow[%d]: %v", i, err))
			return
		}
	}
}

func (h *Harness) executeStep(ctx context.Context, index int, step Step) error {
	timeout := h.scenario.StepTimeout
	if timeout == 0 {
		timeout = DefaultStepTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch {
	case step.Send != "":
		id := step.ID
		if id == "" {
			id = fmt.Sprintf("step-%d", index)
		}
		id = h.expand(id)
		payload, err := h.payload(step.Payload)
		if err != nil {
			return err
		}
		if err := h.conn.send(ctx, id, step.Send, payload); err != nil {
			return err
		}
		// A RESULT_RESPONSE is only answered when it is rejected.
		if step.Async || (step.Send == wire.KindResultResponse && step.Expect == nil) {
			return nil
		}
		return h.awaitResult(ctx, index, id, step.Expect)

	case step.Result != "":
		return h.awaitResult(ctx, index, h.expand(step.Result), step.Expect)

	case step.Await != "":
		msg, err := h.conn.event(ctx, step.Await)
		if err != nil {
			return err
		}
		h.capture(msg)
		return nil

	case step.Call != nil:
		return h.call(ctx, index, step.Call)
	}
	return fmt.Errorf("empty step")
}

func (h *Harness) awaitResult(ctx context.Context, index int, id string, expect *Expect) error {
	r, err := h.conn.result(ctx, id)
	if err != nil {
		return err
	}
	h.last = r
	if expect != nil {
		for _, problem := range checkExpect(r, expect) {
			h.result.AddError(fmt.Sprintf("flow[%d] (%s): %s", index, id, problem))
		}
	}
	return nil
}

// capture exposes the fields of a server-initiated request as variables.
func (h *Harness) capture(msg *wire.Message) {
	h.vars["event.id"] = msg.ID
	var start wire.StartTestEvent
	if msg.Kind == wire.KindStartTestEvent && msg.DecodePayload(&start) == nil {
		h.vars["event.testName"] = start.TestName
		h.vars["event.invokerId"] = start.InvokerID
		h.vars["event.baseUrl"] = start.Info["baseUrl"]
	}
}

func (h *Harness) call(ctx context.Context, index int, c *Call) error {
	base, ok := h.vars["event.baseUrl"]
	if !ok || base == "" {
		return fmt.Errorf("call before any event carried a baseUrl")
	}
	method := c.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, base+h.expand(c.Path), nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s %s: %w", method, c.Path, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if c.Status != 0 && resp.StatusCode != c.Status {
		h.result.AddError(fmt.Sprintf("flow[%d]: call %s %s answered %d, want %d", index, method, c.Path, resp.StatusCode, c.Status))
	}
	return nil
}

// expand replaces ${name} references with variables. Unknown names are
// left as they are.
func (h *Harness) expand(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	for name, value := range h.vars {
		s = strings.ReplaceAll(s, "${"+name+"}", value)
	}
	return s
}

// payload expands every string in p. A value that is exactly ${result}
// becomes the last result received.
func (h *Harness) payload(p map[string]any) (map[string]any, error) {
	if p == nil {
		return map[string]any{}, nil
	}
	out, err := h.expandValue(p)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func (h *Harness) expandValue(v any) (any, error) {
	switch val := v.(type) {
	case string:
		if val == "${result}" {
			if h.last == nil {
				return nil, errors.New("${result} used before any result was received")
			}
			return h.last, nil
		}
		return h.expand(val), nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			x, err := h.expandValue(item)
			if err != nil {
				return nil, err
			}
			out[k] = x
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			x, err := h.expandValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = x
		}
		return out, nil
	}
	return v, nil
}

// conn is the client end of the stream. Frames that arrive while the
// harness waits for something else are kept until asked for.
type conn struct {
	stream  transport.Stream
	trace   *Result
	results map[string]*wire.Result
	events  []*wire.Message
}

func newConn(s transport.Stream, trace *Result) *conn {
	return &conn{stream: s, trace: trace, results: map[string]*wire.Result{}}
}

func (c *conn) send(ctx context.Context, id string, kind wire.Kind, payload any) error {
	msg, err := wire.NewRequest(id, kind, payload)
	if err != nil {
		return err
	}
	frame, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	c.trace.trace(directionSent, msg, normalize(payload))
	return c.stream.Send(ctx, frame)
}

func (c *conn) result(ctx context.Context, id string) (*wire.Result, error) {
	for {
		if r, ok := c.results[id]; ok {
			delete(c.results, id)
			return r, nil
		}
		if err := c.read(ctx, "the result of "+id); err != nil {
			return nil, err
		}
	}
}

func (c *conn) event(ctx context.Context, kind wire.Kind) (*wire.Message, error) {
	for {
		for i, msg := range c.events {
			if msg.Kind == kind {
				c.events = append(c.events[:i], c.events[i+1:]...)
				return msg, nil
			}
		}
		if err := c.read(ctx, "a "+string(kind)+" event"); err != nil {
			return nil, err
		}
	}
}

func (c *conn) read(ctx context.Context, waitingFor string) error {
	frame, err := c.stream.Recv(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("timed out waiting for %s", waitingFor)
		}
		return fmt.Errorf("waiting for %s: %w", waitingFor, err)
	}
	msg, err := wire.Decode(frame)
	if err != nil {
		return err
	}
	if msg.Kind == wire.KindResult {
		if msg.Result == nil {
			return fmt.Errorf("RESULT %s carries no result", msg.ID)
		}
		c.trace.trace(directionReceived, msg, normalize(msg.Result.Value))
		c.results[msg.ID] = msg.Result
		return nil
	}
	var body any
	if len(msg.Payload) > 0 {
		_ = json.Unmarshal(msg.Payload, &body)
	}
	c.trace.trace(directionReceived, msg, body)
	c.events = append(c.events, msg)
	return nil
}
