package httpcase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/roach88/casecore/internal/failure"
	"github.com/roach88/casecore/internal/match"
	"github.com/roach88/casecore/internal/mock"
)

const (
	// shutdownTimeout bounds how long Close waits for in-flight requests.
	shutdownTimeout = 5 * time.Second

	// clientTimeout bounds a generated request to the system under test.
	clientTimeout = 30 * time.Second
)

// RegisterMocks installs the HTTP mock setup routines.
func RegisterMocks(d *mock.Dispatcher) {
	d.Register(mock.HTTPServer, SetupServer)
	d.Register(mock.HTTPClient, SetupClient)
}

// serverMock serves the expected response on a loopback listener and
// records the first request it sees.
type serverMock struct {
	mc      match.Context
	desc    mock.Descriptor
	resp    map[string]any
	srv     *http.Server
	baseURL string
	logger  *slog.Logger

	mu      sync.Mutex
	request map[string]any
	calls   int
}

// SetupServer starts a mock HTTP server for d.
func SetupServer(_ context.Context, mc match.Context, d mock.Descriptor, _ mock.Config) (mock.Handle, error) {
	stripped, err := match.Strip(mc, d.Response)
	if err != nil {
		return nil, err
	}
	resp, ok := stripped.(map[string]any)
	if !ok {
		return nil, failure.Core(mc.Location(), "http server mock needs an http response matcher, got %T", d.Response)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, failure.Wrap(failure.KindCore, fmt.Errorf("listen for mock server: %w", err))
	}

	m := &serverMock{
		mc:      mc,
		desc:    d,
		resp:    resp,
		baseURL: "http://" + ln.Addr().String(),
		logger:  mc.Logger(),
	}
	m.srv = &http.Server{
		Handler:           http.HandlerFunc(m.serveHTTP),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("mock server stopped", "url", m.baseURL, "error", err)
		}
	}()

	m.logger.Debug("mock server listening", "url", m.baseURL)
	return m, nil
}

func (m *serverMock) serveHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	data := RequestData(r, body)

	m.mu.Lock()
	m.calls++
	if m.request == nil {
		m.request = data
	}
	m.mu.Unlock()

	m.logger.Debug("mock server received request", "method", r.Method, "path", r.URL.Path)
	if err := writeResponse(w, m.resp); err != nil {
		m.logger.Error("write mock response", "error", err)
	}
}

func (m *serverMock) Info() mock.Info {
	return mock.Info{"baseUrl": m.baseURL}
}

// Exercise is a no-op; caller code sends the traffic.
func (m *serverMock) Exercise(context.Context) error {
	return nil
}

func (m *serverMock) Verify(ctx context.Context) ([]*match.MatchError, error) {
	m.mu.Lock()
	req, calls := m.request, m.calls
	m.mu.Unlock()

	if calls > 1 {
		m.logger.Warn("mock server was called more than once; only the first request is checked", "calls", calls)
	}
	if req == nil {
		return match.Check(ctx, m.mc, m.desc.Request, nil)
	}
	return match.Check(ctx, m.mc, m.desc.Request, req)
}

func (m *serverMock) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return m.srv.Shutdown(ctx)
}

// clientMock sends the expected request to the system under test and
// checks the response it gets back.
type clientMock struct {
	mc      match.Context
	desc    mock.Descriptor
	req     map[string]any
	baseURL string
	client  *http.Client
	logger  *slog.Logger

	mu       sync.Mutex
	response map[string]any
	sent     bool
}

// SetupClient prepares a mock HTTP client for d against cfg.BaseURL.
func SetupClient(_ context.Context, mc match.Context, d mock.Descriptor, cfg mock.Config) (mock.Handle, error) {
	if cfg.BaseURL == "" {
		return nil, failure.Configuration(mc.Location(),
			"no base URL for the system under test was configured; set one before verifying %s", d.Type)
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, failure.Configuration(mc.Location(), "invalid base URL %q: %v", cfg.BaseURL, err)
	}
	stripped, err := match.Strip(mc, d.Request)
	if err != nil {
		return nil, err
	}
	req, ok := stripped.(map[string]any)
	if !ok {
		return nil, failure.Core(mc.Location(), "http client mock needs an http request matcher, got %T", d.Request)
	}
	return &clientMock{
		mc:      mc,
		desc:    d,
		req:     req,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: clientTimeout},
		logger:  mc.Logger(),
	}, nil
}

func (c *clientMock) Info() mock.Info {
	return mock.Info{"baseUrl": c.baseURL}
}

func (c *clientMock) Exercise(ctx context.Context) error {
	httpReq, err := BuildRequest(ctx, c.baseURL, c.req)
	if err != nil {
		return failure.Wrap(failure.KindCore, err)
	}

	c.logger.Debug("sending request to system under test", "method", httpReq.Method, "url", httpReq.URL.String())
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return failure.Configuration(c.mc.Location(),
			"unable to reach the system under test at %s: %v", c.baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure.Configuration(c.mc.Location(), "read response from %s: %v", c.baseURL, err)
	}

	c.mu.Lock()
	c.response = ResponseData(resp, body)
	c.sent = true
	c.mu.Unlock()
	return nil
}

func (c *clientMock) Verify(ctx context.Context) ([]*match.MatchError, error) {
	c.mu.Lock()
	resp, sent := c.response, c.sent
	c.mu.Unlock()
	if !sent {
		return nil, failure.Core(c.mc.Location(), "the http client mock was verified before its request was sent")
	}
	return match.Check(ctx, c.mc, c.desc.Response, resp)
}

func (c *clientMock) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// RequestData converts an incoming request into the shape the http-request
// matcher checks.
func RequestData(r *http.Request, body []byte) map[string]any {
	data := map[string]any{
		"method":  r.Method,
		"path":    r.URL.Path,
		"headers": headerData(r.Header),
	}
	if q := r.URL.Query(); len(q) > 0 {
		query := make(map[string]any, len(q))
		for k, vs := range q {
			if len(vs) == 1 {
				query[k] = vs[0]
				continue
			}
			all := make([]any, len(vs))
			for i, v := range vs {
				all[i] = v
			}
			query[k] = all
		}
		data["query"] = query
	}
	if b := decodeBody(body); b != nil {
		data["body"] = b
	}
	return data
}

// ResponseData converts a response into the shape the http-response
// matcher checks.
func ResponseData(resp *http.Response, body []byte) map[string]any {
	data := map[string]any{
		"status":  resp.StatusCode,
		"headers": headerData(resp.Header),
	}
	if b := decodeBody(body); b != nil {
		data["body"] = b
	}
	return data
}

func headerData(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for k, vs := range h {
		out[strings.ToLower(k)] = strings.Join(vs, ", ")
	}
	return out
}

// decodeBody parses JSON bodies and passes anything else through as text.
func decodeBody(body []byte) any {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if json.Valid(body) {
		var v any
		if err := json.Unmarshal(body, &v); err == nil {
			return v
		}
	}
	return string(body)
}

// encodeBody renders a stripped body and the content type it implies.
func encodeBody(body any) ([]byte, string, error) {
	if s, ok := body.(string); ok {
		return []byte(s), "text/plain; charset=utf-8", nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		return nil, "", fmt.Errorf("encode body: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), "application/json", nil
}

func setHeaders(h http.Header, headers any) {
	obj, ok := headers.(map[string]any)
	if !ok {
		return
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		h.Set(k, fmt.Sprint(obj[k]))
	}
}

func writeResponse(w http.ResponseWriter, resp map[string]any) error {
	status, _ := statusCode(resp["status"])
	setHeaders(w.Header(), resp["headers"])

	body, ok := resp["body"]
	if !ok || body == nil {
		w.WriteHeader(status)
		return nil
	}
	raw, contentType, err := encodeBody(body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return err
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(status)
	_, err = w.Write(raw)
	return err
}

// BuildRequest turns a stripped http-request example into a request
// against baseURL.
func BuildRequest(ctx context.Context, baseURL string, req map[string]any) (*http.Request, error) {
	method, _ := req["method"].(string)
	path, _ := req["path"].(string)

	u, err := url.Parse(baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("build request url: %w", err)
	}
	if query, ok := req["query"].(map[string]any); ok {
		values := u.Query()
		for k, v := range query {
			switch vs := v.(type) {
			case []any:
				for _, item := range vs {
					values.Add(k, fmt.Sprint(item))
				}
			default:
				values.Set(k, fmt.Sprint(vs))
			}
		}
		u.RawQuery = values.Encode()
	}

	var (
		reader      io.Reader
		contentType string
	)
	if body, ok := req["body"]; ok && body != nil {
		raw, ct, err := encodeBody(body)
		if err != nil {
			return nil, err
		}
		reader, contentType = bytes.NewReader(raw), ct
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	setHeaders(httpReq.Header, req["headers"])
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	return httpReq, nil
}
