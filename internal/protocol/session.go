package protocol

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/casecore/internal/config"
	"github.com/roach88/casecore/internal/contract"
	"github.com/roach88/casecore/internal/correlate"
	"github.com/roach88/casecore/internal/failure"
	"github.com/roach88/casecore/internal/match"
	"github.com/roach88/casecore/internal/mock"
	"github.com/roach88/casecore/internal/plugin"
	"github.com/roach88/casecore/internal/wire"
)

type sessionState int

const (
	stateIdle sessionState = iota
	stateConfigured
	stateActive
	stateClosed
)

func (st sessionState) String() string {
	switch st {
	case stateIdle:
		return "IDLE"
	case stateConfigured:
		return "CONFIGURED"
	case stateActive:
		return "ACTIVE"
	case stateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// session is the server side of one stream.
//
// Thread-safety: handlers run concurrently; mu guards every field below
// it. The registry and dispatcher are per-session clones with their own
// locks.
type session struct {
	server     *Server
	stream     Stream
	table      *correlate.Table
	outbox     *outbox
	registry   *match.Registry
	dispatcher *mock.Dispatcher

	mu             sync.Mutex
	logger         *slog.Logger
	state          sessionState
	verificationID string
	config         wire.Config
	callerVersions []string
	contracts      []*contract.Contract
	loaded         []plugin.Loaded
	invocations    int
	// active counts RUN_VERIFICATION requests still in flight; the session
	// is ACTIVE while it is positive.
	active int
}

func (s *Server) newSession(stream Stream) *session {
	return &session{
		server: s,
		stream: stream,
		table: correlate.New(
			correlate.WithIDGenerator(s.ids),
			correlate.WithAwaitTimeout(s.awaitTimeout),
			correlate.WithLogger(s.logger)),
		outbox:     newOutbox(),
		registry:   s.registry.Clone(),
		dispatcher: s.dispatcher.Clone(),
		logger:     s.logger,
	}
}

func (sess *session) log() *slog.Logger {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.logger
}

// logEnd summarises the session once its stream has ended.
func (sess *session) logEnd() {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.logger.Info("session ended",
		"contracts", len(sess.contracts),
		"plugins", len(sess.loaded),
		"delegated", sess.invocations)
}

// close moves the session to CLOSED and fails every pending await.
func (sess *session) close() {
	sess.mu.Lock()
	sess.state = stateClosed
	sess.mu.Unlock()
	sess.table.Close(ErrStreamClosed)
}

func (sess *session) reply(id string, r *wire.Result) {
	sess.send(wire.NewResult(id, r))
}

func (sess *session) send(m *wire.Message) {
	if !sess.outbox.Enqueue(m) {
		sess.log().Debug("dropping message after stream end", "id", m.ID, "kind", m.Kind)
	}
}

// writeLoop is the only sender on the stream. It exits once the outbox is
// closed and drained, or ctx is done.
func (sess *session) writeLoop(ctx context.Context) {
	for {
		for {
			m, ok := sess.outbox.TryDequeue()
			if !ok {
				break
			}
			sess.write(ctx, m)
		}
		if sess.outbox.Drained() {
			return
		}
		select {
		case <-sess.outbox.Wait():
		case <-ctx.Done():
			return
		}
	}
}

func (sess *session) write(ctx context.Context, m *wire.Message) {
	frame, err := wire.Encode(m)
	if err != nil {
		sess.log().Error("encode message failed", "id", m.ID, "kind", m.Kind, "error", err)
		frame, err = wire.Encode(wire.NewResult(m.ID, wire.FromError(failure.Core(nil, "unencodable %s: %v", m.Kind, err))))
		if err != nil {
			return
		}
	}
	if err := sess.stream.Send(ctx, frame); err != nil {
		sess.log().Warn("send failed", "id", m.ID, "kind", m.Kind, "error", err)
	}
}

func decodePayload(msg *wire.Message, v any) *wire.Result {
	if err := msg.DecodePayload(v); err != nil {
		return wire.FromError(failure.Core(nil, "malformed %s payload: %v", msg.Kind, err))
	}
	return nil
}

func (sess *session) begin(ctx context.Context, msg *wire.Message) *wire.Result {
	var p wire.BeginVerification
	if r := decodePayload(msg, &p); r != nil {
		return r
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.state != stateIdle {
		return wire.FromError(failure.Configuration(nil,
			"BEGIN_VERIFICATION may only be sent once (session is %s)", sess.state))
	}

	logger := sess.logger
	if p.Config.LogLevel != "" {
		level, err := config.ParseLogLevel(p.Config.LogLevel)
		if err != nil {
			return wire.FromError(err)
		}
		logger = slog.New(levelHandler{level: level, Handler: logger.Handler()})
	}

	contracts, err := sess.server.loader(ctx, p.Config)
	if err != nil {
		return wire.FromError(err)
	}

	sess.verificationID = sess.server.ids.Generate()
	sess.logger = logger.With("verification", sess.verificationID)
	sess.config = p.Config
	sess.callerVersions = p.CallerVersions
	sess.contracts = contracts
	sess.state = stateConfigured

	sess.logger.Info("verification begun",
		"contracts", len(contracts),
		"callerVersions", p.CallerVersions)
	return wire.Success(wire.BeginVerificationResult{VerificationID: sess.verificationID})
}

func (sess *session) loadPlugin(msg *wire.Message) *wire.Result {
	var p wire.LoadPlugin
	if r := decodePayload(msg, &p); r != nil {
		return r
	}
	if len(p.ModuleNames) == 0 {
		return wire.FromError(failure.Configuration(nil, "LOAD_PLUGIN needs at least one module name"))
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.state == stateClosed {
		return wire.FromError(failure.Core(nil, "session is closed"))
	}
	loaded, err := sess.server.catalog.Load(p.ModuleNames, sess.registry, sess.dispatcher)
	if err != nil {
		return wire.FromError(err)
	}
	sess.loaded = append(sess.loaded, loaded...)
	sess.logger.Info("plugins loaded", "modules", p.ModuleNames, "callerVersions", p.CallerVersions)
	return wire.Success(map[string]any{"loaded": loaded})
}

func (sess *session) available() *wire.Result {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.state == stateIdle {
		return wire.FromError(failure.Configuration(nil,
			"AVAILABLE_CONTRACT_DEFINITIONS was sent before BEGIN_VERIFICATION"))
	}
	defs := []wire.ContractDefinition{}
	for _, c := range sess.contracts {
		for i, in := range c.Interactions {
			defs = append(defs, wire.ContractDefinition{
				TestName:    c.TestName(i),
				Description: in.Description,
				Consumer:    c.Consumer,
				Provider:    c.Provider,
			})
		}
	}
	return wire.Success(defs)
}

func (sess *session) run(ctx context.Context, msg *wire.Message) *wire.Result {
	var p wire.RunVerification
	if r := decodePayload(msg, &p); r != nil {
		return r
	}

	sess.mu.Lock()
	switch sess.state {
	case stateIdle:
		sess.mu.Unlock()
		return wire.FromError(failure.Configuration(nil, "RUN_VERIFICATION was sent before BEGIN_VERIFICATION"))
	case stateClosed:
		sess.mu.Unlock()
		return wire.FromError(failure.Core(nil, "session is closed"))
	}
	cfg, reload := mergeConfig(sess.config, p.Config)
	contracts := sess.contracts
	verificationID := sess.verificationID
	logger := sess.logger
	// Runs may overlap; each gets its own verifiers and correlation ids.
	sess.active++
	sess.state = stateActive
	sess.mu.Unlock()

	defer func() {
		sess.mu.Lock()
		sess.active--
		if sess.active == 0 && sess.state == stateActive {
			sess.state = stateConfigured
		}
		sess.mu.Unlock()
	}()

	if reload {
		loaded, err := sess.server.loader(ctx, cfg)
		if err != nil {
			return wire.FromError(err)
		}
		contracts = loaded
	}

	opts := []contract.Option{
		contract.WithRegistry(sess.registry),
		contract.WithDispatcher(sess.dispatcher),
		contract.WithLogger(logger),
		contract.WithBaseURL(cfg.BaseURL),
		contract.WithStateHandlers(contract.StaticStates(cfg.States)),
		contract.WithRunTest(sess.runTest),
	}

	reports := []*contract.Report{}
	var firstFailed *contract.InteractionResult
	for _, c := range contracts {
		filter := contract.Filter{TestNames: selectNames(c, cfg.TestNames)}
		if len(cfg.TestNames) > 0 && len(filter.TestNames) == 0 {
			continue
		}
		v, err := contract.NewVerifier(c, opts...)
		if err != nil {
			return wire.FromError(err)
		}
		report, err := v.Run(ctx, filter)
		if err != nil {
			return wire.FromError(err)
		}
		reports = append(reports, report)
		if sess.server.runs != nil {
			if err := sess.server.runs.RecordRun(ctx, verificationID, c, report); err != nil {
				logger.Warn("recording verification run failed", "contract", c.Filename(), "error", err)
			}
		}
		if firstFailed == nil {
			for _, res := range report.Results {
				if !res.Pass {
					firstFailed = res
					break
				}
			}
		}
	}

	if len(reports) == 0 {
		return wire.FromError(failure.Configuration(nil, "no interactions matched %v", cfg.TestNames))
	}
	if firstFailed == nil {
		return wire.Success(reports)
	}
	result := wire.FromError(firstFailed.Err())
	result.Value = reports
	return result
}

// runTest delegates one trigger-based interaction to the caller. Two ids
// are allocated: the invoker id, whose hook runs the core verification
// when INVOKE_TEST arrives, and the event id that RESULT_RESPONSE answers.
func (sess *session) runTest(ctx context.Context, testName string, info mock.Info, invoke contract.Invoker) error {
	invokerID := sess.table.NewID(func(v any) (any, error) {
		requestID, ok := v.(string)
		if !ok {
			return nil, failure.Core(nil, "invoker for %q was resolved without a request id", testName)
		}
		res := invoke(ctx)
		sess.reply(requestID, interactionResult(res))
		return res, nil
	})
	eventID := sess.table.NewID(nil)

	event, err := wire.NewRequest(eventID, wire.KindStartTestEvent, wire.StartTestEvent{
		TestName:  testName,
		InvokerID: invokerID,
		Info:      info,
	})
	if err != nil {
		return failure.Core(nil, "encode test event for %q: %v", testName, err)
	}

	sess.mu.Lock()
	sess.invocations++
	logger := sess.logger
	sess.mu.Unlock()

	logger.Debug("delegating test", "test", testName, "event", eventID, "invoker", invokerID)
	sess.send(event)

	v, err := sess.table.Await(ctx, eventID)
	if err != nil {
		return failure.Trigger(err, "no result for test %q", testName)
	}
	r, ok := v.(*wire.Result)
	if !ok {
		return failure.Core(nil, "test event for %q was answered with %T", testName, v)
	}
	return r.Err()
}

func (sess *session) invokeTest(msg *wire.Message) *wire.Result {
	var p wire.InvokeTest
	if r := decodePayload(msg, &p); r != nil {
		return r
	}
	if p.InvokerID == "" {
		return wire.FromError(failure.Core(nil, "INVOKE_TEST needs an invokerId"))
	}
	if err := sess.table.Resolve(p.InvokerID, msg.ID); err != nil {
		return resolveFailure(err, "cannot invoke test %s", p.InvokerID)
	}
	// The hook has replied.
	return nil
}

func (sess *session) resultResponse(msg *wire.Message) *wire.Result {
	var p wire.ResultResponse
	if r := decodePayload(msg, &p); r != nil {
		return r
	}
	if p.Result == nil {
		return wire.FromError(failure.Core(nil, "RESULT_RESPONSE needs a result"))
	}
	if err := sess.table.Resolve(msg.ID, p.Result); err != nil {
		return resolveFailure(err, "no pending test event with id %s", msg.ID)
	}
	return nil
}

func resolveFailure(err error, format string, args ...any) *wire.Result {
	if errors.Is(err, correlate.ErrUnknownID) || errors.Is(err, correlate.ErrAlreadyResolved) {
		return wire.FromError(failure.Configuration(nil, format+": %v", append(args, err)...))
	}
	return wire.FromError(err)
}

func interactionResult(res *contract.InteractionResult) *wire.Result {
	if res.Pass {
		return wire.Success(res)
	}
	r := wire.FromError(res.Err())
	r.Value = res
	return r
}

// mergeConfig overlays a run's configuration on the session's. reload is
// set when the run names its own contracts.
func mergeConfig(base, run wire.Config) (cfg wire.Config, reload bool) {
	cfg = base
	if len(run.Contract) > 0 || run.ContractFile != "" || run.ContractDir != "" {
		cfg.Contract, cfg.ContractFile, cfg.ContractDir = run.Contract, run.ContractFile, run.ContractDir
		reload = true
	}
	if run.BaseURL != "" {
		cfg.BaseURL = run.BaseURL
	}
	if run.States != nil {
		cfg.States = run.States
	}
	if len(run.TestNames) > 0 {
		cfg.TestNames = run.TestNames
	}
	return cfg, reload
}

func selectNames(c *contract.Contract, names []string) []string {
	if len(names) == 0 {
		return nil
	}
	var out []string
	for _, n := range c.TestNames() {
		if slices.Contains(names, n) {
			out = append(out, n)
		}
	}
	return out
}

// levelHandler drops records below level before they reach the wrapped
// handler.
type levelHandler struct {
	level slog.Level
	slog.Handler
}

func (h levelHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= h.level && h.Handler.Enabled(ctx, l)
}

func (h levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return levelHandler{level: h.level, Handler: h.Handler.WithAttrs(attrs)}
}

func (h levelHandler) WithGroup(name string) slog.Handler {
	return levelHandler{level: h.level, Handler: h.Handler.WithGroup(name)}
}
