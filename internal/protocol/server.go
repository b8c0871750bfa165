package protocol

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/casecore/internal/contract"
	"github.com/roach88/casecore/internal/correlate"
	"github.com/roach88/casecore/internal/failure"
	"github.com/roach88/casecore/internal/match"
	"github.com/roach88/casecore/internal/mock"
	"github.com/roach88/casecore/internal/plugin"
	"github.com/roach88/casecore/internal/plugin/httpcase"
	"github.com/roach88/casecore/internal/telemetry"
	"github.com/roach88/casecore/internal/wire"
)

// ErrStreamClosed releases pending awaits when the caller goes away.
var ErrStreamClosed = errors.New("verification stream closed")

// Stream carries encoded frames to and from one caller.
// transport.Lines, transport.WebSocket and transport.PipeEnd implement it.
type Stream interface {
	Recv(ctx context.Context) ([]byte, error)
	Send(ctx context.Context, frame []byte) error
}

// RunRecorder stores verification outcomes. store.SQLite implements it.
type RunRecorder interface {
	RecordRun(ctx context.Context, verificationID string, c *contract.Contract, report *contract.Report) error
}

// Server serves verification sessions, one per stream.
type Server struct {
	catalog      *plugin.Catalog
	preload      []string
	registry     *match.Registry
	dispatcher   *mock.Dispatcher
	logger       *slog.Logger
	ids          correlate.IDGenerator
	awaitTimeout time.Duration
	loader       ContractLoader
	runs         RunRecorder
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithCatalog sets the plugins LOAD_PLUGIN may install. Default:
// plugin.Default().
func WithCatalog(c *plugin.Catalog) Option {
	return func(s *Server) {
		s.catalog = c
	}
}

// WithPreload sets the modules every session starts with. Default: the
// http plugin.
func WithPreload(names ...string) Option {
	return func(s *Server) {
		s.preload = names
	}
}

// WithIDGenerator sets the generator for verification and correlation
// ids. Default: UUIDv7.
func WithIDGenerator(g correlate.IDGenerator) Option {
	return func(s *Server) {
		s.ids = g
	}
}

// WithAwaitTimeout bounds how long a delegated test may take. Zero (the
// default) waits until the stream closes.
func WithAwaitTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.awaitTimeout = d
	}
}

// WithContractLoader sets how configured contracts are read. Default:
// LoadContracts.
func WithContractLoader(l ContractLoader) Option {
	return func(s *Server) {
		s.loader = l
	}
}

// WithRunRecorder stores every verification report.
func WithRunRecorder(r RunRecorder) Option {
	return func(s *Server) {
		s.runs = r
	}
}

// NewServer builds a server and installs the preloaded plugins into its
// base registry.
func NewServer(opts ...Option) (*Server, error) {
	s := &Server{
		catalog: plugin.Default(),
		preload: []string{httpcase.ModuleName},
		logger:  slog.Default(),
		ids:     correlate.UUIDv7Generator{},
		loader:  LoadContracts,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registry = match.NewRegistry(match.WithRegistryLogger(s.logger))
	s.dispatcher = mock.NewDispatcher(mock.WithLogger(s.logger))
	if _, err := s.catalog.Load(s.preload, s.registry, s.dispatcher); err != nil {
		return nil, err
	}
	return s, nil
}

// Serve runs one session until the stream ends or ctx is cancelled. At
// end of stream every pending delegated test is released, in-flight
// requests finish, and their replies are flushed before Serve returns.
func (s *Server) Serve(ctx context.Context, stream Stream) error {
	sess := s.newSession(stream)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		sess.writeLoop(ctx)
	}()

	var (
		wg      sync.WaitGroup
		recvErr error
	)
	for {
		frame, err := stream.Recv(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				recvErr = err
			}
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.handle(ctx, frame)
		}()
	}

	sess.close()
	wg.Wait()
	sess.outbox.Close()
	<-writerDone
	sess.logEnd()

	if recvErr != nil && ctx.Err() == nil {
		return recvErr
	}
	return nil
}

// handle decodes one frame and dispatches it by kind.
func (sess *session) handle(ctx context.Context, frame []byte) {
	msg, err := wire.Decode(frame)
	if err != nil {
		sess.reply("", wire.FromError(failure.Core(nil, "malformed message: %v", err)))
		return
	}
	if err := msg.Validate(); err != nil {
		sess.reply(msg.ID, wire.FromError(failure.Core(nil, "%v", err)))
		return
	}

	ctx, span := telemetry.Start(ctx, "protocol."+strings.ToLower(string(msg.Kind)),
		attribute.String("message.id", msg.ID))
	var result *wire.Result
	defer func() {
		var err error
		if result != nil {
			err = result.Err()
		}
		telemetry.End(span, err)
	}()

	sess.log().Debug("request received", "id", msg.ID, "kind", msg.Kind)
	switch msg.Kind {
	case wire.KindBeginVerification:
		result = sess.begin(ctx, msg)
	case wire.KindLoadPlugin:
		result = sess.loadPlugin(msg)
	case wire.KindAvailableContractDefinitions:
		result = sess.available()
	case wire.KindRunVerification:
		result = sess.run(ctx, msg)
	case wire.KindInvokeTest:
		result = sess.invokeTest(msg)
	case wire.KindResultResponse:
		result = sess.resultResponse(msg)
	default:
		result = wire.FromError(failure.Core(nil, "no handler for %s", msg.Kind))
	}
	if result != nil {
		sess.reply(msg.ID, result)
	}
}
