package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/casecore/internal/config"
	"github.com/roach88/casecore/internal/protocol"
	"github.com/roach88/casecore/internal/store"
	"github.com/roach88/casecore/internal/telemetry"
	"github.com/roach88/casecore/internal/transport"
)

const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Stdio       bool
	Listen      string
	ContractDir string
	SQLitePath  string
	Watch       bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the verification protocol",
		Long: `Serve the verification protocol to a language connector.

With --stdio, one session runs over newline-delimited JSON on stdin and
stdout and ends at EOF. Otherwise casecore listens for websocket sessions
on /ws.

Example:
  casecore serve --stdio --contracts ./contracts
  casecore serve --listen 127.0.0.1:7171 --sqlite ./casecore.db --watch`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Stdio, "stdio", false, "serve one session on stdin/stdout")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "websocket listen address (overrides config)")
	cmd.Flags().StringVar(&opts.ContractDir, "contracts", "", "default contract directory (overrides config)")
	cmd.Flags().StringVar(&opts.SQLitePath, "sqlite", "", "record verification runs in this SQLite database")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "invalidate cached contracts when their files change")
	cmd.MarkFlagsMutuallyExclusive("stdio", "listen")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, logger, err := opts.settings(cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}
	if opts.ContractDir != "" {
		cfg.ContractDir = opts.ContractDir
	}
	if opts.SQLitePath != "" {
		cfg.SQLitePath = opts.SQLitePath
	}
	if opts.Watch {
		cfg.Watch = true
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "casecore", cfg.OTelEndpoint)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up tracing", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("flushing traces failed", "error", err)
		}
	}()

	srv, cleanup, err := buildServer(cfg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start server", err)
	}
	defer cleanup()

	if opts.Stdio {
		logger.Info("serving on stdio")
		if err := srv.Serve(ctx, transport.NewLines(cmd.InOrStdin(), cmd.OutOrStdout())); err != nil && !errors.Is(err, context.Canceled) {
			return WrapExitError(ExitFailure, "session failed", err)
		}
		return nil
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on ws://%s/ws\n", ln.Addr())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")
	if err := listenAndServe(ctx, ln, srv, logger); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	logger.Info("server stopped")
	return nil
}

// buildServer wires the contract source, run database and protocol
// server described by cfg. cleanup releases them in reverse order.
func buildServer(cfg config.Config, logger *slog.Logger) (srv *protocol.Server, cleanup func(), err error) {
	var closers []io.Closer
	cleanup = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.Warn("close failed", "error", err)
			}
		}
	}
	defer func() {
		if err != nil {
			cleanup()
		}
	}()

	var src store.Source
	if cfg.ContractDir != "" {
		files := store.NewFiles(cfg.ContractDir)
		src = files
		if cfg.CacheSize > 0 {
			cached, err := store.NewCached(files, cfg.CacheSize, logger)
			if err != nil {
				return nil, nil, err
			}
			src = cached
			if cfg.Watch {
				w, err := store.Watch(cfg.ContractDir, cached, logger)
				if err != nil {
					return nil, nil, err
				}
				closers = append(closers, w)
			}
		}
	}

	opts := []protocol.Option{
		protocol.WithLogger(logger),
		protocol.WithContractLoader(protocol.SourceLoader(src)),
	}
	if cfg.AwaitTimeout > 0 {
		opts = append(opts, protocol.WithAwaitTimeout(cfg.AwaitTimeout))
	}
	if cfg.SQLitePath != "" {
		db, err := store.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, db)
		opts = append(opts, protocol.WithRunRecorder(db))
	}

	srv, err = protocol.NewServer(opts...)
	if err != nil {
		return nil, nil, err
	}
	return srv, cleanup, nil
}

// listenAndServe serves websocket sessions on ln until ctx is done.
func listenAndServe(ctx context.Context, ln net.Listener, srv *protocol.Server, logger *slog.Logger) error {
	serve := func(ctx context.Context, s transport.Stream) error {
		return srv.Serve(ctx, s)
	}
	mux := http.NewServeMux()
	mux.Handle("/ws", transport.WebSocketHandler(serve, logger))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	httpSrv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})
	return g.Wait()
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
