package define

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/roach88/casecore/internal/contract"
	"github.com/roach88/casecore/internal/failure"
	"github.com/roach88/casecore/internal/match"
	"github.com/roach88/casecore/internal/mock"
	"github.com/roach88/casecore/internal/plugin"
	"github.com/roach88/casecore/internal/plugin/httpcase"
)

// RecordOptions configures Record.
type RecordOptions struct {
	// BaseURL is the consumer server that "receive" interactions call.
	BaseURL string
	// Writer receives the finished contract. Optional.
	Writer contract.Writer
	Logger *slog.Logger
	// CallerVersions are stored in the contract metadata.
	CallerVersions []string
}

// Record runs every interaction of set through a contract recorder. Send
// interactions are exercised by replaying their own request example
// against the mock; receive interactions call opts.BaseURL. Recording
// stops at the first failing interaction.
func Record(ctx context.Context, set *Set, opts RecordOptions) (*contract.Contract, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := match.NewRegistry(match.WithRegistryLogger(logger))
	disp := mock.NewDispatcher(mock.WithLogger(logger))
	catalog := plugin.Default()
	if _, err := catalog.Load(catalog.Names(), reg, disp); err != nil {
		return nil, err
	}

	rec, err := contract.NewRecorder(set.Consumer, set.Provider,
		contract.WithRegistry(reg),
		contract.WithDispatcher(disp),
		contract.WithLogger(logger),
		contract.WithBaseURL(opts.BaseURL),
		contract.WithCallerVersions(opts.CallerVersions...))
	if err != nil {
		return nil, err
	}

	for _, in := range set.Interactions {
		var trigger contract.Trigger
		if in.Direction == DirectionSend {
			trigger = Replay(reg, in.Definition)
		}
		if _, err := rec.Record(ctx, in.Definition, trigger); err != nil {
			return nil, fmt.Errorf("record %q: %w", in.Name, err)
		}
	}
	return rec.End(ctx, opts.Writer)
}

var replayClient = &http.Client{Timeout: 30 * time.Second}

// Replay returns a trigger that plays the consumer: it strips the
// definition's request matcher to its example and sends it to the mock.
func Replay(reg *match.Registry, def contract.Definition) contract.Trigger {
	return func(ctx context.Context, info mock.Info) error {
		tables := match.NewTables()
		for _, state := range def.States {
			for name, node := range state.Variables {
				tables.AddDefaultVariable(name, node)
			}
		}
		mc := match.NewContext(reg, match.ModeWrite, match.WithTables(tables))
		stripped, err := match.Strip(mc, def.Mock.Request)
		if err != nil {
			return err
		}
		example, ok := stripped.(map[string]any)
		if !ok {
			return failure.Core(nil, "replay needs an http request example, got %T", stripped)
		}
		baseURL := info["baseUrl"]
		if baseURL == "" {
			return errors.New("mock reported no baseUrl")
		}
		req, err := httpcase.BuildRequest(ctx, baseURL, example)
		if err != nil {
			return err
		}
		resp, err := replayClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, err = io.Copy(io.Discard, resp.Body)
		return err
	}
}
