package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/casecore/internal/contract"
	"github.com/roach88/casecore/internal/define"
	"github.com/roach88/casecore/internal/store"
)

// DefineOptions holds flags for the define command.
type DefineOptions struct {
	*RootOptions
	OutDir     string
	BaseURL    string
	SQLitePath string
}

// NewDefineCommand creates the define command.
func NewDefineCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DefineOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "define <definitions-dir>",
		Short: "Record a contract from CUE definitions",
		Long: `Record a contract from CUE interaction definitions.

Interactions sent by the consumer are recorded by replaying their own
request examples. Interactions the provider sends to the consumer are
recorded against the running consumer at --base-url.

Example:
  casecore define ./definitions --out ./contracts
  casecore define ./definitions --out ./contracts --base-url http://localhost:3000`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDefine(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.OutDir, "out", "o", "", "contract output directory (default: config contract_dir)")
	cmd.Flags().StringVar(&opts.BaseURL, "base-url", "", "consumer server for provider-initiated interactions")
	cmd.Flags().StringVar(&opts.SQLitePath, "sqlite", "", "also store the contract in this SQLite database")

	return cmd
}

type defineResult struct {
	File         string `json:"file"`
	Consumer     string `json:"consumer"`
	Provider     string `json:"provider"`
	Interactions int    `json:"interactions"`
	Hash         string `json:"hash"`
}

func (r *defineResult) Text(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Recorded %d interaction(s) between %s and %s\n  %s (%s)\n",
		r.Interactions, r.Consumer, r.Provider, r.File, r.Hash)
	return err
}

// writers saves a contract to every destination in order.
type writers []contract.Writer

func (ws writers) Save(ctx context.Context, c *contract.Contract) error {
	for _, w := range ws {
		if err := w.Save(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func runDefine(opts *DefineOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	cfg, logger, err := opts.settings(cmd)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to load configuration", err)
	}
	out := opts.OutDir
	if out == "" {
		out = cfg.ContractDir
	}
	if opts.SQLitePath != "" {
		cfg.SQLitePath = opts.SQLitePath
	}

	set, err := define.Load(dir)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to compile definitions", err)
	}
	formatter.VerboseLog("Compiled %d interaction(s) from %s", len(set.Interactions), dir)

	ws := writers{store.NewFiles(out)}
	if cfg.SQLitePath != "" {
		db, err := store.Open(cfg.SQLitePath)
		if err != nil {
			return formatter.Fail(ExitCommandError, "failed to open database", err)
		}
		defer db.Close()
		ws = append(ws, db)
	}

	c, err := define.Record(commandContext(cmd), set, define.RecordOptions{
		BaseURL:        opts.BaseURL,
		Writer:         ws,
		Logger:         logger,
		CallerVersions: []string{"casecore-cli@" + contract.CoreVersion},
	})
	if err != nil {
		return formatter.Fail(ExitFailure, "recording failed", err)
	}
	return formatter.Success(&defineResult{
		File:         filepath.Join(out, c.Filename()),
		Consumer:     c.Consumer,
		Provider:     c.Provider,
		Interactions: len(c.Interactions),
		Hash:         c.Metadata.Hash,
	})
}
