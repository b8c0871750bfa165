package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/casecore/internal/failure"
	"github.com/roach88/casecore/internal/store"
)

// ContractsOptions holds flags shared by the contracts subcommands.
type ContractsOptions struct {
	*RootOptions
	ContractDir string
	SQLitePath  string
}

// NewContractsCommand creates the contracts command group.
func NewContractsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ContractsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "contracts",
		Short: "Inspect stored contracts and verification runs",
	}
	cmd.PersistentFlags().StringVar(&opts.ContractDir, "contracts", "", "contract directory (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.SQLitePath, "sqlite", "", "contract database (overrides config)")

	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List contracts in the database, or the directory if no database is configured",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runContractsList(opts, cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "runs <consumer> <provider>",
		Short:         "List verification runs between a consumer and a provider",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runContractsRuns(opts, args[0], args[1], cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "show <consumer> <provider>",
		Short:         "Describe the latest stored contract between a consumer and a provider",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runContractsShow(opts, args[0], args[1], cmd)
		},
	})
	return cmd
}

type fileList []string

func (l fileList) Text(w io.Writer) error {
	if len(l) == 0 {
		_, err := fmt.Fprintln(w, "No contracts.")
		return err
	}
	_, err := fmt.Fprintln(w, strings.Join(l, "\n"))
	return err
}

type summaryList []store.ContractSummary

func (l summaryList) Text(w io.Writer) error {
	if len(l) == 0 {
		_, err := fmt.Fprintln(w, "No contracts.")
		return err
	}
	var b strings.Builder
	for _, s := range l {
		fmt.Fprintf(&b, "%s -> %s  #%d  %d interaction(s)  %s\n", s.Consumer, s.Provider, s.Seq, s.Interactions, s.Hash)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

type runList []store.Run

func (l runList) Text(w io.Writer) error {
	if len(l) == 0 {
		_, err := fmt.Fprintln(w, "No verification runs.")
		return err
	}
	var b strings.Builder
	for _, r := range l {
		verdict := "pass"
		if !r.Pass {
			verdict = "FAIL"
		}
		fmt.Fprintf(&b, "%s  %s  %d/%d failed  %s\n", r.CreatedAt, verdict, r.Failures, r.Interactions, r.VerificationID)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// database opens the configured SQLite database, or returns nil when
// none is configured.
func (o *ContractsOptions) database(cmd *cobra.Command) (*store.SQLite, string, error) {
	cfg, _, err := o.settings(cmd)
	if err != nil {
		return nil, "", err
	}
	dir := cfg.ContractDir
	if o.ContractDir != "" {
		dir = o.ContractDir
	}
	path := cfg.SQLitePath
	if o.SQLitePath != "" {
		path = o.SQLitePath
	}
	if path == "" {
		return nil, dir, nil
	}
	db, err := store.Open(path)
	return db, dir, err
}

func runContractsList(opts *ContractsOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	db, dir, err := opts.database(cmd)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to open contracts", err)
	}
	ctx := commandContext(cmd)
	if db == nil {
		names, err := store.NewFiles(dir).List(ctx)
		if err != nil {
			return formatter.Fail(ExitCommandError, "failed to list contracts", err)
		}
		return formatter.Success(fileList(names))
	}
	defer db.Close()
	summaries, err := db.List(ctx)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to list contracts", err)
	}
	return formatter.Success(summaryList(summaries))
}

func (o *ContractsOptions) requireDatabase(cmd *cobra.Command) (*store.SQLite, error) {
	db, _, err := o.database(cmd)
	if err != nil {
		return nil, err
	}
	if db == nil {
		return nil, failure.Configuration(nil, "no contract database configured: pass --sqlite or set sqlite_path")
	}
	return db, nil
}

func runContractsRuns(opts *ContractsOptions, consumer, provider string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	db, err := opts.requireDatabase(cmd)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to open contracts", err)
	}
	defer db.Close()
	runs, err := db.Runs(commandContext(cmd), consumer, provider)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to list runs", err)
	}
	return formatter.Success(runList(runs))
}

func runContractsShow(opts *ContractsOptions, consumer, provider string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	db, err := opts.requireDatabase(cmd)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to open contracts", err)
	}
	defer db.Close()
	c, err := db.Latest(commandContext(cmd), consumer, provider)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to load contract", err)
	}
	return formatter.Success(describeContract(c))
}
