package cli

import (
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/roach88/casecore/internal/contract"
	"github.com/roach88/casecore/internal/correlate"
	"github.com/roach88/casecore/internal/failure"
	"github.com/roach88/casecore/internal/protocol"
	"github.com/roach88/casecore/internal/store"
	"github.com/roach88/casecore/internal/wire"
)

// maxParallelContracts bounds how many contracts verify at once.
const maxParallelContracts = 4

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	ContractDir  string
	ContractFile string
	BaseURL      string
	StatesFile   string
	TestNames    []string
	SQLitePath   string
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify contracts against a running provider",
		Long: `Verify contracts against a running provider.

Every interaction whose request is sent by the consumer is replayed against
--base-url and the response is checked. Provider-state variables are read
from --states, a YAML or JSON map of state name to variables.

Example:
  casecore verify --contracts ./contracts --base-url http://localhost:8080
  casecore verify --contract web-things.case.json --base-url http://localhost:8080 --states states.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ContractDir, "contracts", "", "contract directory (overrides config)")
	cmd.Flags().StringVar(&opts.ContractFile, "contract", "", "single contract file")
	cmd.Flags().StringVar(&opts.BaseURL, "base-url", "", "provider under test (overrides config)")
	cmd.Flags().StringVar(&opts.StatesFile, "states", "", "provider-state variables file")
	cmd.Flags().StringSliceVar(&opts.TestNames, "test", nil, "only verify the named tests (repeatable)")
	cmd.Flags().StringVar(&opts.SQLitePath, "sqlite", "", "record the run in this SQLite database")
	cmd.MarkFlagsMutuallyExclusive("contracts", "contract")

	return cmd
}

// verifyResult is the output of a verification run.
type verifyResult struct {
	VerificationID string             `json:"verificationId"`
	Pass           bool               `json:"pass"`
	Reports        []*contract.Report `json:"reports"`
}

func (r *verifyResult) Text(w io.Writer) error {
	for _, report := range r.Reports {
		if err := report.Print(w); err != nil {
			return err
		}
	}
	return nil
}

func runVerify(opts *VerifyOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	cfg, logger, err := opts.settings(cmd)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to load configuration", err)
	}
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.SQLitePath != "" {
		cfg.SQLitePath = opts.SQLitePath
	}
	source := wire.Config{ContractFile: opts.ContractFile, ContractDir: opts.ContractDir}
	if source.ContractFile == "" && source.ContractDir == "" {
		source.ContractDir = cfg.ContractDir
	}

	ctx := commandContext(cmd)
	contracts, err := protocol.LoadContracts(ctx, source)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to load contracts", err)
	}
	formatter.VerboseLog("Loaded %d contract(s)", len(contracts))

	states, err := readStates(opts.StatesFile)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to read states", err)
	}

	var runs protocol.RunRecorder
	if cfg.SQLitePath != "" {
		db, err := store.Open(cfg.SQLitePath)
		if err != nil {
			return formatter.Fail(ExitCommandError, "failed to open database", err)
		}
		defer db.Close()
		runs = db
	}

	result := &verifyResult{VerificationID: correlate.UUIDv7Generator{}.Generate(), Pass: true}
	reports := make([]*contract.Report, len(contracts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelContracts)
	for i, c := range contracts {
		names := selectTests(c, opts.TestNames)
		if len(opts.TestNames) > 0 && len(names) == 0 {
			continue
		}
		g.Go(func() error {
			v, err := contract.NewVerifier(c,
				contract.WithLogger(logger),
				contract.WithBaseURL(cfg.BaseURL),
				contract.WithStateHandlers(contract.StaticStates(states)))
			if err != nil {
				return err
			}
			report, err := v.Run(gctx, contract.Filter{TestNames: names})
			if err != nil {
				return err
			}
			reports[i] = report
			if runs != nil {
				if err := runs.RecordRun(gctx, result.VerificationID, c, report); err != nil {
					logger.Warn("recording verification run failed", "contract", c.Filename(), "error", err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return formatter.Fail(ExitCommandError, "verification aborted", err)
	}

	for _, r := range reports {
		if r == nil {
			continue
		}
		result.Reports = append(result.Reports, r)
		result.Pass = result.Pass && r.Pass
	}
	if len(result.Reports) == 0 {
		return formatter.Fail(ExitCommandError, "nothing to verify",
			failure.Configuration(nil, "no interactions matched %v", opts.TestNames))
	}

	if err := formatter.Success(result); err != nil {
		return err
	}
	if !result.Pass {
		return &ExitError{Code: ExitFailure, Message: "verification failed", Reported: true}
	}
	return nil
}

func selectTests(c *contract.Contract, names []string) []string {
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

// readStates reads a map of state name to variables. YAML is a superset
// of JSON, so either works.
func readStates(path string) (map[string]map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, failure.Configuration(nil, "read states %s: %v", path, err)
	}
	var states map[string]map[string]any
	if err := yaml.Unmarshal(data, &states); err != nil {
		return nil, failure.Configuration(nil, "parse states %s: %v", path, err)
	}
	return states, nil
}
