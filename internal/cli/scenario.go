package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/casecore/internal/harness"
)

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario <scenario.yaml>...",
		Short: "Run protocol conformance scenarios",
		Long: `Run protocol conformance scenarios.

Each scenario records a contract from CUE definitions, then plays a
language connector against a fresh protocol server and checks the frames
exchanged. Use it to check a connector's expectations of the protocol.

Example:
  casecore scenario testdata/scenarios/*.yaml`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(rootOpts, args, cmd)
		},
	}
	return cmd
}

type scenarioResults []*harness.Result

func (rs scenarioResults) Text(w io.Writer) error {
	var b strings.Builder
	passed := 0
	for _, r := range rs {
		if r.Pass {
			passed++
			fmt.Fprintf(&b, "  ✓ %s\n", r.Name)
			continue
		}
		fmt.Fprintf(&b, "  ✗ %s\n", r.Name)
		for _, e := range r.Errors {
			for _, line := range strings.Split(strings.TrimRight(e, "\n"), "\n") {
				fmt.Fprintf(&b, "      %s\n", line)
			}
		}
	}
	fmt.Fprintf(&b, "%d passed, %d failed\n", passed, len(rs)-passed)
	_, err := io.WriteString(w, b.String())
	return err
}

func runScenarios(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := commandContext(cmd)

	results := scenarioResults{}
	pass := true
	for _, path := range paths {
		scenario, err := harness.LoadScenario(path)
		if err != nil {
			return formatter.Fail(ExitCommandError, "failed to load scenario", err)
		}
		formatter.VerboseLog("Running %s", scenario.Name)
		result, err := harness.Run(ctx, scenario)
		if err != nil {
			return formatter.Fail(ExitCommandError, "failed to run "+scenario.Name, err)
		}
		results = append(results, result)
		pass = pass && result.Pass
	}

	if err := formatter.Success(results); err != nil {
		return err
	}
	if !pass {
		return &ExitError{Code: ExitFailure, Message: "scenarios failed", Reported: true}
	}
	return nil
}
