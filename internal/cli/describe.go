package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/casecore/internal/contract"
	"github.com/roach88/casecore/internal/store"
	"github.com/roach88/casecore/internal/wire"
)

// NewDescribeCommand creates the describe command.
func NewDescribeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "describe <contract-file>",
		Short: "List the interactions of a contract",
		Long: `List the interactions of a contract file with their test names and
provider states. The contract hash is checked before anything is printed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDescribe(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

type interactionSummary struct {
	wire.ContractDefinition
	States []string `json:"states,omitempty"`
}

type contractDescription struct {
	Consumer       string               `json:"consumer"`
	Provider       string               `json:"provider"`
	Hash           string               `json:"hash"`
	CallerVersions []string             `json:"callerVersions,omitempty"`
	Interactions   []interactionSummary `json:"interactions"`
}

func (d *contractDescription) Text(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s -> %s\n", d.Consumer, d.Provider)
	fmt.Fprintf(&b, "hash: %s\n", d.Hash)
	if len(d.CallerVersions) > 0 {
		fmt.Fprintf(&b, "recorded by: %s\n", strings.Join(d.CallerVersions, ", "))
	}
	for _, in := range d.Interactions {
		fmt.Fprintf(&b, "  %s\n", in.TestName)
		if len(in.States) > 0 {
			fmt.Fprintf(&b, "      given %s\n", strings.Join(in.States, " and "))
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func describeContract(c *contract.Contract) *contractDescription {
	d := &contractDescription{
		Consumer:       c.Consumer,
		Provider:       c.Provider,
		Hash:           c.Metadata.Hash,
		CallerVersions: c.Metadata.CallerVersions,
		Interactions:   []interactionSummary{},
	}
	for i, in := range c.Interactions {
		s := interactionSummary{ContractDefinition: wire.ContractDefinition{
			TestName:    c.TestName(i),
			Description: in.Description,
			Consumer:    c.Consumer,
			Provider:    c.Provider,
		}}
		for _, st := range in.States {
			s.States = append(s.States, st.Name)
		}
		d.Interactions = append(d.Interactions, s)
	}
	return d
}

func runDescribe(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	c, err := store.ReadFile(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to read contract", err)
	}
	return formatter.Success(describeContract(c))
}
