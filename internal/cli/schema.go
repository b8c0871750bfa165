package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/casecore/internal/wire"
)

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the verification protocol",
		Long: `Print the JSON Schema of the verification protocol's message envelope
and payloads, for connector authors.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := wire.SchemaJSON()
			if err != nil {
				return rootOpts.formatter(cmd).Fail(ExitCommandError, "failed to build schema", err)
			}
			_, err = cmd.OutOrStdout().Write(append(b, '\n'))
			return err
		},
	}
}
