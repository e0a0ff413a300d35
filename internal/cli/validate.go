package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"TenderSync/internal/config"
)

// NewValidateCommand checks configuration without touching any external system.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Validate(rootOpts.cfg); err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration ok")
			return nil
		},
	}
}
