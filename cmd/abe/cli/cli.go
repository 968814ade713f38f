package cli

import (
	"log/slog"

	"github.com/spf13/cobra"
)

// NewRootCommand returns the "abe" command tree.
func NewRootCommand(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "abe",
		Short: "Agent-based forest management engine",
		Long:  "Run the stand-treatment-program driven harvest scheduler and decadal planning loop.",
	}

	cmd.AddCommand(
		newRunCommand(logger),
		newServeCommand(logger),
		newStandsCommand(logger),
	)

	return cmd
}
