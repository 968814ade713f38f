package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"abe/internal/engine"
)

func newRunCommand(logger *slog.Logger) *cobra.Command {
	var years int
	var startYear int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the management engine for a number of simulated years",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := buildDemoScenario(logger)
			if err != nil {
				return err
			}
			return runYears(cmd.Context(), e, startYear, years, cmd)
		},
	}

	cmd.Flags().IntVar(&years, "years", 10, "number of simulated years to run")
	cmd.Flags().IntVar(&startYear, "start-year", 2026, "calendar year of the first simulated tick")

	return cmd
}

func runYears(ctx context.Context, e *engine.Engine, startYear, years int, cmd *cobra.Command) error {
	for y := 0; y < years; y++ {
		year := startYear + y
		if err := e.Run(ctx, year); err != nil {
			return fmt.Errorf("year %d: %w", year, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "year %d: %d stands\n", year, len(e.StandIDs()))
	}
	return nil
}
