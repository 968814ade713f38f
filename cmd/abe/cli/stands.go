package cli

import (
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newStandsCommand(logger *slog.Logger) *cobra.Command {
	var years int

	cmd := &cobra.Command{
		Use:   "stands",
		Short: "List stands and their current aggregates",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := buildDemoScenario(logger)
			if err != nil {
				return err
			}
			if years > 0 {
				if err := runYears(cmd.Context(), e, 2026, years, cmd); err != nil {
					return err
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUNIT\tAGE\tVOLUME\tBASAL_AREA\tU")
			for _, id := range e.StandIDs() {
				s, ok := e.Stand(id)
				if !ok {
					continue
				}
				fmt.Fprintf(w, "%d\t%d\t%d\t%.1f\t%.2f\t%.0f\n",
					s.ID(), s.UnitID(), s.AbsoluteAge(), s.Volume(), s.BasalArea(), s.U())
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&years, "years", 0, "run this many years before listing")

	return cmd
}
