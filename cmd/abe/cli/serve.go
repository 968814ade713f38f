package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-co-op/gocron/v2"
	"github.com/spf13/cobra"
)

// newServeCommand runs the engine's annual cycle on a wall-clock cron
// schedule instead of a fixed number of simulated years back-to-back,
// for a long-lived process driving a real embedding simulator's calendar
// (the teacher repo's orchestrator uses the same library for its
// rotation/retention cron jobs; see internal/orchestrator/scheduler.go).
func newServeCommand(logger *slog.Logger) *cobra.Command {
	var cronExpr string
	var startYear int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run one simulated year on a recurring wall-clock schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := buildDemoScenario(logger)
			if err != nil {
				return err
			}

			sched, err := gocron.NewScheduler()
			if err != nil {
				return err
			}

			year := startYear
			_, err = sched.NewJob(
				gocron.CronJob(cronExpr, false),
				gocron.NewTask(func() {
					ctx := context.Background()
					if err := e.Run(ctx, year); err != nil {
						logger.Error("year run failed", "year", year, "error", err)
						return
					}
					logger.Info("year complete", "year", year, "stands", len(e.StandIDs()))
					year++
				}),
				gocron.WithName("abe-annual-run"),
			)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			sched.Start()
			<-ctx.Done()
			return sched.Shutdown()
		},
	}

	cmd.Flags().StringVar(&cronExpr, "cron", "0 3 * * *", "cron schedule for the annual run")
	cmd.Flags().IntVar(&startYear, "start-year", 2026, "calendar year of the first scheduled run")

	return cmd
}
