// Command abe runs the agent-based forest management engine.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes; stand.trace
//     flips individual stands into verbose mode via ComponentFilterHandler
package main

import (
	"log/slog"
	"os"

	"abe/cmd/abe/cli"
	"abe/internal/logging"
)

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	if err := cli.NewRootCommand(logger).Execute(); err != nil {
		os.Exit(1)
	}
}
