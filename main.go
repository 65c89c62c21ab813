// package main is the entry point for the SprintLab middleware
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sprintlab/middleware/cmd/check"
	"github.com/sprintlab/middleware/cmd/serve"
)

func main() {
	var configFile string
	var logLevel string
	var logFormat string

	rootCmd := &cobra.Command{
		Use:   "sprintlab",
		Short: "Middleware exposing GitLab boards and timelines to dashboard tabs",
		Long: `sprintlab bridges messaging-platform channels and the GitLab API.
Each channel is mapped to a GitLab project in Postgres; the server aggregates
that project's issues into kanban boards and Gantt timelines on demand.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			setupLogger(logLevel, logFormat)
		},
	}

	// Add global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "sprintlab.yaml", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&logFormat, "log-format", "f", "text", "Log format (text, json)")

	rootCmd.AddCommand(serve.NewServeCmd(&configFile))
	rootCmd.AddCommand(check.NewCheckCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogger(level, format string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}

	slog.SetDefault(slog.New(handler))
}
