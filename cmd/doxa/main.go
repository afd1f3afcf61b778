package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	// Optional .env; real environment variables win.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "doxa",
		Short: "Doxa - belief extraction from interview transcripts",
		Long: `doxa segments interview transcripts around a target speaker, asks an LLM
to extract the beliefs that speaker expressed in each segment, and aggregates
the results into one report.

Run it as a service (doxa serve), one-shot against a file (doxa extract) or
over a directory of transcripts (doxa backfill).`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(),
		newExtractCmd(),
		newSpeakersCmd(),
		newBackfillCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "doxa version %s\n", version)
		},
	}
}

func setupLogging(level string) {
	slog.SetDefault(newLogger(os.Stdout, level))
}

// newLogger builds the JSON logger. One-shot commands log to stderr so stdout
// carries only the report.
func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
