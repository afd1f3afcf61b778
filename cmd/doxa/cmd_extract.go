package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/doxa/internal/config"
	"github.com/MikeSquared-Agency/doxa/internal/dedup"
	"github.com/MikeSquared-Agency/doxa/internal/pipeline"
	"github.com/MikeSquared-Agency/doxa/internal/render"
	"github.com/MikeSquared-Agency/doxa/internal/runner"
	"github.com/MikeSquared-Agency/doxa/internal/store"
	"github.com/MikeSquared-Agency/doxa/internal/transcript"
)

func newExtractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract beliefs from a transcript file",
		Long: `Segment a transcript around the target speaker, extract beliefs from every
segment and print the aggregated report.

Examples:
  doxa extract --file episode.txt
  doxa extract --file episode.txt --target "Leopold Aschenbrenner" --format json
  doxa extract --file episode.txt --output beliefs.md --save`,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			target, _ := cmd.Flags().GetString("target")
			format, _ := cmd.Flags().GetString("format")
			output, _ := cmd.Flags().GetString("output")
			save, _ := cmd.Flags().GetBool("save")
			progress, _ := cmd.Flags().GetBool("progress")
			dedupe, _ := cmd.Flags().GetBool("dedup")

			if format != "markdown" && format != "json" {
				return fmt.Errorf("unknown format %q (want markdown or json)", format)
			}

			cfg := config.Load()
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)

			entries, err := transcript.ParseFile(file)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				return fmt.Errorf("%s: no speaker entries found", file)
			}
			if target == "" {
				var ok bool
				if target, ok = transcript.DefaultTarget(entries); !ok {
					return fmt.Errorf("%s has a single speaker, pass --target", file)
				}
				logger.Info("defaulted target speaker", "target_speaker", target)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			prompt, err := loadPrompt(cfg)
			if err != nil {
				return err
			}
			if cfg.Guest == "" {
				prompt.Guest = target
			}

			transform, closeCache, err := newTransform(ctx, cfg, prompt, logger)
			if err != nil {
				return err
			}
			defer closeCache()

			var runOpts []runner.Option
			if progress {
				errOut := cmd.ErrOrStderr()
				runOpts = append(runOpts, runner.WithProgress(progressPrinter(errOut)))
			}

			var pipeOpts []pipeline.Option
			if save {
				if cfg.DatabaseURL == "" {
					return fmt.Errorf("--save requires DATABASE_URL")
				}
				db, err := store.New(ctx, cfg.DatabaseURL)
				if err != nil {
					return err
				}
				defer db.Close()
				if err := db.Migrate(ctx); err != nil {
					return err
				}
				pipeOpts = append(pipeOpts, pipeline.WithStore(db))
			}

			pipe := pipeline.New(newRunner(cfg, logger, runOpts...), transform, logger, pipeOpts...)
			run, err := pipe.Run(ctx, pipeline.Request{
				Entries:       entries,
				TargetSpeaker: target,
				Source:        filepath.Base(file),
			})
			if err != nil {
				return err
			}

			if dedupe {
				view := *run
				view.Report, _ = dedup.New(dedup.DefaultThreshold, logger).Deduplicate(run.Report)
				run = &view
			}

			out := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer f.Close()
				out = f
			}
			return writeReport(out, run, format)
		},
	}

	cmd.Flags().StringP("file", "f", "", "Transcript file to process")
	cmd.Flags().StringP("target", "t", "", "Speaker whose beliefs to extract (default: second speaker)")
	cmd.Flags().String("format", "markdown", "Output format: markdown or json")
	cmd.Flags().StringP("output", "o", "", "Write the report to this file instead of stdout")
	cmd.Flags().Bool("save", false, "Persist the run to DATABASE_URL")
	cmd.Flags().Bool("progress", false, "Print chunk progress to stderr")
	cmd.Flags().Bool("dedup", false, "Collapse beliefs restated across chunks in the printed report")
	cmd.MarkFlagRequired("file")

	return cmd
}

func writeReport(w io.Writer, run *pipeline.Run, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}
	_, err := io.WriteString(w, render.Markdown(run))
	return err
}

// progressPrinter reports completed chunks. Runner workers call it
// concurrently; each call is one small write.
func progressPrinter(w io.Writer) func(done, total int) {
	return func(done, total int) {
		fmt.Fprintf(w, "extracted %d/%d chunks\n", done, total)
	}
}
