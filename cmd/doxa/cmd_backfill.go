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

	"github.com/MikeSquared-Agency/doxa/internal/backfill"
	"github.com/MikeSquared-Agency/doxa/internal/config"
	"github.com/MikeSquared-Agency/doxa/internal/pipeline"
	"github.com/MikeSquared-Agency/doxa/internal/slack"
	"github.com/MikeSquared-Agency/doxa/internal/store"
)

func newBackfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Extract beliefs from every transcript in a directory",
		Long: `Walk a directory of transcripts and run one extraction per file. Progress is
kept in a state file so an interrupted backfill picks up where it stopped.
The same episode saved twice is only extracted once.

Examples:
  doxa backfill --dir ./transcripts
  doxa backfill --dir ./transcripts --target "Leopold Aschenbrenner" --save
  doxa backfill --file ./transcripts/episode.txt --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			file, _ := cmd.Flags().GetString("file")
			pattern, _ := cmd.Flags().GetString("pattern")
			target, _ := cmd.Flags().GetString("target")
			statePath, _ := cmd.Flags().GetString("state")
			minEntries, _ := cmd.Flags().GetInt("min-entries")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			save, _ := cmd.Flags().GetBool("save")
			asJSON, _ := cmd.Flags().GetBool("json")

			if dir == "" && file == "" {
				return fmt.Errorf("one of --dir or --file is required")
			}
			if _, err := filepath.Match(pattern, ""); err != nil {
				return fmt.Errorf("invalid --pattern: %w", err)
			}

			cfg := config.Load()
			if !dryRun {
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			var (
				ext     backfill.Extractor
				poster  backfill.Summarizer
				pipeOps []pipeline.Option
			)
			if !dryRun {
				prompt, err := loadPrompt(cfg)
				if err != nil {
					return err
				}
				if cfg.Guest == "" && target != "" {
					prompt.Guest = target
				}

				transform, closeCache, err := newTransform(ctx, cfg, prompt, logger)
				if err != nil {
					return err
				}
				defer closeCache()

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
					pipeOps = append(pipeOps, pipeline.WithStore(db))
				}
				ext = pipeline.New(newRunner(cfg, logger), transform, logger, pipeOps...)
			}

			if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
				poster = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, logger)
			}

			r := backfill.NewRunner(backfill.Config{
				Dir:        dir,
				SingleFile: file,
				Pattern:    pattern,
				Target:     target,
				StatePath:  statePath,
				MinEntries: minEntries,
				DryRun:     dryRun,
			}, ext, poster, logger)

			summaries, err := r.Run(ctx)
			if werr := writeBackfillSummary(cmd.OutOrStdout(), summaries, asJSON, dryRun); werr != nil && err == nil {
				err = werr
			}
			return err
		},
	}

	cmd.Flags().String("dir", "", "Directory to walk for transcripts")
	cmd.Flags().StringP("file", "f", "", "Process a single transcript file")
	cmd.Flags().String("pattern", "*.txt", "Filename glob for transcripts")
	cmd.Flags().StringP("target", "t", "", "Speaker whose beliefs to extract (default: second speaker of each file)")
	cmd.Flags().String("state", "", "State file for resuming (default: ~/.doxa/backfill-state.json)")
	cmd.Flags().Int("min-entries", 2, "Skip transcripts with fewer speaker entries")
	cmd.Flags().Bool("dry-run", false, "Segment only, without calling the LLM")
	cmd.Flags().Bool("save", false, "Persist each run to DATABASE_URL")
	cmd.Flags().Bool("json", false, "Print the per-file summary as JSON")

	return cmd
}

func writeBackfillSummary(w io.Writer, summaries []backfill.FileSummary, asJSON, dryRun bool) error {
	if asJSON {
		if summaries == nil {
			summaries = []backfill.FileSummary{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	}

	chunks, beliefs, failed := 0, 0, 0
	for _, s := range summaries {
		chunks += s.Chunks
		beliefs += s.Beliefs
		if s.Err != "" {
			failed++
		}
	}
	fmt.Fprintf(w, "\n=== Backfill Summary ===\n")
	fmt.Fprintf(w, "Files processed: %d\n", len(summaries))
	fmt.Fprintf(w, "Chunks: %d\n", chunks)
	fmt.Fprintf(w, "Beliefs found: %d\n", beliefs)
	fmt.Fprintf(w, "Files failed: %d\n", failed)
	if dryRun {
		fmt.Fprintf(w, "Mode: DRY RUN (no LLM calls)\n")
	}
	return nil
}
