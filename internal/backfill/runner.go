// Package backfill extracts beliefs from a directory of transcripts, one
// pipeline run per file, and remembers progress so an interrupted batch can
// be resumed.
package backfill

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MikeSquared-Agency/doxa/internal/pipeline"
	"github.com/MikeSquared-Agency/doxa/internal/transcript"
)

// Runner orchestrates the backfill process.
type Runner struct {
	cfg       Config
	extractor Extractor
	slack     Summarizer
	logger    *slog.Logger
}

// NewRunner creates a backfill runner. slack may be nil, in which case the
// batch summary is logged.
func NewRunner(cfg Config, ext Extractor, slack Summarizer, logger *slog.Logger) *Runner {
	if cfg.Pattern == "" {
		cfg.Pattern = "*.txt"
	}
	return &Runner{
		cfg:       cfg,
		extractor: ext,
		slack:     slack,
		logger:    logger,
	}
}

type parsedFile struct {
	path    string
	entries []transcript.Entry
	target  string
}

// Run processes every transcript not yet recorded in the state file and
// returns a summary per file handled in this invocation.
func (r *Runner) Run(ctx context.Context) ([]FileSummary, error) {
	state, err := LoadState(r.cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	paths, err := r.discoverFiles()
	if err != nil {
		return nil, fmt.Errorf("discover files: %w", err)
	}
	r.logger.Info("files discovered", "files", len(paths))

	var (
		parsed []parsedFile
		fps    []fileFingerprint
	)
	for _, path := range paths {
		if state.IsProcessed(path) {
			continue
		}
		entries, err := transcript.ParseFile(path)
		if err != nil {
			r.logger.Warn("failed to parse transcript", "path", path, "error", err)
			state.AddError(fmt.Sprintf("parse %s: %v", path, err))
			continue
		}
		if len(entries) == 0 || len(entries) < r.cfg.MinEntries {
			r.logger.Info("skipping short transcript", "path", path, "entries", len(entries))
			continue
		}
		target := r.cfg.Target
		if target == "" {
			var ok bool
			if target, ok = transcript.DefaultTarget(entries); !ok {
				r.logger.Info("skipping single-speaker transcript", "path", path)
				continue
			}
		}
		parsed = append(parsed, parsedFile{path: path, entries: entries, target: target})
		fps = append(fps, BuildFingerprint(path, entries))
	}

	duplicates := FindDuplicates(fps)
	var files []parsedFile
	for _, pf := range parsed {
		if duplicates[pf.path] {
			r.logger.Info("skipping duplicate transcript", "path", pf.path)
			continue
		}
		files = append(files, pf)
	}

	state.FilesRemaining = len(files)
	r.logger.Info("files to process",
		"total", len(files),
		"duplicates_skipped", len(duplicates),
		"dry_run", r.cfg.DryRun,
	)

	var summaries []FileSummary
	for _, pf := range files {
		if err := ctx.Err(); err != nil {
			r.logger.Info("backfill interrupted, saving state")
			_ = state.Save()
			r.postBatchSummary(context.WithoutCancel(ctx), summaries)
			return summaries, err
		}

		sum := r.processFile(ctx, pf)
		summaries = append(summaries, sum)

		if sum.Err != "" {
			state.AddError(fmt.Sprintf("extract %s: %s", pf.path, sum.Err))
			if ctx.Err() != nil {
				// the run was cut short; leave the file for the next invocation
				continue
			}
		}
		state.ChunksProcessed += sum.Chunks
		state.BeliefsFound += sum.Beliefs
		state.FailedChunks += sum.FailedChunks
		if !r.cfg.DryRun {
			state.MarkProcessed(pf.path)
		}
		state.FilesRemaining--
		_ = state.Save()
	}

	_ = state.Save()
	r.postBatchSummary(ctx, summaries)

	r.logger.Info("backfill complete",
		"files_processed", len(summaries),
		"chunks_processed", state.ChunksProcessed,
		"beliefs_found", state.BeliefsFound,
		"dry_run", r.cfg.DryRun,
	)
	return summaries, nil
}

func (r *Runner) processFile(ctx context.Context, pf parsedFile) FileSummary {
	sum := FileSummary{
		Path:          pf.path,
		TargetSpeaker: pf.target,
		Entries:       len(pf.entries),
	}

	if r.cfg.DryRun {
		sum.Chunks = len(transcript.Segment(pf.entries, pf.target))
		r.logger.Info("dry run", "path", pf.path, "target_speaker", pf.target, "chunks", sum.Chunks)
		return sum
	}

	r.logger.Info("processing transcript", "path", pf.path, "entries", len(pf.entries), "target_speaker", pf.target)
	run, err := r.extractor.Run(ctx, pipeline.Request{
		Entries:       pf.entries,
		TargetSpeaker: pf.target,
		Source:        filepath.Base(pf.path),
	})
	if err != nil {
		r.logger.Error("extraction failed", "path", pf.path, "error", err)
		sum.Err = err.Error()
		return sum
	}

	sum.RunID = run.ID.String()
	sum.Chunks = run.Report.Chunks
	sum.Beliefs = len(run.Report.Beliefs)
	sum.FailedChunks = len(run.Report.Errors)
	return sum
}

// postBatchSummary posts the batch summary to Slack. If Slack is not
// configured, it logs the summary instead.
func (r *Runner) postBatchSummary(ctx context.Context, summaries []FileSummary) {
	if len(summaries) == 0 {
		return
	}

	text := FormatBatchSummary(summaries)

	if r.slack == nil {
		r.logger.Info("backfill batch summary (no Slack configured)", "summary", text)
		return
	}

	// Post as a standalone message (not a thread reply).
	if err := r.slack.PostThread(ctx, "", text); err != nil {
		r.logger.Warn("failed to post batch summary to Slack, logging instead",
			"error", err,
			"summary", text,
		)
	}
}

// FormatBatchSummary formats file summaries grouped by target speaker.
func FormatBatchSummary(summaries []FileSummary) string {
	byTarget := make(map[string][]FileSummary)
	for _, s := range summaries {
		byTarget[s.TargetSpeaker] = append(byTarget[s.TargetSpeaker], s)
	}

	targets := make([]string, 0, len(byTarget))
	for t := range byTarget {
		targets = append(targets, t)
	}
	sort.Strings(targets)

	var sb strings.Builder
	sb.WriteString("*Backfill Batch Summary*\n")

	for _, target := range targets {
		files := byTarget[target]
		totalBeliefs, totalChunks := 0, 0
		for _, f := range files {
			totalBeliefs += f.Beliefs
			totalChunks += f.Chunks
		}
		fmt.Fprintf(&sb, "\n*%s* (%d files, %d chunks, %d beliefs)\n", target, len(files), totalChunks, totalBeliefs)
		for _, f := range files {
			fmt.Fprintf(&sb, "  - %s: %d chunks, %d beliefs", filepath.Base(f.Path), f.Chunks, f.Beliefs)
			if f.FailedChunks > 0 {
				fmt.Fprintf(&sb, " (%d failed chunks)", f.FailedChunks)
			}
			if f.Err != "" {
				fmt.Fprintf(&sb, " (error: %s)", f.Err)
			}
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// discoverFiles returns matching transcript paths in lexical order.
func (r *Runner) discoverFiles() ([]string, error) {
	if r.cfg.SingleFile != "" {
		path := expandHome(r.cfg.SingleFile)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("single file not found: %s", path)
		}
		return []string{path}, nil
	}

	dir := expandHome(r.cfg.Dir)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if d.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(r.cfg.Pattern, d.Name()); ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(paths)
	return paths, nil
}
