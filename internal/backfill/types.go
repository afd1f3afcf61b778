package backfill

import (
	"context"

	"github.com/MikeSquared-Agency/doxa/internal/pipeline"
)

// Config holds the backfill command configuration.
type Config struct {
	Dir        string // directory walked for transcripts
	SingleFile string // process a single file only
	Pattern    string // filename glob matched against the base name (default: *.txt)
	Target     string // speaker to extract; empty defaults to each file's second speaker
	StatePath  string // resumable state file (default: ~/.doxa/backfill-state.json)
	MinEntries int    // skip transcripts with fewer speaker entries
	DryRun     bool   // segment only, no extraction
}

// Extractor runs one transcript through the extraction pipeline.
type Extractor interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Run, error)
}

// Summarizer posts a batch summary as a standalone message.
type Summarizer interface {
	PostThread(ctx context.Context, threadTS, text string) error
}

// FileSummary is the outcome of processing one transcript.
type FileSummary struct {
	Path          string `json:"path"`
	TargetSpeaker string `json:"target_speaker"`
	RunID         string `json:"run_id,omitempty"`
	Entries       int    `json:"entries"`
	Chunks        int    `json:"chunks"`
	Beliefs       int    `json:"beliefs"`
	FailedChunks  int    `json:"failed_chunks"`
	Err           string `json:"error,omitempty"`
}
