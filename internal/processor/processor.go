package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/MikeSquared-Agency/doxa/internal/pipeline"
	"github.com/MikeSquared-Agency/doxa/internal/transcript"
)

// TranscriptEvent is the payload of swarm.transcript.stored.
type TranscriptEvent struct {
	SessionRef     string `json:"session_ref"`
	Transcript     string `json:"transcript,omitempty"`
	TranscriptPath string `json:"transcript_path,omitempty"` // relative to the transcript directory
	TargetSpeaker  string `json:"target_speaker,omitempty"`
}

// Extractor runs and redrives extraction runs.
type Extractor interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Run, error)
	Redrive(ctx context.Context, run *pipeline.Run) (*pipeline.Run, error)
}

// RunLoader fetches a previously saved run.
type RunLoader interface {
	GetRun(ctx context.Context, id uuid.UUID) (*pipeline.Run, error)
}

// ErrNoTranscriptDir is returned for path-based events when no transcript
// directory is configured.
var ErrNoTranscriptDir = errors.New("transcript_path given but no transcript directory is configured")

// Processor turns bus events into extraction runs.
type Processor struct {
	pipeline      Extractor
	runs          RunLoader
	transcriptDir string
	logger        *slog.Logger
}

type Option func(*Processor)

// WithTranscriptDir allows events to reference transcript files by path.
// Reads are confined to dir; paths that leave it are rejected.
func WithTranscriptDir(dir string) Option {
	return func(p *Processor) {
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		p.transcriptDir = dir
	}
}

// New builds a Processor. runs may be nil when no database is configured, in
// which case redrive requests are dropped.
func New(p Extractor, runs RunLoader, logger *slog.Logger, opts ...Option) *Processor {
	proc := &Processor{
		pipeline: p,
		runs:     runs,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(proc)
	}
	return proc
}

// HandleTranscriptStored is the NATS handler for swarm.transcript.stored.
func (p *Processor) HandleTranscriptStored(subject string, data []byte) {
	ctx := context.Background()

	var evt TranscriptEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		p.logger.Error("failed to parse transcript event", "error", err)
		return
	}

	p.logger.Info("processing transcript",
		"session_ref", evt.SessionRef,
		"target_speaker", evt.TargetSpeaker,
	)

	raw, err := p.loadTranscript(evt)
	if err != nil {
		p.logger.Error("failed to load transcript", "session_ref", evt.SessionRef, "error", err)
		return
	}

	entries := transcript.Parse(raw)
	if len(entries) == 0 {
		p.logger.Warn("transcript has no speaker entries", "session_ref", evt.SessionRef)
		return
	}

	target := evt.TargetSpeaker
	if target == "" {
		var ok bool
		target, ok = transcript.DefaultTarget(entries)
		if !ok {
			p.logger.Warn("no target speaker given and transcript has a single speaker", "session_ref", evt.SessionRef)
			return
		}
		p.logger.Info("defaulted target speaker", "session_ref", evt.SessionRef, "target_speaker", target)
	}

	run, err := p.pipeline.Run(ctx, pipeline.Request{
		Entries:       entries,
		TargetSpeaker: target,
		Source:        evt.SessionRef,
	})
	if err != nil {
		p.logger.Error("extraction failed", "session_ref", evt.SessionRef, "error", err)
		return
	}

	p.logger.Info("transcript processed",
		"session_ref", evt.SessionRef,
		"run_id", run.ID,
		"beliefs", len(run.Report.Beliefs),
		"failed_chunks", len(run.Report.Errors),
	)
}

func (p *Processor) loadTranscript(evt TranscriptEvent) (string, error) {
	// Prefer transcript embedded in the event payload.
	if evt.Transcript != "" {
		return evt.Transcript, nil
	}
	if evt.TranscriptPath == "" {
		return "", fmt.Errorf("no transcript in event payload for session %s", evt.SessionRef)
	}
	return p.readTranscriptFile(evt.TranscriptPath)
}

// readTranscriptFile reads path inside the transcript directory. os.Root
// refuses ".." components and symlinks that resolve outside the directory.
func (p *Processor) readTranscriptFile(path string) (string, error) {
	if p.transcriptDir == "" {
		return "", ErrNoTranscriptDir
	}

	rel := path
	if filepath.IsAbs(path) {
		r, err := filepath.Rel(p.transcriptDir, path)
		if err != nil {
			return "", fmt.Errorf("resolve transcript path: %w", err)
		}
		rel = r
	}

	root, err := os.OpenRoot(p.transcriptDir)
	if err != nil {
		return "", fmt.Errorf("open transcript dir: %w", err)
	}
	defer root.Close()

	f, err := root.Open(rel)
	if err != nil {
		return "", fmt.Errorf("open transcript file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("read transcript file: %w", err)
	}
	return string(data), nil
}
