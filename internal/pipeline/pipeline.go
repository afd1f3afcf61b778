package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/MikeSquared-Agency/doxa/internal/aggregate"
	"github.com/MikeSquared-Agency/doxa/internal/hermes"
	"github.com/MikeSquared-Agency/doxa/internal/runner"
	"github.com/MikeSquared-Agency/doxa/internal/transcript"
)

var (
	ErrNoTarget        = errors.New("target speaker is required")
	ErrEmptyTranscript = errors.New("transcript has no speaker entries")
	// ErrNotRedrivable means the run was loaded without its chunks and results.
	ErrNotRedrivable = errors.New("run does not carry the chunks needed to redrive")
)

// Request is one transcript to extract beliefs from.
type Request struct {
	Entries       []transcript.Entry
	TargetSpeaker string
	Source        string
}

// Run is the full record of one extraction run.
type Run struct {
	ID            uuid.UUID          `json:"id"`
	Source        string             `json:"source"`
	TargetSpeaker string             `json:"target_speaker"`
	StartedAt     time.Time          `json:"started_at"`
	FinishedAt    time.Time          `json:"finished_at"`
	Chunks        []transcript.Chunk `json:"chunks,omitempty"`
	Results       []runner.Result    `json:"results,omitempty"`
	Report        aggregate.Report   `json:"report"`
}

// Store persists finished runs.
type Store interface {
	SaveRun(ctx context.Context, run *Run) error
}

// Publisher emits events to the message bus.
type Publisher interface {
	Publish(subject string, data any) error
}

// Notifier posts a human-readable summary of a run.
type Notifier interface {
	PostRunSummary(ctx context.Context, run *Run) error
}

// Pipeline wires segmentation, the batch runner and aggregation together.
type Pipeline struct {
	runner    *runner.Runner
	transform runner.TransformFunc
	store     Store
	publisher Publisher
	notifier  Notifier
	logger    *slog.Logger
}

type Option func(*Pipeline)

func WithStore(s Store) Option { return func(p *Pipeline) { p.store = s } }
func WithPublisher(pub Publisher) Option { return func(p *Pipeline) { p.publisher = pub } }
func WithNotifier(n Notifier) Option { return func(p *Pipeline) { p.notifier = n } }

func New(r *runner.Runner, fn runner.TransformFunc, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		runner:    r,
		transform: fn,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run segments the transcript around the target speaker, extracts every chunk
// and aggregates the results. Side effects (persist, publish, notify) are best
// effort and never fail the run.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Run, error) {
	target := strings.TrimSpace(req.TargetSpeaker)
	if target == "" {
		return nil, ErrNoTarget
	}
	if len(req.Entries) == 0 {
		return nil, ErrEmptyTranscript
	}

	run := &Run{
		ID:            uuid.New(),
		Source:        req.Source,
		TargetSpeaker: target,
		StartedAt:     time.Now().UTC(),
	}

	run.Chunks = transcript.Segment(req.Entries, target)
	p.logger.Info("transcript segmented",
		"run_id", run.ID,
		"source", run.Source,
		"target_speaker", target,
		"entries", len(req.Entries),
		"chunks", len(run.Chunks),
	)
	if len(run.Chunks) == 0 {
		p.logger.Warn("target speaker never speaks", "run_id", run.ID, "target_speaker", target)
	}

	run.Results = p.runner.Run(ctx, run.Chunks, p.transform)
	run.Report = aggregate.Aggregate(run.Results)
	run.FinishedAt = time.Now().UTC()

	p.finish(ctx, run)
	return run, nil
}

// Redrive re-runs only the chunks that failed in run and merges the new
// results in place of the old ones. The run keeps its ID.
func (p *Pipeline) Redrive(ctx context.Context, run *Run) (*Run, error) {
	failed := run.Report.FailedChunks()
	if len(failed) == 0 {
		return run, nil
	}

	retry := make([]transcript.Chunk, 0, len(failed))
	for _, idx := range failed {
		if idx < 0 || idx >= len(run.Chunks) || idx >= len(run.Results) {
			return nil, ErrNotRedrivable
		}
		retry = append(retry, run.Chunks[idx])
	}

	p.logger.Info("redriving failed chunks", "run_id", run.ID, "chunks", len(retry))

	redone := p.runner.Run(ctx, retry, p.transform)

	out := *run
	out.Results = make([]runner.Result, len(run.Results))
	copy(out.Results, run.Results)
	for _, res := range redone {
		out.Results[res.ChunkIndex] = res
	}
	out.Report = aggregate.Aggregate(out.Results)
	out.FinishedAt = time.Now().UTC()

	p.finish(ctx, &out)
	return &out, nil
}

func (p *Pipeline) finish(ctx context.Context, run *Run) {
	failed := run.Report.FailedChunks()
	p.logger.Info("extraction run complete",
		"run_id", run.ID,
		"chunks", run.Report.Chunks,
		"beliefs", len(run.Report.Beliefs),
		"failed_chunks", len(failed),
		"duration", run.FinishedAt.Sub(run.StartedAt).String(),
	)

	if p.store != nil {
		if err := p.store.SaveRun(ctx, run); err != nil {
			p.logger.Error("failed to persist run", "run_id", run.ID, "error", err)
		}
	}

	if p.publisher != nil {
		if err := p.publisher.Publish(hermes.SubjectRunCompleted, hermes.RunCompleted{
			RunID:         run.ID.String(),
			Source:        run.Source,
			TargetSpeaker: run.TargetSpeaker,
			Chunks:        run.Report.Chunks,
			Beliefs:       len(run.Report.Beliefs),
			FailedChunks:  failed,
		}); err != nil {
			p.logger.Error("failed to publish run completed", "run_id", run.ID, "error", err)
		}
	}

	if p.notifier != nil {
		if err := p.notifier.PostRunSummary(ctx, run); err != nil {
			p.logger.Error("slack post failed", "run_id", run.ID, "error", err)
		}
	}
}
