package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/doxa/internal/transcript"
)

const defaultConcurrency = 100

// TransformFunc turns one chunk's text into a structured payload. Errors should be
// wrapped with Transient or Permanent; anything else is treated as unexpected.
type TransformFunc func(ctx context.Context, text string) (string, error)

type Status string

const (
	StatusOK         Status = "ok"
	StatusTransient  Status = "transient_error"
	StatusPermanent  Status = "permanent_error"
	StatusUnexpected Status = "unexpected_error"
)

// Result is the outcome of running the transformation on one chunk.
type Result struct {
	ChunkIndex int    `json:"chunk_index"`
	Payload    string `json:"payload,omitempty"`
	Status     Status `json:"status"`
	Attempts   int    `json:"attempts"`
	Err        error  `json:"-"`
}

func (r Result) OK() bool { return r.Status == StatusOK }

// Message describes the failure, or "" for a successful result.
func (r Result) Message() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Runner applies a TransformFunc to chunks on a bounded worker pool.
type Runner struct {
	concurrency int
	policy      Policy
	logger      *slog.Logger
	progress    func(done, total int)
	sleep       func(ctx context.Context, d time.Duration) error
}

type Option func(*Runner)

// WithConcurrency caps the number of in-flight transformations.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func WithPolicy(p Policy) Option {
	return func(r *Runner) { r.policy = p.normalize() }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithProgress registers a callback invoked after each chunk completes.
// It is called from worker goroutines and must be safe for concurrent use.
func WithProgress(fn func(done, total int)) Option {
	return func(r *Runner) { r.progress = fn }
}

// WithSleep replaces the backoff wait.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) {
		if fn != nil {
			r.sleep = fn
		}
	}
}

func New(opts ...Option) *Runner {
	r := &Runner{
		concurrency: defaultConcurrency,
		policy:      DefaultPolicy(),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// task carries its output slot explicitly so result correlation does not depend
// on completion order.
type task struct {
	slot  int
	index int
	text  string
}

// Run transforms every chunk and returns one result per chunk, in input order.
// A failing chunk never cancels or blocks its siblings.
func (r *Runner) Run(ctx context.Context, chunks []transcript.Chunk, fn TransformFunc) []Result {
	results := make([]Result, len(chunks))
	if len(chunks) == 0 {
		return results
	}

	total := len(chunks)
	var done atomic.Int64

	var g errgroup.Group
	g.SetLimit(r.concurrency)

	for i, c := range chunks {
		t := task{slot: i, index: c.Index, text: c.Text}
		g.Go(func() error {
			results[t.slot] = r.Do(ctx, t.index, t.text, fn)
			n := done.Add(1)
			if r.progress != nil {
				r.progress(int(n), total)
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, res := range results {
		if !res.OK() {
			failed++
		}
	}
	r.logger.Info("extraction batch complete", "chunks", total, "failed", failed)

	return results
}

// Do runs fn on a single chunk under the retry policy.
func (r *Runner) Do(ctx context.Context, index int, text string, fn TransformFunc) Result {
	res := Result{ChunkIndex: index}

	for attempt := 1; ; attempt++ {
		res.Attempts = attempt

		payload, err := call(ctx, text, fn)
		switch {
		case err == nil:
			res.Status = StatusOK
			res.Payload = payload
			return res

		case IsPermanent(err):
			r.logger.Warn("chunk rejected", "chunk", index, "attempt", attempt, "error", err)
			res.Status = StatusPermanent
			res.Err = err
			return res

		case IsTransient(err):
			if attempt >= r.policy.MaxAttempts {
				r.logger.Error("chunk retries exhausted", "chunk", index, "attempts", attempt, "error", err)
				res.Status = StatusTransient
				res.Err = fmt.Errorf("retries exhausted after %d attempts: %w", attempt, err)
				return res
			}
			wait := r.policy.Backoff(attempt)
			r.logger.Debug("chunk retry scheduled", "chunk", index, "attempt", attempt, "wait", wait, "error", err)
			if serr := r.sleep(ctx, wait); serr != nil {
				res.Status = StatusUnexpected
				res.Err = fmt.Errorf("backoff interrupted: %w", serr)
				return res
			}

		default:
			r.logger.Error("chunk failed", "chunk", index, "attempt", attempt, "error", err)
			res.Status = StatusUnexpected
			res.Err = err
			return res
		}
	}
}

func call(ctx context.Context, text string, fn TransformFunc) (payload string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("transform panicked: %v", p)
		}
	}()
	return fn(ctx, text)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
