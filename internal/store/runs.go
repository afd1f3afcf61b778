package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/MikeSquared-Agency/doxa/internal/aggregate"
	"github.com/MikeSquared-Agency/doxa/internal/pipeline"
	"github.com/MikeSquared-Agency/doxa/internal/runner"
	"github.com/MikeSquared-Agency/doxa/internal/transcript"
)

var ErrRunNotFound = errors.New("run not found")

// SaveRun writes a run with its chunks, beliefs and chunk errors in one
// transaction. Saving an existing run ID replaces its children, so a redriven
// run overwrites the earlier attempt.
func (s *Store) SaveRun(ctx context.Context, run *pipeline.Run) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// 1. Upsert the run header
	_, err = tx.Exec(ctx, `
		INSERT INTO extraction_runs (id, source, target_speaker, chunk_count, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET chunk_count = EXCLUDED.chunk_count, finished_at = EXCLUDED.finished_at`,
		run.ID, run.Source, run.TargetSpeaker, run.Report.Chunks, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}

	for _, table := range []string{"run_chunks", "beliefs", "chunk_errors"} {
		if _, err := tx.Exec(ctx, "DELETE FROM "+table+" WHERE run_id = $1", run.ID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	// 2. Chunks with their per-chunk outcome
	for i, c := range run.Chunks {
		var res runner.Result
		if i < len(run.Results) {
			res = run.Results[i]
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO run_chunks (run_id, chunk_index, text, status, attempts, payload, error)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			run.ID, c.Index, c.Text, string(res.Status), res.Attempts, res.Payload, res.Message(),
		)
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.Index, err)
		}
	}

	// 3. Beliefs in report order
	for pos, it := range run.Report.Beliefs {
		b := it.Belief
		_, err = tx.Exec(ctx, `
			INSERT INTO beliefs (id, run_id, chunk_index, position, belief, belief_type, context, justification, certainty)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			uuid.New(), run.ID, it.ChunkIndex, pos, b.Belief, b.Type, b.Context, b.Justification, string(b.Certainty),
		)
		if err != nil {
			return fmt.Errorf("insert belief: %w", err)
		}
	}

	// 4. Chunk errors
	for _, ce := range run.Report.Errors {
		_, err = tx.Exec(ctx, `
			INSERT INTO chunk_errors (run_id, chunk_index, stage, message)
			VALUES ($1, $2, $3, $4)`,
			run.ID, ce.ChunkIndex, string(ce.Stage), ce.Message,
		)
		if err != nil {
			return fmt.Errorf("insert chunk error: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetRun loads a run and everything needed to render or redrive it. Chunk
// entries are not stored; loaded chunks carry only their index and text.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*pipeline.Run, error) {
	run := &pipeline.Run{ID: id}
	err := s.pool.QueryRow(ctx, `
		SELECT source, target_speaker, chunk_count, started_at, finished_at
		FROM extraction_runs WHERE id = $1`, id,
	).Scan(&run.Source, &run.TargetSpeaker, &run.Report.Chunks, &run.StartedAt, &run.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	if err := s.loadChunks(ctx, run); err != nil {
		return nil, err
	}
	if err := s.loadBeliefs(ctx, run); err != nil {
		return nil, err
	}
	if err := s.loadErrors(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Store) loadChunks(ctx context.Context, run *pipeline.Run) error {
	rows, err := s.pool.Query(ctx, `
		SELECT chunk_index, text, status, attempts, payload, error
		FROM run_chunks WHERE run_id = $1 ORDER BY chunk_index`, run.ID)
	if err != nil {
		return fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c      transcript.Chunk
			res    runner.Result
			status string
			msg    string
		)
		if err := rows.Scan(&c.Index, &c.Text, &status, &res.Attempts, &res.Payload, &msg); err != nil {
			return fmt.Errorf("scan chunk: %w", err)
		}
		res.ChunkIndex = c.Index
		res.Status = runner.Status(status)
		if msg != "" {
			res.Err = errors.New(msg)
		}
		run.Chunks = append(run.Chunks, c)
		run.Results = append(run.Results, res)
	}
	return rows.Err()
}

func (s *Store) loadBeliefs(ctx context.Context, run *pipeline.Run) error {
	rows, err := s.pool.Query(ctx, `
		SELECT chunk_index, belief, belief_type, context, justification, certainty
		FROM beliefs WHERE run_id = $1 ORDER BY position`, run.ID)
	if err != nil {
		return fmt.Errorf("query beliefs: %w", err)
	}
	defer rows.Close()

	run.Report.Beliefs = []aggregate.Item{}
	for rows.Next() {
		var (
			it        aggregate.Item
			certainty string
		)
		b := &it.Belief
		if err := rows.Scan(&it.ChunkIndex, &b.Belief, &b.Type, &b.Context, &b.Justification, &certainty); err != nil {
			return fmt.Errorf("scan belief: %w", err)
		}
		b.Certainty = aggregate.Certainty(certainty)
		run.Report.Beliefs = append(run.Report.Beliefs, it)
	}
	return rows.Err()
}

func (s *Store) loadErrors(ctx context.Context, run *pipeline.Run) error {
	rows, err := s.pool.Query(ctx, `
		SELECT chunk_index, stage, message
		FROM chunk_errors WHERE run_id = $1 ORDER BY chunk_index`, run.ID)
	if err != nil {
		return fmt.Errorf("query chunk errors: %w", err)
	}
	defer rows.Close()

	run.Report.Errors = []aggregate.ChunkError{}
	for rows.Next() {
		var (
			ce    aggregate.ChunkError
			stage string
		)
		if err := rows.Scan(&ce.ChunkIndex, &stage, &ce.Message); err != nil {
			return fmt.Errorf("scan chunk error: %w", err)
		}
		ce.Stage = aggregate.Stage(stage)
		run.Report.Errors = append(run.Report.Errors, ce)
	}
	return rows.Err()
}

// RunSummary is a row in the run listing.
type RunSummary struct {
	ID            uuid.UUID `json:"id"`
	Source        string    `json:"source"`
	TargetSpeaker string    `json:"target_speaker"`
	Chunks        int       `json:"chunks"`
	Beliefs       int       `json:"beliefs"`
	FailedChunks  int       `json:"failed_chunks"`
	FinishedAt    time.Time `json:"finished_at"`
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.source, r.target_speaker, r.chunk_count, r.finished_at,
			(SELECT count(*) FROM beliefs b WHERE b.run_id = r.id),
			(SELECT count(*) FROM chunk_errors e WHERE e.run_id = r.id)
		FROM extraction_runs r
		ORDER BY r.finished_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := []RunSummary{}
	for rows.Next() {
		var rs RunSummary
		if err := rows.Scan(&rs.ID, &rs.Source, &rs.TargetSpeaker, &rs.Chunks, &rs.FinishedAt, &rs.Beliefs, &rs.FailedChunks); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}
