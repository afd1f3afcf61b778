package processor

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// RedriveRequest asks for the failed chunks of a saved run to be re-extracted.
type RedriveRequest struct {
	RunID string `json:"run_id"`
}

// HandleRedriveRequest is the NATS handler for swarm.doxa.run.redrive.
func (p *Processor) HandleRedriveRequest(subject string, data []byte) {
	var req RedriveRequest
	if err := json.Unmarshal(data, &req); err != nil {
		p.logger.Warn("failed to parse redrive request", "error", err)
		return
	}

	id, err := uuid.Parse(req.RunID)
	if err != nil {
		p.logger.Warn("invalid run id in redrive request", "run_id", req.RunID, "error", err)
		return
	}

	if p.runs == nil {
		p.logger.Warn("redrive requested but no run store is configured", "run_id", id)
		return
	}

	ctx := context.Background()
	run, err := p.runs.GetRun(ctx, id)
	if err != nil {
		p.logger.Error("failed to load run for redrive", "run_id", id, "error", err)
		return
	}

	before := len(run.Report.Errors)
	redone, err := p.pipeline.Redrive(ctx, run)
	if err != nil {
		p.logger.Error("redrive failed", "run_id", id, "error", err)
		return
	}

	p.logger.Info("run redriven",
		"run_id", id,
		"failed_before", before,
		"failed_after", len(redone.Report.Errors),
	)
}
