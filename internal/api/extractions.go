package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/MikeSquared-Agency/doxa/internal/dedup"
	"github.com/MikeSquared-Agency/doxa/internal/pipeline"
	"github.com/MikeSquared-Agency/doxa/internal/render"
	"github.com/MikeSquared-Agency/doxa/internal/store"
	"github.com/MikeSquared-Agency/doxa/internal/transcript"
)

const maxTranscriptBytes = 10 << 20

// ExtractionRequest is the body of POST /api/v1/doxa/extractions.
type ExtractionRequest struct {
	Transcript    string `json:"transcript"`
	TargetSpeaker string `json:"target_speaker,omitempty"` // defaults to the second speaker
	Source        string `json:"source,omitempty"`
}

// createExtraction handles POST /api/v1/doxa/extractions. The run completes
// before the response is written.
func (s *Server) createExtraction(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxTranscriptBytes)

	var req ExtractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	entries := transcript.Parse(req.Transcript)
	if len(entries) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "transcript has no speaker entries")
		return
	}

	target := req.TargetSpeaker
	if target == "" {
		var ok bool
		if target, ok = transcript.DefaultTarget(entries); !ok {
			writeError(w, http.StatusUnprocessableEntity, "target_speaker is required for single-speaker transcripts")
			return
		}
	}

	run, err := s.extractor.Run(r.Context(), pipeline.Request{
		Entries:       entries,
		TargetSpeaker: target,
		Source:        req.Source,
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrNoTarget) || errors.Is(err, pipeline.ErrEmptyTranscript) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.logger.Error("extraction failed", "error", err)
		writeError(w, http.StatusInternalServerError, "extraction failed")
		return
	}

	writeRun(w, r, http.StatusCreated, run)
}

// getRun handles GET /api/v1/doxa/runs/{id}.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	writeRun(w, r, http.StatusOK, run)
}

// redriveRun handles POST /api/v1/doxa/runs/{id}/redrive.
func (s *Server) redriveRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}

	redone, err := s.extractor.Redrive(r.Context(), run)
	if err != nil {
		if errors.Is(err, pipeline.ErrNotRedrivable) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("redrive failed", "run_id", run.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "redrive failed")
		return
	}

	writeRun(w, r, http.StatusOK, redone)
}

// listRuns handles GET /api/v1/doxa/runs.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run store not configured")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("list runs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) (*pipeline.Run, bool) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run store not configured")
		return nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return nil, false
	}

	run, err := s.runs.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("get run failed", "run_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "get run failed")
		return nil, false
	}
	return run, true
}

// writeRun answers with the run as JSON, or as a markdown report when the
// request asks for ?format=markdown. ?dedup=true collapses restated beliefs
// in the response only; the stored run keeps every belief.
func writeRun(w http.ResponseWriter, r *http.Request, status int, run *pipeline.Run) {
	if ok, _ := strconv.ParseBool(r.URL.Query().Get("dedup")); ok {
		view := *run
		view.Report, _ = dedup.New(dedup.DefaultThreshold, nil).Deduplicate(run.Report)
		run = &view
	}
	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(status)
		w.Write([]byte(render.Markdown(run)))
		return
	}
	writeJSON(w, status, run)
}
