package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/MikeSquared-Agency/doxa/internal/pipeline"
	"github.com/MikeSquared-Agency/doxa/internal/store"
)

// Extractor runs and redrives extraction runs.
type Extractor interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Run, error)
	Redrive(ctx context.Context, run *pipeline.Run) (*pipeline.Run, error)
}

// RunStore reads saved runs.
type RunStore interface {
	GetRun(ctx context.Context, id uuid.UUID) (*pipeline.Run, error)
	ListRuns(ctx context.Context, limit int) ([]store.RunSummary, error)
}

type Server struct {
	router    *chi.Mux
	port      int
	extractor Extractor
	runs      RunStore
	logger    *slog.Logger
	http      *http.Server
}

// NewServer builds the HTTP API. runs may be nil when no database is
// configured; the run endpoints then answer 503. An empty apiToken disables
// authentication on the write endpoints.
func NewServer(port int, apiToken string, ext Extractor, runs RunStore, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:    router,
		port:      port,
		extractor: ext,
		runs:      runs,
		logger:    logger,
	}

	router.Get("/health", s.health)
	router.Route("/api/v1/doxa", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Get("/runs", s.listRuns)
		r.Get("/runs/{id}", s.getRun)

		r.Group(func(r chi.Router) {
			r.Use(BearerAuthMiddleware(apiToken))
			r.Post("/extractions", s.createExtraction)
			r.Post("/runs/{id}/redrive", s.redriveRun)
		})
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server starting", "addr", addr)
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	persistence := "disabled"
	if s.runs != nil {
		persistence = "postgres"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"agent":       "doxa",
		"status":      "ready",
		"persistence": persistence,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
