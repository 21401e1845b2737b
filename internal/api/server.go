package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-acquirer/internal/config"
	"github.com/JakeFAU/site-acquirer/internal/dispatcher"
	"github.com/JakeFAU/site-acquirer/internal/metrics"
	"github.com/JakeFAU/site-acquirer/internal/site"
	"github.com/JakeFAU/site-acquirer/internal/store"
)

// Submitter queues a pipeline run for a site.
type Submitter interface {
	Submit(ctx context.Context, siteName string) (store.Job, error)
}

// SiteLister exposes the configured sites.
type SiteLister interface {
	List() []site.Config
}

// JobReader reads job rows.
type JobReader interface {
	GetJob(ctx context.Context, jobID uuid.UUID) (store.Job, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]store.Job, error)
}

// ReadyCheck reports whether a downstream dependency can serve traffic.
type ReadyCheck func(ctx context.Context) error

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router    chi.Router
	sites     SiteLister
	jobs      JobReader
	submitter Submitter
	checks    []ReadyCheck
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	sites SiteLister,
	jobs JobReader,
	submitter Submitter,
	cfg config.Config,
	logger *zap.Logger,
	checks ...ReadyCheck,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		sites:     sites,
		jobs:      jobs,
		submitter: submitter,
		checks:    checks,
		logger:    logger,
	}

	timeout := cfg.Server.RequestTimeout()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/sites", s.listSites)
		r.Post("/sites/{name}/runs", s.submitRun)
		r.Get("/jobs", s.listJobs)
		r.Get("/jobs/{job_id}", s.getJob)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	for _, check := range s.checks {
		if err := check(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type siteSummary struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	SeedURL    string `json:"seed_url"`
	ParserType string `json:"parser_type"`
}

func (s *Server) listSites(w http.ResponseWriter, _ *http.Request) {
	configs := s.sites.List()
	out := make([]siteSummary, 0, len(configs))
	for _, cfg := range configs {
		out = append(out, siteSummary{
			Name:       cfg.Name,
			Type:       cfg.Type,
			SeedURL:    cfg.SeedURL,
			ParserType: cfg.ParserType,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sites": out})
}

func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	job, err := s.submitter.Submit(r.Context(), name)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{
			"job_id": job.ID.String(),
			"status": string(job.Status),
		})
	case errors.Is(err, site.ErrNotFound):
		writeError(w, http.StatusNotFound, "site not found")
	case errors.Is(err, site.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, dispatcher.ErrBusy):
		writeError(w, http.StatusServiceUnavailable, "run queue is full")
	default:
		s.logger.Error("submit run failed", zap.String("site", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to submit run")
	}
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseJobFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobs, err := s.jobs.ListJobs(r.Context(), filter)
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []store.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "job_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	job, err := s.jobs.GetJob(r.Context(), jobID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case err != nil:
		s.logger.Error("get job failed", zap.String("job_id", jobID.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"job": job})
	}
}

func parseJobFilter(r *http.Request) (store.JobFilter, error) {
	q := r.URL.Query()
	filter := store.JobFilter{
		Site:   q.Get("site"),
		Status: store.JobStatus(q.Get("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return store.JobFilter{}, fmt.Errorf("unknown status %q", filter.Status)
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		return store.JobFilter{}, fmt.Errorf("limit: %w", err)
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		return store.JobFilter{}, fmt.Errorf("offset: %w", err)
	}
	return filter, nil
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
