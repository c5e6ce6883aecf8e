package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/ratemystay/internal/housing"
	"github.com/JakeFAU/ratemystay/internal/metrics"
)

// Searcher answers listing searches.
type Searcher interface {
	Search(ctx context.Context, campusID string, filter housing.Filter, page housing.Page) ([]housing.Listing, error)
	Mode() housing.PagingMode
	PageSize() int
}

// Catalog manages universities and campuses.
type Catalog interface {
	AddUniversity(ctx context.Context, name string) (housing.University, error)
	RemoveUniversity(ctx context.Context, id string) error
	ListUniversities(ctx context.Context) ([]housing.University, error)
	AddCampus(ctx context.Context, name, universityID, placeID string) (housing.Campus, error)
	ListCampuses(ctx context.Context, universityID string) ([]housing.Campus, error)
}

// Enqueuer accepts ingest requests for background processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, req housing.IngestRequest) error
}

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Config controls server behavior.
type Config struct {
	AuthEnabled    bool
	APIKey         string
	RequestTimeout time.Duration
	EnqueueTimeout time.Duration
}

// Deps groups the collaborators the handlers call.
type Deps struct {
	Search   Searcher
	Catalog  Catalog
	Campuses housing.CampusStore
	Jobs     housing.JobStore
	Queue    Enqueuer
	IDs      housing.IDGenerator
	Clock    housing.Clock
	Checks   map[string]ReadinessCheck
}

// Server wires HTTP handlers to the services and stores.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 5 * time.Second
	}
	s := &Server{deps: deps, cfg: cfg, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		// Search and the catalog reads used to pick a campus are public.
		r.Get("/campuses/{campus_id}/listings", s.searchListings)
		r.Get("/universities", s.listUniversities)
		r.Get("/campuses", s.listCampuses)

		r.Group(func(r chi.Router) {
			if cfg.AuthEnabled {
				r.Use(apiKeyMiddleware(cfg.APIKey))
			}
			r.Post("/universities", s.createUniversity)
			r.Delete("/universities/{university_id}", s.deleteUniversity)
			r.Post("/universities/{university_id}/campuses", s.createCampus)
			r.Post("/campuses/{campus_id}/ingest", s.triggerIngest)
			r.Get("/ingest/jobs/{job_id}", s.getJob)
		})
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
	failing := map[string]string{}
	for name, check := range s.deps.Checks {
		if err := check(r.Context()); err != nil {
			failing[name] = err.Error()
		}
	}
	if len(failing) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failing": failing})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// writeServiceError maps domain errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"
	switch {
	case housing.IsValidation(err):
		status, msg = http.StatusBadRequest, err.Error()
	case housing.IsNotFound(err):
		status, msg = http.StatusNotFound, err.Error()
	case housing.IsConflict(err):
		status, msg = http.StatusConflict, err.Error()
	case housing.IsFetch(err):
		status, msg = http.StatusBadGateway, "upstream places service failed"
	case errors.Is(err, context.DeadlineExceeded):
		status, msg = http.StatusServiceUnavailable, "request timed out"
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID(r.Context())),
			zap.Error(err),
		)
	}
	writeError(w, status, msg)
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

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return &housing.ValidationError{Field: "body", Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return nil
}
