package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/ratemystay/internal/housing"
)

type createUniversityRequest struct {
	Name string `json:"name"`
}

type createCampusRequest struct {
	Name    string `json:"name"`
	PlaceID string `json:"place_id"`
}

func (s *Server) listUniversities(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Catalog.ListUniversities(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []housing.University{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"universities": list})
}

func (s *Server) createUniversity(w http.ResponseWriter, r *http.Request) {
	var req createUniversityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	u, err := s.deps.Catalog.AddUniversity(r.Context(), req.Name)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) deleteUniversity(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Catalog.RemoveUniversity(r.Context(), chi.URLParam(r, "university_id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createCampus(w http.ResponseWriter, r *http.Request) {
	var req createCampusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	c, err := s.deps.Catalog.AddCampus(r.Context(), req.Name, chi.URLParam(r, "university_id"), req.PlaceID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) listCampuses(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Catalog.ListCampuses(r.Context(), r.URL.Query().Get("university_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []housing.Campus{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"campuses": list})
}

func (s *Server) triggerIngest(w http.ResponseWriter, r *http.Request) {
	campusID := chi.URLParam(r, "campus_id")
	if _, err := s.deps.Campuses.GetCampus(r.Context(), campusID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	jobID, err := s.enqueueJob(r.Context(), campusID)
	if err != nil {
		s.logger.Error("enqueue ingest failed", zap.String("campus_id", campusID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "ingest queue unavailable")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": string(housing.JobStatusQueued)})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.GetJob(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) enqueueJob(ctx context.Context, campusID string) (string, error) {
	jobID, err := s.deps.IDs.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.deps.Clock.Now()
	job := housing.IngestJob{
		ID:        jobID,
		CampusID:  campusID,
		Status:    housing.JobStatusQueued,
		Submitted: now,
	}
	if err := s.deps.Jobs.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, s.cfg.EnqueueTimeout)
	defer cancel()
	req := housing.IngestRequest{
		JobID:     jobID,
		CampusID:  campusID,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.deps.Queue.Enqueue(queueCtx, req); err != nil {
		if updErr := s.deps.Jobs.UpdateJob(context.WithoutCancel(ctx), jobID, housing.JobStatusFailed,
			"enqueue failed: "+err.Error(), housing.IngestSummary{}); updErr != nil {
			s.logger.Warn("mark unqueued job failed", zap.String("job_id", jobID), zap.Error(updErr))
		}
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}
