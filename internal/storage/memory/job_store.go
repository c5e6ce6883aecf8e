package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/ratemystay/internal/housing"
)

// JobStore provides an in-memory ingest job store for development/testing.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]housing.IngestJob
	clock housing.Clock
}

// NewJobStore constructs a JobStore. clock stamps start and finish times.
func NewJobStore(clock housing.Clock) *JobStore {
	return &JobStore{
		jobs:  make(map[string]housing.IngestJob),
		clock: clock,
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job housing.IngestJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return &housing.ConflictError{Kind: "job", Name: job.ID}
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJob records the status, error text and summary for a job.
func (s *JobStore) UpdateJob(
	_ context.Context,
	jobID string,
	status housing.JobStatus,
	errText string,
	summary housing.IngestSummary,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return &housing.NotFoundError{Kind: "job", ID: jobID}
	}
	job.Status = status
	job.ErrorText = errText
	job.Summary = summary
	now := s.clock.Now()
	if status == housing.JobStatusRunning && job.Started == nil {
		job.Started = &now
	}
	if isTerminal(status) {
		job.Finished = &now
	}
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (housing.IngestJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return housing.IngestJob{}, &housing.NotFoundError{Kind: "job", ID: jobID}
	}
	return job, nil
}

func isTerminal(status housing.JobStatus) bool {
	switch status {
	case housing.JobStatusSucceeded, housing.JobStatusFailed:
		return true
	default:
		return false
	}
}
