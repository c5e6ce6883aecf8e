package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/ratemystay/internal/housing"
)

// CreateJob inserts a queued ingest job.
func (s *Store) CreateJob(ctx context.Context, job housing.IngestJob) error {
	summary, err := json.Marshal(job.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO ingest_jobs (id, campus_id, status, submitted_at, error_text, summary)
VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.CampusID, string(job.Status), job.Submitted, job.ErrorText, summary)
	if pgCode(err) == codeUniqueViolation {
		return &housing.ConflictError{Kind: "job", Name: job.ID}
	}
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJob records a status transition. The first move to running stamps
// started_at; a terminal status stamps finished_at.
func (s *Store) UpdateJob(
	ctx context.Context,
	jobID string,
	status housing.JobStatus,
	errText string,
	summary housing.IngestSummary,
) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE ingest_jobs SET
	status = $2,
	error_text = $3,
	summary = $4,
	started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN $5 ELSE started_at END,
	finished_at = CASE WHEN $2 IN ('succeeded', 'failed') THEN $5 ELSE finished_at END
WHERE id = $1`,
		jobID, string(status), errText, payload, s.clock.Now())
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &housing.NotFoundError{Kind: "job", ID: jobID}
	}
	return nil
}

// GetJob loads an ingest job.
func (s *Store) GetJob(ctx context.Context, jobID string) (housing.IngestJob, error) {
	var (
		job     housing.IngestJob
		status  string
		summary []byte
	)
	err := s.pool.QueryRow(ctx, `
SELECT id, campus_id, status, submitted_at, started_at, finished_at, error_text, summary
FROM ingest_jobs WHERE id = $1`, jobID).Scan(
		&job.ID, &job.CampusID, &status, &job.Submitted, &job.Started, &job.Finished, &job.ErrorText, &summary,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return housing.IngestJob{}, &housing.NotFoundError{Kind: "job", ID: jobID}
	}
	if err != nil {
		return housing.IngestJob{}, fmt.Errorf("get job: %w", err)
	}
	job.Status = housing.JobStatus(status)
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &job.Summary); err != nil {
			return housing.IngestJob{}, fmt.Errorf("decode summary: %w", err)
		}
	}
	return job, nil
}
