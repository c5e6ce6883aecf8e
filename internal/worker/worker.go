// Package worker runs queued ingest jobs.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ratemystay/internal/housing"
	"github.com/JakeFAU/ratemystay/internal/metrics"
)

// Ingester runs one ingestion for a campus.
type Ingester interface {
	Ingest(ctx context.Context, campusID string) (housing.IngestSummary, error)
}

// Config controls Worker behavior.
type Config struct {
	// Topic receives a completion event per job when set.
	Topic string
	// RunTimeout bounds a single ingestion; zero means no limit.
	RunTimeout time.Duration
}

// Worker consumes queued ingest requests and records their outcome.
type Worker struct {
	queue     housing.Queue
	jobStore  housing.JobStore
	ingester  Ingester
	publisher housing.Publisher
	clock     housing.Clock
	cfg       Config
	logger    *zap.Logger
}

// CompletionEvent is published when a job reaches a terminal status.
type CompletionEvent struct {
	JobID      string                `json:"job_id"`
	CampusID   string                `json:"campus_id"`
	Status     housing.JobStatus     `json:"status"`
	Error      string                `json:"error,omitempty"`
	Summary    housing.IngestSummary `json:"summary"`
	FinishedAt string                `json:"finished_at"`
}

// New constructs a Worker. The publisher may be nil.
func New(
	queue housing.Queue,
	jobStore housing.JobStore,
	ingester Ingester,
	publisher housing.Publisher,
	clock housing.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		jobStore:  jobStore,
		ingester:  ingester,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		req, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", req.JobID))
		w.Process(ctx, req)
	}
}

// Process runs one job to completion and stores its terminal status.
func (w *Worker) Process(ctx context.Context, req housing.IngestRequest) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := w.logger.With(zap.String("job_id", req.JobID), zap.String("campus_id", req.CampusID))

	if err := w.jobStore.UpdateJob(ctx, req.JobID, housing.JobStatusRunning, "", housing.IngestSummary{}); err != nil {
		logger.Error("update job status failed", zap.Error(err))
		return
	}

	runCtx := ctx
	if w.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.cfg.RunTimeout)
		defer cancel()
	}

	start := time.Now()
	summary, err := w.ingester.Ingest(runCtx, req.CampusID)
	status, errText := deriveFinalStatus(err)
	metrics.ObserveIngestRun(string(status))

	// The final write must land even when shutdown cancelled the run.
	finalCtx := context.WithoutCancel(ctx)
	if err := w.jobStore.UpdateJob(finalCtx, req.JobID, status, errText, summary); err != nil {
		logger.Error("final job status update failed", zap.Error(err))
	}

	fields := []zap.Field{
		zap.String("status", string(status)),
		zap.Int("inserted", summary.Inserted),
		zap.Int("updated", summary.Updated),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		logger.Warn("ingest job failed", append(fields, zap.Error(err))...)
	} else {
		logger.Info("ingest job finished", fields...)
	}

	if err := w.publishResult(finalCtx, req, status, errText, summary); err != nil {
		logger.Error("publish completion failed", zap.Error(err))
	}
}

func (w *Worker) publishResult(
	ctx context.Context,
	req housing.IngestRequest,
	status housing.JobStatus,
	errText string,
	summary housing.IngestSummary,
) error {
	if w.cfg.Topic == "" || w.publisher == nil {
		return nil
	}
	event := CompletionEvent{
		JobID:      req.JobID,
		CampusID:   req.CampusID,
		Status:     status,
		Error:      errText,
		Summary:    summary,
		FinishedAt: w.clock.Now().Format(time.RFC3339),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, event); err != nil {
		return fmt.Errorf("publish payload: %w", err)
	}
	return nil
}

func deriveFinalStatus(err error) (housing.JobStatus, string) {
	if err != nil {
		return housing.JobStatusFailed, err.Error()
	}
	return housing.JobStatusSucceeded, ""
}
