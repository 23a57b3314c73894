// Package worker drains case analysis jobs from the SQLite queue and runs
// the processing pipeline on each claimed case.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/openmedphys/ctqa/internal/storage"
	"github.com/openmedphys/ctqa/internal/telemetry"
)

// CaseStore abstracts the job queue and case record operations.
type CaseStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetCase(id string) (storage.Case, error)
	MarkCaseProcessing(id string) error
	CompleteCase(id, resultDir string) error
	FailCase(id, errMsg string) error
}

// Processor runs the full analysis pipeline for one case.
type Processor interface {
	Process(ctx context.Context, c storage.Case) (resultDir string, err error)
}

// JobTypeCaseAnalysis mirrors the type the case manager enqueues.
const JobTypeCaseAnalysis = "case_analysis"

// Worker processes case_analysis jobs from the queue.
type Worker struct {
	store     CaseStore
	processor Processor
	metrics   *telemetry.Metrics
	poll      time.Duration
	logger    *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms. metrics may be nil.
func NewWorker(store CaseStore, processor Processor, metrics *telemetry.Metrics, pollInterval time.Duration, logger *slog.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:     store,
		processor: processor,
		metrics:   metrics,
		poll:      pollInterval,
		logger:    logger,
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single case_analysis job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobTypeCaseAnalysis})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if w.metrics != nil {
		w.metrics.JobsInFlight.Inc()
		defer w.metrics.JobsInFlight.Dec()
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

type analysisPayload struct {
	CaseID string `json:"case_id"`
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload analysisPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	c, err := w.store.GetCase(payload.CaseID)
	if err != nil {
		return fmt.Errorf("loading case %s: %w", payload.CaseID, err)
	}

	if err := w.store.MarkCaseProcessing(c.ID); err != nil {
		return fmt.Errorf("marking case %s processing: %w", c.ID, err)
	}

	w.logger.Info("processing case", "case_id", c.ID, "device", c.DeviceID)

	resultDir, err := w.processor.Process(ctx, c)
	if err != nil {
		if failErr := w.store.FailCase(c.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark case as failed", "case_id", c.ID, "error", failErr)
		}
		w.recordOutcome(string(storage.StatusFailed))
		return fmt.Errorf("processing case %s: %w", c.ID, err)
	}

	if err := w.store.CompleteCase(c.ID, resultDir); err != nil {
		return fmt.Errorf("completing case %s: %w", c.ID, err)
	}
	w.recordOutcome(string(storage.StatusCompleted))
	w.logger.Info("case completed", "case_id", c.ID, "result_dir", resultDir)
	return nil
}

func (w *Worker) recordOutcome(status string) {
	if w.metrics != nil {
		w.metrics.CasesProcessed.WithLabelValues(status).Inc()
	}
}
