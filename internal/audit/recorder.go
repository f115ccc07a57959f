// Package audit maintains the batch ledger: every orchestrated batch opens a
// RUNNING row before its first write and lands on exactly one terminal row,
// SUCCESS or FAILED, that is never mutated again.
package audit

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/agroflow-systems/agroflow/internal/metrics"
	"github.com/agroflow-systems/agroflow/pkg/types"
)

// Ledger is the warehouse subset the recorder writes through.
type Ledger interface {
	InsertAudit(ctx context.Context, rec types.AuditRecord) error
	AddAuditCounts(ctx context.Context, batchID string, delta types.Counters) error
	CompleteAudit(ctx context.Context, batchID string, status types.BatchStatus, errMsg string, endedAt time.Time) error
	GetAudit(ctx context.Context, batchID string) (*types.AuditRecord, error)
	StaleRunning(ctx context.Context, olderThan time.Time) ([]types.AuditRecord, error)
}

// Recorder drives the audit ledger for running batches.
type Recorder struct {
	ledger     Ledger
	staleAfter time.Duration
	log        *slog.Logger
	now        func() time.Time
}

func NewRecorder(ledger Ledger, staleAfter time.Duration, log *slog.Logger) *Recorder {
	if staleAfter <= 0 {
		staleAfter = 24 * time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{
		ledger:     ledger,
		staleAfter: staleAfter,
		log:        log,
		now:        time.Now,
	}
}

// NewBatchID mints a sortable unique batch identifier.
func NewBatchID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

// Begin opens a RUNNING ledger row and returns the new batch id. Nothing
// else may be written for the batch until Begin has committed.
func (r *Recorder) Begin(ctx context.Context, pipelineName string, metadata map[string]interface{}) (string, error) {
	start := r.now().UTC()
	batchID := NewBatchID(start)

	err := r.ledger.InsertAudit(ctx, types.AuditRecord{
		BatchID:      batchID,
		PipelineName: pipelineName,
		Status:       types.BatchRunning,
		Metadata:     metadata,
		StartTime:    start,
	})
	if err != nil {
		return "", fmt.Errorf("open audit for %s: %w", pipelineName, err)
	}

	metrics.BatchesStarted.Add(1)
	r.log.Info("batch started", "batch_id", batchID, "pipeline", pipelineName)
	return batchID, nil
}

// Add accumulates counter deltas onto the running batch.
func (r *Recorder) Add(ctx context.Context, batchID string, delta types.Counters) error {
	return r.ledger.AddAuditCounts(ctx, batchID, delta)
}

// Complete finalizes the batch. The terminal row keeps whatever counters
// were accumulated, even on failure: partial progress is real progress.
func (r *Recorder) Complete(ctx context.Context, batchID string, status types.BatchStatus, errMsg string) error {
	if err := r.ledger.CompleteAudit(ctx, batchID, status, errMsg, r.now().UTC()); err != nil {
		return fmt.Errorf("complete audit %s: %w", batchID, err)
	}

	switch status {
	case types.BatchSuccess:
		metrics.BatchesSucceeded.Add(1)
		r.log.Info("batch succeeded", "batch_id", batchID)
	case types.BatchFailed:
		metrics.BatchesFailed.Add(1)
		r.log.Warn("batch failed", "batch_id", batchID, "error", errMsg)
	}
	return nil
}

// RecoverStale closes RUNNING rows older than the stale threshold as FAILED.
// These are leftovers of crashed processes; their fingerprints stay
// registered, so rerunning the same window only reprocesses what the crash
// actually lost.
func (r *Recorder) RecoverStale(ctx context.Context) (int, error) {
	cutoff := r.now().UTC().Add(-r.staleAfter)
	stale, err := r.ledger.StaleRunning(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("scan stale batches: %w", err)
	}

	recovered := 0
	for _, rec := range stale {
		msg := fmt.Sprintf("recovered: still RUNNING after %s", r.staleAfter)
		if err := r.ledger.CompleteAudit(ctx, rec.BatchID, types.BatchFailed, msg, r.now().UTC()); err != nil {
			// A concurrent process may have finished it meanwhile.
			r.log.Warn("stale batch recovery skipped", "batch_id", rec.BatchID, "error", err)
			continue
		}
		metrics.StaleBatchesRecovered.Add(1)
		r.log.Warn("stale batch recovered",
			"batch_id", rec.BatchID, "pipeline", rec.PipelineName,
			"started_at", rec.StartTime)
		recovered++
	}
	return recovered, nil
}
