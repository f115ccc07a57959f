package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/agroflow-systems/agroflow/pkg/types"
)

const auditColumns = `batch_id, pipeline_name, status,
	records_processed, records_inserted, records_updated, records_skipped, records_failed,
	COALESCE(error_message, ''), metadata, start_time, end_time`

// InsertAudit opens the audit ledger entry for a batch.
func (s *Store) InsertAudit(ctx context.Context, rec types.AuditRecord) error {
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO etl_audit_log (batch_id, pipeline_name, status, metadata, start_time)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.BatchID, rec.PipelineName, string(rec.Status), metaJSON, rec.StartTime)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// AddAuditCounts adds delta counters to a running batch. Terminal batches are
// immutable, so the update is guarded on status.
func (s *Store) AddAuditCounts(ctx context.Context, batchID string, delta types.Counters) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE etl_audit_log SET
			records_processed = records_processed + $2,
			records_inserted  = records_inserted + $3,
			records_updated   = records_updated + $4,
			records_skipped   = records_skipped + $5,
			records_failed    = records_failed + $6
		WHERE batch_id = $1 AND status = 'RUNNING'
	`, batchID, delta.Processed, delta.Inserted, delta.Updated, delta.Skipped, delta.Failed)
	if err != nil {
		return fmt.Errorf("add audit counts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("add audit counts: batch %s is not running", batchID)
	}
	return nil
}

// CompleteAudit sets the terminal status and end timestamp of a batch.
func (s *Store) CompleteAudit(ctx context.Context, batchID string, status types.BatchStatus, errMsg string, endedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE etl_audit_log
		SET status = $2, error_message = NULLIF($3, ''), end_time = $4
		WHERE batch_id = $1 AND status = 'RUNNING'
	`, batchID, string(status), errMsg, endedAt)
	if err != nil {
		return fmt.Errorf("complete audit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete audit: batch %s is not running", batchID)
	}
	return nil
}

// GetAudit returns the audit record for a batch id, or nil when unknown.
func (s *Store) GetAudit(ctx context.Context, batchID string) (*types.AuditRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+auditColumns+` FROM etl_audit_log WHERE batch_id = $1
	`, batchID)

	rec, err := scanAudit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get audit: %w", err)
	}
	return rec, nil
}

// ListAudits returns audit records started at or after since, newest first.
func (s *Store) ListAudits(ctx context.Context, since time.Time, limit int) ([]types.AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+auditColumns+` FROM etl_audit_log
		WHERE start_time >= $1
		ORDER BY start_time DESC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []types.AuditRecord
	for rows.Next() {
		rec, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// StaleRunning returns RUNNING audit rows that started before olderThan —
// the leftovers of crashed batches.
func (s *Store) StaleRunning(ctx context.Context, olderThan time.Time) ([]types.AuditRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+auditColumns+` FROM etl_audit_log
		WHERE status = 'RUNNING' AND start_time < $1
		ORDER BY start_time
	`, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []types.AuditRecord
	for rows.Next() {
		rec, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func scanAudit(row pgx.Row) (*types.AuditRecord, error) {
	var (
		rec      types.AuditRecord
		status   string
		metaJSON []byte
	)
	err := row.Scan(&rec.BatchID, &rec.PipelineName, &status,
		&rec.Counters.Processed, &rec.Counters.Inserted, &rec.Counters.Updated,
		&rec.Counters.Skipped, &rec.Counters.Failed,
		&rec.ErrorMessage, &metaJSON, &rec.StartTime, &rec.EndTime)
	if err != nil {
		return nil, err
	}
	rec.Status = types.BatchStatus(status)
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &rec.Metadata)
	}
	return &rec, nil
}
