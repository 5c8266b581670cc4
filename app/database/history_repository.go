package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const defaultHistoryLimit = 50

// AppendHistory stores one execution record. An empty ID is assigned a new
// UUID.
func (r *Repository) AppendHistory(ctx context.Context, rec *ImportExecutionHistory) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Warnings == "" {
		rec.Warnings = "[]"
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO import_execution_history (
			id, configuration_id, executed_at, success,
			items_received, items_imported, items_skipped, items_failed,
			duration_ms, error_message, warnings,
			was_retry, was_scheduled, retry_attempt, job_token
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.ConfigurationID, formatTime(rec.ExecutedAt), rec.Success,
		rec.ItemsReceived, rec.ItemsImported, rec.ItemsSkipped, rec.ItemsFailed,
		rec.DurationMs, rec.ErrorMessage, rec.Warnings,
		rec.WasRetry, rec.WasScheduled, rec.RetryAttempt, rec.JobToken,
	)
	if err != nil {
		return fmt.Errorf("failed to append execution history: %w", err)
	}

	return nil
}

// ListHistory returns the newest execution records of a configuration first.
func (r *Repository) ListHistory(ctx context.Context, configurationID int64, limit int) ([]*ImportExecutionHistory, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, configuration_id, executed_at, success,
		       items_received, items_imported, items_skipped, items_failed,
		       duration_ms, error_message, warnings,
		       was_retry, was_scheduled, retry_attempt, job_token
		FROM import_execution_history
		WHERE configuration_id = ?
		ORDER BY executed_at DESC, rowid DESC
		LIMIT ?
	`, configurationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution history: %w", err)
	}
	defer rows.Close()

	var history []*ImportExecutionHistory
	for rows.Next() {
		var rec ImportExecutionHistory
		var executedAt string
		err := rows.Scan(
			&rec.ID, &rec.ConfigurationID, &executedAt, &rec.Success,
			&rec.ItemsReceived, &rec.ItemsImported, &rec.ItemsSkipped, &rec.ItemsFailed,
			&rec.DurationMs, &rec.ErrorMessage, &rec.Warnings,
			&rec.WasRetry, &rec.WasScheduled, &rec.RetryAttempt, &rec.JobToken,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution history row: %w", err)
		}
		if rec.ExecutedAt, err = parseTime(executedAt); err != nil {
			return nil, err
		}
		history = append(history, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution history rows: %w", err)
	}

	return history, nil
}
