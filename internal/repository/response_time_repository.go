package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"injest/telemetry-agent/internal/models"
)

// ResponseTimeRepository stores acknowledged round trips in SQLite
type ResponseTimeRepository struct {
	db *sql.DB
}

func NewResponseTimeRepository(db *sql.DB) *ResponseTimeRepository {
	return &ResponseTimeRepository{db: db}
}

// SaveBatch inserts records in one transaction
func (r *ResponseTimeRepository) SaveBatch(ctx context.Context, records []models.StoredResponseTime) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO response_times (message_type, sequence, status, duration_ms, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		_, err := stmt.ExecContext(ctx,
			string(rec.MessageType),
			rec.Sequence,
			rec.Status,
			rec.DurationMs,
			rec.RecordedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert response time: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Recent returns up to limit records of msgType, newest first. The status
// API relies on this order for both the stored and in-memory history.
func (r *ResponseTimeRepository) Recent(ctx context.Context, msgType models.MessageType, limit int) ([]models.StoredResponseTime, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, message_type, sequence, status, duration_ms, recorded_at
		FROM response_times
		WHERE message_type = ?
		ORDER BY id DESC
		LIMIT ?
	`, string(msgType), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query response times: %w", err)
	}
	defer rows.Close()

	records := []models.StoredResponseTime{}
	for rows.Next() {
		var rec models.StoredResponseTime
		var recType string
		var recordedAt time.Time
		if err := rows.Scan(&rec.ID, &recType, &rec.Sequence, &rec.Status, &rec.DurationMs, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan response time: %w", err)
		}
		rec.MessageType = models.MessageType(recType)
		rec.RecordedAt = recordedAt
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate response times: %w", err)
	}

	return records, nil
}

// Count returns how many records of msgType are stored
func (r *ResponseTimeRepository) Count(ctx context.Context, msgType models.MessageType) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM response_times WHERE message_type = ?
	`, string(msgType)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count response times: %w", err)
	}
	return count, nil
}

// Prune keeps only the newest keep records of msgType and returns how many
// were deleted
func (r *ResponseTimeRepository) Prune(ctx context.Context, msgType models.MessageType, keep int) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM response_times
		WHERE message_type = ? AND id NOT IN (
			SELECT id FROM response_times
			WHERE message_type = ?
			ORDER BY id DESC
			LIMIT ?
		)
	`, string(msgType), string(msgType), keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune response times: %w", err)
	}

	deleted, _ := result.RowsAffected()
	return deleted, nil
}
