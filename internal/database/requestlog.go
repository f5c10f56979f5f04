package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/parfumdev/fragrance-scraper/internal/models"
)

// InsertRequestLog appends one request-outcome row. The log is append-only;
// rows are only ever removed by the retention sweep.
func (db *DB) InsertRequestLog(ctx context.Context, log *models.RequestLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO request_logs (id, url, method, status_code, success, duration_ms, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := db.pool.Exec(ctx, query,
		log.ID, log.URL, log.Method, log.StatusCode, log.Success,
		log.DurationMS, nullable(log.Error), log.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert request log: %w", err)
	}
	return nil
}

// DeleteRequestLogsBefore removes rows older than the cutoff.
func (db *DB) DeleteRequestLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM request_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old request logs: %w", err)
	}
	return tag.RowsAffected(), nil
}
