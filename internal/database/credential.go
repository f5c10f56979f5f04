package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/parfumdev/fragrance-scraper/internal/models"
)

// UpsertCredential persists a proxy sub-account keyed by its identity.
func (db *DB) UpsertCredential(ctx context.Context, cred *models.Credential) error {
	query := `
		INSERT INTO proxy_credentials (identity, id, secret, quota_bytes, used_bytes, status, created_at, last_checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (identity) DO UPDATE SET
			quota_bytes = EXCLUDED.quota_bytes,
			used_bytes = EXCLUDED.used_bytes,
			status = EXCLUDED.status,
			last_checked_at = EXCLUDED.last_checked_at`

	_, err := db.pool.Exec(ctx, query,
		cred.Identity, cred.ID, cred.Secret, cred.QuotaBytes, cred.UsedBytes,
		string(cred.Status), cred.CreatedAt, cred.LastCheckedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

// ListCredentials returns all credentials in insertion order.
func (db *DB) ListCredentials(ctx context.Context) ([]*models.Credential, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT identity, id, secret, quota_bytes, used_bytes, status, created_at, last_checked_at
		FROM proxy_credentials ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var creds []*models.Credential
	for rows.Next() {
		var (
			c           models.Credential
			status      string
			lastChecked sql.NullTime
		)
		if err := rows.Scan(&c.Identity, &c.ID, &c.Secret, &c.QuotaBytes,
			&c.UsedBytes, &status, &c.CreatedAt, &lastChecked); err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		c.Status = models.CredentialStatus(status)
		c.LastCheckedAt = lastChecked.Time
		creds = append(creds, &c)
	}
	return creds, rows.Err()
}

func (db *DB) DeleteCredential(ctx context.Context, identity string) error {
	if _, err := db.pool.Exec(ctx, `DELETE FROM proxy_credentials WHERE identity = $1`, identity); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}
