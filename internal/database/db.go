package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	pool *pgxpool.Pool
}

type Config struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	MaxConnLife time.Duration
	MaxConnIdle time.Duration
}

func New(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLife
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdle

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

func (db *DB) Close() {
	db.pool.Close()
}

// Transaction executes a function within a database transaction.
func (db *DB) Transaction(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

const schema = `
CREATE TABLE IF NOT EXISTS fragrances (
	url            TEXT PRIMARY KEY,
	brand          TEXT NOT NULL,
	name           TEXT NOT NULL,
	year           INT NOT NULL DEFAULT 0,
	gender         TEXT,
	description    TEXT,
	ratings        JSONB,
	notes          JSONB,
	main_accords   TEXT[],
	rank_position  INT NOT NULL DEFAULT 0,
	rank_category  TEXT,
	similar        TEXT[],
	perfumer_name  TEXT,
	image_url      TEXT,
	scraped_at     TIMESTAMPTZ NOT NULL,
	cached_until   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fragrances_brand ON fragrances (LOWER(brand));

CREATE TABLE IF NOT EXISTS proxy_credentials (
	identity        TEXT PRIMARY KEY,
	id              TEXT NOT NULL,
	secret          TEXT NOT NULL,
	quota_bytes     BIGINT NOT NULL,
	used_bytes      BIGINT NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_checked_at TIMESTAMPTZ,
	seq             BIGSERIAL
);

CREATE TABLE IF NOT EXISTS request_logs (
	id          TEXT PRIMARY KEY,
	url         TEXT NOT NULL,
	method      TEXT NOT NULL,
	status_code INT NOT NULL,
	success     BOOLEAN NOT NULL,
	duration_ms BIGINT NOT NULL,
	error       TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_request_logs_created ON request_logs (created_at);
`

// Bootstrap creates the schema if it does not exist yet.
func (db *DB) Bootstrap(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to bootstrap schema: %w", err)
	}
	return nil
}
