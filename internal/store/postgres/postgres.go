// Package postgres provides Postgres-backed persistence for page documents,
// crawl jobs, and frontier snapshots.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// DBPool is the subset of pgxpool.Pool the stores use; pgxmock implements it
// for tests.
type DBPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// NewPool builds a pgx pool from the config and verifies connectivity.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Schema is the DDL for the crawld tables. The search_vector generated
// column backs full-text Search.
const Schema = `
CREATE TABLE IF NOT EXISTS pages (
	url               TEXT PRIMARY KEY,
	title             TEXT NOT NULL DEFAULT '',
	clean_text        TEXT NOT NULL DEFAULT '',
	structured        JSONB NOT NULL DEFAULT '{}',
	content_hash      TEXT NOT NULL,
	word_count        INTEGER NOT NULL DEFAULT 0,
	reading_time_min  INTEGER NOT NULL DEFAULT 1,
	breadcrumb        JSONB NOT NULL DEFAULT '[]',
	section           TEXT NOT NULL DEFAULT '',
	subsection        TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'processed',
	version           INTEGER NOT NULL DEFAULT 1,
	quality_score     DOUBLE PRECISION NOT NULL DEFAULT 0,
	first_scraped_at  TIMESTAMPTZ NOT NULL,
	last_updated_at   TIMESTAMPTZ NOT NULL,
	extra             JSONB NOT NULL DEFAULT '{}',
	search_vector     TSVECTOR GENERATED ALWAYS AS (
		to_tsvector('english', coalesce(title, '') || ' ' || coalesce(clean_text, ''))
	) STORED
);

CREATE INDEX IF NOT EXISTS pages_section_idx ON pages (section, subsection);
CREATE INDEX IF NOT EXISTS pages_search_idx ON pages USING GIN (search_vector);

CREATE TABLE IF NOT EXISTS crawl_jobs (
	id           TEXT PRIMARY KEY,
	seed_urls    JSONB NOT NULL DEFAULT '[]',
	status       TEXT NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	finished_at  TIMESTAMPTZ,
	error_text   TEXT NOT NULL DEFAULT '',
	config       JSONB NOT NULL DEFAULT '{}',
	discovered         INTEGER NOT NULL DEFAULT 0,
	fetched            INTEGER NOT NULL DEFAULT 0,
	succeeded          INTEGER NOT NULL DEFAULT 0,
	failed             INTEGER NOT NULL DEFAULT 0,
	skipped_duplicate  INTEGER NOT NULL DEFAULT 0,
	retries            INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS frontier_entries (
	job_id          TEXT NOT NULL REFERENCES crawl_jobs(id) ON DELETE CASCADE,
	url             TEXT NOT NULL,
	discovered_from TEXT NOT NULL DEFAULT '',
	depth           INTEGER NOT NULL DEFAULT 0,
	state           TEXT NOT NULL,
	attempts        INTEGER NOT NULL DEFAULT 0,
	next_retry_at   TIMESTAMPTZ,
	PRIMARY KEY (job_id, url)
);
`

// Migrate applies the schema.
func Migrate(ctx context.Context, pool DBPool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
