package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/webharvest/crawld/internal/crawler"
	"github.com/webharvest/crawld/internal/store"
)

// JobStore implements crawler.JobStore on Postgres.
type JobStore struct {
	pool DBPool
}

// NewJobStore wraps a pool.
func NewJobStore(pool DBPool) *JobStore {
	return &JobStore{pool: pool}
}

const createJobQuery = `
INSERT INTO crawl_jobs (id, seed_urls, status, started_at, error_text, config)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING`

// CreateJob stores a new job.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.CrawlJob) error {
	seeds, err := json.Marshal(emptySlice(job.SeedURLs))
	if err != nil {
		return fmt.Errorf("marshal seed urls: %w", err)
	}
	cfg, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal job config: %w", err)
	}
	tag, err := s.pool.Exec(ctx, createJobQuery,
		job.ID, seeds, string(job.Status), job.StartedAt, job.ErrorText, cfg)
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("create job %s: %w", job.ID, store.ErrJobExists)
	}
	return nil
}

const updateJobStatusQuery = `
UPDATE crawl_jobs
SET status = $2,
	error_text = $3,
	finished_at = CASE WHEN $4 AND finished_at IS NULL THEN $5 ELSE finished_at END
WHERE id = $1`

// UpdateJobStatus transitions the job and stamps finished_at on terminal
// statuses.
func (s *JobStore) UpdateJobStatus(ctx context.Context, jobID string, status crawler.JobStatus, errText string) error {
	tag, err := s.pool.Exec(ctx, updateJobStatusQuery,
		jobID, string(status), errText, status.IsTerminal(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update job %s: %w", jobID, store.ErrJobNotFound)
	}
	return nil
}

const recordCountersQuery = `
UPDATE crawl_jobs
SET discovered = discovered + $2,
	fetched = fetched + $3,
	succeeded = succeeded + $4,
	failed = failed + $5,
	skipped_duplicate = skipped_duplicate + $6,
	retries = retries + $7
WHERE id = $1`

// RecordJobCounters accumulates delta into the job's counter columns.
func (s *JobStore) RecordJobCounters(ctx context.Context, jobID string, delta crawler.JobCounters) error {
	tag, err := s.pool.Exec(ctx, recordCountersQuery,
		jobID, delta.Discovered, delta.Fetched, delta.Succeeded,
		delta.Failed, delta.SkippedDuplicate, delta.Retries)
	if err != nil {
		return fmt.Errorf("record counters %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record counters %s: %w", jobID, store.ErrJobNotFound)
	}
	return nil
}

const jobColumns = `id, seed_urls, status, started_at, finished_at, error_text, config,
	discovered, fetched, succeeded, failed, skipped_duplicate, retries`

const getJobQuery = `SELECT ` + jobColumns + ` FROM crawl_jobs WHERE id = $1`

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.CrawlJob, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, getJobQuery, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.CrawlJob{}, fmt.Errorf("get job %s: %w", jobID, store.ErrJobNotFound)
	}
	if err != nil {
		return crawler.CrawlJob{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

const listJobsQuery = `SELECT ` + jobColumns + ` FROM crawl_jobs
ORDER BY started_at DESC, id DESC
LIMIT $1`

// ListJobs returns jobs newest first.
func (s *JobStore) ListJobs(ctx context.Context, limit int) ([]crawler.CrawlJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, listJobsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []crawler.CrawlJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

const deleteFrontierQuery = `DELETE FROM frontier_entries WHERE job_id = $1`

const insertFrontierQuery = `
INSERT INTO frontier_entries (job_id, url, discovered_from, depth, state, attempts, next_retry_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

// SaveFrontier replaces the persisted snapshot inside one transaction.
func (s *JobStore) SaveFrontier(ctx context.Context, jobID string, entries []crawler.FrontierEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin frontier save: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, deleteFrontierQuery, jobID); err != nil {
		return fmt.Errorf("clear frontier %s: %w", jobID, err)
	}
	for _, e := range entries {
		var nextRetry *time.Time
		if !e.NextRetryAt.IsZero() {
			nextRetry = &e.NextRetryAt
		}
		if _, err := tx.Exec(ctx, insertFrontierQuery,
			jobID, e.URL, e.DiscoveredFrom, e.Depth, string(e.State), e.Attempts, nextRetry); err != nil {
			return fmt.Errorf("insert frontier entry %s: %w", e.URL, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit frontier save: %w", err)
	}
	return nil
}

const loadFrontierQuery = `
SELECT url, discovered_from, depth, state, attempts, next_retry_at
FROM frontier_entries
WHERE job_id = $1
ORDER BY url`

// LoadFrontier returns the persisted snapshot with InFlight entries demoted
// to Pending.
func (s *JobStore) LoadFrontier(ctx context.Context, jobID string) ([]crawler.FrontierEntry, error) {
	rows, err := s.pool.Query(ctx, loadFrontierQuery, jobID)
	if err != nil {
		return nil, fmt.Errorf("load frontier %s: %w", jobID, err)
	}
	defer rows.Close()

	var out []crawler.FrontierEntry
	for rows.Next() {
		var (
			e         crawler.FrontierEntry
			state     string
			nextRetry *time.Time
		)
		if err := rows.Scan(&e.URL, &e.DiscoveredFrom, &e.Depth, &state, &e.Attempts, &nextRetry); err != nil {
			return nil, fmt.Errorf("scan frontier entry: %w", err)
		}
		e.State = crawler.EntryState(state)
		if e.State == crawler.EntryInFlight {
			e.State = crawler.EntryPending
		}
		if nextRetry != nil {
			e.NextRetryAt = *nextRetry
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate frontier %s: %w", jobID, err)
	}
	return out, nil
}

func scanJob(row pgx.Row) (crawler.CrawlJob, error) {
	var (
		job      crawler.CrawlJob
		seeds    []byte
		status   string
		finished *time.Time
		cfg      []byte
	)
	err := row.Scan(
		&job.ID,
		&seeds,
		&status,
		&job.StartedAt,
		&finished,
		&job.ErrorText,
		&cfg,
		&job.Counters.Discovered,
		&job.Counters.Fetched,
		&job.Counters.Succeeded,
		&job.Counters.Failed,
		&job.Counters.SkippedDuplicate,
		&job.Counters.Retries,
	)
	if err != nil {
		return crawler.CrawlJob{}, err
	}
	job.Status = crawler.JobStatus(status)
	job.Finished = finished
	if err := json.Unmarshal(seeds, &job.SeedURLs); err != nil {
		return crawler.CrawlJob{}, fmt.Errorf("unmarshal seed urls: %w", err)
	}
	if err := json.Unmarshal(cfg, &job.Config); err != nil {
		return crawler.CrawlJob{}, fmt.Errorf("unmarshal job config: %w", err)
	}
	return job, nil
}
