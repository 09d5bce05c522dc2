// Package coordinator owns crawl job lifecycles: it seeds the frontier,
// runs the worker pool, applies pipeline outcomes, and drives jobs through
// their state machine.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/webharvest/crawld/internal/crawler"
	"github.com/webharvest/crawld/internal/fingerprint"
	"github.com/webharvest/crawld/internal/frontier"
	"github.com/webharvest/crawld/internal/pipeline"
	"github.com/webharvest/crawld/internal/policy"
	"github.com/webharvest/crawld/internal/progress"
	"github.com/webharvest/crawld/internal/ratelimit"
	"github.com/webharvest/crawld/internal/telemetry"
)

// ErrJobTerminal is returned by Cancel when the job already reached a
// terminal status.
var ErrJobTerminal = errors.New("job is already terminal")

// Config carries server-level defaults applied to jobs that leave the knob
// unset, plus site policy shared by all jobs.
type Config struct {
	DefaultMaxDepth    int
	DefaultConcurrency int
	DefaultRetryLimit  int
	DefaultMaxPending  int
	DefaultHostRPS     float64
	FetchTimeout       time.Duration
	MinWordCount       int
	DenyPatterns       []string
	// DrainGrace bounds how long a cancelled session waits for in-flight
	// fetches before abandoning them.
	DrainGrace time.Duration
	// RetryBackoffBase and RetryBackoffMax shape the frontier's retry
	// schedule.
	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration
	// SnapshotInterval controls periodic frontier persistence (0 = only at
	// session end).
	SnapshotInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.DefaultMaxDepth <= 0 {
		c.DefaultMaxDepth = 3
	}
	if c.DefaultConcurrency <= 0 {
		c.DefaultConcurrency = 8
	}
	if c.DefaultRetryLimit <= 0 {
		c.DefaultRetryLimit = 2
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 15 * time.Second
	}
	if c.DrainGrace <= 0 {
		c.DrainGrace = 30 * time.Second
	}
}

// Status is the live view of one job: the persisted record plus frontier
// counts when the session is still running.
type Status struct {
	Job      crawler.CrawlJob `json:"job"`
	Frontier frontier.Stats   `json:"frontier"`
	Active   bool             `json:"active"`
}

// Coordinator starts and tracks crawl sessions.
type Coordinator struct {
	cfg       Config
	fetcher   crawler.Fetcher
	parser    crawler.Parser
	docs      crawler.DocumentStore
	jobs      crawler.JobStore
	structure crawler.StructureIndexer
	clock     crawler.Clock
	ids       crawler.IDGenerator
	emitter   progress.Emitter
	logger    *zap.Logger

	baseCtx context.Context

	mu       sync.Mutex
	sessions map[string]*session
}

// New wires a Coordinator. baseCtx bounds every session: cancelling it
// cancels all running jobs.
func New(
	baseCtx context.Context,
	cfg Config,
	fetcher crawler.Fetcher,
	parser crawler.Parser,
	docs crawler.DocumentStore,
	jobs crawler.JobStore,
	structure crawler.StructureIndexer,
	clock crawler.Clock,
	ids crawler.IDGenerator,
	emitter progress.Emitter,
	logger *zap.Logger,
) *Coordinator {
	cfg.applyDefaults()
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:       cfg,
		fetcher:   fetcher,
		parser:    parser,
		docs:      docs,
		jobs:      jobs,
		structure: structure,
		clock:     clock,
		ids:       ids,
		emitter:   emitter,
		logger:    logger,
		baseCtx:   baseCtx,
		sessions:  make(map[string]*session),
	}
}

// StartCrawl validates the config, seeds the frontier, persists the job in
// Seeding, and launches the session. It returns as soon as the job is
// accepted; progress is observable through Status.
func (c *Coordinator) StartCrawl(ctx context.Context, cfg crawler.CrawlConfig) (string, error) {
	cfg = c.mergeDefaults(cfg)
	if len(cfg.SeedURLs) == 0 {
		return "", fmt.Errorf("start crawl: at least one seed url is required")
	}

	seeds := make([]string, 0, len(cfg.SeedURLs))
	hosts := make([]string, 0, len(cfg.SeedURLs))
	for _, raw := range cfg.SeedURLs {
		normalized, err := crawler.NormalizeURL(raw)
		if err != nil {
			return "", fmt.Errorf("start crawl: seed %q: %w", raw, err)
		}
		seeds = append(seeds, normalized)
		hosts = append(hosts, hostOf(normalized))
	}
	cfg.SeedURLs = seeds

	rules, err := policy.New(policy.Config{AllowHosts: hosts, DenyPatterns: c.cfg.DenyPatterns})
	if err != nil {
		return "", fmt.Errorf("start crawl: %w", err)
	}

	jobID, err := c.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("start crawl: generate job id: %w", err)
	}

	now := c.clock.Now()
	job := crawler.CrawlJob{
		ID:        jobID,
		SeedURLs:  seeds,
		Status:    crawler.JobStatusSeeding,
		StartedAt: now,
		Config:    cfg,
	}
	if err := c.jobs.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("start crawl: %w", err)
	}

	front := frontier.New(frontier.Config{
		MaxDepth:    cfg.MaxDepth,
		MaxPending:  cfg.MaxPending,
		RetryLimit:  cfg.RetryLimit,
		BackoffBase: c.cfg.RetryBackoffBase,
		BackoffMax:  c.cfg.RetryBackoffMax,
	}, c.clock)

	admitted := 0
	for _, seed := range seeds {
		if rules.Allow(seed) && front.Enqueue(seed, "", 0) {
			admitted++
		}
	}
	if admitted == 0 {
		reason := "no seed url passed the crawl policy"
		if err := c.jobs.UpdateJobStatus(ctx, jobID, crawler.JobStatusFailed, reason); err != nil {
			c.logger.Error("mark seedless job failed", zap.String("job_id", jobID), zap.Error(err))
		}
		telemetry.CountJob(string(crawler.JobStatusFailed))
		return "", fmt.Errorf("start crawl: %s", reason)
	}
	if err := c.jobs.RecordJobCounters(ctx, jobID, crawler.JobCounters{Discovered: admitted}); err != nil {
		c.logger.Error("record seed counters", zap.String("job_id", jobID), zap.Error(err))
	}

	proc := pipeline.New(pipeline.Config{
		FetchTimeout: c.cfg.FetchTimeout,
		ForceRecrawl: cfg.ForceRecrawl,
		MinWordCount: c.cfg.MinWordCount,
	}, c.fetcher, c.parser, fingerprint.New(), c.docs, c.clock, c.logger)

	limiter := ratelimit.New(ratelimit.Config{PerHostRPS: cfg.HostRateLimit})

	sessCtx, cancel := context.WithCancel(c.baseCtx)
	sess := &session{
		jobID:     jobID,
		cfg:       cfg,
		coordCfg:  c.cfg,
		frontier:  front,
		processor: proc,
		limiter:   limiter,
		rules:     rules,
		docs:      c.docs,
		jobs:      c.jobs,
		structure: c.structure,
		clock:     c.clock,
		emitter:   c.emitter,
		logger:    c.logger.With(zap.String("job_id", jobID)),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	c.mu.Lock()
	c.sessions[jobID] = sess
	c.mu.Unlock()

	go func() {
		defer cancel()
		sess.run(sessCtx)
		c.mu.Lock()
		delete(c.sessions, jobID)
		c.mu.Unlock()
	}()

	return jobID, nil
}

// Status returns the persisted job plus live frontier stats while the
// session runs.
func (c *Coordinator) Status(ctx context.Context, jobID string) (Status, error) {
	job, err := c.jobs.GetJob(ctx, jobID)
	if err != nil {
		return Status{}, err
	}
	out := Status{Job: job}
	c.mu.Lock()
	sess, active := c.sessions[jobID]
	c.mu.Unlock()
	if active {
		out.Frontier = sess.frontier.Stats()
		out.Active = true
	}
	return out, nil
}

// ListJobs passes through to the job store.
func (c *Coordinator) ListJobs(ctx context.Context, limit int) ([]crawler.CrawlJob, error) {
	return c.jobs.ListJobs(ctx, limit)
}

// Cancel requests cooperative cancellation of a running job. Cancelling a
// terminal job returns ErrJobTerminal.
func (c *Coordinator) Cancel(ctx context.Context, jobID string) error {
	c.mu.Lock()
	sess, active := c.sessions[jobID]
	c.mu.Unlock()
	if active {
		sess.requestCancel()
		return nil
	}
	job, err := c.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("cancel job %s: %w", jobID, ErrJobTerminal)
	}
	// Known job without a live session: a restart lost it. Park it cancelled.
	return c.jobs.UpdateJobStatus(ctx, jobID, crawler.JobStatusCancelled, "session lost")
}

// Wait blocks until every running session has finished or ctx expires.
func (c *Coordinator) Wait(ctx context.Context) error {
	for {
		c.mu.Lock()
		var sess *session
		for _, s := range c.sessions {
			sess = s
			break
		}
		c.mu.Unlock()
		if sess == nil {
			return nil
		}
		select {
		case <-sess.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Coordinator) mergeDefaults(cfg crawler.CrawlConfig) crawler.CrawlConfig {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = c.cfg.DefaultMaxDepth
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = c.cfg.DefaultConcurrency
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = c.cfg.DefaultRetryLimit
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = c.cfg.DefaultMaxPending
	}
	if cfg.HostRateLimit <= 0 {
		cfg.HostRateLimit = c.cfg.DefaultHostRPS
	}
	return cfg
}
