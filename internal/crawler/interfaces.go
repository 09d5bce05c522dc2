package crawler

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata. Transport
// failures are returned as errors; HTTP error statuses come back in the
// response for the caller to classify.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Parser extracts structured content and clean text from an HTML body.
// Implementations must be pure: same body, same result.
type Parser interface {
	Parse(body []byte, baseURL string) (ParseResult, error)
}

// Fingerprinter computes the stable content hash used for change detection.
type Fingerprinter interface {
	Fingerprint(cleanText string) string
	// Changed reports whether two digests differ.
	Changed(existing, next string) bool
}

// DocumentStore owns the versioned page records.
type DocumentStore interface {
	// GetHash returns the stored content hash for url, or ok=false when the
	// URL has never been ingested.
	GetHash(ctx context.Context, url string) (hash string, ok bool, err error)

	// Upsert inserts the document at version 1 when absent, bumps the version
	// and overwrites content when the hash differs, and is a no-op returning
	// the current version when the hash matches. FirstScrapedAt is preserved
	// across updates. Concurrent upserts for one URL serialize; the very
	// first write for a URL must be insert-if-absent, never a double insert.
	Upsert(ctx context.Context, doc PageDocument) (version int, err error)

	// GetPage fetches a single document by normalized URL.
	GetPage(ctx context.Context, url string) (PageDocument, error)

	// ListPages returns documents matching the filter, best quality first.
	ListPages(ctx context.Context, filter PageFilter) ([]PageDocument, error)

	// Search delegates full-text matching to the store's text index.
	Search(ctx context.Context, query SearchQuery) ([]PageDocument, error)
}

// JobStore persists crawl job metadata, counters, and frontier snapshots.
type JobStore interface {
	CreateJob(ctx context.Context, job CrawlJob) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string) error

	// RecordJobCounters atomically accumulates delta into the job's counters.
	RecordJobCounters(ctx context.Context, jobID string, delta JobCounters) error

	GetJob(ctx context.Context, jobID string) (CrawlJob, error)
	ListJobs(ctx context.Context, limit int) ([]CrawlJob, error)

	// SaveFrontier replaces the persisted frontier snapshot for a job.
	SaveFrontier(ctx context.Context, jobID string, entries []FrontierEntry) error

	// LoadFrontier returns the persisted snapshot. InFlight entries are
	// reported as Pending: an in-flight fetch interrupted by a crash is lost.
	LoadFrontier(ctx context.Context, jobID string) ([]FrontierEntry, error)
}

// StructureIndexer maintains the derived section/subsection map.
type StructureIndexer interface {
	OnAccepted(doc PageDocument)
	Nodes() []SiteStructureNode
}

// HostLimiter gates fetches per host. Wait blocks until a token is
// available or the context is done.
type HostLimiter interface {
	Wait(ctx context.Context, url string) error
}

// RulePolicy is the single configurable allow/deny rule set applied to
// discovered URLs.
type RulePolicy interface {
	Allow(url string) bool
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
