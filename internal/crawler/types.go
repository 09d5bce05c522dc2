package crawler

import (
	"net/http"
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store. Seeding and Draining are
// transient coordinator states; the rest are terminal.
const (
	JobStatusSeeding   JobStatus = "seeding"
	JobStatusRunning   JobStatus = "running"
	JobStatusDraining  JobStatus = "draining"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status is terminal. A terminal job is
// immutable.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// CrawlConfig captures the per-job knobs accepted by StartCrawl.
type CrawlConfig struct {
	SeedURLs       []string      `json:"seed_urls"`
	MaxDepth       int           `json:"max_depth"`
	MaxConcurrency int           `json:"max_concurrency"`
	MaxPages       int           `json:"max_pages"`    // 0 = unbounded
	MaxDuration    time.Duration `json:"max_duration"` // 0 = unbounded
	RetryLimit     int           `json:"retry_limit"`
	ForceRecrawl   bool          `json:"force_recrawl"`
	HostRateLimit  float64       `json:"host_rate_limit_per_second"`
	MaxPending     int           `json:"max_pending"` // frontier admission limit, 0 = unbounded
}

// JobCounters tracks per-outcome stats for a job.
type JobCounters struct {
	Discovered       int `json:"discovered"`
	Fetched          int `json:"fetched"`
	Succeeded        int `json:"succeeded"`
	Failed           int `json:"failed"`
	SkippedDuplicate int `json:"skipped_duplicate"`
	Retries          int `json:"retries"`
}

// Add accumulates delta into the receiver.
func (c *JobCounters) Add(delta JobCounters) {
	c.Discovered += delta.Discovered
	c.Fetched += delta.Fetched
	c.Succeeded += delta.Succeeded
	c.Failed += delta.Failed
	c.SkippedDuplicate += delta.SkippedDuplicate
	c.Retries += delta.Retries
}

// CrawlJob represents the metadata persisted for each crawl invocation.
type CrawlJob struct {
	ID        string      `json:"id"`
	SeedURLs  []string    `json:"seed_urls"`
	Status    JobStatus   `json:"status"`
	StartedAt time.Time   `json:"started_at"`
	Finished  *time.Time  `json:"finished_at,omitempty"`
	ErrorText string      `json:"error_text,omitempty"`
	Config    CrawlConfig `json:"config"`
	Counters  JobCounters `json:"counters"`
}

// PageStatus marks how ingestion left a page document.
type PageStatus string

// Page status values.
const (
	PageStatusProcessed PageStatus = "processed"
	PageStatusFailed    PageStatus = "failed"
	PageStatusSkipped   PageStatus = "skipped"
)

// Heading is a single h1-h6 element extracted from a page.
type Heading struct {
	Level  int    `json:"level"`
	Text   string `json:"text"`
	Anchor string `json:"anchor,omitempty"`
}

// CodeBlock is a code or pre element with an optional detected language.
type CodeBlock struct {
	Language string `json:"language,omitempty"`
	Content  string `json:"content"`
}

// Image is an img element resolved against the page URL.
type Image struct {
	Src   string `json:"src"`
	Alt   string `json:"alt,omitempty"`
	Title string `json:"title,omitempty"`
}

// LinkType classifies extracted anchors.
type LinkType string

// Link classifications.
const (
	LinkInternal LinkType = "internal"
	LinkExternal LinkType = "external"
	LinkAnchor   LinkType = "anchor"
)

// Link is an anchor element resolved against the page URL.
type Link struct {
	Href string   `json:"href"`
	Text string   `json:"text"`
	Type LinkType `json:"type"`
}

// Table captures a table element's headers, rows, and caption.
type Table struct {
	Headers []string   `json:"headers,omitempty"`
	Rows    [][]string `json:"rows"`
	Caption string     `json:"caption,omitempty"`
}

// ItemList is an ordered or unordered list.
type ItemList struct {
	Ordered bool     `json:"ordered"`
	Items   []string `json:"items"`
}

// StructuredContent is the per-page extraction result persisted alongside
// the clean text.
type StructuredContent struct {
	Headings   []Heading   `json:"headings,omitempty"`
	Paragraphs []string    `json:"paragraphs,omitempty"`
	CodeBlocks []CodeBlock `json:"code_blocks,omitempty"`
	Images     []Image     `json:"images,omitempty"`
	Links      []Link      `json:"links,omitempty"`
	Tables     []Table     `json:"tables,omitempty"`
	Lists      []ItemList  `json:"lists,omitempty"`
}

// PageContent holds the raw and derived content for one page version.
type PageContent struct {
	RawBody            []byte            `json:"-"`
	CleanText          string            `json:"clean_text"`
	Structured         StructuredContent `json:"structured_data"`
	ContentHash        string            `json:"content_hash"`
	WordCount          int               `json:"word_count"`
	ReadingTimeMinutes int               `json:"reading_time_minutes"`
}

// PageMetadata carries timestamps plus an open extension map for
// job-specific fields.
type PageMetadata struct {
	FirstScrapedAt time.Time      `json:"first_scraped_at"`
	LastUpdatedAt  time.Time      `json:"last_updated_at"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// PageNavigation is derived from the page markup and URL path.
type PageNavigation struct {
	Breadcrumb []string `json:"breadcrumb,omitempty"`
	Section    string   `json:"section"`
	Subsection string   `json:"subsection,omitempty"`
}

// PageDocument is the versioned record kept per distinct normalized URL.
// Version increases only when ContentHash changes; FirstScrapedAt survives
// every upsert.
type PageDocument struct {
	URL          string         `json:"url"`
	Title        string         `json:"title"`
	Content      PageContent    `json:"content"`
	Metadata     PageMetadata   `json:"metadata"`
	Navigation   PageNavigation `json:"navigation"`
	Status       PageStatus     `json:"status"`
	Version      int            `json:"version"`
	QualityScore float64        `json:"quality_score"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Timeout time.Duration
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// ParseResult is the structured output of the HTML extraction collaborator.
type ParseResult struct {
	Title           string
	CleanText       string
	Structured      StructuredContent
	Breadcrumb      []string
	MetaDescription string
	WordCount       int
	QualityScore    float64
}

// SiteStructureNode groups accepted page URLs under a section/subsection
// pair derived from URL paths. It is rebuildable from the document store and
// never a primary source of truth.
type SiteStructureNode struct {
	Section    string   `json:"section"`
	Subsection string   `json:"subsection,omitempty"`
	ChildURLs  []string `json:"child_urls"`
}

// EntryState is the visitation state of a frontier entry.
type EntryState string

// Frontier entry states. Pending entries are eligible for dequeue; InFlight
// entries are owned by exactly one worker.
const (
	EntryPending  EntryState = "pending"
	EntryInFlight EntryState = "in_flight"
	EntryDone     EntryState = "done"
	EntryFailed   EntryState = "failed"
)

// FrontierEntry is one discovered URL plus its visitation state. Entries are
// keyed by normalized URL; at most one exists per URL.
type FrontierEntry struct {
	URL            string     `json:"url"`
	DiscoveredFrom string     `json:"discovered_from,omitempty"`
	Depth          int        `json:"depth"`
	State          EntryState `json:"state"`
	Attempts       int        `json:"attempts"`
	NextRetryAt    time.Time  `json:"next_retry_at,omitzero"`
}

// PageFilter narrows ListPages results.
type PageFilter struct {
	Section    string
	Subsection string
	MinQuality float64
	Limit      int
	Offset     int
}

// SearchQuery is passed through to the store's text index.
type SearchQuery struct {
	Text    string
	Section string
	Limit   int
}
