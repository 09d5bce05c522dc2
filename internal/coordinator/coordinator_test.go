package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webharvest/crawld/internal/clock/system"
	"github.com/webharvest/crawld/internal/crawler"
	"github.com/webharvest/crawld/internal/id/uuid"
	"github.com/webharvest/crawld/internal/parser"
	"github.com/webharvest/crawld/internal/store/memory"
	"github.com/webharvest/crawld/internal/structure"
)

// scriptedFetcher serves canned responses per URL; a URL with several
// entries consumes them in order and repeats the last one.
type scriptedFetcher struct {
	mu      sync.Mutex
	scripts map[string][]crawler.FetchResponse
	served  map[string]int
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		scripts: make(map[string][]crawler.FetchResponse),
		served:  make(map[string]int),
	}
}

func (f *scriptedFetcher) page(url string, responses ...crawler.FetchResponse) {
	f.scripts[url] = responses
}

func (f *scriptedFetcher) html(url, body string) {
	f.page(url, crawler.FetchResponse{StatusCode: 200, Body: []byte(body)})
}

func (f *scriptedFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	script, ok := f.scripts[req.URL]
	if !ok {
		return crawler.FetchResponse{StatusCode: 404}, nil
	}
	i := f.served[req.URL]
	f.served[req.URL]++
	if i >= len(script) {
		i = len(script) - 1
	}
	resp := script[i]
	resp.URL = req.URL
	return resp, nil
}

func (f *scriptedFetcher) fetchCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.served[url]
}

type testEnv struct {
	coord   *Coordinator
	fetcher *scriptedFetcher
	docs    *memory.DocumentStore
	jobs    *memory.JobStore
	index   *structure.Indexer
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	fetcher := newScriptedFetcher()
	docs := memory.NewDocumentStore()
	jobs := memory.NewJobStore()
	index := structure.New()
	if cfg.RetryBackoffBase == 0 {
		cfg.RetryBackoffBase = 5 * time.Millisecond
		cfg.RetryBackoffMax = 20 * time.Millisecond
	}
	coord := New(context.Background(), cfg, fetcher, parser.New(), docs, jobs,
		index, system.New(), uuid.New(), nil, nil)
	return &testEnv{coord: coord, fetcher: fetcher, docs: docs, jobs: jobs, index: index}
}

func (e *testEnv) waitTerminal(t *testing.T, jobID string) crawler.CrawlJob {
	t.Helper()
	var job crawler.CrawlJob
	require.Eventually(t, func() bool {
		var err error
		job, err = e.jobs.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		return job.Status.IsTerminal()
	}, 10*time.Second, 10*time.Millisecond)
	return job
}

func linkPage(title string, hrefs ...string) string {
	body := "<html><head><title>" + title + "</title></head><body><p>Enough paragraph text for " + title + " to register.</p>"
	for _, href := range hrefs {
		body += fmt.Sprintf(`<a href=%q>link</a>`, href)
	}
	return body + "</body></html>"
}

func TestCrawlDeduplicatesDiscoveredLinks(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	// A links to B twice and C once; B links back to A.
	env.fetcher.html("https://site.test/a", linkPage("A", "/b", "/b", "/c"))
	env.fetcher.html("https://site.test/b", linkPage("B", "/a"))
	env.fetcher.html("https://site.test/c", linkPage("C"))

	jobID, err := env.coord.StartCrawl(context.Background(), crawler.CrawlConfig{
		SeedURLs: []string{"https://site.test/a"},
		MaxDepth: 3,
	})
	require.NoError(t, err)

	job := env.waitTerminal(t, jobID)
	require.Equal(t, crawler.JobStatusCompleted, job.Status)
	require.Equal(t, 3, job.Counters.Discovered)
	require.Equal(t, 3, job.Counters.Fetched)
	require.Equal(t, 3, job.Counters.Succeeded)
	require.Equal(t, 0, job.Counters.Failed)

	// Each page fetched exactly once despite duplicate links and the cycle.
	require.Equal(t, 1, env.fetcher.fetchCount("https://site.test/a"))
	require.Equal(t, 1, env.fetcher.fetchCount("https://site.test/b"))
	require.Equal(t, 1, env.fetcher.fetchCount("https://site.test/c"))
	require.Equal(t, 3, env.docs.Len())
}

func TestCrawlRetriesTransientErrorsThenSucceeds(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{DefaultRetryLimit: 3})
	env.fetcher.page("https://site.test/flaky",
		crawler.FetchResponse{StatusCode: 503},
		crawler.FetchResponse{StatusCode: 503},
		crawler.FetchResponse{StatusCode: 200, Body: []byte(linkPage("Flaky"))},
	)

	jobID, err := env.coord.StartCrawl(context.Background(), crawler.CrawlConfig{
		SeedURLs: []string{"https://site.test/flaky"},
	})
	require.NoError(t, err)

	job := env.waitTerminal(t, jobID)
	require.Equal(t, crawler.JobStatusCompleted, job.Status)
	require.Equal(t, 1, job.Counters.Succeeded)
	require.Equal(t, 2, job.Counters.Retries)
	require.Equal(t, 0, job.Counters.Failed)
	require.Equal(t, 3, env.fetcher.fetchCount("https://site.test/flaky"))
}

func TestCrawlPermanentHTTPErrorDoesNotRetry(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	env.fetcher.html("https://site.test/a", linkPage("A", "/gone"))
	env.fetcher.page("https://site.test/gone", crawler.FetchResponse{StatusCode: 404})

	jobID, err := env.coord.StartCrawl(context.Background(), crawler.CrawlConfig{
		SeedURLs: []string{"https://site.test/a"},
	})
	require.NoError(t, err)

	job := env.waitTerminal(t, jobID)
	require.Equal(t, crawler.JobStatusCompleted, job.Status)
	require.Equal(t, 1, job.Counters.Succeeded)
	require.Equal(t, 1, job.Counters.Failed)
	require.Equal(t, 0, job.Counters.Retries)
	require.Equal(t, 1, env.fetcher.fetchCount("https://site.test/gone"))
}

func TestRecrawlBumpsVersionOnlyForChangedPages(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	env.fetcher.html("https://site.test/a", linkPage("A", "/b"))
	env.fetcher.html("https://site.test/b", linkPage("B"))

	ctx := context.Background()
	first, err := env.coord.StartCrawl(ctx, crawler.CrawlConfig{SeedURLs: []string{"https://site.test/a"}})
	require.NoError(t, err)
	env.waitTerminal(t, first)

	// Page B changes; page A stays identical.
	env.fetcher.html("https://site.test/b", linkPage("B updated with different words"))
	env.fetcher.served = map[string]int{}

	second, err := env.coord.StartCrawl(ctx, crawler.CrawlConfig{SeedURLs: []string{"https://site.test/a"}})
	require.NoError(t, err)
	job := env.waitTerminal(t, second)

	require.Equal(t, 1, job.Counters.SkippedDuplicate)
	require.Equal(t, 1, job.Counters.Succeeded)

	a, err := env.docs.GetPage(ctx, "https://site.test/a")
	require.NoError(t, err)
	require.Equal(t, 1, a.Version)

	b, err := env.docs.GetPage(ctx, "https://site.test/b")
	require.NoError(t, err)
	require.Equal(t, 2, b.Version)
	require.Equal(t, a.Metadata.FirstScrapedAt, a.Metadata.LastUpdatedAt)
	require.True(t, b.Metadata.LastUpdatedAt.After(b.Metadata.FirstScrapedAt))
}

func TestMaxPagesCompletesPartially(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	env.fetcher.html("https://site.test/a", linkPage("A", "/b", "/c", "/d", "/e"))
	for _, p := range []string{"b", "c", "d", "e"} {
		env.fetcher.html("https://site.test/"+p, linkPage(p))
	}

	jobID, err := env.coord.StartCrawl(context.Background(), crawler.CrawlConfig{
		SeedURLs:       []string{"https://site.test/a"},
		MaxPages:       2,
		MaxConcurrency: 1,
	})
	require.NoError(t, err)

	job := env.waitTerminal(t, jobID)
	require.Equal(t, crawler.JobStatusCompleted, job.Status)
	require.LessOrEqual(t, job.Counters.Fetched, 3)
	require.GreaterOrEqual(t, job.Counters.Fetched, 2)
}

func TestCancelStopsCrawl(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	// A deep chain so the crawl stays busy long enough to cancel.
	for i := 0; i < 200; i++ {
		env.fetcher.html(fmt.Sprintf("https://site.test/p%d", i),
			linkPage(fmt.Sprintf("P%d", i), fmt.Sprintf("/p%d", i+1)))
	}

	jobID, err := env.coord.StartCrawl(context.Background(), crawler.CrawlConfig{
		SeedURLs:       []string{"https://site.test/p0"},
		MaxDepth:       500,
		MaxConcurrency: 1,
		HostRateLimit:  50,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, err := env.coord.Status(context.Background(), jobID)
		require.NoError(t, err)
		return status.Job.Status == crawler.JobStatusRunning
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, env.coord.Cancel(context.Background(), jobID))
	job := env.waitTerminal(t, jobID)
	require.Equal(t, crawler.JobStatusCancelled, job.Status)

	// Cancelling again reports the terminal state.
	require.ErrorIs(t, env.coord.Cancel(context.Background(), jobID), ErrJobTerminal)
}

func TestCrawlAllSeedsFailingMarksJobFailed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{DefaultRetryLimit: 1})
	env.fetcher.page("https://site.test/broken", crawler.FetchResponse{StatusCode: 500})

	jobID, err := env.coord.StartCrawl(context.Background(), crawler.CrawlConfig{
		SeedURLs: []string{"https://site.test/broken"},
	})
	require.NoError(t, err)

	job := env.waitTerminal(t, jobID)
	require.Equal(t, crawler.JobStatusFailed, job.Status)
	require.Equal(t, 0, job.Counters.Succeeded)
	require.GreaterOrEqual(t, job.Counters.Failed, 1)
}

func TestStartCrawlRejectsInvalidSeeds(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})

	_, err := env.coord.StartCrawl(context.Background(), crawler.CrawlConfig{})
	require.Error(t, err)

	_, err = env.coord.StartCrawl(context.Background(), crawler.CrawlConfig{
		SeedURLs: []string{"not a url"},
	})
	require.Error(t, err)
}

func TestCrawlRespectsDepthLimit(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	env.fetcher.html("https://site.test/a", linkPage("A", "/b"))
	env.fetcher.html("https://site.test/b", linkPage("B", "/c"))
	env.fetcher.html("https://site.test/c", linkPage("C"))

	jobID, err := env.coord.StartCrawl(context.Background(), crawler.CrawlConfig{
		SeedURLs: []string{"https://site.test/a"},
		MaxDepth: 1,
	})
	require.NoError(t, err)

	job := env.waitTerminal(t, jobID)
	require.Equal(t, 2, job.Counters.Succeeded)
	require.Equal(t, 0, env.fetcher.fetchCount("https://site.test/c"))
}

func TestCrawlIgnoresOffHostLinks(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	env.fetcher.html("https://site.test/a", linkPage("A", "https://elsewhere.test/x"))
	env.fetcher.html("https://elsewhere.test/x", linkPage("X"))

	jobID, err := env.coord.StartCrawl(context.Background(), crawler.CrawlConfig{
		SeedURLs: []string{"https://site.test/a"},
	})
	require.NoError(t, err)

	job := env.waitTerminal(t, jobID)
	require.Equal(t, 1, job.Counters.Succeeded)
	require.Equal(t, 0, env.fetcher.fetchCount("https://elsewhere.test/x"))
}

// outageDocStore delegates to the memory store but refuses every Upsert
// after the first failAfter calls, like a database going away mid-crawl.
type outageDocStore struct {
	*memory.DocumentStore
	mu        sync.Mutex
	upserts   int
	failAfter int
}

func (s *outageDocStore) Upsert(ctx context.Context, doc crawler.PageDocument) (int, error) {
	s.mu.Lock()
	s.upserts++
	n := s.upserts
	s.mu.Unlock()
	if n > s.failAfter {
		return 0, errors.New("connection refused: storage unreachable")
	}
	return s.DocumentStore.Upsert(ctx, doc)
}

// statusTrackingJobStore records every status transition in order.
type statusTrackingJobStore struct {
	*memory.JobStore
	mu       sync.Mutex
	statuses []crawler.JobStatus
}

func (s *statusTrackingJobStore) UpdateJobStatus(ctx context.Context, jobID string, status crawler.JobStatus, errText string) error {
	s.mu.Lock()
	s.statuses = append(s.statuses, status)
	s.mu.Unlock()
	return s.JobStore.UpdateJobStatus(ctx, jobID, status, errText)
}

func (s *statusTrackingJobStore) seen() []crawler.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]crawler.JobStatus(nil), s.statuses...)
}

func TestSaturatedFrontierDefersLinksInsteadOfDropping(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	env.fetcher.html("https://site.test/a", linkPage("A", "/b", "/c"))
	env.fetcher.html("https://site.test/b", linkPage("B", "/d"))
	env.fetcher.html("https://site.test/c", linkPage("C", "/e"))
	env.fetcher.html("https://site.test/d", linkPage("D"))
	env.fetcher.html("https://site.test/e", linkPage("E"))

	// One worker and a single pending slot: every accepted page overflows
	// the frontier, so discovery must park links and re-admit them later.
	jobID, err := env.coord.StartCrawl(context.Background(), crawler.CrawlConfig{
		SeedURLs:       []string{"https://site.test/a"},
		MaxDepth:       5,
		MaxConcurrency: 1,
		MaxPending:     1,
	})
	require.NoError(t, err)

	job := env.waitTerminal(t, jobID)
	require.Equal(t, crawler.JobStatusCompleted, job.Status)
	require.Equal(t, 5, job.Counters.Succeeded)
	require.Equal(t, 5, job.Counters.Discovered)
	for _, p := range []string{"a", "b", "c", "d", "e"} {
		require.Equal(t, 1, env.fetcher.fetchCount("https://site.test/"+p), "page %s must be visited", p)
	}
}

func TestStoreOutageFailsJob(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher()
	fetcher.html("https://site.test/a", linkPage("A", "/b", "/c"))
	fetcher.html("https://site.test/b", linkPage("B"))
	fetcher.html("https://site.test/c", linkPage("C"))

	docs := &outageDocStore{DocumentStore: memory.NewDocumentStore(), failAfter: 1}
	jobs := memory.NewJobStore()
	coord := New(context.Background(), Config{
		DefaultRetryLimit: 1,
		RetryBackoffBase:  5 * time.Millisecond,
		RetryBackoffMax:   20 * time.Millisecond,
	}, fetcher, parser.New(), docs, jobs, structure.New(), system.New(), uuid.New(), nil, nil)

	jobID, err := coord.StartCrawl(context.Background(), crawler.CrawlConfig{
		SeedURLs:       []string{"https://site.test/a"},
		MaxConcurrency: 1,
	})
	require.NoError(t, err)

	var job crawler.CrawlJob
	require.Eventually(t, func() bool {
		job, err = jobs.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		return job.Status.IsTerminal()
	}, 10*time.Second, 10*time.Millisecond)

	// One page persisted before the outage must not mask the failure.
	require.Equal(t, crawler.JobStatusFailed, job.Status)
	require.Contains(t, job.ErrorText, "store")
	require.GreaterOrEqual(t, job.Counters.Succeeded, 1)
}

func TestJobPassesThroughDrainingBeforeCompleting(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher()
	fetcher.html("https://site.test/a", linkPage("A"))

	jobs := &statusTrackingJobStore{JobStore: memory.NewJobStore()}
	coord := New(context.Background(), Config{
		RetryBackoffBase: 5 * time.Millisecond,
		RetryBackoffMax:  20 * time.Millisecond,
	}, fetcher, parser.New(), memory.NewDocumentStore(), jobs, structure.New(), system.New(), uuid.New(), nil, nil)

	jobID, err := coord.StartCrawl(context.Background(), crawler.CrawlConfig{
		SeedURLs: []string{"https://site.test/a"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := jobs.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		return job.Status.IsTerminal()
	}, 10*time.Second, 10*time.Millisecond)

	statuses := jobs.seen()
	drainingAt, completedAt := -1, -1
	for i, st := range statuses {
		switch st {
		case crawler.JobStatusDraining:
			if drainingAt < 0 {
				drainingAt = i
			}
		case crawler.JobStatusCompleted:
			completedAt = i
		}
	}
	require.GreaterOrEqual(t, drainingAt, 0, "job must pass through draining")
	require.Greater(t, completedAt, drainingAt)
}

func TestCrawlPopulatesStructureIndex(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	env.fetcher.html("https://site.test/docs/install", linkPage("Install", "/docs/config"))
	env.fetcher.html("https://site.test/docs/config", linkPage("Config"))

	jobID, err := env.coord.StartCrawl(context.Background(), crawler.CrawlConfig{
		SeedURLs: []string{"https://site.test/docs/install"},
	})
	require.NoError(t, err)
	env.waitTerminal(t, jobID)

	nodes := env.index.Nodes()
	require.Len(t, nodes, 1)
	require.Equal(t, "docs", nodes[0].Section)
	require.Len(t, nodes[0].ChildURLs, 2)
}
