// Package frontier holds discovered-but-unvisited URLs plus their
// visitation state, deduplicated by normalized URL.
package frontier

import (
	"sync"
	"time"

	"github.com/webharvest/crawld/internal/crawler"
)

// Config controls depth limiting, admission control, and retry scheduling.
type Config struct {
	MaxDepth    int // 0 = unbounded
	MaxPending  int // saturation threshold for admission control, 0 = unbounded
	RetryLimit  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

const (
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffMax  = 30 * time.Second
)

// Frontier is the set of discovered URLs and their states for one crawl job.
// All state transitions happen under a single mutex; entries are keyed by
// normalized URL, so a URL can exist at most once in any state.
type Frontier struct {
	mu      sync.Mutex
	cfg     Config
	clock   crawler.Clock
	entries map[string]*crawler.FrontierEntry
	pending []string // FIFO of normalized URLs, discovery order
	order   []string // every URL ever admitted, for snapshots
}

// New builds an empty Frontier.
func New(cfg Config, clock crawler.Clock) *Frontier {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = defaultBackoffMax
	}
	return &Frontier{
		cfg:     cfg,
		clock:   clock,
		entries: make(map[string]*crawler.FrontierEntry),
	}
}

// Enqueue normalizes url and inserts it as Pending. It returns false without
// side effects when the URL is malformed, already present in any state, or
// beyond the depth limit.
func (f *Frontier) Enqueue(url, discoveredFrom string, depth int) bool {
	normalized, err := crawler.NormalizeURL(url)
	if err != nil {
		return false
	}
	if f.cfg.MaxDepth > 0 && depth > f.cfg.MaxDepth {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.entries[normalized]; exists {
		return false
	}
	f.entries[normalized] = &crawler.FrontierEntry{
		URL:            normalized,
		DiscoveredFrom: discoveredFrom,
		Depth:          depth,
		State:          crawler.EntryPending,
	}
	f.pending = append(f.pending, normalized)
	f.order = append(f.order, normalized)
	return true
}

// DequeueNext pops the oldest Pending entry whose retry time has passed and
// transitions it to InFlight. ok=false with exhausted=false means nothing is
// eligible right now (in-flight work or scheduled retries remain); exhausted
// reports the termination condition: no Pending and no InFlight entries.
func (f *Frontier) DequeueNext() (entry crawler.FrontierEntry, ok, exhausted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.clock.Now()
	for i, url := range f.pending {
		e := f.entries[url]
		if e == nil || e.State != crawler.EntryPending {
			continue
		}
		if !e.NextRetryAt.IsZero() && e.NextRetryAt.After(now) {
			continue
		}
		f.pending = append(f.pending[:i:i], f.pending[i+1:]...)
		e.State = crawler.EntryInFlight
		return *e, true, false
	}
	return crawler.FrontierEntry{}, false, f.idleLocked()
}

// MarkDone transitions an InFlight entry to Done.
func (f *Frontier) MarkDone(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[url]; ok && e.State == crawler.EntryInFlight {
		e.State = crawler.EntryDone
	}
}

// MarkFailed records a failed attempt. While attempts remain it reschedules
// the entry as Pending with an exponential-backoff retry timestamp and
// returns true; once the retry budget is spent the entry parks as Failed.
func (f *Frontier) MarkFailed(url string) (requeued bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[url]
	if !ok || e.State != crawler.EntryInFlight {
		return false
	}
	e.Attempts++
	if e.Attempts > f.cfg.RetryLimit {
		e.State = crawler.EntryFailed
		return false
	}
	e.State = crawler.EntryPending
	e.NextRetryAt = f.clock.Now().Add(f.backoff(e.Attempts))
	f.pending = append(f.pending, url)
	return true
}

// MarkFailedPermanent parks an InFlight entry as Failed regardless of its
// remaining retry budget (4xx responses, parse errors).
func (f *Frontier) MarkFailedPermanent(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[url]; ok && e.State == crawler.EntryInFlight {
		e.Attempts++
		e.State = crawler.EntryFailed
	}
}

// Saturated reports whether the Pending set exceeds the admission-control
// threshold; producers should pause link discovery until it drains.
func (f *Frontier) Saturated() bool {
	if f.cfg.MaxPending <= 0 {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.countLocked(crawler.EntryPending) >= f.cfg.MaxPending
}

// Stats summarizes entry counts by state.
type Stats struct {
	Pending  int
	InFlight int
	Done     int
	Failed   int
}

// Stats returns a point-in-time count of entries per state.
func (f *Frontier) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		Pending:  f.countLocked(crawler.EntryPending),
		InFlight: f.countLocked(crawler.EntryInFlight),
		Done:     f.countLocked(crawler.EntryDone),
		Failed:   f.countLocked(crawler.EntryFailed),
	}
}

// Size returns the total number of distinct URLs ever admitted.
func (f *Frontier) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// Snapshot returns every entry in admission order, for persistence.
func (f *Frontier) Snapshot() []crawler.FrontierEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]crawler.FrontierEntry, 0, len(f.order))
	for _, url := range f.order {
		if e, ok := f.entries[url]; ok {
			out = append(out, *e)
		}
	}
	return out
}

// Restore replaces the frontier contents from a persisted snapshot. InFlight
// entries are reset to Pending: a fetch interrupted by a crash is lost.
func (f *Frontier) Restore(entries []crawler.FrontierEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = make(map[string]*crawler.FrontierEntry, len(entries))
	f.pending = nil
	f.order = nil
	for _, e := range entries {
		restored := e
		if restored.State == crawler.EntryInFlight {
			restored.State = crawler.EntryPending
		}
		if _, exists := f.entries[restored.URL]; exists {
			continue
		}
		f.entries[restored.URL] = &restored
		f.order = append(f.order, restored.URL)
		if restored.State == crawler.EntryPending {
			f.pending = append(f.pending, restored.URL)
		}
	}
}

func (f *Frontier) idleLocked() bool {
	for _, e := range f.entries {
		if e.State == crawler.EntryPending || e.State == crawler.EntryInFlight {
			return false
		}
	}
	return true
}

func (f *Frontier) countLocked(state crawler.EntryState) int {
	n := 0
	for _, e := range f.entries {
		if e.State == state {
			n++
		}
	}
	return n
}

func (f *Frontier) backoff(attempt int) time.Duration {
	d := f.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= f.cfg.BackoffMax {
			return f.cfg.BackoffMax
		}
	}
	if d > f.cfg.BackoffMax {
		return f.cfg.BackoffMax
	}
	return d
}
