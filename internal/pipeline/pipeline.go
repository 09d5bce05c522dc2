// Package pipeline implements the fetch-parse-fingerprint stage for one URL.
// The processor is pure with respect to crawl state: it reads the document
// store for change detection but never writes; the coordinator applies the
// returned outcome.
package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/webharvest/crawld/internal/crawler"
	"github.com/webharvest/crawld/internal/parser"
)

// Config tunes per-URL processing.
type Config struct {
	// FetchTimeout bounds each HTTP GET (default 15s).
	FetchTimeout time.Duration
	// ForceRecrawl skips the stored-hash comparison so every fetched page is
	// re-ingested.
	ForceRecrawl bool
	// MinWordCount drops pages with fewer words as too thin to index
	// (0 = keep everything).
	MinWordCount int
}

// Processor turns one URL into an Outcome.
type Processor struct {
	cfg     Config
	fetcher crawler.Fetcher
	parser  crawler.Parser
	prints  crawler.Fingerprinter
	docs    crawler.DocumentStore
	clock   crawler.Clock
	logger  *zap.Logger
}

// New wires the pipeline collaborators.
func New(
	cfg Config,
	fetcher crawler.Fetcher,
	parser crawler.Parser,
	prints crawler.Fingerprinter,
	docs crawler.DocumentStore,
	clock crawler.Clock,
	logger *zap.Logger,
) *Processor {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		cfg:     cfg,
		fetcher: fetcher,
		parser:  parser,
		prints:  prints,
		docs:    docs,
		clock:   clock,
		logger:  logger,
	}
}

// Process fetches, parses, and fingerprints one normalized URL. HTTP error
// statuses, transport failures, parse failures, and store read failures all
// map onto the failure taxonomy; an unchanged fingerprint short-circuits
// into an Unchanged outcome unless ForceRecrawl is set.
func (p *Processor) Process(ctx context.Context, pageURL string, depth int) crawler.Outcome {
	resp, err := p.fetcher.Fetch(ctx, crawler.FetchRequest{
		URL:     pageURL,
		Timeout: p.cfg.FetchTimeout,
	})
	if err != nil {
		reason, retryable := crawler.ClassifyFetchError(err)
		p.logger.Debug("fetch failed",
			zap.String("url", pageURL),
			zap.String("reason", string(reason)),
			zap.Error(err))
		return crawler.Failure(pageURL, reason, 0, err, retryable)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("http status %d", resp.StatusCode)
		return crawler.Failure(pageURL, crawler.ReasonHTTP, resp.StatusCode, err, crawler.RetryableStatus(resp.StatusCode))
	}

	parsed, err := p.parser.Parse(resp.Body, pageURL)
	if err != nil {
		return crawler.Failure(pageURL, crawler.ReasonParse, resp.StatusCode, err, false)
	}

	hash := p.prints.Fingerprint(parsed.CleanText)
	if !p.cfg.ForceRecrawl {
		stored, ok, err := p.docs.GetHash(ctx, pageURL)
		if err != nil {
			return crawler.Failure(pageURL, crawler.ReasonStore, resp.StatusCode, err, true)
		}
		if ok && !p.prints.Changed(stored, hash) {
			return crawler.Unchanged(pageURL)
		}
	}

	now := p.clock.Now()
	section, subsection := crawler.SectionOf(pageURL)
	doc := &crawler.PageDocument{
		URL:   pageURL,
		Title: parsed.Title,
		Content: crawler.PageContent{
			RawBody:            resp.Body,
			CleanText:          parsed.CleanText,
			Structured:         parsed.Structured,
			ContentHash:        hash,
			WordCount:          parsed.WordCount,
			ReadingTimeMinutes: parser.ReadingTimeMinutes(parsed.WordCount),
		},
		Metadata: crawler.PageMetadata{
			FirstScrapedAt: now,
			LastUpdatedAt:  now,
			Extra: map[string]any{
				"fetch_duration_ms": resp.Duration.Milliseconds(),
				"depth":             depth,
			},
		},
		Navigation: crawler.PageNavigation{
			Breadcrumb: parsed.Breadcrumb,
			Section:    section,
			Subsection: subsection,
		},
		Status:       crawler.PageStatusProcessed,
		QualityScore: parsed.QualityScore,
	}
	if p.cfg.MinWordCount > 0 && parsed.WordCount < p.cfg.MinWordCount {
		doc.Status = crawler.PageStatusSkipped
	}

	return crawler.Accepted(doc, sameHostLinks(pageURL, parsed.Structured.Links))
}

// sameHostLinks normalizes the internal links found on the page and drops
// anything unusable as a frontier key. Order is preserved, duplicates pass
// through; the frontier dedupes.
func sameHostLinks(pageURL string, links []crawler.Link) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	var out []string
	for _, l := range links {
		if l.Type != crawler.LinkInternal {
			continue
		}
		normalized, err := crawler.NormalizeURL(l.Href)
		if err != nil {
			continue
		}
		if !crawler.SameHost(base.String(), normalized) {
			continue
		}
		out = append(out, normalized)
	}
	return out
}
