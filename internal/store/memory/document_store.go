// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/webharvest/crawld/internal/crawler"
	"github.com/webharvest/crawld/internal/store"
)

// DocumentStore keeps versioned page documents in a map keyed by normalized
// URL.
type DocumentStore struct {
	mu   sync.RWMutex
	docs map[string]crawler.PageDocument
}

// NewDocumentStore constructs a DocumentStore.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{docs: make(map[string]crawler.PageDocument)}
}

// GetHash returns the stored content hash for url, or ok=false when absent.
func (s *DocumentStore) GetHash(_ context.Context, url string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[url]
	if !ok {
		return "", false, nil
	}
	return doc.Content.ContentHash, true, nil
}

// Upsert applies the versioning rules: insert at version 1, bump only when
// the content hash changes, keep FirstScrapedAt from the first insert. A
// hash match leaves the stored document untouched.
func (s *DocumentStore) Upsert(_ context.Context, doc crawler.PageDocument) (int, error) {
	if doc.URL == "" {
		return 0, fmt.Errorf("upsert: url is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.docs[doc.URL]
	if !ok {
		doc.Version = 1
		s.docs[doc.URL] = doc
		return 1, nil
	}
	if existing.Content.ContentHash == doc.Content.ContentHash {
		return existing.Version, nil
	}
	doc.Version = existing.Version + 1
	doc.Metadata.FirstScrapedAt = existing.Metadata.FirstScrapedAt
	s.docs[doc.URL] = doc
	return doc.Version, nil
}

// GetPage fetches a single document by normalized URL.
func (s *DocumentStore) GetPage(_ context.Context, url string) (crawler.PageDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[url]
	if !ok {
		return crawler.PageDocument{}, fmt.Errorf("get page %s: %w", url, store.ErrPageNotFound)
	}
	return doc, nil
}

// ListPages returns documents matching the filter, best quality first.
func (s *DocumentStore) ListPages(_ context.Context, filter crawler.PageFilter) ([]crawler.PageDocument, error) {
	s.mu.RLock()
	matched := make([]crawler.PageDocument, 0, len(s.docs))
	for _, doc := range s.docs {
		if filter.Section != "" && doc.Navigation.Section != filter.Section {
			continue
		}
		if filter.Subsection != "" && doc.Navigation.Subsection != filter.Subsection {
			continue
		}
		if doc.QualityScore < filter.MinQuality {
			continue
		}
		matched = append(matched, doc)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].QualityScore != matched[j].QualityScore {
			return matched[i].QualityScore > matched[j].QualityScore
		}
		return matched[i].URL < matched[j].URL
	})
	return paginate(matched, filter.Offset, filter.Limit), nil
}

// Search does naive substring matching over titles and clean text. The
// Postgres store delegates to a real text index; this exists for tests and
// local runs.
func (s *DocumentStore) Search(_ context.Context, query crawler.SearchQuery) ([]crawler.PageDocument, error) {
	needle := strings.ToLower(strings.TrimSpace(query.Text))
	if needle == "" {
		return nil, nil
	}

	s.mu.RLock()
	matched := make([]crawler.PageDocument, 0)
	for _, doc := range s.docs {
		if query.Section != "" && doc.Navigation.Section != query.Section {
			continue
		}
		if strings.Contains(strings.ToLower(doc.Title), needle) ||
			strings.Contains(strings.ToLower(doc.Content.CleanText), needle) {
			matched = append(matched, doc)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].QualityScore != matched[j].QualityScore {
			return matched[i].QualityScore > matched[j].QualityScore
		}
		return matched[i].URL < matched[j].URL
	})
	return paginate(matched, 0, query.Limit), nil
}

// Len reports the number of stored documents.
func (s *DocumentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func paginate(docs []crawler.PageDocument, offset, limit int) []crawler.PageDocument {
	if offset >= len(docs) {
		return nil
	}
	docs = docs[offset:]
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	out := make([]crawler.PageDocument, len(docs))
	copy(out, docs)
	return out
}
