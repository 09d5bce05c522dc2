// Package structure maintains the derived section/subsection map of
// accepted pages. The index is rebuildable from the document store and is
// never a primary source of truth.
package structure

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/webharvest/crawld/internal/crawler"
)

type nodeKey struct {
	section    string
	subsection string
}

// Indexer implements crawler.StructureIndexer.
type Indexer struct {
	mu    sync.RWMutex
	nodes map[nodeKey]map[string]struct{}
}

// New constructs an empty Indexer.
func New() *Indexer {
	return &Indexer{nodes: make(map[nodeKey]map[string]struct{})}
}

// OnAccepted records an accepted page under its section/subsection node.
// Re-accepting the same URL is idempotent.
func (ix *Indexer) OnAccepted(doc crawler.PageDocument) {
	key := nodeKey{section: doc.Navigation.Section, subsection: doc.Navigation.Subsection}
	if key.section == "" {
		key.section = "home"
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	urls, ok := ix.nodes[key]
	if !ok {
		urls = make(map[string]struct{})
		ix.nodes[key] = urls
	}
	urls[doc.URL] = struct{}{}
}

// Nodes returns the current structure, sections sorted and child URLs sorted
// within each node.
func (ix *Indexer) Nodes() []crawler.SiteStructureNode {
	ix.mu.RLock()
	out := make([]crawler.SiteStructureNode, 0, len(ix.nodes))
	for key, urls := range ix.nodes {
		node := crawler.SiteStructureNode{
			Section:    key.section,
			Subsection: key.subsection,
			ChildURLs:  make([]string, 0, len(urls)),
		}
		for u := range urls {
			node.ChildURLs = append(node.ChildURLs, u)
		}
		sort.Strings(node.ChildURLs)
		out = append(out, node)
	}
	ix.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Section != out[j].Section {
			return out[i].Section < out[j].Section
		}
		return out[i].Subsection < out[j].Subsection
	})
	return out
}

// Rebuild repopulates the index from the document store, replacing the
// current contents.
func (ix *Indexer) Rebuild(ctx context.Context, docs crawler.DocumentStore) error {
	pages, err := docs.ListPages(ctx, crawler.PageFilter{})
	if err != nil {
		return fmt.Errorf("rebuild structure index: %w", err)
	}

	fresh := make(map[nodeKey]map[string]struct{})
	for _, doc := range pages {
		key := nodeKey{section: doc.Navigation.Section, subsection: doc.Navigation.Subsection}
		if key.section == "" {
			key.section = "home"
		}
		if fresh[key] == nil {
			fresh[key] = make(map[string]struct{})
		}
		fresh[key][doc.URL] = struct{}{}
	}

	ix.mu.Lock()
	ix.nodes = fresh
	ix.mu.Unlock()
	return nil
}
