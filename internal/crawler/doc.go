// Package crawler defines the core types and interfaces for the site crawl
// and incremental-ingestion engine: page documents, crawl jobs, frontier
// entries, pipeline outcomes, and the contracts implemented by the fetcher,
// parser, and stores.
package crawler
