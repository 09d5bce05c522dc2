package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/webharvest/crawld/internal/crawler"
	"github.com/webharvest/crawld/internal/store"
)

// DocumentStore implements crawler.DocumentStore on Postgres.
type DocumentStore struct {
	pool DBPool
}

// NewDocumentStore wraps a pool.
func NewDocumentStore(pool DBPool) *DocumentStore {
	return &DocumentStore{pool: pool}
}

const getHashQuery = `SELECT content_hash FROM pages WHERE url = $1`

// GetHash returns the stored content hash for url, or ok=false when absent.
func (s *DocumentStore) GetHash(ctx context.Context, url string) (string, bool, error) {
	var hash string
	err := s.pool.QueryRow(ctx, getHashQuery, url).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get hash %s: %w", url, err)
	}
	return hash, true, nil
}

// The conflict branch only fires when the hash changed, so version bumps and
// content overwrites happen together while first_scraped_at is kept from the
// original row. A hash match updates nothing and returns no row.
const upsertQuery = `
INSERT INTO pages (
	url, title, clean_text, structured, content_hash, word_count,
	reading_time_min, breadcrumb, section, subsection, status, version,
	quality_score, first_scraped_at, last_updated_at, extra
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,1,$12,$13,$14,$15)
ON CONFLICT (url) DO UPDATE SET
	title = EXCLUDED.title,
	clean_text = EXCLUDED.clean_text,
	structured = EXCLUDED.structured,
	content_hash = EXCLUDED.content_hash,
	word_count = EXCLUDED.word_count,
	reading_time_min = EXCLUDED.reading_time_min,
	breadcrumb = EXCLUDED.breadcrumb,
	section = EXCLUDED.section,
	subsection = EXCLUDED.subsection,
	status = EXCLUDED.status,
	version = pages.version + 1,
	quality_score = EXCLUDED.quality_score,
	last_updated_at = EXCLUDED.last_updated_at,
	extra = EXCLUDED.extra
WHERE pages.content_hash IS DISTINCT FROM EXCLUDED.content_hash
RETURNING version`

const currentVersionQuery = `SELECT version FROM pages WHERE url = $1`

// Upsert applies the versioning rules in a single statement; when the hash
// matches the row is untouched and the current version is read back.
func (s *DocumentStore) Upsert(ctx context.Context, doc crawler.PageDocument) (int, error) {
	if doc.URL == "" {
		return 0, fmt.Errorf("upsert: url is required")
	}
	structured, err := json.Marshal(doc.Content.Structured)
	if err != nil {
		return 0, fmt.Errorf("marshal structured content: %w", err)
	}
	breadcrumb, err := json.Marshal(emptySlice(doc.Navigation.Breadcrumb))
	if err != nil {
		return 0, fmt.Errorf("marshal breadcrumb: %w", err)
	}
	extra, err := json.Marshal(emptyMap(doc.Metadata.Extra))
	if err != nil {
		return 0, fmt.Errorf("marshal extra metadata: %w", err)
	}

	var version int
	err = s.pool.QueryRow(ctx, upsertQuery,
		doc.URL,
		doc.Title,
		doc.Content.CleanText,
		structured,
		doc.Content.ContentHash,
		doc.Content.WordCount,
		doc.Content.ReadingTimeMinutes,
		breadcrumb,
		doc.Navigation.Section,
		doc.Navigation.Subsection,
		string(doc.Status),
		doc.QualityScore,
		doc.Metadata.FirstScrapedAt,
		doc.Metadata.LastUpdatedAt,
		extra,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		if err := s.pool.QueryRow(ctx, currentVersionQuery, doc.URL).Scan(&version); err != nil {
			return 0, fmt.Errorf("read current version %s: %w", doc.URL, err)
		}
		return version, nil
	}
	if err != nil {
		return 0, fmt.Errorf("upsert %s: %w", doc.URL, err)
	}
	return version, nil
}

const pageColumns = `url, title, clean_text, structured, content_hash, word_count,
	reading_time_min, breadcrumb, section, subsection, status, version,
	quality_score, first_scraped_at, last_updated_at, extra`

const getPageQuery = `SELECT ` + pageColumns + ` FROM pages WHERE url = $1`

// GetPage fetches a single document by normalized URL.
func (s *DocumentStore) GetPage(ctx context.Context, url string) (crawler.PageDocument, error) {
	doc, err := scanPage(s.pool.QueryRow(ctx, getPageQuery, url))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.PageDocument{}, fmt.Errorf("get page %s: %w", url, store.ErrPageNotFound)
	}
	if err != nil {
		return crawler.PageDocument{}, fmt.Errorf("get page %s: %w", url, err)
	}
	return doc, nil
}

// ListPages returns documents matching the filter, best quality first.
func (s *DocumentStore) ListPages(ctx context.Context, filter crawler.PageFilter) ([]crawler.PageDocument, error) {
	query := `SELECT ` + pageColumns + ` FROM pages WHERE quality_score >= $1`
	args := []any{filter.MinQuality}
	if filter.Section != "" {
		args = append(args, filter.Section)
		query += ` AND section = $` + strconv.Itoa(len(args))
	}
	if filter.Subsection != "" {
		args = append(args, filter.Subsection)
		query += ` AND subsection = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY quality_score DESC, url ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()
	return collectPages(rows)
}

const searchQuery = `SELECT ` + pageColumns + `
FROM pages
WHERE search_vector @@ plainto_tsquery('english', $1)
	AND ($2 = '' OR section = $2)
ORDER BY ts_rank(search_vector, plainto_tsquery('english', $1)) DESC, url ASC
LIMIT $3`

// Search runs full-text matching against the tsvector index.
func (s *DocumentStore) Search(ctx context.Context, query crawler.SearchQuery) ([]crawler.PageDocument, error) {
	if query.Text == "" {
		return nil, nil
	}
	limit := query.Limit
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, searchQuery, query.Text, query.Section, limit)
	if err != nil {
		return nil, fmt.Errorf("search pages: %w", err)
	}
	defer rows.Close()
	return collectPages(rows)
}

func collectPages(rows pgx.Rows) ([]crawler.PageDocument, error) {
	var out []crawler.PageDocument
	for rows.Next() {
		doc, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return out, nil
}

func scanPage(row pgx.Row) (crawler.PageDocument, error) {
	var (
		doc        crawler.PageDocument
		structured []byte
		breadcrumb []byte
		extra      []byte
		status     string
	)
	err := row.Scan(
		&doc.URL,
		&doc.Title,
		&doc.Content.CleanText,
		&structured,
		&doc.Content.ContentHash,
		&doc.Content.WordCount,
		&doc.Content.ReadingTimeMinutes,
		&breadcrumb,
		&doc.Navigation.Section,
		&doc.Navigation.Subsection,
		&status,
		&doc.Version,
		&doc.QualityScore,
		&doc.Metadata.FirstScrapedAt,
		&doc.Metadata.LastUpdatedAt,
		&extra,
	)
	if err != nil {
		return crawler.PageDocument{}, err
	}
	doc.Status = crawler.PageStatus(status)
	if err := json.Unmarshal(structured, &doc.Content.Structured); err != nil {
		return crawler.PageDocument{}, fmt.Errorf("unmarshal structured content: %w", err)
	}
	if err := json.Unmarshal(breadcrumb, &doc.Navigation.Breadcrumb); err != nil {
		return crawler.PageDocument{}, fmt.Errorf("unmarshal breadcrumb: %w", err)
	}
	if err := json.Unmarshal(extra, &doc.Metadata.Extra); err != nil {
		return crawler.PageDocument{}, fmt.Errorf("unmarshal extra metadata: %w", err)
	}
	return doc, nil
}

func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func emptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
