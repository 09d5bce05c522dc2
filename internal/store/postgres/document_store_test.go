package postgres

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/webharvest/crawld/internal/crawler"
	"github.com/webharvest/crawld/internal/store"
)

func testDoc() crawler.PageDocument {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return crawler.PageDocument{
		URL:   "https://site/docs/a",
		Title: "A",
		Content: crawler.PageContent{
			CleanText:          "alpha beta",
			ContentHash:        "hash-a",
			WordCount:          2,
			ReadingTimeMinutes: 1,
		},
		Metadata:   crawler.PageMetadata{FirstScrapedAt: now, LastUpdatedAt: now},
		Navigation: crawler.PageNavigation{Section: "docs"},
		Status:     crawler.PageStatusProcessed,
	}
}

func TestGetHash(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s := NewDocumentStore(mock)

	mock.ExpectQuery(regexp.QuoteMeta(getHashQuery)).
		WithArgs("https://site/docs/a").
		WillReturnRows(pgxmock.NewRows([]string{"content_hash"}).AddRow("hash-a"))

	hash, ok, err := s.GetHash(context.Background(), "https://site/docs/a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hash-a", hash)

	mock.ExpectQuery(regexp.QuoteMeta(getHashQuery)).
		WithArgs("https://site/missing").
		WillReturnError(pgx.ErrNoRows)

	_, ok, err = s.GetHash(context.Background(), "https://site/missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertReturnsNewVersion(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s := NewDocumentStore(mock)

	doc := testDoc()
	structured, _ := json.Marshal(doc.Content.Structured)
	breadcrumb, _ := json.Marshal([]string{})
	extra, _ := json.Marshal(map[string]any{})

	mock.ExpectQuery(regexp.QuoteMeta(upsertQuery)).
		WithArgs(doc.URL, doc.Title, doc.Content.CleanText, structured,
			doc.Content.ContentHash, doc.Content.WordCount, doc.Content.ReadingTimeMinutes,
			breadcrumb, "docs", "", "processed", doc.QualityScore,
			doc.Metadata.FirstScrapedAt, doc.Metadata.LastUpdatedAt, extra).
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(1))

	version, err := s.Upsert(context.Background(), doc)
	require.NoError(t, err)
	require.Equal(t, 1, version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertHashMatchFallsBackToCurrentVersion(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s := NewDocumentStore(mock)

	doc := testDoc()
	// The guarded conflict update touches no row when the hash matches.
	mock.ExpectQuery(regexp.QuoteMeta(upsertQuery)).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(currentVersionQuery)).
		WithArgs(doc.URL).
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(3))

	version, err := s.Upsert(context.Background(), doc)
	require.NoError(t, err)
	require.Equal(t, 3, version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPageNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s := NewDocumentStore(mock)

	mock.ExpectQuery(regexp.QuoteMeta(getPageQuery)).
		WithArgs("https://site/missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = s.GetPage(context.Background(), "https://site/missing")
	require.ErrorIs(t, err, store.ErrPageNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPageScansDocument(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s := NewDocumentStore(mock)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{
		"url", "title", "clean_text", "structured", "content_hash", "word_count",
		"reading_time_min", "breadcrumb", "section", "subsection", "status",
		"version", "quality_score", "first_scraped_at", "last_updated_at", "extra",
	}).AddRow(
		"https://site/docs/a", "A", "alpha beta", []byte(`{"headings":[{"level":1,"text":"A"}]}`),
		"hash-a", 2, 1, []byte(`["Home","Docs"]`), "docs", "", "processed",
		2, 55.0, now, now.Add(time.Hour), []byte(`{"source":"job-1"}`),
	)
	mock.ExpectQuery(regexp.QuoteMeta(getPageQuery)).
		WithArgs("https://site/docs/a").
		WillReturnRows(rows)

	doc, err := s.GetPage(context.Background(), "https://site/docs/a")
	require.NoError(t, err)
	require.Equal(t, 2, doc.Version)
	require.Equal(t, []string{"Home", "Docs"}, doc.Navigation.Breadcrumb)
	require.Equal(t, "A", doc.Content.Structured.Headings[0].Text)
	require.Equal(t, "job-1", doc.Metadata.Extra["source"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchEmptyTextShortCircuits(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s := NewDocumentStore(mock)

	docs, err := s.Search(context.Background(), crawler.SearchQuery{})
	require.NoError(t, err)
	require.Nil(t, docs)
	require.NoError(t, mock.ExpectationsWereMet())
}
