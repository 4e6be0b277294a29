package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pevans/newsagg/article"
	"github.com/pevans/newsagg/driver"
	"github.com/pevans/newsagg/ident"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "newsagg.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var day = time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)

func mk(t *testing.T, src, path, title string, published time.Time) article.Article {
	t.Helper()
	a, err := article.New(article.Fields{
		Source:      src,
		Domain:      src + ".example.com",
		URL:         "https://" + src + ".example.com/" + path,
		Title:       title,
		Summary:     "Summary of " + title,
		Authors:     []string{"Jane Doe"},
		PublishedAt: published,
		FetchedAt:   day.Add(12 * time.Hour),
	})
	require.NoError(t, err)
	return a
}

func report(articles ...article.Article) *driver.Report {
	return &driver.Report{
		RunID:      ident.Random[driver.RunKind](),
		StartedAt:  day.Add(12 * time.Hour),
		FinishedAt: day.Add(12*time.Hour + time.Minute),
		Results:    make([]driver.Result, 3),
		Articles:   articles,
		Failures:   []driver.Failure{},
	}
}

// TestSaveRun_RoundTrip verifies articles come back as stored
func TestSaveRun_RoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	dup := mk(t, "beta", "x", "Same story", day)
	a := mk(t, "alpha", "x", "Same story", day).
		WithDuplicates([]article.ID{dup.ID}).
		WithProperties(article.Properties{"ai": 0.5, "is_ai_related": 1})

	require.NoError(t, s.SaveRun(ctx, report(a)))

	got, err := s.GetArticle(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, a.URL, got.URL)
	assert.Equal(t, a.Title, got.Title)
	assert.Equal(t, a.Summary, got.Summary)
	assert.Equal(t, []string{"Jane Doe"}, got.Authors)
	assert.True(t, a.PublishedAt.Equal(got.PublishedAt))
	assert.True(t, a.FetchedAt.Equal(got.FetchedAt))
	assert.Equal(t, []article.ID{dup.ID}, got.Duplicates)
	assert.True(t, got.Properties.Flag("is_ai_related"))
	assert.Equal(t, 0.5, got.Properties.Score("ai"))
}

// TestGetArticle_NotFound verifies missing articles
func TestGetArticle_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetArticle(context.Background(), ident.New[article.Kind]("nope"))
	assert.True(t, errors.Is(err, ErrNotFound))
}

// TestSaveRun_Upsert verifies re-stored articles are updated, not
// duplicated
func TestSaveRun_Upsert(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a := mk(t, "alpha", "1", "Original title", day)
	require.NoError(t, s.SaveRun(ctx, report(a)))

	b := mk(t, "alpha", "1", "Corrected title", day)
	require.Equal(t, a.ID, b.ID)
	require.NoError(t, s.SaveRun(ctx, report(b)))

	list, err := s.ListArticles(ctx, ArticleFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Corrected title", list[0].Title)
}

// TestListArticles_Filters verifies filtering, ordering and paging
func TestListArticles_Filters(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	old := mk(t, "alpha", "1", "Old news", day.Add(-48*time.Hour))
	mid := mk(t, "beta", "1", "Middle news", day).WithProperties(article.Properties{"is_ai_related": 1})
	recent := mk(t, "alpha", "2", "Fresh news", day.Add(time.Hour)).WithProperties(article.Properties{"is_ai_related": 0})
	require.NoError(t, s.SaveRun(ctx, report(old, mid, recent)))

	all, err := s.ListArticles(ctx, ArticleFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Fresh news", all[0].Title, "newest first")
	assert.Equal(t, "Old news", all[2].Title)

	bySource, err := s.ListArticles(ctx, ArticleFilter{Source: "alpha"})
	require.NoError(t, err)
	assert.Len(t, bySource, 2)

	since, err := s.ListArticles(ctx, ArticleFilter{Since: day.Add(-time.Hour)})
	require.NoError(t, err)
	assert.Len(t, since, 2)

	flagged, err := s.ListArticles(ctx, ArticleFilter{Flag: "is_ai_related"})
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, mid.ID, flagged[0].ID)

	page, err := s.ListArticles(ctx, ArticleFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "Middle news", page[0].Title)

	skipped, err := s.ListArticles(ctx, ArticleFilter{Offset: 2})
	require.NoError(t, err)
	require.Len(t, skipped, 1)
	assert.Equal(t, "Old news", skipped[0].Title)

	none, err := s.ListArticles(ctx, ArticleFilter{Source: "nobody"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

// TestSeen verifies lookups of stored IDs
func TestSeen(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	stored := mk(t, "alpha", "1", "Stored", day)
	fresh := mk(t, "alpha", "2", "Fresh", day)
	require.NoError(t, s.SaveRun(ctx, report(stored)))

	seen, err := s.Seen(ctx, []article.ID{stored.ID, fresh.ID})
	require.NoError(t, err)
	assert.True(t, seen[stored.ID])
	assert.False(t, seen[fresh.ID])

	seen, err = s.Seen(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, seen)
}

// TestLatestRun verifies the newest run and its failures are returned
func TestLatestRun(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.LatestRun(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	first := report(mk(t, "alpha", "1", "One", day))
	require.NoError(t, s.SaveRun(ctx, first))

	second := report()
	second.StartedAt = first.StartedAt.Add(time.Hour)
	second.FinishedAt = second.StartedAt.Add(time.Minute)
	second.Duplicates = 2
	second.Failures = []driver.Failure{
		{Source: "beta", Domain: "beta.example.com", Kind: "network", Message: "connection refused"},
		{Source: "gamma", Domain: "gamma.example.com", Kind: "timeout", Message: "deadline exceeded"},
	}
	require.NoError(t, s.SaveRun(ctx, second))

	run, err := s.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.RunID, run.ID)
	assert.Equal(t, 3, run.Sources)
	assert.Equal(t, 0, run.Articles)
	assert.Equal(t, 2, run.Duplicates)
	assert.True(t, second.StartedAt.Equal(run.StartedAt))
	require.Len(t, run.Failures, 2)
	assert.Equal(t, "beta", run.Failures[0].Source)
	assert.Equal(t, "timeout", run.Failures[1].Kind)
}

// TestSaveRun_DuplicateRun verifies a run can't be stored twice
func TestSaveRun_DuplicateRun(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	r := report(mk(t, "alpha", "1", "One", day))
	require.NoError(t, s.SaveRun(ctx, r))
	assert.Error(t, s.SaveRun(ctx, r))
}
