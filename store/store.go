// Package store persists aggregation run output in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pevans/newsagg/article"
	"github.com/pevans/newsagg/driver"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// timeLayout has fixed-width fractions so stored UTC timestamps sort as
// strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store records articles and runs.
type Store struct {
	db *sql.DB
}

// Run summarizes one stored aggregation run.
type Run struct {
	ID         driver.RunID     `json:"run_id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Sources    int              `json:"sources"`
	Articles   int              `json:"articles"`
	Duplicates int              `json:"duplicates"`
	Failures   []driver.Failure `json:"failures"`
}

// ArticleFilter narrows ListArticles.
type ArticleFilter struct {
	Source string    // Exact source name
	Since  time.Time // Published at or after
	// Flag keeps only articles whose boolean property is set, for example
	// "is_ai_related".
	Flag   string
	Limit  int // Pagination limit
	Offset int // Pagination offset
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS articles (
		article_id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		domain TEXT NOT NULL,
		url TEXT NOT NULL,
		title TEXT NOT NULL,
		summary TEXT NOT NULL,
		text TEXT NOT NULL,
		html TEXT NOT NULL,
		authors TEXT NOT NULL,
		published_at TEXT NOT NULL,
		fetched_at TEXT NOT NULL,
		properties TEXT,
		duplicates TEXT,
		first_seen_at TEXT NOT NULL,
		last_run_id TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_articles_published ON articles (published_at);
	CREATE INDEX IF NOT EXISTS idx_articles_source ON articles (source);

	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		sources INTEGER NOT NULL,
		articles INTEGER NOT NULL,
		duplicates INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS failures (
		run_id TEXT NOT NULL REFERENCES runs (run_id) ON DELETE CASCADE,
		source TEXT NOT NULL,
		domain TEXT NOT NULL,
		kind TEXT NOT NULL,
		message TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun stores a report in one transaction. Articles are upserted by ID,
// so an article keeps the time it was first seen.
func (s *Store) SaveRun(ctx context.Context, report *driver.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, started_at, finished_at, sources, articles, duplicates)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		report.RunID.String(),
		formatTime(report.StartedAt),
		formatTime(report.FinishedAt),
		len(report.Results),
		len(report.Articles),
		report.Duplicates,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, f := range report.Failures {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO failures (run_id, source, domain, kind, message) VALUES (?, ?, ?, ?, ?)
		`, report.RunID.String(), f.Source, f.Domain, f.Kind, f.Message)
		if err != nil {
			return fmt.Errorf("failed to insert failure: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO articles (
			article_id, source, domain, url, title, summary, text, html, authors,
			published_at, fetched_at, properties, duplicates, first_seen_at, last_run_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (article_id) DO UPDATE SET
			title = excluded.title,
			summary = excluded.summary,
			text = excluded.text,
			html = excluded.html,
			authors = excluded.authors,
			published_at = excluded.published_at,
			fetched_at = excluded.fetched_at,
			properties = excluded.properties,
			duplicates = excluded.duplicates,
			last_run_id = excluded.last_run_id
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare article insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range report.Articles {
		authors, err := json.Marshal(a.Authors)
		if err != nil {
			return fmt.Errorf("failed to marshal authors: %w", err)
		}
		props, err := marshalOptional(a.Properties, len(a.Properties) > 0)
		if err != nil {
			return fmt.Errorf("failed to marshal properties: %w", err)
		}
		dups, err := marshalOptional(a.Duplicates, len(a.Duplicates) > 0)
		if err != nil {
			return fmt.Errorf("failed to marshal duplicates: %w", err)
		}

		_, err = stmt.ExecContext(ctx,
			a.ID.String(), a.Source, a.Domain, a.URL, a.Title, a.Summary, a.Text, a.HTML,
			string(authors),
			formatTime(a.PublishedAt),
			formatTime(a.FetchedAt),
			props,
			dups,
			formatTime(report.FinishedAt),
			report.RunID.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert article %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

const articleColumns = `
	article_id, source, domain, url, title, summary, text, html, authors,
	published_at, fetched_at, properties, duplicates
`

// GetArticle retrieves an article by ID.
func (s *Store) GetArticle(ctx context.Context, id article.ID) (*article.Article, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+articleColumns+" FROM articles WHERE article_id = ?", id.String())

	a, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListArticles lists articles, newest first.
func (s *Store) ListArticles(ctx context.Context, filter ArticleFilter) ([]article.Article, error) {
	query := "SELECT " + articleColumns + " FROM articles"

	var whereClauses []string
	var args []any

	if filter.Source != "" {
		whereClauses = append(whereClauses, "source = ?")
		args = append(args, filter.Source)
	}
	if !filter.Since.IsZero() {
		whereClauses = append(whereClauses, "published_at >= ?")
		args = append(args, formatTime(filter.Since))
	}
	if filter.Flag != "" {
		whereClauses = append(whereClauses, "json_extract(properties, ?) >= 0.5")
		args = append(args, "$."+jsonKey(filter.Flag))
	}

	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}

	query += " ORDER BY published_at DESC, article_id"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	} else if filter.Offset > 0 {
		query += " LIMIT -1"
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	defer rows.Close()

	articles := []article.Article{}
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read articles: %w", err)
	}

	return articles, nil
}

// Seen reports which of ids are already stored.
func (s *Store) Seen(ctx context.Context, ids []article.ID) (map[article.ID]bool, error) {
	seen := make(map[article.ID]bool, len(ids))
	if len(ids) == 0 {
		return seen, nil
	}

	// Stay well under SQLite's bound parameter limit.
	const batch = 500
	for start := 0; start < len(ids); start += batch {
		chunk := ids[start:min(start+batch, len(ids))]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id.String()
		}

		query := "SELECT article_id FROM articles WHERE article_id IN (?" +
			strings.Repeat(", ?", len(chunk)-1) + ")"
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query articles: %w", err)
		}
		for rows.Next() {
			var id article.ID
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan article id: %w", err)
			}
			seen[id] = true
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read article ids: %w", err)
		}
	}

	return seen, nil
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun(ctx context.Context) (*Run, error) {
	var run Run
	var startedAt, finishedAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, started_at, finished_at, sources, articles, duplicates
		FROM runs
		ORDER BY started_at DESC
		LIMIT 1
	`).Scan(&run.ID, &startedAt, &finishedAt, &run.Sources, &run.Articles, &run.Duplicates)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	run.StartedAt = parseTime(startedAt)
	run.FinishedAt = parseTime(finishedAt)

	rows, err := s.db.QueryContext(ctx, `
		SELECT source, domain, kind, message FROM failures WHERE run_id = ? ORDER BY rowid
	`, run.ID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query failures: %w", err)
	}
	defer rows.Close()

	run.Failures = []driver.Failure{}
	for rows.Next() {
		var f driver.Failure
		if err := rows.Scan(&f.Source, &f.Domain, &f.Kind, &f.Message); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		run.Failures = append(run.Failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read failures: %w", err)
	}

	return &run, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanArticle is shared by GetArticle and ListArticles.
func scanArticle(row scanner) (*article.Article, error) {
	var a article.Article
	var authors, publishedAt, fetchedAt string
	var props, dups sql.NullString

	err := row.Scan(
		&a.ID, &a.Source, &a.Domain, &a.URL, &a.Title, &a.Summary, &a.Text, &a.HTML,
		&authors, &publishedAt, &fetchedAt, &props, &dups,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan article: %w", err)
	}

	if err := json.Unmarshal([]byte(authors), &a.Authors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authors: %w", err)
	}
	if props.Valid {
		if err := json.Unmarshal([]byte(props.String), &a.Properties); err != nil {
			return nil, fmt.Errorf("failed to unmarshal properties: %w", err)
		}
	}
	if dups.Valid {
		if err := json.Unmarshal([]byte(dups.String), &a.Duplicates); err != nil {
			return nil, fmt.Errorf("failed to unmarshal duplicates: %w", err)
		}
	}
	a.PublishedAt = parseTime(publishedAt)
	a.FetchedAt = parseTime(fetchedAt)

	return &a, nil
}

func marshalOptional(v any, present bool) (any, error) {
	if !present {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// jsonKey quotes a property name for a JSON path.
func jsonKey(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `\"`) + `"`
}

func formatTime(t time.Time) string {
	return t.UTC().Truncate(0).Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	// Strip monotonic clock for consistent comparisons
	return t.Truncate(0)
}
