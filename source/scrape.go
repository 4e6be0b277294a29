package source

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/pevans/newsagg/article"
	"github.com/pevans/newsagg/scraper"
)

// DefaultMaxItems caps the articles scraped from one source per run.
const DefaultMaxItems = 30

// summaryLength is the rune length of summaries derived from article text.
const summaryLength = 500

// Scrape discovers articles on listing pages and extracts each linked page
// with CSS selectors.
type Scrape struct {
	List    scraper.ListConfig
	Article scraper.ArticleConfig
	// MaxItems caps the number of articles. Defaults to DefaultMaxItems.
	MaxItems int
	// Workers bounds concurrent article fetches. Defaults to
	// DefaultBodyWorkers.
	Workers int
}

// Kind implements Strategy.
func (s *Scrape) Kind() Kind { return KindScrape }

// Fetch implements Strategy. Failing to load the first listing page fails
// the fetch; anything after that fails only the affected item.
func (s *Scrape) Fetch(ctx context.Context, src Source, get Getter) (Batch, error) {
	items, batch, err := s.discover(ctx, src, get)
	if err != nil {
		return Batch{}, err
	}

	fetchedAt := time.Now()
	articles := make([]*article.Article, len(items))
	failures := make([]error, len(items))

	workers := s.Workers
	if workers <= 0 {
		workers = DefaultBodyWorkers
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, item := range items {
		g.Go(func() error {
			a, err := s.scrapeItem(gctx, src, get, item, fetchedAt)
			if err != nil {
				if isFatal(gctx, err) {
					return err
				}
				failures[i] = err
				return nil
			}
			articles[i] = &a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Batch{}, err
	}

	for i := range items {
		if failures[i] != nil {
			batch.Skipped = append(batch.Skipped, itemError(items[i].URL, failures[i]))
			continue
		}
		batch.Articles = append(batch.Articles, *articles[i])
	}
	return batch, nil
}

// discover walks the listing pages and returns unique items in page order.
func (s *Scrape) discover(ctx context.Context, src Source, get Getter) ([]scraper.ListItem, Batch, error) {
	maxItems := s.MaxItems
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}

	var batch Batch
	var items []scraper.ListItem
	seen := make(map[string]bool)
	visited := make(map[string]bool)
	pageURL := src.URL.String()

	for p := 0; p < s.List.Pages() && len(items) < maxItems; p++ {
		visited[pageURL] = true

		var doc *goquery.Document
		page, err := get.Get(ctx, pageURL)
		if err == nil {
			doc, err = page.Document()
		}
		if err != nil {
			if p == 0 || isFatal(ctx, err) {
				return nil, Batch{}, err
			}
			batch.Skipped = append(batch.Skipped, itemError(pageURL, fmt.Errorf("listing page: %w", err)))
			break
		}

		found, errs := scraper.ExtractList(doc, s.List, page.URL)
		for _, err := range errs {
			batch.Skipped = append(batch.Skipped, itemError(pageURL, listError(err)))
		}
		for _, item := range found {
			canonical, err := article.CanonicalURL(item.URL)
			if err != nil {
				batch.Skipped = append(batch.Skipped, itemError(item.URL, contractError(err)))
				continue
			}
			if seen[canonical] {
				continue
			}
			seen[canonical] = true
			items = append(items, item)
			if len(items) >= maxItems {
				break
			}
		}

		next, ok := scraper.NextPage(doc, s.List, page.URL)
		if !ok || visited[next] {
			break
		}
		pageURL = next
	}

	if len(items) == 0 && len(batch.Skipped) == 0 {
		return nil, Batch{}, fmt.Errorf("%w: no items matched %q", ErrParse, s.List.ItemSelector)
	}
	return items, batch, nil
}

func (s *Scrape) scrapeItem(ctx context.Context, src Source, get Getter, item scraper.ListItem, fetchedAt time.Time) (article.Article, error) {
	extracted, err := fetchArticlePage(ctx, get, item.URL, s.Article)
	if err != nil {
		return article.Article{}, err
	}

	// The listing title wins unless the article page has an explicit
	// title selector.
	title := item.Title
	if (s.Article.TitleSelector != "" && extracted.Title != "") || title == "" {
		title = extracted.Title
	}

	var publishedAt time.Time
	switch {
	case extracted.PublishedAt != nil:
		publishedAt = *extracted.PublishedAt
	case item.PublishedAt != nil:
		publishedAt = *item.PublishedAt
	}

	summary := item.Summary
	if summary == "" {
		summary = truncate(extracted.Text, summaryLength)
	}

	a, err := article.New(article.Fields{
		Source:      src.Name,
		Domain:      src.Domain,
		URL:         item.URL,
		Title:       title,
		Summary:     summary,
		Authors:     extracted.Authors,
		PublishedAt: publishedAt,
		FetchedAt:   fetchedAt,
	})
	if err != nil {
		return article.Article{}, contractError(err)
	}
	return a.WithBody(extracted.Text, extracted.HTML), nil
}

func listError(err error) error {
	switch {
	case errors.Is(err, scraper.ErrDate):
		return fmt.Errorf("%w: %w", ErrParse, err)
	default:
		return contractError(err)
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
