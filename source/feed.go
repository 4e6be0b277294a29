package source

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"github.com/pevans/newsagg/article"
	"github.com/pevans/newsagg/scraper"
)

// DefaultBodyWorkers bounds concurrent article page fetches within one
// source.
const DefaultBodyWorkers = 4

// Feed fetches an RSS or Atom document. gofeed detects the format, so RSS
// 0.9x, 1.0, 2.0 and Atom are handled the same way.
type Feed struct {
	// Article, when set, fetches each entry's page to fill the article body.
	Article *scraper.ArticleConfig
	// MaxItems caps the number of entries taken from the feed. Zero means
	// no cap.
	MaxItems int
	// Workers bounds concurrent body fetches. Defaults to DefaultBodyWorkers.
	Workers int
}

// Kind implements Strategy.
func (f *Feed) Kind() Kind { return KindFeed }

// Fetch implements Strategy. An unparseable document fails the whole fetch;
// a bad entry fails only itself.
func (f *Feed) Fetch(ctx context.Context, src Source, get Getter) (Batch, error) {
	page, err := get.Get(ctx, src.URL.String())
	if err != nil {
		return Batch{}, err
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(page.Body))
	if err != nil {
		return Batch{}, fmt.Errorf("%w: failed to parse feed: %v", ErrParse, err)
	}

	fetchedAt := time.Now()
	var batch Batch
	seen := make(map[string]bool)

	for i, item := range feed.Items {
		if f.MaxItems > 0 && len(batch.Articles) >= f.MaxItems {
			break
		}

		a, err := feedArticle(src, page.URL, item, fetchedAt)
		if err != nil {
			batch.Skipped = append(batch.Skipped, itemError(itemRef(item, i), err))
			continue
		}
		if seen[a.URL] {
			batch.Skipped = append(batch.Skipped, itemError(a.URL,
				fmt.Errorf("%w: duplicate url in feed", ErrContract)))
			continue
		}
		seen[a.URL] = true
		batch.Articles = append(batch.Articles, a)
	}

	if f.Article != nil {
		skipped, err := fillBodies(ctx, batch.Articles, *f.Article, get, f.Workers)
		if err != nil {
			return Batch{}, err
		}
		batch.Skipped = append(batch.Skipped, skipped...)
	}

	return batch, nil
}

// feedArticle maps one feed entry to an Article.
func feedArticle(src Source, base *url.URL, item *gofeed.Item, fetchedAt time.Time) (article.Article, error) {
	// Link: <link> (RSS) or <link rel="alternate"> (Atom), resolved against
	// the feed URL
	link := item.Link
	if link == "" && len(item.Links) > 0 {
		link = item.Links[0]
	}
	if link == "" {
		return article.Article{}, fmt.Errorf("%w: entry has no link", ErrContract)
	}
	resolved, err := scraper.Resolve(base, link)
	if err != nil {
		return article.Article{}, contractError(err)
	}

	// Published: <pubDate>/<dc:date> (RSS) or <published>/<updated> (Atom).
	// A date that is present but unparseable fails the entry; a missing
	// one falls back to the fetch time.
	var publishedAt time.Time
	switch {
	case item.PublishedParsed != nil:
		publishedAt = *item.PublishedParsed
	case item.Published != "":
		return article.Article{}, fmt.Errorf("%w: unparseable published date %q", ErrParse, item.Published)
	case item.UpdatedParsed != nil:
		publishedAt = *item.UpdatedParsed
	case item.Updated != "":
		return article.Article{}, fmt.Errorf("%w: unparseable updated date %q", ErrParse, item.Updated)
	}

	// Summary: <description> (RSS) or <summary> (Atom), falling back to the
	// full content
	summary := item.Description
	if summary == "" {
		summary = item.Content
	}

	a, err := article.New(article.Fields{
		Source:      src.Name,
		Domain:      src.Domain,
		URL:         resolved,
		Title:       item.Title,
		Summary:     summary,
		Authors:     feedAuthors(item),
		PublishedAt: publishedAt,
		FetchedAt:   fetchedAt,
	})
	if err != nil {
		return article.Article{}, contractError(err)
	}
	return a, nil
}

// feedAuthors collects <author>, Atom <author><name> and <dc:creator>.
// article.New drops duplicates.
func feedAuthors(item *gofeed.Item) []string {
	var authors []string
	if item.Author != nil {
		authors = append(authors, item.Author.Name)
	}
	for _, author := range item.Authors {
		if author != nil {
			authors = append(authors, author.Name)
		}
	}
	if item.DublinCoreExt != nil {
		authors = append(authors, item.DublinCoreExt.Creator...)
	}
	return authors
}

func itemRef(item *gofeed.Item, i int) string {
	if item.Link != "" {
		return item.Link
	}
	if item.GUID != "" {
		return item.GUID
	}
	return fmt.Sprintf("entry #%d", i+1)
}

// fillBodies fetches each article page and fills Text and HTML in place. A
// page that fails keeps its article and is reported as skipped; an auth
// failure or cancellation aborts.
func fillBodies(ctx context.Context, articles []article.Article, config scraper.ArticleConfig, get Getter, workers int) ([]ItemError, error) {
	if workers <= 0 {
		workers = DefaultBodyWorkers
	}
	failures := make([]error, len(articles))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range articles {
		g.Go(func() error {
			extracted, err := fetchArticlePage(gctx, get, articles[i].URL, config)
			if err != nil {
				if isFatal(gctx, err) {
					return err
				}
				failures[i] = err
				return nil
			}
			articles[i] = articles[i].WithBody(extracted.Text, extracted.HTML)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var skipped []ItemError
	for i, err := range failures {
		if err != nil {
			skipped = append(skipped, itemError(articles[i].URL, fmt.Errorf("body not extracted: %w", err)))
		}
	}
	return skipped, nil
}

func fetchArticlePage(ctx context.Context, get Getter, rawURL string, config scraper.ArticleConfig) (*scraper.Article, error) {
	page, err := get.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	doc, err := page.Document()
	if err != nil {
		return nil, err
	}
	extracted, err := scraper.ExtractArticle(doc, config, page.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return extracted, nil
}
