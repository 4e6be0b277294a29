// Package scraper extracts listings and article bodies from HTML pages with
// CSS selectors.
package scraper

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// ErrDate is returned when a date is present but matches no known layout.
var ErrDate = errors.New("unparseable date")

// ErrNoLink is returned for a listing item without a usable link.
var ErrNoLink = errors.New("item has no link")

// ExcludeSelectors match boilerplate removed from every article body.
var ExcludeSelectors = []string{
	"nav", "header", "footer", "aside",
	`[role="navigation"]`, `[role="complementary"]`, `[role="banner"]`, `[role="contentinfo"]`,
	".ad", ".ads", ".advertisement", ".sponsored", `[id^="ad-"]`, `[class*="adsbygoogle"]`,
	".social", ".share", ".sns", ".share-buttons",
	".comments", "#comments", ".comment-list",
	".related", ".related-posts", ".recommend",
	".breadcrumb", ".pagination",
	"script", "style", "noscript", "iframe", "form", "template",
	"[hidden]", `[aria-hidden="true"]`,
}

// dateLayouts are tried in order when no explicit date format is set.
var dateLayouts = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04",
	"2006/01/02",
	"2006.01.02",
	"2006年1月2日 15:04",
	"2006年1月2日",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

// Article holds data extracted from one article page.
type Article struct {
	Title       string
	Text        string
	HTML        string
	Authors     []string
	PublishedAt *time.Time
}

// ListItem is one article discovered on a listing page.
type ListItem struct {
	URL         string
	Title       string
	Summary     string
	PublishedAt *time.Time
}

// Clean removes boilerplate and the extra selectors from s in place.
func Clean(s *goquery.Selection, extra ...string) {
	for _, sel := range ExcludeSelectors {
		s.Find(sel).Remove()
	}
	for _, sel := range extra {
		if strings.TrimSpace(sel) != "" {
			s.Find(sel).Remove()
		}
	}
}

// ExtractArticle extracts article data from doc using the given selectors.
// The content selector and then each fallback selector are tried in order;
// when none yields text, readability extraction runs over the whole page.
func ExtractArticle(doc *goquery.Document, config ArticleConfig, pageURL *url.URL) (*Article, error) {
	article := &Article{}

	article.Title = text(first(doc.Selection, config.TitleSelector))
	if article.Title == "" {
		article.Title = pageTitle(doc)
	}

	if config.AuthorSelector != "" {
		authors := []string{}
		doc.Find(config.AuthorSelector).Each(func(i int, s *goquery.Selection) {
			if authorText := text(s); authorText != "" {
				authors = append(authors, ParseAuthors(authorText)...)
			}
		})
		article.Authors = authors
	}

	if config.DateSelector != "" {
		publishedAt, err := selectionDate(first(doc.Selection, config.DateSelector), config.DateFormat)
		if err != nil {
			return nil, err
		}
		article.PublishedAt = publishedAt
	}

	// Readability needs the document before the body is cleaned.
	fullHTML, _ := goquery.OuterHtml(doc.Selection)

	for _, sel := range config.contentSelectors() {
		content := doc.Find(sel)
		if content.Length() == 0 {
			continue
		}
		Clean(content, config.Exclude...)
		article.Text = text(content)
		if article.Text != "" {
			article.HTML = bodyHTML(content)
			break
		}
	}

	if article.Text == "" {
		title, html, body := Readability(fullHTML, pageURL)
		article.HTML = html
		article.Text = collapse(body)
		if article.Title == "" {
			article.Title = collapse(title)
		}
	}

	return article, nil
}

// Readability runs readability extraction on a full HTML document. It
// returns empty strings when nothing could be extracted.
func Readability(documentHTML string, pageURL *url.URL) (title, html, text string) {
	documentHTML = strings.TrimSpace(documentHTML)
	if documentHTML == "" || pageURL == nil {
		return "", "", ""
	}

	article, err := readability.FromReader(strings.NewReader(documentHTML), pageURL)
	if err != nil {
		return "", "", ""
	}

	return strings.TrimSpace(article.Title), strings.TrimSpace(article.Content), strings.TrimSpace(article.TextContent)
}

// ExtractList extracts the article items on one listing page. Items whose
// link can't be resolved or whose date can't be parsed are returned as
// errors alongside the good items.
func ExtractList(doc *goquery.Document, config ListConfig, base *url.URL) ([]ListItem, []error) {
	var items []ListItem
	var errs []error

	doc.Find(config.ItemSelector).Each(func(i int, s *goquery.Selection) {
		item, err := listItem(s, config, base)
		if err != nil {
			errs = append(errs, fmt.Errorf("item %d: %w", i, err))
			return
		}
		items = append(items, item)
	})

	return items, errs
}

func listItem(s *goquery.Selection, config ListConfig, base *url.URL) (ListItem, error) {
	link := s
	if !s.Is("a") {
		sel := config.LinkSelector
		if sel == "" {
			sel = "a"
		}
		link = s.Find(sel).First()
	}

	href, ok := link.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return ListItem{}, ErrNoLink
	}
	resolved, err := Resolve(base, href)
	if err != nil {
		return ListItem{}, err
	}

	item := ListItem{URL: resolved}
	if config.TitleSelector != "" {
		item.Title = text(first(s, config.TitleSelector))
	}
	if item.Title == "" {
		item.Title = text(link)
	}
	if config.SummarySelector != "" {
		item.Summary = text(first(s, config.SummarySelector))
	}
	if config.DateSelector != "" {
		publishedAt, err := selectionDate(first(s, config.DateSelector), config.DateFormat)
		if err != nil {
			return ListItem{}, fmt.Errorf("%s: %w", resolved, err)
		}
		item.PublishedAt = publishedAt
	}

	return item, nil
}

// NextPage returns the next listing page linked from doc, if any.
func NextPage(doc *goquery.Document, config ListConfig, base *url.URL) (string, bool) {
	if config.PaginationSelector == "" {
		return "", false
	}
	href, ok := doc.Find(config.PaginationSelector).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return "", false
	}
	next, err := Resolve(base, href)
	if err != nil {
		return "", false
	}
	return next, true
}

// Resolve resolves href against base and requires an http(s) result.
func Resolve(base *url.URL, href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("invalid link %q: %w", href, err)
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return "", fmt.Errorf("invalid link %q: not an http(s) URL", href)
	}
	return ref.String(), nil
}

// ParseDate parses value with layout, or with the common layouts when
// layout is empty. An empty value yields nil.
func ParseDate(value, layout string) (*time.Time, error) {
	value = collapse(value)
	if value == "" {
		return nil, nil
	}

	layouts := dateLayouts
	if layout != "" {
		layouts = []string{layout}
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, value); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrDate, value)
}

// selectionDate prefers a machine-readable datetime attribute over the
// element text.
func selectionDate(s *goquery.Selection, layout string) (*time.Time, error) {
	if s.Length() == 0 {
		return nil, nil
	}
	if attr, ok := s.Attr("datetime"); ok && strings.TrimSpace(attr) != "" {
		if t, err := ParseDate(attr, ""); err == nil {
			return t, nil
		}
	}
	return ParseDate(s.Text(), layout)
}

// ParseAuthors splits a single author string into multiple authors if it
// contains common delimiters.
func ParseAuthors(authorText string) []string {
	authorText = strings.TrimSpace(authorText)
	if authorText == "" {
		return []string{}
	}

	for _, delim := range []string{", ", " and ", "、"} {
		if !strings.Contains(authorText, delim) {
			continue
		}
		authors := []string{}
		for part := range strings.SplitSeq(authorText, delim) {
			part = strings.TrimSpace(part)
			if part != "" {
				authors = append(authors, part)
			}
		}
		return authors
	}

	return []string{authorText}
}

// bodyHTML returns the inner HTML of a single match, or the outer HTML of
// every match when the selector picks several elements (paragraphs, say).
func bodyHTML(s *goquery.Selection) string {
	if s.Length() == 1 {
		html, _ := s.Html()
		return strings.TrimSpace(html)
	}
	var b strings.Builder
	s.Each(func(i int, el *goquery.Selection) {
		if html, err := goquery.OuterHtml(el); err == nil {
			b.WriteString(html)
		}
	})
	return strings.TrimSpace(b.String())
}

func pageTitle(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		if t := collapse(og); t != "" {
			return t
		}
	}
	return text(doc.Find("title").First())
}

func text(s *goquery.Selection) string {
	return collapse(s.Text())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
