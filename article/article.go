// Package article defines the normalized article every source converges to.
package article

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pevans/newsagg/ident"
)

// ErrInvalid is returned when fields can't form a conforming article.
var ErrInvalid = errors.New("invalid article")

// Kind is the identifier kind for articles.
type Kind struct{}

// Namespace implements ident.Kind.
func (Kind) Namespace() uuid.UUID {
	return uuid.MustParse("6f1c8a0e-3d5b-5b7a-9e2f-4c1d8b6a7e30")
}

// ID identifies an article. It is derived from the source name and the
// canonical URL, so it is stable across runs.
type ID = ident.ID[Kind]

// Article is one normalized news item.
type Article struct {
	ID          ID         `json:"id"`
	Source      string     `json:"source"`
	Domain      string     `json:"domain"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Summary     string     `json:"summary"`
	Text        string     `json:"text,omitempty"`
	HTML        string     `json:"html,omitempty"`
	Authors     []string   `json:"authors"`
	PublishedAt time.Time  `json:"published_at"`
	FetchedAt   time.Time  `json:"fetched_at"`
	Properties  Properties `json:"properties,omitempty"`
	// Duplicates lists articles from other sources that deduplication
	// folded into this one.
	Duplicates []ID `json:"duplicates,omitempty"`
}

// Fields are the raw values an adapter extracted for one article.
type Fields struct {
	Source      string
	Domain      string
	URL         string
	Title       string
	Summary     string
	Text        string
	HTML        string
	Authors     []string
	PublishedAt time.Time
	FetchedAt   time.Time
}

// New normalizes and validates fields into an Article. A missing source,
// an empty title after normalization, or a URL that isn't absolute http(s)
// yields an error wrapping ErrInvalid.
func New(f Fields) (Article, error) {
	source := strings.TrimSpace(f.Source)
	if source == "" {
		return Article{}, fmt.Errorf("%w: empty source", ErrInvalid)
	}

	canonical, err := CanonicalURL(f.URL)
	if err != nil {
		return Article{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	title := NormalizeTitle(f.Title)
	if title == "" {
		return Article{}, fmt.Errorf("%w: empty title (url %s)", ErrInvalid, canonical)
	}

	fetchedAt := f.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}
	publishedAt := f.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = fetchedAt
	}

	authors := make([]string, 0, len(f.Authors))
	for _, a := range f.Authors {
		a = collapseSpace(a)
		if a != "" && !containsFold(authors, a) {
			authors = append(authors, a)
		}
	}

	return Article{
		ID:          ident.New[Kind](source, canonical),
		Source:      source,
		Domain:      strings.ToLower(strings.TrimSpace(f.Domain)),
		URL:         canonical,
		Title:       title,
		Summary:     HTMLToText(f.Summary),
		Text:        strings.TrimSpace(f.Text),
		HTML:        strings.TrimSpace(f.HTML),
		Authors:     authors,
		PublishedAt: publishedAt.Truncate(0),
		FetchedAt:   fetchedAt.Truncate(0),
	}, nil
}

// WithProperties returns a copy of a carrying props.
func (a Article) WithProperties(props Properties) Article {
	a.Properties = props.Clone()
	return a
}

// WithDuplicates returns a copy of a carrying the given duplicate IDs.
func (a Article) WithDuplicates(ids []ID) Article {
	a.Duplicates = slices.Clone(ids)
	return a
}

// WithBody returns a copy of a with extracted body text and HTML.
func (a Article) WithBody(text, html string) Article {
	a.Text = strings.TrimSpace(text)
	a.HTML = strings.TrimSpace(html)
	return a
}

// Properties maps derived property names to scores. Boolean properties are
// stored as 0 or 1.
type Properties map[string]float64

// Flag reports whether a boolean property is set.
func (p Properties) Flag(name string) bool {
	return p[name] >= 0.5
}

// Score returns a property's score, or 0 if it is absent.
func (p Properties) Score(name string) float64 {
	return p[name]
}

// SetFlag records a boolean property.
func (p Properties) SetFlag(name string, on bool) {
	if on {
		p[name] = 1
	} else {
		p[name] = 0
	}
}

// Clone returns an independent copy.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	return maps.Clone(p)
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
