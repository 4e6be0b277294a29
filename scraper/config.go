package scraper

import (
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// ListConfig defines how to discover articles from listing/index pages.
type ListConfig struct {
	// ItemSelector matches one element per article on the listing page.
	ItemSelector string `yaml:"item_selector" json:"item_selector"`
	// LinkSelector finds the article link inside an item. Defaults to "a";
	// when the item is itself an anchor it is used directly.
	LinkSelector    string `yaml:"link_selector,omitempty" json:"link_selector,omitempty"`
	TitleSelector   string `yaml:"title_selector,omitempty" json:"title_selector,omitempty"`
	SummarySelector string `yaml:"summary_selector,omitempty" json:"summary_selector,omitempty"`
	DateSelector    string `yaml:"date_selector,omitempty" json:"date_selector,omitempty"`
	DateFormat      string `yaml:"date_format,omitempty" json:"date_format,omitempty"` // Go time format string
	// PaginationSelector matches the link to the next listing page.
	PaginationSelector string `yaml:"pagination_selector,omitempty" json:"pagination_selector,omitempty"`
	MaxPages           int    `yaml:"max_pages,omitempty" json:"max_pages"` // Default: 1
}

// ArticleConfig defines how to extract metadata from individual article
// pages.
type ArticleConfig struct {
	TitleSelector   string `yaml:"title_selector,omitempty" json:"title_selector,omitempty"`
	ContentSelector string `yaml:"content_selector" json:"content_selector"`
	AuthorSelector  string `yaml:"author_selector,omitempty" json:"author_selector,omitempty"`
	DateSelector    string `yaml:"date_selector,omitempty" json:"date_selector,omitempty"`
	DateFormat      string `yaml:"date_format,omitempty" json:"date_format,omitempty"` // Go time format string

	// FallbackSelectors are tried in order when ContentSelector matches
	// nothing, for sites that changed layout over time.
	FallbackSelectors []string `yaml:"fallback_selectors,omitempty" json:"fallback_selectors,omitempty"`
	// Exclude lists site-specific selectors removed from the body on top of
	// the common boilerplate selectors.
	Exclude []string `yaml:"exclude,omitempty" json:"exclude,omitempty"`
}

// NewListConfig creates a new list configuration with default values.
func NewListConfig(itemSelector string) *ListConfig {
	return &ListConfig{
		ItemSelector: itemSelector,
		MaxPages:     1,
	}
}

// Pages returns the number of listing pages to visit.
func (c *ListConfig) Pages() int {
	if c.MaxPages < 1 {
		return 1
	}
	return c.MaxPages
}

// Validate checks that the configuration has an item selector and that
// every selector compiles.
func (c *ListConfig) Validate() error {
	if strings.TrimSpace(c.ItemSelector) == "" {
		return errors.New("list config: item_selector is required")
	}
	return compileAll("list config",
		c.ItemSelector, c.LinkSelector, c.TitleSelector, c.SummarySelector,
		c.DateSelector, c.PaginationSelector)
}

// Validate checks that every selector compiles.
func (c *ArticleConfig) Validate() error {
	selectors := []string{c.TitleSelector, c.ContentSelector, c.AuthorSelector, c.DateSelector}
	selectors = append(selectors, c.FallbackSelectors...)
	selectors = append(selectors, c.Exclude...)
	return compileAll("article config", selectors...)
}

func (c *ArticleConfig) contentSelectors() []string {
	var out []string
	for _, sel := range append([]string{c.ContentSelector}, c.FallbackSelectors...) {
		if strings.TrimSpace(sel) != "" {
			out = append(out, sel)
		}
	}
	return out
}

func compileAll(what string, selectors ...string) error {
	for _, sel := range selectors {
		if strings.TrimSpace(sel) == "" {
			continue
		}
		if _, err := cascadia.Compile(sel); err != nil {
			return errors.Join(errors.New(what+": invalid selector "+sel), err)
		}
	}
	return nil
}

// first returns the first match of sel below s, or the empty selection when
// sel is blank.
func first(s *goquery.Selection, sel string) *goquery.Selection {
	if strings.TrimSpace(sel) == "" {
		return s.Slice(0, 0)
	}
	return s.Find(sel).First()
}
