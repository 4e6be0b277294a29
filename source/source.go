// Package source fetches articles from one online source. A Site composes
// a fetch strategy (feed or scrape) with an HTTP client and, for sites that
// require it, an authenticator backed by the shared session store.
package source

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Kind is the fetch strategy family of a source.
type Kind string

const (
	KindFeed                Kind = "feed"
	KindScrape              Kind = "scrape"
	KindAuthenticatedScrape Kind = "authenticated-scrape"
)

// ParseKind converts a strategy name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindFeed, KindScrape, KindAuthenticatedScrape:
		return k, nil
	case "rss", "atom":
		return KindFeed, nil
	default:
		return "", fmt.Errorf("unknown source kind %q", s)
	}
}

// Source describes where articles come from. It is immutable once built.
type Source struct {
	Name   string
	URL    *url.URL
	Domain string
	Kind   Kind
}

// NewSource validates name and rawURL. The domain is the URL host name,
// lower-cased.
func NewSource(name, rawURL string) (Source, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Source{}, errors.New("source name is required")
	}

	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Source{}, fmt.Errorf("source %s: invalid url: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Source{}, fmt.Errorf("source %s: url %q must be absolute http(s)", name, rawURL)
	}
	if u.Hostname() == "" {
		return Source{}, fmt.Errorf("source %s: url %q has no host", name, rawURL)
	}

	return Source{
		Name:   name,
		URL:    u,
		Domain: strings.ToLower(u.Hostname()),
	}, nil
}

// String returns the source URL.
func (s Source) String() string {
	if s.URL == nil {
		return ""
	}
	return s.URL.String()
}

func (s Source) withKind(k Kind) Source {
	u := *s.URL
	s.URL = &u
	s.Kind = k
	return s
}
