package article

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var reCDATA = regexp.MustCompile(`(?s)<!\[CDATA\[(.*?)\]\]>`)

// trackingParams are query parameters that never change what a URL points at.
var trackingParams = map[string]bool{
	"fbclid": true,
	"gclid":  true,
	"mc_cid": true,
	"mc_eid": true,
}

// CanonicalURL validates raw as an absolute http(s) URL and returns its
// canonical form: lower-case scheme and host, no default port, no fragment,
// no tracking parameters, and "/" for an empty path.
func CanonicalURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty url")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid url %q: scheme must be http or https", raw)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("invalid url %q: missing host", raw)
	}

	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = host + ":" + port
	}
	u.Host = host
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			if strings.HasPrefix(strings.ToLower(key), "utm_") || trackingParams[strings.ToLower(key)] {
				q.Del(key)
			}
		}
		u.RawQuery = q.Encode()
	}
	u.ForceQuery = false

	if u.Path == "" {
		u.Path = "/"
	}

	return u.String(), nil
}

// NormalizeTitle strips CDATA wrappers and markup from a title and collapses
// whitespace.
func NormalizeTitle(title string) string {
	title = reCDATA.ReplaceAllString(title, "$1")
	if strings.ContainsAny(title, "<&") {
		title = HTMLToText(title)
	}
	return collapseSpace(title)
}

// HTMLToText renders an HTML fragment as plain text with collapsed
// whitespace.
func HTMLToText(fragment string) string {
	fragment = reCDATA.ReplaceAllString(fragment, "$1")
	if strings.TrimSpace(fragment) == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return collapseSpace(fragment)
	}
	doc.Find("script, style, noscript").Remove()

	return collapseSpace(doc.Text())
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
