package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"github.com/pevans/newsagg/logger"
	"github.com/pevans/newsagg/session"
)

// Client defaults.
const (
	DefaultUserAgent    = "newsagg/1.0 (RSS/Atom aggregator with web scraping)"
	DefaultTimeout      = 30 * time.Second
	DefaultMaxBodyBytes = 10 << 20
)

// ClientConfig controls the shared HTTP client.
type ClientConfig struct {
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
	// MaxBodyBytes caps the size of a response body.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
	// RequestsPerSecond limits requests per domain. Zero disables the limit.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// RequestObserver is told about every completed HTTP request.
type RequestObserver interface {
	ObserveRequest(domain string, status int, elapsed time.Duration, err error)
}

// Page is one fetched HTTP response.
type Page struct {
	// URL is the final URL after redirects.
	URL    *url.URL
	Status int
	Header http.Header
	Body   []byte
}

// OK reports whether the status is 2xx.
func (p *Page) OK() bool {
	return p.Status >= 200 && p.Status < 300
}

// Document parses the body as HTML, decoding it to UTF-8 according to the
// Content-Type header or the document's meta charset.
func (p *Page) Document() (*goquery.Document, error) {
	var r io.Reader = bytes.NewReader(p.Body)
	if decoded, err := charset.NewReader(r, p.Header.Get("Content-Type")); err == nil {
		r = decoded
	} else {
		r = bytes.NewReader(p.Body)
	}

	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse HTML from %s: %v", ErrParse, p.URL, err)
	}
	return doc, nil
}

// Client performs HTTP requests for every source. Requests to one domain
// share a token bucket.
type Client struct {
	http      *http.Client
	userAgent string
	maxBytes  int64
	limits    *limiters
	observer  RequestObserver
	log       logger.Logger
}

type limiters struct {
	mu    sync.Mutex
	rps   rate.Limit
	burst int
	byKey map[string]*rate.Limiter
}

func (l *limiters) wait(ctx context.Context, domain string) error {
	if l.rps <= 0 {
		return nil
	}

	l.mu.Lock()
	lim, ok := l.byKey[domain]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.byKey[domain] = lim
	}
	l.mu.Unlock()

	return lim.Wait(ctx)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithRequestObserver registers an observer for completed requests.
func WithRequestObserver(o RequestObserver) ClientOption {
	return func(c *Client) { c.observer = o }
}

// WithClientLogger sets the client logger.
func WithClientLogger(l logger.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// NewClient creates a client from cfg, filling in defaults.
func NewClient(cfg ClientConfig, opts ...ClientOption) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}

	c := &Client{
		http:      &http.Client{Timeout: cfg.Timeout},
		userAgent: cfg.UserAgent,
		maxBytes:  cfg.MaxBodyBytes,
		limits: &limiters{
			rps:   rate.Limit(cfg.RequestsPerSecond),
			burst: cfg.Burst,
			byKey: make(map[string]*rate.Limiter),
		},
		log: logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// withJar returns a client sharing c's transport and rate limits whose
// requests carry cookies through jar.
func (c *Client) withJar(jar http.CookieJar) *Client {
	hc := *c.http
	hc.Jar = jar
	clone := *c
	clone.http = &hc
	return &clone
}

// Get fetches rawURL, attaching the credentials of sess when it is not nil.
// Any HTTP response is returned as a Page; only transport failures are
// errors.
func (c *Client) Get(ctx context.Context, rawURL string, sess *session.Session) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrNetwork, err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/rss+xml,application/atom+xml,application/xml;q=0.9,*/*;q=0.8")
	sess.Apply(req)
	return c.Do(req)
}

// PostForm submits form to rawURL.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrNetwork, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.Do(req)
}

// Do sends req after waiting for its domain's rate limit and reads at most
// the configured number of body bytes.
func (c *Client) Do(req *http.Request) (*Page, error) {
	ctx := req.Context()
	domain := strings.ToLower(req.URL.Hostname())

	if err := c.limits.wait(ctx, domain); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("waiting for rate limit on %s: %w", domain, ctx.Err())
		}
		return nil, fmt.Errorf("%w: rate limit on %s: %v", ErrNetwork, domain, err)
	}

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	page, err := c.do(req)
	elapsed := time.Since(start)

	status := 0
	if page != nil {
		status = page.Status
	}
	if c.observer != nil {
		c.observer.ObserveRequest(domain, status, elapsed, err)
	}
	c.log.Debug("HTTP request",
		logger.String("method", req.Method),
		logger.String("url", req.URL.String()),
		logger.Int("status", status),
		logger.Duration("elapsed", elapsed))

	return page, err
}

func (c *Client) do(req *http.Request) (*Page, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, ctxErr)
		}
		return nil, fmt.Errorf("%w: failed to fetch %s: %v", ErrNetwork, req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, fmt.Errorf("reading %s: %w", req.URL, ctxErr)
		}
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrNetwork, req.URL, err)
	}
	if int64(len(body)) > c.maxBytes {
		return nil, fmt.Errorf("%w: response from %s exceeds %d bytes", ErrNetwork, req.URL, c.maxBytes)
	}

	return &Page{
		URL:    resp.Request.URL,
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   body,
	}, nil
}

// checkStatus maps a non-2xx response to ErrNetwork.
func checkStatus(p *Page) error {
	if p.OK() {
		return nil
	}
	return fmt.Errorf("%w: HTTP %d from %s", ErrNetwork, p.Status, p.URL)
}
