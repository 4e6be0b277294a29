package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"

	"github.com/pevans/newsagg/session"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

// TestClient_Headers verifies the user agent and session credentials are
// sent
func TestClient_Headers(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{UserAgent: "test-agent/1.0"})
	sess := &session.Session{Cookies: []*http.Cookie{{Name: "sid", Value: "42"}}}

	page, err := c.Get(context.Background(), srv.URL, sess)
	require.NoError(t, err)

	assert.True(t, page.OK())
	assert.Equal(t, "test-agent/1.0", got.Get("User-Agent"))
	assert.Equal(t, "sid=42", got.Get("Cookie"))
}

// TestClient_StatusIsNotTransportError verifies HTTP errors come back as
// pages
func TestClient_StatusIsNotTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	page, err := NewClient(ClientConfig{}).Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, page.Status)
	assert.ErrorIs(t, checkStatus(page), ErrNetwork)
}

// TestClient_MaxBodyBytes verifies oversized responses are rejected
func TestClient_MaxBodyBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer srv.Close()

	_, err := NewClient(ClientConfig{MaxBodyBytes: 1024}).Get(context.Background(), srv.URL, nil)
	assert.ErrorIs(t, err, ErrNetwork)

	page, err := NewClient(ClientConfig{MaxBodyBytes: 4096}).Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Len(t, page.Body, 2048)
}

// TestClient_TransportError verifies connection failures are network errors
func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := NewClient(ClientConfig{Timeout: time.Second}).Get(context.Background(), addr, nil)
	assert.ErrorIs(t, err, ErrNetwork)
}

// TestClient_RateLimit verifies requests to one domain are spaced out
func TestClient_RateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := NewClient(ClientConfig{RequestsPerSecond: 20, Burst: 1})

	start := time.Now()
	for range 3 {
		_, err := c.Get(context.Background(), srv.URL, nil)
		require.NoError(t, err)
	}

	// The first request passes immediately, the next two wait ~50ms each.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

type countingObserver struct {
	mu       sync.Mutex
	statuses []int
}

func (o *countingObserver) ObserveRequest(domain string, status int, elapsed time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, status)
}

// TestClient_Observer verifies completed requests are reported
func TestClient_Observer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	obs := &countingObserver{}
	c := NewClient(ClientConfig{}, WithRequestObserver(obs))
	_, err := c.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{http.StatusNotFound}, obs.statuses)
}

// TestPage_DocumentDecodesCharset verifies non-UTF-8 pages are decoded
func TestPage_DocumentDecodesCharset(t *testing.T) {
	encoded, err := japanese.ShiftJIS.NewEncoder().String("<html><body><h1>人工知能の最新動向</h1></body></html>")
	require.NoError(t, err)

	page := &Page{
		URL:    mustParse(t, "https://www.itmedia.co.jp/news/"),
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/html; charset=Shift_JIS"}},
		Body:   []byte(encoded),
	}

	doc, err := page.Document()
	require.NoError(t, err)
	assert.Equal(t, "人工知能の最新動向", doc.Find("h1").Text())
}

// TestNewSource verifies source validation
func TestNewSource(t *testing.T) {
	src, err := NewSource(" Gigazine ", "https://GIGAZINE.net/news/rss_2.0/")
	require.NoError(t, err)
	assert.Equal(t, "Gigazine", src.Name)
	assert.Equal(t, "gigazine.net", src.Domain)

	for _, tc := range []struct{ name, url string }{
		{"", "https://example.com/"},
		{"Relative", "/feed"},
		{"FTP", "ftp://example.com/feed"},
		{"Bad", "http://[::1"},
	} {
		_, err := NewSource(tc.name, tc.url)
		assert.Error(t, err, tc.name)
	}
}

// TestParseKind verifies strategy names
func TestParseKind(t *testing.T) {
	k, err := ParseKind("RSS")
	require.NoError(t, err)
	assert.Equal(t, KindFeed, k)

	k, err = ParseKind("authenticated-scrape")
	require.NoError(t, err)
	assert.Equal(t, KindAuthenticatedScrape, k)

	_, err = ParseKind("carrier-pigeon")
	assert.Error(t, err)
}

// TestError_Unwrap verifies source errors match both kind and cause
func TestError_Unwrap(t *testing.T) {
	cause := context.DeadlineExceeded
	err := &Error{Source: "S", URL: "https://example.com", Kind: ErrNetwork, Err: cause}

	assert.ErrorIs(t, err, ErrNetwork)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "network error")
	assert.True(t, strings.HasPrefix(err.Error(), "S (https://example.com)"))

	assert.ErrorIs(t, ErrSessionExpired, ErrAuth)
}
