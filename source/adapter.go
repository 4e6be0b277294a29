package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/pevans/newsagg/logger"
	"github.com/pevans/newsagg/session"
)

// Adapter is the contract every source implements.
type Adapter interface {
	Name() string
	SourceURL() *url.URL
	Domain() string
	Kind() Kind
	// FetchArticles returns the source's current articles. Entry-level
	// failures are reported in the batch; the error is a source-level
	// failure.
	FetchArticles(ctx context.Context) (Batch, error)
	// Login returns an authenticated session, or nil for sources that don't
	// authenticate.
	Login(ctx context.Context) (*session.Session, error)
}

// Getter fetches a URL with whatever credentials the caller is bound to.
// Non-2xx responses are errors.
type Getter interface {
	Get(ctx context.Context, rawURL string) (*Page, error)
}

// Strategy turns a source's pages into articles.
type Strategy interface {
	Kind() Kind
	Fetch(ctx context.Context, src Source, get Getter) (Batch, error)
}

// Site is the Adapter implementation used for every configured source.
type Site struct {
	src      Source
	strategy Strategy
	client   *Client
	auth     Authenticator
	sessions *session.Store
	log      logger.Logger
}

var _ Adapter = (*Site)(nil)

// SiteOption configures a Site.
type SiteOption func(*Site)

// WithClient sets the HTTP client. Sites built without one get a default
// client of their own.
func WithClient(c *Client) SiteOption {
	return func(s *Site) { s.client = c }
}

// WithAuth makes the site authenticate through store before fetching.
func WithAuth(a Authenticator, store *session.Store) SiteOption {
	return func(s *Site) {
		s.auth = a
		s.sessions = store
	}
}

// WithLogger sets the site logger.
func WithLogger(l logger.Logger) SiteOption {
	return func(s *Site) { s.log = l }
}

// NewSite composes a source with its strategy.
func NewSite(src Source, strategy Strategy, opts ...SiteOption) (*Site, error) {
	if src.Name == "" || src.URL == nil {
		return nil, errors.New("site requires a source built by NewSource")
	}
	if strategy == nil {
		return nil, fmt.Errorf("site %s: strategy is required", src.Name)
	}

	s := &Site{strategy: strategy, log: logger.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = NewClient(ClientConfig{})
	}
	if s.auth != nil && s.sessions == nil {
		return nil, fmt.Errorf("site %s: authentication requires a session store", src.Name)
	}

	kind := strategy.Kind()
	if s.auth != nil && kind == KindScrape {
		kind = KindAuthenticatedScrape
	}
	s.src = src.withKind(kind)
	s.log = s.log.With(logger.String("source", src.Name))

	return s, nil
}

// Name returns the site's display name.
func (s *Site) Name() string { return s.src.Name }

// SourceURL returns a copy of the feed or list page URL.
func (s *Site) SourceURL() *url.URL {
	u := *s.src.URL
	return &u
}

// Domain returns the host that sessions and articles are keyed by.
func (s *Site) Domain() string { return s.src.Domain }

// Kind returns the fetch strategy, authenticated-scrape when the site logs in.
func (s *Site) Kind() Kind { return s.src.Kind }

// Source returns the site's source description.
func (s *Site) Source() Source { return s.src.withKind(s.src.Kind) }

// Login obtains a session through the shared store, logging in only when
// none is stored.
func (s *Site) Login(ctx context.Context) (*session.Session, error) {
	if s.auth == nil {
		return nil, nil
	}

	sess, err := s.sessions.Acquire(ctx, s.src.Domain, func(ctx context.Context) (*session.Session, error) {
		return s.auth.Login(ctx, s.client)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		if !errors.Is(err, ErrAuth) {
			err = fmt.Errorf("%w: %w", ErrAuth, err)
		}
		return nil, s.wrap(err)
	}
	return sess, nil
}

// FetchArticles runs the strategy. Authenticated sites log in first; when
// the site rejects the session the site invalidates it, logs in once more
// and retries the fetch once.
func (s *Site) FetchArticles(ctx context.Context) (Batch, error) {
	if s.auth == nil {
		return s.fetch(ctx, nil)
	}

	sess, err := s.Login(ctx)
	if err != nil {
		return Batch{}, err
	}

	batch, err := s.fetch(ctx, sess)
	if !errors.Is(err, ErrSessionExpired) {
		return batch, err
	}

	s.log.Info("Session expired, logging in again",
		logger.Int("generation", int(sess.Generation)))
	s.sessions.InvalidateIf(s.src.Domain, sess)

	sess, err = s.Login(ctx)
	if err != nil {
		return Batch{}, err
	}

	batch, err = s.fetch(ctx, sess)
	if errors.Is(err, ErrSessionExpired) {
		s.sessions.InvalidateIf(s.src.Domain, sess)
		return Batch{}, s.wrap(fmt.Errorf("%w: session rejected again after re-login", ErrAuth))
	}
	return batch, err
}

func (s *Site) fetch(ctx context.Context, sess *session.Session) (Batch, error) {
	batch, err := s.strategy.Fetch(ctx, s.src, boundGetter{site: s, sess: sess})
	if err != nil {
		return Batch{}, s.wrap(err)
	}
	for _, skipped := range batch.Skipped {
		s.log.Debug("Skipped entry",
			logger.String("url", skipped.URL),
			logger.String("kind", skipped.Kind),
			logger.String("reason", skipped.Message))
	}
	return batch, nil
}

// wrap turns err into an *Error. Context errors are returned unchanged so
// callers can tell cancellation from source failures.
func (s *Site) wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var srcErr *Error
	if errors.As(err, &srcErr) {
		return err
	}
	return &Error{Source: s.src.Name, URL: s.src.String(), Kind: KindOf(err), Err: err}
}

type boundGetter struct {
	site *Site
	sess *session.Session
}

func (g boundGetter) Get(ctx context.Context, rawURL string) (*Page, error) {
	page, err := g.site.client.Get(ctx, rawURL, g.sess)
	if err != nil {
		return nil, err
	}
	if g.site.auth != nil && g.site.auth.Expired(page) {
		return nil, fmt.Errorf("%w: HTTP %d from %s", ErrSessionExpired, page.Status, page.URL)
	}
	if err := checkStatus(page); err != nil {
		return nil, err
	}
	return page, nil
}
