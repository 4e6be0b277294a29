package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/pevans/newsagg/session"
)

// Authenticator logs in to a site and recognizes responses that mean the
// session is no longer accepted.
type Authenticator interface {
	Login(ctx context.Context, c *Client) (*session.Session, error)
	Expired(p *Page) bool
}

// FormLogin logs in by posting a username/password form and keeping the
// cookies the site sets.
type FormLogin struct {
	LoginURL      string
	UsernameField string
	PasswordField string
	Username      string
	Password      string
	// Extra holds additional form fields sent with the credentials.
	Extra map[string]string
	// RequiredCookie, when set, must be present after login.
	RequiredCookie string
}

// Validate checks that the login can be attempted.
func (f *FormLogin) Validate() error {
	u, err := url.Parse(f.LoginURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("login url %q must be absolute http(s)", f.LoginURL)
	}
	if f.UsernameField == "" || f.PasswordField == "" {
		return errors.New("login username and password field names are required")
	}
	if f.Username == "" || f.Password == "" {
		return errors.New("login credentials are empty")
	}
	return nil
}

// Login posts the form and returns a session holding the resulting cookies.
// Every failure is an ErrAuth.
func (f *FormLogin) Login(ctx context.Context, c *Client) (*session.Session, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuth, err)
	}
	loginURL, _ := url.Parse(f.LoginURL)

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create cookie jar: %w", ErrAuth, err)
	}

	form := url.Values{}
	for k, v := range f.Extra {
		form.Set(k, v)
	}
	form.Set(f.UsernameField, f.Username)
	form.Set(f.PasswordField, f.Password)

	page, err := c.withJar(jar).PostForm(ctx, f.LoginURL, form)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: login request failed: %w", ErrAuth, err)
	}
	if page.Status >= 400 {
		return nil, fmt.Errorf("%w: login rejected with HTTP %d", ErrAuth, page.Status)
	}

	cookies := collectCookies(jar, loginURL, page.URL)
	if len(cookies) == 0 {
		return nil, fmt.Errorf("%w: login set no cookies", ErrAuth)
	}
	if f.RequiredCookie != "" && !hasCookie(cookies, f.RequiredCookie) {
		return nil, fmt.Errorf("%w: login did not set cookie %q", ErrAuth, f.RequiredCookie)
	}

	return &session.Session{
		Domain:     strings.ToLower(loginURL.Hostname()),
		Cookies:    cookies,
		ObtainedAt: time.Now(),
	}, nil
}

// Expired reports 401 and 403 responses, and responses that ended on the
// login page after redirects.
func (f *FormLogin) Expired(p *Page) bool {
	if p.Status == http.StatusUnauthorized || p.Status == http.StatusForbidden {
		return true
	}
	loginURL, err := url.Parse(f.LoginURL)
	if err != nil || p.URL == nil {
		return false
	}
	return strings.EqualFold(p.URL.Hostname(), loginURL.Hostname()) &&
		strings.TrimSuffix(p.URL.Path, "/") == strings.TrimSuffix(loginURL.Path, "/")
}

func collectCookies(jar http.CookieJar, urls ...*url.URL) []*http.Cookie {
	var out []*http.Cookie
	seen := map[string]bool{}
	for _, u := range urls {
		if u == nil {
			continue
		}
		root := &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}
		for _, target := range []*url.URL{u, root} {
			for _, c := range jar.Cookies(target) {
				if !seen[c.Name] {
					seen[c.Name] = true
					out = append(out, c)
				}
			}
		}
	}
	return out
}

func hasCookie(cookies []*http.Cookie, name string) bool {
	for _, c := range cookies {
		if c.Name == name {
			return true
		}
	}
	return false
}
