// Package session holds per-domain authentication state shared by every
// adapter that talks to the same site.
package session

import (
	"net/http"
	"strings"
	"time"
)

// Session is the credential material obtained by one login.
type Session struct {
	Domain     string
	Cookies    []*http.Cookie
	Token      string
	ObtainedAt time.Time
	// Generation is assigned by the Store when the session is stored. It
	// increases with every Put for the same domain.
	Generation uint64
}

// Valid reports whether the session carries any credential.
func (s *Session) Valid() bool {
	if s == nil {
		return false
	}
	if s.Token != "" {
		return true
	}
	for _, c := range s.Cookies {
		if c != nil && c.Name != "" {
			return true
		}
	}
	return false
}

// CookieHeader renders the session cookies as a Cookie request header value.
func (s *Session) CookieHeader() string {
	if s == nil {
		return ""
	}
	parts := make([]string, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		if c == nil || c.Name == "" {
			continue
		}
		parts = append(parts, (&http.Cookie{Name: c.Name, Value: c.Value}).String())
	}
	return strings.Join(parts, "; ")
}

// Apply attaches the session credentials to req.
func (s *Session) Apply(req *http.Request) {
	if s == nil {
		return
	}
	if h := s.CookieHeader(); h != "" {
		req.Header.Set("Cookie", h)
	}
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Cookies = make([]*http.Cookie, 0, len(s.Cookies))
	for _, ck := range s.Cookies {
		if ck == nil {
			continue
		}
		cp := *ck
		c.Cookies = append(c.Cookies, &cp)
	}
	return &c
}
