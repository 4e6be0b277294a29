package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pevans/newsagg/logger"
)

// ErrNoCredential is returned by Acquire when a login succeeds but yields a
// session without any credential.
var ErrNoCredential = errors.New("login returned no credential")

// LoginFunc performs a login for one domain.
type LoginFunc func(ctx context.Context) (*Session, error)

// Observer is told about every login the store performs.
type Observer interface {
	ObserveLogin(domain string, elapsed time.Duration, err error)
}

// Store keeps at most one session per domain. It is safe for concurrent use;
// reads share a lock and writes are exclusive. Sessions never expire on
// their own, they are removed only through Invalidate or InvalidateIf.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	gen      map[string]uint64

	logins   singleflight.Group
	log      logger.Logger
	observer Observer
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for login events.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithObserver registers an observer for login outcomes.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

// NewStore creates an empty session store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		gen:      make(map[string]uint64),
		log:      logger.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func key(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

// Get returns a copy of the session stored for domain.
func (s *Store) Get(domain string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[key(domain)]
	if !ok {
		return nil, false
	}
	return sess.clone(), true
}

// Put stores sess for domain, replacing any existing session, and returns the
// stored copy with its generation assigned.
func (s *Store) Put(domain string, sess *Session) *Session {
	k := key(domain)
	stored := sess.clone()
	if stored == nil {
		stored = &Session{}
	}
	stored.Domain = k
	if stored.ObtainedAt.IsZero() {
		stored.ObtainedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen[k]++
	stored.Generation = s.gen[k]
	s.sessions[k] = stored
	return stored.clone()
}

// Invalidate removes the session for domain.
func (s *Store) Invalidate(domain string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key(domain))
}

// InvalidateIf removes the session for domain only if it is still the
// session the caller observed. It reports whether a session was removed.
// A caller holding a stale session can't drop a fresher one stored by a
// concurrent re-login.
func (s *Store) InvalidateIf(domain string, observed *Session) bool {
	if observed == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(domain)
	cur, ok := s.sessions[k]
	if !ok || cur.Generation != observed.Generation {
		return false
	}
	delete(s.sessions, k)
	return true
}

// Len returns the number of stored sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Acquire returns the session for domain, logging in when there is none. At
// most one login per domain runs at a time; concurrent callers wait for it
// and share its outcome, success or failure.
func (s *Store) Acquire(ctx context.Context, domain string, login LoginFunc) (*Session, error) {
	if sess, ok := s.Get(domain); ok {
		return sess, nil
	}

	k := key(domain)
	ch := s.logins.DoChan(k, func() (any, error) {
		// A login may have finished between Get and DoChan.
		if sess, ok := s.Get(k); ok {
			return sess, nil
		}
		return s.login(ctx, k, login)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session).clone(), nil
	}
}

func (s *Store) login(ctx context.Context, domain string, login LoginFunc) (*Session, error) {
	s.log.Info("Logging in", logger.String("domain", domain))
	start := s.now()

	sess, err := login(ctx)
	if err == nil && !sess.Valid() {
		err = ErrNoCredential
	}
	elapsed := s.now().Sub(start)

	if s.observer != nil {
		s.observer.ObserveLogin(domain, elapsed, err)
	}
	if err != nil {
		s.log.Warn("Login failed",
			logger.String("domain", domain),
			logger.Duration("elapsed", elapsed),
			logger.Error(err))
		return nil, fmt.Errorf("login to %s: %w", domain, err)
	}

	stored := s.Put(domain, sess)
	s.log.Info("Logged in",
		logger.String("domain", domain),
		logger.Duration("elapsed", elapsed),
		logger.Int("generation", int(stored.Generation)))
	return stored, nil
}
