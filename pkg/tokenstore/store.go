package tokenstore

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"git.sr.ht/~jakintosh/gatehouse/pkg/tokens"
)

// Scope selects where a token pair lives. Durable survives browser restarts
// ("remember me"); Session lasts only as long as the browser session.
type Scope int

const (
	Durable Scope = iota
	Session
)

func (s Scope) String() string {
	switch s {
	case Durable:
		return "durable"
	case Session:
		return "session"
	default:
		return "unknown"
	}
}

// DurableCookieMaxAge is the lifetime given to mirrored cookies of a
// durable save.
const DurableCookieMaxAge = 30 * 24 * time.Hour

var names = [...]string{tokens.AccessTokenName, tokens.RefreshTokenName}

type CookieOptions struct {
	Secure   bool
	HttpOnly bool
	SameSite http.SameSite
	Path     string
}

type Config struct {
	Durable Storage
	Session Storage
	Mirror  CookieMirror
	Cookies CookieOptions
	Logger  logrus.FieldLogger
}

// Store is the single source of truth for the current token pair. All
// operations are serialized, so a reader never sees an access token from
// one pair next to a refresh token from another.
//
// Storage and mirror failures are logged and otherwise ignored.
type Store struct {
	mu      sync.Mutex
	durable Storage
	session Storage
	mirror  CookieMirror
	cookies CookieOptions
	log     logrus.FieldLogger

	insecureWarning sync.Once
}

func New(cfg Config) *Store {
	if cfg.Cookies.Path == "" {
		cfg.Cookies.Path = "/"
	}
	if cfg.Cookies.SameSite == 0 {
		cfg.Cookies.SameSite = http.SameSiteLaxMode
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Store{
		durable: cfg.Durable,
		session: cfg.Session,
		mirror:  cfg.Mirror,
		cookies: cfg.Cookies,
		log:     cfg.Logger.WithField("component", "tokenstore"),
	}
}

// Save writes both tokens into the storage of scope, removes them from the
// other scope, and mirrors both into cookies. Durable cookies carry a 30 day
// Max-Age; session cookies carry none.
func (s *Store) Save(ctx context.Context, pair tokens.Pair, scope Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, other := s.durable, s.session
	maxAge := int(DurableCookieMaxAge / time.Second)
	if scope == Session {
		target, other = s.session, s.durable
		maxAge = 0
	}

	values := [...]string{pair.AccessToken, pair.RefreshToken}
	for i, name := range names {
		s.set(ctx, target, name, values[i])
		s.delete(ctx, other, name)
		s.mirrorCookie(ctx, name, values[i], maxAge)
	}
	s.log.WithField("scope", scope).Debug("saved token pair")
}

// Read returns the named token, looking in durable storage first.
func (s *Store) Read(ctx context.Context, name string) (string, bool) {
	value, _, ok := s.Lookup(ctx, name)
	return value, ok
}

// ScopeOf reports which scope currently holds the named token.
func (s *Store) ScopeOf(ctx context.Context, name string) (Scope, bool) {
	_, scope, ok := s.Lookup(ctx, name)
	return scope, ok
}

// Lookup returns the named token together with the scope holding it.
func (s *Store) Lookup(ctx context.Context, name string) (string, Scope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scope, value, ok := s.lookup(ctx, name)
	return value, scope, ok
}

// Clear removes both tokens from both scopes and expires both cookies.
// Clearing an empty store is a no-op.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range names {
		s.delete(ctx, s.durable, name)
		s.delete(ctx, s.session, name)
		s.mirrorCookie(ctx, name, "", -1)
	}
	s.log.Debug("cleared token pair")
}

func (s *Store) lookup(ctx context.Context, name string) (Scope, string, bool) {
	for _, scope := range [...]Scope{Durable, Session} {
		storage := s.durable
		if scope == Session {
			storage = s.session
		}
		if storage == nil {
			continue
		}

		value, ok, err := storage.Get(ctx, name)
		if err != nil {
			s.log.WithError(err).WithField("scope", scope).Warnf("failed to read %s", name)
			continue
		}
		if ok && value != "" {
			return scope, value, true
		}
	}
	return 0, "", false
}

func (s *Store) set(ctx context.Context, storage Storage, name, value string) {
	if storage == nil {
		return
	}
	if err := storage.Set(ctx, name, value); err != nil {
		s.log.WithError(err).Warnf("failed to write %s", name)
	}
}

func (s *Store) delete(ctx context.Context, storage Storage, name string) {
	if storage == nil {
		return
	}
	if err := storage.Delete(ctx, name); err != nil {
		s.log.WithError(err).Warnf("failed to delete %s", name)
	}
}

func (s *Store) mirrorCookie(ctx context.Context, name, value string, maxAge int) {
	if s.mirror == nil {
		return
	}
	if !s.cookies.Secure {
		s.insecureWarning.Do(func() {
			s.log.Warn("token cookies are mirrored without the Secure attribute")
		})
	}

	s.mirror.MirrorCookie(ctx, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     s.cookies.Path,
		MaxAge:   maxAge,
		Secure:   s.cookies.Secure,
		HttpOnly: s.cookies.HttpOnly,
		SameSite: s.cookies.SameSite,
	})
}
