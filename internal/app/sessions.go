package app

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"git.sr.ht/~jakintosh/gatehouse/pkg/client"
	"git.sr.ht/~jakintosh/gatehouse/pkg/tokenstore"
)

const (
	SessionCookieName   = "gh_sid"
	SessionCookieMaxAge = 30 * 24 * time.Hour
	DefaultSessionIdle  = 24 * time.Hour
)

type SessionsConfig struct {
	APIURL     string
	HTTPClient *http.Client
	Durable    tokenstore.Storage
	Cookies    tokenstore.CookieOptions
	Size       int
	Idle       time.Duration
	Metrics    *client.Metrics
	Logger     logrus.FieldLogger
}

// Sessions hands out one API client per browser session. Clients are
// cached and dropped after sitting idle; every lookup restarts the idle
// timer. A dropped client is rebuilt on the next request and picks its
// remembered tokens back up from durable storage.
type Sessions struct {
	cfg     SessionsConfig
	session *tokenstore.MemoryStorage

	mu      sync.Mutex
	clients *expirable.LRU[string, *client.Client]
}

func NewSessions(cfg SessionsConfig) *Sessions {
	if cfg.Idle <= 0 {
		cfg.Idle = DefaultSessionIdle
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Durable == nil {
		cfg.Durable = tokenstore.NewMemoryStorage(0, tokenstore.DurableCookieMaxAge)
	}
	return &Sessions{
		cfg:     cfg,
		session: tokenstore.NewMemoryStorage(0, cfg.Idle),
		clients: expirable.NewLRU[string, *client.Client](cfg.Size, nil, cfg.Idle),
	}
}

// Client returns the API client for the browser session sid, creating it
// on first use.
func (s *Sessions) Client(sid string) (*client.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients.Get(sid); ok {
		// re-adding resets the entry's expiry
		s.clients.Add(sid, c)
		return c, nil
	}

	store := tokenstore.New(tokenstore.Config{
		Durable: tokenstore.Namespace(s.cfg.Durable, sid),
		Session: tokenstore.Namespace(s.session, sid),
		Mirror:  tokenstore.ResponseMirror{},
		Cookies: s.cfg.Cookies,
		Logger:  s.cfg.Logger,
	})
	c, err := client.New(client.Config{
		BaseURL:    s.cfg.APIURL,
		Store:      store,
		HTTPClient: s.cfg.HTTPClient,
		Metrics:    s.cfg.Metrics,
		Logger:     s.cfg.Logger.WithField("sid", shortID(sid)),
	})
	if err != nil {
		return nil, err
	}
	s.clients.Add(sid, c)
	return c, nil
}

func (s *Sessions) Len() int {
	return s.clients.Len()
}

func shortID(sid string) string {
	if len(sid) > 8 {
		return sid[:8]
	}
	return sid
}

type sessionKey struct{}

// browserSession makes sure every request carries a session id cookie and
// exposes the id through the request context. The cookie is re-issued on
// every response so it outlives the remembered token cookies, which are
// keyed by it in durable storage.
func (a *App) browserSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sid string
		if cookie, err := r.Cookie(SessionCookieName); err == nil {
			if id, err := uuid.Parse(cookie.Value); err == nil {
				sid = id.String()
			}
		}
		if sid == "" {
			sid = uuid.NewString()
		}
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookieName,
			Value:    sid,
			Path:     "/",
			MaxAge:   int(SessionCookieMaxAge.Seconds()),
			HttpOnly: true,
			Secure:   a.secure,
			SameSite: http.SameSiteLaxMode,
		})

		ctx := context.WithValue(r.Context(), sessionKey{}, sid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientFor returns the caller's API client along with a context that
// mirrors token cookies onto w.
func (a *App) clientFor(
	w http.ResponseWriter,
	r *http.Request,
) (
	*client.Client,
	context.Context,
	error,
) {
	sid, _ := r.Context().Value(sessionKey{}).(string)
	c, err := a.sessions.Client(sid)
	if err != nil {
		return nil, nil, err
	}
	return c, tokenstore.WithResponseWriter(r.Context(), w), nil
}
