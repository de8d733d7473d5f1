// Package app is the dashboard web frontend. Every browser gets its own
// API client, token store and refresh coordinator, keyed by a session id
// cookie.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"git.sr.ht/~jakintosh/gatehouse/internal/resources"
	"git.sr.ht/~jakintosh/gatehouse/pkg/client"
	"git.sr.ht/~jakintosh/gatehouse/pkg/guard"
	"git.sr.ht/~jakintosh/gatehouse/pkg/tokenstore"
)

type Config struct {
	APIURL     string
	HTTPClient *http.Client

	// Durable holds remembered sessions. Session-only logins live in
	// process memory and are dropped after SessionIdle.
	Durable       tokenstore.Storage
	SecureCookies bool
	CacheSize     int
	SessionIdle   time.Duration

	Routes    guard.Routes
	Templates *resources.Templates
	Registry  *prometheus.Registry
	Logger    logrus.FieldLogger
}

type App struct {
	sessions  *Sessions
	guard     *guard.Guard
	templates *resources.Templates
	routes    guard.Routes
	durable   tokenstore.Storage
	registry  *prometheus.Registry
	secure    bool
	log       logrus.FieldLogger
}

func New(cfg Config) (*App, error) {
	if cfg.APIURL == "" {
		return nil, errors.New("app: API URL is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	if cfg.Routes.LoginPath == "" {
		cfg.Routes = guard.DefaultRoutes()
	}
	if cfg.Templates == nil {
		tmpl, err := embeddedTemplates()
		if err != nil {
			return nil, err
		}
		cfg.Templates = tmpl
	}

	g, err := guard.New(cfg.Routes, guard.Options{
		Logger:  cfg.Logger,
		Metrics: guard.NewMetrics(cfg.Registry),
	})
	if err != nil {
		return nil, err
	}

	sessions := NewSessions(SessionsConfig{
		APIURL:     cfg.APIURL,
		HTTPClient: cfg.HTTPClient,
		Durable:    cfg.Durable,
		Cookies: tokenstore.CookieOptions{
			Secure:   cfg.SecureCookies,
			HttpOnly: true,
		},
		Size:    cfg.CacheSize,
		Idle:    cfg.SessionIdle,
		Metrics: client.NewMetrics(cfg.Registry),
		Logger:  cfg.Logger,
	})

	return &App{
		sessions:  sessions,
		guard:     g,
		templates: cfg.Templates,
		routes:    cfg.Routes,
		durable:   cfg.Durable,
		registry:  cfg.Registry,
		secure:    cfg.SecureCookies,
		log:       cfg.Logger.WithField("component", "app"),
	}, nil
}

func (a *App) Guard() *guard.Guard            { return a.guard }
func (a *App) Sessions() *Sessions            { return a.sessions }
func (a *App) Routes() guard.Routes           { return a.guard.Routes() }
func (a *App) Registry() *prometheus.Registry { return a.registry }

func (a *App) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(a.logRequests, a.browserSession, a.guard.Middleware)

	r.HandleFunc("/healthz", a.Health()).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	routes := a.routes
	r.HandleFunc("/", a.Home()).Methods(http.MethodGet)
	r.HandleFunc(routes.LoginPath, a.LoginPage()).Methods(http.MethodGet)
	r.HandleFunc(routes.LoginPath, a.Login()).Methods(http.MethodPost)
	r.HandleFunc("/register", a.RegisterPage()).Methods(http.MethodGet)
	r.HandleFunc("/register", a.Register()).Methods(http.MethodPost)
	r.HandleFunc("/logout", a.Logout()).Methods(http.MethodPost)
	r.HandleFunc(routes.DashboardPath, a.Dashboard()).Methods(http.MethodGet)

	r.NotFoundHandler = a.logRequests(http.HandlerFunc(a.notFound))
	return r
}

// Pinger is implemented by storage backends that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

func (a *App) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]any{
			"status":   "ok",
			"sessions": a.sessions.Len(),
		}
		if p, ok := a.durable.(Pinger); ok {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				a.log.WithError(err).Warn("storage health check failed")
				status["status"] = "degraded"
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				returnJson(status, w)
				return
			}
		}
		returnJson(status, w)
	}
}
