package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"git.sr.ht/~jakintosh/gatehouse/internal/app"
	"git.sr.ht/~jakintosh/gatehouse/internal/config"
	"git.sr.ht/~jakintosh/gatehouse/internal/database"
	"git.sr.ht/~jakintosh/gatehouse/internal/resources"
	"git.sr.ht/~jakintosh/gatehouse/pkg/guard"
	"git.sr.ht/~jakintosh/gatehouse/pkg/tokenstore"
)

func main() {
	log := logrus.StandardLogger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	cfg.ConfigureLogger(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatalf("server error: %v", err)
	}
	log.Info("shut down cleanly")
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	durable, prune, closer, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	routes := guard.DefaultRoutes()
	if cfg.RoutesPath != "" {
		if routes, err = guard.LoadRoutes(cfg.RoutesPath); err != nil {
			return err
		}
	}

	var templates *resources.Templates
	if cfg.TemplatesDir != "" {
		if templates, err = resources.NewDynamicTemplates(cfg.TemplatesDir, log); err != nil {
			return err
		}
		defer templates.Close()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a, err := app.New(app.Config{
		APIURL:        cfg.APIURL,
		HTTPClient:    &http.Client{Timeout: cfg.RequestTimeout},
		Durable:       durable,
		SecureCookies: cfg.Sessions.SecureCookies,
		CacheSize:     cfg.Sessions.CacheSize,
		SessionIdle:   cfg.Sessions.Idle,
		Routes:        routes,
		Templates:     templates,
		Registry:      registry,
		Logger:        log,
	})
	if err != nil {
		return err
	}

	if cfg.RoutesPath != "" {
		stopWatch, err := a.Guard().Watch(cfg.RoutesPath)
		if err != nil {
			return err
		}
		defer stopWatch()
	}

	if prune != nil {
		scheduler := cron.New()
		if _, err := scheduler.AddFunc(cfg.Storage.PruneSchedule, func() {
			removed, err := prune(context.Background())
			if err != nil {
				log.WithError(err).Error("failed to prune expired tokens")
				return
			}
			log.WithField("removed", removed).Debug("pruned expired tokens")
		}); err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(logrus.Fields{
			"addr":    cfg.ListenAddr,
			"api":     cfg.APIURL,
			"storage": cfg.Storage.Type,
		}).Info("dashboard listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type pruneFunc func(ctx context.Context) (int64, error)

func openStorage(cfg *config.Config) (tokenstore.Storage, pruneFunc, io.Closer, error) {
	switch cfg.Storage.Type {
	case "sqlite":
		store, err := database.NewSQLiteStorage(cfg.Storage.SQLitePath, database.DefaultTTL)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, store.PruneExpired, store, nil
	case "redis":
		store, err := database.OpenRedisStorage(cfg.Storage.RedisURL, database.DefaultTTL)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, nil, store, nil
	default:
		return tokenstore.NewMemoryStorage(0, tokenstore.DurableCookieMaxAge), nil, io.NopCloser(nil), nil
	}
}
