// Package testutil provides test environment setup and utilities for internal package tests.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"git.sr.ht/~jakintosh/gatehouse/internal/app"
	"git.sr.ht/~jakintosh/gatehouse/internal/database"
	"git.sr.ht/~jakintosh/gatehouse/pkg/authtest"
)

const (
	TestEmail    = "ada@example.com"
	TestPassword = "correct horse"
	TestName     = "Ada"
)

// TestEnv provides all dependencies needed for testing
type TestEnv struct {
	API      *authtest.Server
	APIURL   string
	Durable  *database.SQLiteStorage
	App      *app.App
	Router   http.Handler
	Registry *prometheus.Registry
}

// SetupTestEnv creates an isolated dashboard backed by a fake auth API
// and in-memory SQLite, with one registered user
func SetupTestEnv(
	t *testing.T,
) *TestEnv {
	t.Helper()

	api, err := authtest.New(authtest.Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("failed to create auth api: %v", err)
	}
	if _, err := api.AddUser(TestEmail, TestPassword, TestName); err != nil {
		t.Fatalf("failed to add test user: %v", err)
	}
	srv := api.Start(t)

	durable, err := database.NewSQLiteStorage(":memory:", 0)
	if err != nil {
		t.Fatalf("failed to open sqlite storage: %v", err)
	}
	t.Cleanup(func() {
		_ = durable.Close()
	})

	registry := prometheus.NewRegistry()
	a, err := app.New(app.Config{
		APIURL:     srv.URL,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
		Durable:    durable,
		Registry:   registry,
		Logger:     quietLogger(),
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}

	return &TestEnv{
		API:      api,
		APIURL:   srv.URL,
		Durable:  durable,
		App:      a,
		Router:   a.Router(),
		Registry: registry,
	}
}

// NewBrowser returns a fresh browser pointed at the env's dashboard
func (env *TestEnv) NewBrowser() *Browser {
	return NewBrowser(env.Router)
}

// StartServer serves the dashboard on a local listener for tests that
// need real concurrency
func (env *TestEnv) StartServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(env.Router)
	t.Cleanup(srv.Close)
	return srv
}

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
