package client_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.sr.ht/~jakintosh/gatehouse/pkg/client"
	"git.sr.ht/~jakintosh/gatehouse/pkg/tokens"
	"git.sr.ht/~jakintosh/gatehouse/pkg/tokenstore"
)

// countingExchange hands out a fixed pair and records the refresh tokens it saw.
type countingExchange struct {
	calls atomic.Int32
	seen  atomic.Value
	pair  tokens.Pair
}

func (c *countingExchange) exchange(_ context.Context, refreshToken string) (tokens.Pair, error) {
	c.calls.Add(1)
	c.seen.Store(refreshToken)
	return c.pair, nil
}

type transportEnv struct {
	store    *tokenstore.Store
	exchange *countingExchange
	client   *http.Client
	hits     atomic.Int32
	server   *httptest.Server
}

// setupTransport serves handler behind a Transport whose store starts with
// the pair {stale, r1} in durable storage.
func setupTransport(t *testing.T, handler func(env *transportEnv, w http.ResponseWriter, r *http.Request)) *transportEnv {
	t.Helper()
	env := &transportEnv{
		store:    memoryStore(),
		exchange: &countingExchange{pair: tokens.Pair{AccessToken: "fresh", RefreshToken: "r2"}},
	}
	env.store.Save(context.Background(), tokens.Pair{AccessToken: "stale", RefreshToken: "r1"}, tokenstore.Durable)

	env.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.hits.Add(1)
		handler(env, w, r)
	}))
	t.Cleanup(env.server.Close)

	coordinator := client.NewCoordinator(env.store, env.exchange.exchange, nil, nil)
	env.client = &http.Client{
		Transport: client.NewTransport(nil, env.store, coordinator, nil, nil, nil),
	}
	return env
}

func requireFresh(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("Authorization") != "Bearer fresh" {
		w.WriteHeader(http.StatusUnauthorized)
		return false
	}
	return true
}

func TestTransport_AttachesBearer(t *testing.T) {
	t.Parallel()
	var got atomic.Value
	env := setupTransport(t, func(_ *transportEnv, w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("Authorization"))
	})

	resp, err := env.client.Get(env.server.URL + "/projects")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "Bearer stale", got.Load())
}

func TestTransport_NoTokenSendsUnauthenticated(t *testing.T) {
	t.Parallel()
	var headers atomic.Int32
	env := setupTransport(t, func(_ *transportEnv, w http.ResponseWriter, r *http.Request) {
		headers.Store(int32(len(r.Header.Values("Authorization"))))
	})
	env.store.Clear(context.Background())

	resp, err := env.client.Get(env.server.URL + "/public")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, int32(0), headers.Load())
	assert.Equal(t, int32(1), env.hits.Load())
}

func TestTransport_RefreshesAndReplaysBody(t *testing.T) {
	t.Parallel()
	env := setupTransport(t, func(_ *transportEnv, w http.ResponseWriter, r *http.Request) {
		if !requireFresh(w, r) {
			return
		}
		io.Copy(w, r.Body)
	})

	// a body without GetBody still survives the replay
	body := io.NopCloser(strings.NewReader("hello"))
	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/echo", body)
	require.NoError(t, err)
	require.Nil(t, req.GetBody)

	resp, err := env.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	echoed, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", string(echoed))
	assert.Equal(t, int32(2), env.hits.Load())
	assert.Equal(t, int32(1), env.exchange.calls.Load())
	assert.Equal(t, "r1", env.exchange.seen.Load())

	// remembered session stays remembered
	access, scope, ok := env.store.Lookup(context.Background(), tokens.AccessTokenName)
	require.True(t, ok)
	assert.Equal(t, "fresh", access)
	assert.Equal(t, tokenstore.Durable, scope)
}

func TestTransport_RetriesOnlyOnce(t *testing.T) {
	t.Parallel()
	env := setupTransport(t, func(_ *transportEnv, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	resp, err := env.client.Get(env.server.URL + "/projects")
	require.NoError(t, err)
	resp.Body.Close()

	// original + one replay, one refresh, then the session is dropped
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(2), env.hits.Load())
	assert.Equal(t, int32(1), env.exchange.calls.Load())
	_, ok := env.store.Read(context.Background(), tokens.AccessTokenName)
	assert.False(t, ok)
}

func TestTransport_LifecycleEndpointsAreNotRefreshed(t *testing.T) {
	t.Parallel()
	env := setupTransport(t, func(_ *transportEnv, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":"invalid email or password"}`)
	})

	for _, path := range client.DefaultLifecyclePaths {
		resp, err := env.client.Post(env.server.URL+path, "application/json", strings.NewReader(`{}`))
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		// the 401 comes back untouched
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
		assert.Equal(t, `{"error":"invalid email or password"}`, string(body), path)
	}
	assert.Equal(t, int32(0), env.exchange.calls.Load())

	// tokens survive a rejected login attempt
	_, ok := env.store.Read(context.Background(), tokens.AccessTokenName)
	assert.True(t, ok)
}

func TestTransport_OtherFailuresPassThrough(t *testing.T) {
	t.Parallel()
	env := setupTransport(t, func(_ *transportEnv, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	for _, path := range []string{"/projects", "/webhooks"} {
		resp, err := env.client.Get(env.server.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	}
	assert.Equal(t, int32(2), env.hits.Load())
	assert.Equal(t, int32(0), env.exchange.calls.Load())
}
