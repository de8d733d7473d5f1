package app_test

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"git.sr.ht/~jakintosh/gatehouse/internal/app"
	"git.sr.ht/~jakintosh/gatehouse/internal/testutil"
)

func login(t *testing.T, b *testutil.Browser, remember bool, next string) testutil.HTTPResult {
	t.Helper()
	form := url.Values{
		"email":    {testutil.TestEmail},
		"password": {testutil.TestPassword},
		"next":     {next},
	}
	if remember {
		form.Set("remember", "on")
	}
	return b.PostForm("/login", form)
}

func TestDashboard_RequiresLogin(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	b := env.NewBrowser()

	result := b.Get("/dashboard")
	location := testutil.ExpectRedirect(t, http.StatusTemporaryRedirect, result)
	assert.Equal(t, "/login?next=%2Fdashboard", location)

	// every visitor gets a browser session id
	_, ok := result.Cookie(app.SessionCookieName)
	assert.True(t, ok)
}

func TestLogin_Remembered(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	b := env.NewBrowser()

	testutil.ExpectStatus(t, http.StatusOK, b.Get("/login?next=/dashboard"))

	result := login(t, b, true, "/dashboard")
	location := testutil.ExpectRedirect(t, http.StatusSeeOther, result)
	assert.Equal(t, "/dashboard", location)

	for _, name := range []string{"accessToken", "refreshToken"} {
		cookie, ok := result.Cookie(name)
		require.True(t, ok, name)
		assert.Equal(t, 2592000, cookie.MaxAge, name)
		assert.Equal(t, "/", cookie.Path, name)
		assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite, name)
		assert.True(t, cookie.HttpOnly, name)
	}

	result = b.Get("/dashboard")
	testutil.ExpectStatus(t, http.StatusOK, result)
	assert.Contains(t, string(result.Body), "Welcome, Ada")
	assert.Contains(t, string(result.Body), "Default project")
}

func TestLogin_SessionOnly(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	b := env.NewBrowser()

	result := login(t, b, false, "")
	testutil.ExpectRedirect(t, http.StatusSeeOther, result)
	cookie, ok := result.Cookie("accessToken")
	require.True(t, ok)
	assert.Equal(t, 0, cookie.MaxAge)

	// closing the browser ends the session for the guard
	b.ClearSessionCookies()
	testutil.ExpectRedirect(t, http.StatusTemporaryRedirect, b.Get("/dashboard"))
}

func TestLogin_BadPassword(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	b := env.NewBrowser()

	result := b.PostForm("/login", url.Values{
		"email":    {testutil.TestEmail},
		"password": {"not the password"},
	})
	testutil.ExpectStatus(t, http.StatusUnauthorized, result)
	assert.Contains(t, string(result.Body), "invalid email or password")
	assert.Contains(t, string(result.Body), testutil.TestEmail)

	_, ok := result.Cookie("accessToken")
	assert.False(t, ok)
	assert.Equal(t, 0, env.API.RefreshCalls())
}

func TestLogin_AlreadySignedIn(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	b := env.NewBrowser()
	login(t, b, false, "")

	location := testutil.ExpectRedirect(t, http.StatusTemporaryRedirect, b.Get("/login"))
	assert.Equal(t, "/dashboard", location)
}

func TestLogin_NextMustBeLocal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		next     string
		location string
	}{
		{"/dashboard/keys", "/dashboard/keys"},
		{"/dashboard?tab=projects", "/dashboard?tab=projects"},
		{"", "/dashboard"},
		{"//evil.example.com", "/dashboard"},
		{"/\\evil.example.com", "/dashboard"},
		{"https://evil.example.com/", "/dashboard"},
		{"dashboard", "/dashboard"},
	}

	env := testutil.SetupTestEnv(t)
	for _, tt := range tests {
		t.Run(tt.next, func(t *testing.T) {
			b := env.NewBrowser()
			location := testutil.ExpectRedirect(t, http.StatusSeeOther, login(t, b, false, tt.next))
			assert.Equal(t, tt.location, location)
		})
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	b := env.NewBrowser()

	testutil.ExpectStatus(t, http.StatusOK, b.Get("/register"))

	result := b.PostForm("/register", url.Values{
		"name":     {"Grace"},
		"email":    {"grace@example.com"},
		"password": {"hopper1906"},
		"remember": {"on"},
	})
	testutil.ExpectRedirect(t, http.StatusSeeOther, result)

	result = b.Get("/dashboard")
	testutil.ExpectStatus(t, http.StatusOK, result)
	assert.Contains(t, string(result.Body), "Welcome, Grace")

	// existing accounts are reported back on the form
	other := env.NewBrowser()
	result = other.PostForm("/register", url.Values{
		"email":    {testutil.TestEmail},
		"password": {"whatever123"},
	})
	testutil.ExpectStatus(t, http.StatusUnprocessableEntity, result)
	assert.Contains(t, string(result.Body), "already exists")
}

func TestDashboard_TransparentRefresh(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	b := env.NewBrowser()
	login(t, b, true, "")
	before, _ := b.Cookie("accessToken")

	env.API.RevokeAccessTokens()

	result := b.Get("/dashboard")
	testutil.ExpectStatus(t, http.StatusOK, result)
	assert.Equal(t, 1, env.API.RefreshCalls())

	// the browser receives the rotated pair, still remembered
	after, ok := result.Cookie("accessToken")
	require.True(t, ok)
	assert.NotEqual(t, before.Value, after.Value)
	assert.Equal(t, 2592000, after.MaxAge)
}

func TestSessionCookie_RenewedWithRememberedTokens(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	b := env.NewBrowser()
	testutil.ExpectStatus(t, http.StatusOK, b.Get("/login"))
	first, ok := b.Cookie(app.SessionCookieName)
	require.True(t, ok)

	expectRenewed := func(result testutil.HTTPResult) {
		t.Helper()
		sid, ok := result.Cookie(app.SessionCookieName)
		require.True(t, ok)
		assert.Equal(t, first.Value, sid.Value)
		assert.Equal(t, 2592000, sid.MaxAge)
	}

	result := login(t, b, true, "")
	testutil.ExpectRedirect(t, http.StatusSeeOther, result)
	expectRenewed(result)

	env.API.RevokeAccessTokens()
	result = b.Get("/dashboard")
	testutil.ExpectStatus(t, http.StatusOK, result)
	assert.Equal(t, 1, env.API.RefreshCalls())
	expectRenewed(result)

	// the remembered tokens stay reachable through the same session id
	env.API.RevokeAccessTokens()
	result = b.Get("/dashboard")
	testutil.ExpectStatus(t, http.StatusOK, result)
	assert.Equal(t, 2, env.API.RefreshCalls())
}

func TestDashboard_SessionExpired(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	b := env.NewBrowser()
	login(t, b, true, "")

	env.API.RevokeAccessTokens()
	env.API.RevokeRefreshTokens()

	result := b.Get("/dashboard")
	location := testutil.ExpectRedirect(t, http.StatusSeeOther, result)
	assert.Equal(t, "/login?next=%2Fdashboard", location)

	// cleared tokens expire the browser's cookies too
	_, ok := b.Cookie("accessToken")
	assert.False(t, ok)
	_, ok = b.Cookie("refreshToken")
	assert.False(t, ok)
	testutil.ExpectStatus(t, http.StatusOK, b.Get("/login"))
}

func TestDashboard_ConcurrentLoadsShareOneRefresh(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	b := env.NewBrowser()
	login(t, b, false, "")
	sid, ok := b.Cookie(app.SessionCookieName)
	require.True(t, ok)
	c, err := env.App.Sessions().Client(sid.Value)
	require.NoError(t, err)

	env.API.RevokeAccessTokens()
	release := env.API.HoldRefreshes()
	defer release()

	const loads = 4
	codes := make([]int, loads)
	var g errgroup.Group
	for i := range loads {
		g.Go(func() error {
			codes[i] = b.Get("/dashboard").Code
			return nil
		})
	}

	require.Eventually(t, func() bool {
		return c.Coordinator().Waiting() == loads-1
	}, 5*time.Second, 5*time.Millisecond)
	release()
	require.NoError(t, g.Wait())

	for _, code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}
	assert.Equal(t, 1, env.API.RefreshCalls())
}

func TestLogout(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	b := env.NewBrowser()
	login(t, b, true, "")

	location := testutil.ExpectRedirect(t, http.StatusSeeOther, b.PostForm("/logout", nil))
	assert.Equal(t, "/login", location)

	_, ok := b.Cookie("accessToken")
	assert.False(t, ok)
	testutil.ExpectRedirect(t, http.StatusTemporaryRedirect, b.Get("/dashboard"))
}

func TestRestart_KeepsRememberedSessions(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	remembered := env.NewBrowser()
	login(t, remembered, true, "")
	sessionOnly := env.NewBrowser()
	login(t, sessionOnly, false, "")

	// a second instance over the same durable storage
	restarted, err := app.New(app.Config{
		APIURL:  env.APIURL,
		Durable: env.Durable,
	})
	require.NoError(t, err)
	router := restarted.Router()
	remembered.Router = router
	sessionOnly.Router = router

	testutil.ExpectStatus(t, http.StatusOK, remembered.Get("/dashboard"))

	location := testutil.ExpectRedirect(t, http.StatusSeeOther, sessionOnly.Get("/dashboard"))
	assert.Equal(t, "/login?next=%2Fdashboard", location)
}

func TestHome(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)

	location := testutil.ExpectRedirect(t, http.StatusFound, testutil.Get(env.Router, "/", nil))
	assert.Equal(t, "/dashboard", location)

	result := testutil.Get(env.Router, "/nowhere", nil)
	testutil.ExpectStatus(t, http.StatusNotFound, result)
	assert.NotEmpty(t, result.Headers.Get(app.RequestIDHeader))
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	testutil.Get(env.Router, "/dashboard", nil)

	var health map[string]any
	result := testutil.Get(env.Router, "/healthz", &health)
	testutil.ExpectStatus(t, http.StatusOK, result)
	assert.Equal(t, "ok", health["status"])

	result = testutil.Get(env.Router, "/metrics", nil)
	testutil.ExpectStatus(t, http.StatusOK, result)
	assert.Contains(t, string(result.Body), `gatehouse_guard_decisions_total{action="login",class="protected"} 1`)
	assert.True(t, strings.HasPrefix(result.Headers.Get("Content-Type"), "text/plain"))

	// request ids are passed through when supplied
	result = testutil.Get(env.Router, "/healthz", nil, testutil.Header{Key: app.RequestIDHeader, Value: "req-1"})
	assert.Equal(t, "req-1", result.Headers.Get(app.RequestIDHeader))
	assert.True(t, json.Valid(result.Body))
}

func TestSessions_LookupsKeepClientAlive(t *testing.T) {
	t.Parallel()
	sessions := app.NewSessions(app.SessionsConfig{
		APIURL: "http://api.test",
		Idle:   500 * time.Millisecond,
	})
	first, err := sessions.Client("sid")
	require.NoError(t, err)

	for range 4 {
		time.Sleep(200 * time.Millisecond)
		c, err := sessions.Client("sid")
		require.NoError(t, err)
		require.Same(t, first, c)
	}

	time.Sleep(time.Second)
	c, err := sessions.Client("sid")
	require.NoError(t, err)
	assert.NotSame(t, first, c)
}
