package testutil

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
)

// Browser drives a router like a browser would: cookies set by one
// response are sent with every following request, and expired cookies
// are forgotten. Redirects are not followed.
type Browser struct {
	Router http.Handler

	mu      sync.Mutex
	cookies map[string]*http.Cookie
}

func NewBrowser(router http.Handler) *Browser {
	return &Browser{Router: router, cookies: make(map[string]*http.Cookie)}
}

func (b *Browser) Get(path string) HTTPResult {
	return b.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (b *Browser) PostForm(path string, values url.Values) HTTPResult {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", ContentTypeForm().Value)
	return b.do(req)
}

// Cookie returns the cookie the browser currently holds under name
func (b *Browser) Cookie(name string) (*http.Cookie, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.cookies[name]
	return c, ok
}

// SetCookie plants a cookie as if a previous response had set it
func (b *Browser) SetCookie(name, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cookies[name] = &http.Cookie{Name: name, Value: value}
}

// ClearSessionCookies drops cookies without Max-Age, as closing the
// browser would
func (b *Browser) ClearSessionCookies() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, c := range b.cookies {
		if c.MaxAge == 0 {
			delete(b.cookies, name)
		}
	}
}

func (b *Browser) do(req *http.Request) HTTPResult {
	b.mu.Lock()
	for _, c := range b.cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	b.mu.Unlock()

	result := Do(b.Router, req, nil)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range result.Cookies {
		if c.MaxAge < 0 {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c
	}
	return result
}
