package tokenstore

import (
	"context"
	"net/http"
	"net/url"
)

// CookieMirror receives the cookies a Store writes alongside its storage
// scopes. Implementations must not fail; an environment without cookies
// simply drops them.
type CookieMirror interface {
	MirrorCookie(ctx context.Context, cookie *http.Cookie)
}

type responseWriterKey struct{}

// WithResponseWriter attaches the response of the request being served so
// that a ResponseMirror can set cookies on it.
func WithResponseWriter(ctx context.Context, w http.ResponseWriter) context.Context {
	return context.WithValue(ctx, responseWriterKey{}, w)
}

func responseWriterFrom(ctx context.Context) (http.ResponseWriter, bool) {
	w, ok := ctx.Value(responseWriterKey{}).(http.ResponseWriter)
	return w, ok && w != nil
}

// ResponseMirror writes Set-Cookie headers on the response found in the
// context. Calls made outside of a request are skipped.
type ResponseMirror struct{}

func (ResponseMirror) MirrorCookie(ctx context.Context, cookie *http.Cookie) {
	if w, ok := responseWriterFrom(ctx); ok {
		http.SetCookie(w, cookie)
	}
}

// JarMirror stores mirrored cookies in a cookie jar for a fixed URL, for
// programs that talk to the dashboard without a browser.
type JarMirror struct {
	Jar http.CookieJar
	URL *url.URL
}

func (m JarMirror) MirrorCookie(_ context.Context, cookie *http.Cookie) {
	if m.Jar == nil || m.URL == nil {
		return
	}
	m.Jar.SetCookies(m.URL, []*http.Cookie{cookie})
}
