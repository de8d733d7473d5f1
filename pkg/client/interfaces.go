package client

import (
	"context"
	"net/http"
)

// Authenticator covers the session lifecycle calls.
type Authenticator interface {
	Register(ctx context.Context, req RegisterRequest, remember bool) (*User, error)
	Login(ctx context.Context, email, password string, remember bool) (*User, error)
	Logout(ctx context.Context) error
	Me(ctx context.Context) (*User, error)
}

// API exposes both the session lifecycle and authenticated calls.
// Consuming code should depend on this interface rather than *Client.
type API interface {
	Authenticator
	Projects(ctx context.Context) ([]Project, error)
	Do(ctx context.Context, method, path string, in, out any) error
}

// Compile-time checks.
var _ API = (*Client)(nil)
var _ http.RoundTripper = (*Transport)(nil)
