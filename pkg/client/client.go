package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"git.sr.ht/~jakintosh/gatehouse/pkg/tokens"
	"git.sr.ht/~jakintosh/gatehouse/pkg/tokenstore"
)

type Config struct {
	// BaseURL of the remote API, e.g. "https://api.example.com/v1".
	BaseURL string
	Store   *tokenstore.Store

	// HTTPClient supplies the underlying transport and timeout. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// LifecyclePaths overrides DefaultLifecyclePaths.
	LifecyclePaths []string

	Logger  logrus.FieldLogger
	Metrics *Metrics
}

// Client talks to the remote API on behalf of one token store.
type Client struct {
	baseURL     *url.URL
	store       *tokenstore.Store
	http        *http.Client
	raw         *http.Client
	coordinator *Coordinator
	log         logrus.FieldLogger
}

func New(cfg Config) (*Client, error) {
	if cfg.Store == nil {
		return nil, errors.New("client: token store is required")
	}
	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil || baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("client: invalid base url %q", cfg.BaseURL)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	c := &Client{
		baseURL: baseURL,
		store:   cfg.Store,
		raw:     cfg.HTTPClient,
		log:     cfg.Logger.WithField("component", "client"),
	}
	c.coordinator = NewCoordinator(cfg.Store, c.exchange, cfg.Metrics, cfg.Logger)

	authenticated := *cfg.HTTPClient
	authenticated.Transport = NewTransport(
		cfg.HTTPClient.Transport,
		cfg.Store,
		c.coordinator,
		cfg.LifecyclePaths,
		cfg.Metrics,
		cfg.Logger,
	)
	c.http = &authenticated

	return c, nil
}

func (c *Client) Store() *tokenstore.Store  { return c.store }
func (c *Client) Coordinator() *Coordinator { return c.coordinator }
func (c *Client) HTTPClient() *http.Client  { return c.http }

func scopeFor(remember bool) tokenstore.Scope {
	if remember {
		return tokenstore.Durable
	}
	return tokenstore.Session
}

// Register creates an account and stores the returned token pair in the
// durable scope when remember is set, otherwise in the session scope.
func (c *Client) Register(ctx context.Context, req RegisterRequest, remember bool) (*User, error) {
	var resp AuthResponse
	if err := c.Do(ctx, http.MethodPost, "/auth/register", req, &resp); err != nil {
		return nil, err
	}
	return c.authenticated(ctx, resp, remember)
}

// Login exchanges credentials for a token pair, stored like Register.
func (c *Client) Login(ctx context.Context, email, password string, remember bool) (*User, error) {
	var resp AuthResponse
	req := LoginRequest{Email: email, Password: password}
	if err := c.Do(ctx, http.MethodPost, "/auth/login", req, &resp); err != nil {
		return nil, err
	}
	return c.authenticated(ctx, resp, remember)
}

func (c *Client) authenticated(ctx context.Context, resp AuthResponse, remember bool) (*User, error) {
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		return nil, &Error{Kind: KindServer, Err: ErrTokenResponse}
	}
	c.store.Save(ctx, resp.Pair(), scopeFor(remember))
	return &resp.User, nil
}

// Logout revokes the refresh token remotely and clears the store. The store
// is cleared even when the remote call fails; that failure is returned.
func (c *Client) Logout(ctx context.Context) error {
	defer c.store.Clear(ctx)

	refreshToken, ok := c.store.Read(ctx, tokens.RefreshTokenName)
	if !ok {
		return nil
	}
	err := c.Do(ctx, http.MethodPost, "/auth/logout", LogoutRequest{RefreshToken: refreshToken}, nil)
	if err != nil {
		c.log.WithError(err).Info("remote logout failed")
	}
	return err
}

func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.Do(ctx, http.MethodGet, "/auth/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := c.Do(ctx, http.MethodGet, "/projects", nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// Do sends an authenticated JSON request to path, relative to the base URL.
// A nil in sends no body; a nil out discards the response body.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	req, err := c.newRequest(ctx, method, path, in)
	if err != nil {
		return err
	}
	return c.send(c.http, req, out)
}

// exchange is the Coordinator's ExchangeFunc. It bypasses the authenticating
// transport.
func (c *Client) exchange(ctx context.Context, refreshToken string) (tokens.Pair, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/auth/refresh", RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return tokens.Pair{}, err
	}

	var pair tokens.Pair
	if err := c.send(c.raw, req, &pair); err != nil {
		return tokens.Pair{}, err
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		return tokens.Pair{}, &Error{Kind: KindServer, Err: ErrTokenResponse}
	}
	return pair, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, &Error{Kind: KindRequest, Err: fmt.Errorf("bad path %q: %w", path, err)}
	}
	target := c.baseURL.JoinPath(ref.Path)
	target.RawQuery = ref.RawQuery

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, &Error{Kind: KindRequest, Err: fmt.Errorf("failed to encode request: %w", err)}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, &Error{Kind: KindRequest, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) send(httpClient *http.Client, req *http.Request, out any) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		apiErr := transportError(err)
		c.log.WithError(apiErr).WithField("path", req.URL.Path).Debug("request failed")
		return apiErr
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeError(resp)
		c.log.WithError(apiErr).WithField("path", req.URL.Path).Debug("request rejected")
		return apiErr
	}
	defer resp.Body.Close()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: KindServer, Status: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}
