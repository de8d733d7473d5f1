package client

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"git.sr.ht/~jakintosh/gatehouse/pkg/tokens"
	"git.sr.ht/~jakintosh/gatehouse/pkg/tokenstore"
)

// DefaultLifecyclePaths are the endpoints whose 401 responses are final.
var DefaultLifecyclePaths = []string{
	"/auth/login",
	"/auth/register",
	"/auth/logout",
	"/auth/refresh",
}

// Transport attaches the stored access token to every request. A 401 on
// anything but a lifecycle endpoint triggers one refresh through the
// Coordinator and one replay of the request.
type Transport struct {
	base        http.RoundTripper
	store       *tokenstore.Store
	coordinator *Coordinator
	lifecycle   []string
	metrics     *Metrics
	log         logrus.FieldLogger
}

func NewTransport(
	base http.RoundTripper,
	store *tokenstore.Store,
	coordinator *Coordinator,
	lifecyclePaths []string,
	metrics *Metrics,
	logger logrus.FieldLogger,
) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if lifecyclePaths == nil {
		lifecyclePaths = DefaultLifecyclePaths
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Transport{
		base:        base,
		store:       store,
		coordinator: coordinator,
		lifecycle:   lifecyclePaths,
		metrics:     metrics,
		log:         logger.WithField("component", "transport"),
	}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	req, err := rewindable(req)
	if err != nil {
		return nil, err
	}

	accessToken, _ := t.store.Read(ctx, tokens.AccessTokenName)
	resp, err := t.base.RoundTrip(authorize(req, accessToken))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	if t.isLifecycle(req.URL) {
		return resp, nil
	}

	drain(resp)
	newToken, err := t.coordinator.Refresh(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	retry, err := replay(req)
	if err != nil {
		return nil, err
	}
	resp, err = t.base.RoundTrip(authorize(retry, newToken))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		t.log.WithField("path", req.URL.Path).Debug("401 after replay, clearing session")
		t.store.Clear(ctx)
	}
	t.metrics.replayed(fmt.Sprintf("%dxx", resp.StatusCode/100))
	return resp, nil
}

func (t *Transport) isLifecycle(u *url.URL) bool {
	for _, path := range t.lifecycle {
		if strings.Contains(u.Path, path) {
			return true
		}
	}
	return false
}

func authorize(req *http.Request, accessToken string) *http.Request {
	out := req.Clone(req.Context())
	if accessToken != "" {
		out.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return out
}

// rewindable makes sure the request body can be sent a second time.
func rewindable(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return req, nil
	}

	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to buffer request body: %w", err)
	}

	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(data))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return out, nil
}

func replay(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		out.Body = body
	}
	return out, nil
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}
