package client

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"git.sr.ht/~jakintosh/gatehouse/pkg/tokens"
	"git.sr.ht/~jakintosh/gatehouse/pkg/tokenstore"
)

type State int

const (
	Idle State = iota
	Refreshing
)

func (s State) String() string {
	if s == Refreshing {
		return "refreshing"
	}
	return "idle"
}

// ExchangeFunc trades a refresh token for a new pair. It must not go
// through the authenticating Transport.
type ExchangeFunc func(ctx context.Context, refreshToken string) (tokens.Pair, error)

type refreshResult struct {
	accessToken string
	err         error
}

// Coordinator serializes token refreshes for one token store. While a
// refresh is in flight every other caller is queued and released, in arrival
// order, with the outcome of that single refresh.
type Coordinator struct {
	store    *tokenstore.Store
	exchange ExchangeFunc
	metrics  *Metrics
	log      logrus.FieldLogger

	mu      sync.Mutex
	state   State
	waiters []chan refreshResult
}

func NewCoordinator(
	store *tokenstore.Store,
	exchange ExchangeFunc,
	metrics *Metrics,
	logger logrus.FieldLogger,
) *Coordinator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Coordinator{
		store:    store,
		exchange: exchange,
		metrics:  metrics,
		log:      logger.WithField("component", "refresh"),
	}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Waiting returns the number of callers queued behind the current refresh.
func (c *Coordinator) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// Refresh returns an access token to replace stale, the token a request was
// rejected with. If the store already holds a different access token, some
// other caller has refreshed in the meantime and that token is returned
// without a network call.
//
// On failure the store is cleared and the same error is returned to every
// queued caller. A queued caller stops waiting when its own ctx is done; the
// refresh itself is not cancelled by any single caller.
func (c *Coordinator) Refresh(ctx context.Context, stale string) (string, error) {
	c.mu.Lock()
	if c.state == Refreshing {
		waiter := make(chan refreshResult, 1)
		c.waiters = append(c.waiters, waiter)
		c.mu.Unlock()
		c.metrics.waiterQueued()

		select {
		case result := <-waiter:
			return result.accessToken, result.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if current, ok := c.store.Read(ctx, tokens.AccessTokenName); ok && current != stale {
		c.mu.Unlock()
		return current, nil
	}
	c.state = Refreshing
	c.mu.Unlock()

	accessToken, err := c.refresh(context.WithoutCancel(ctx))

	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.state = Idle
	c.mu.Unlock()

	for _, waiter := range waiters {
		waiter <- refreshResult{accessToken: accessToken, err: err}
	}
	return accessToken, err
}

func (c *Coordinator) refresh(ctx context.Context) (string, error) {
	refreshToken, scope, ok := c.store.Lookup(ctx, tokens.RefreshTokenName)
	if !ok {
		c.log.Debug("no refresh token, clearing session")
		c.store.Clear(ctx)
		c.metrics.refreshed(outcomeNoToken)
		return "", &Error{Kind: KindUnauthorized, Err: ErrNoRefreshToken}
	}

	pair, err := c.exchange(ctx, refreshToken)
	if err != nil {
		c.log.WithError(err).Info("refresh rejected, clearing session")
		c.store.Clear(ctx)
		c.metrics.refreshed(outcomeFailure)
		return "", err
	}

	c.store.Save(ctx, pair, scope)
	c.metrics.refreshed(outcomeSuccess)
	c.log.WithField("scope", scope).Debug("refreshed token pair")
	return pair.AccessToken, nil
}
