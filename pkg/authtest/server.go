package authtest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"git.sr.ht/~jakintosh/gatehouse/pkg/client"
	"git.sr.ht/~jakintosh/gatehouse/pkg/tokens"
)

const (
	DefaultIssuer          = "auth.test"
	DefaultAccessLifetime  = 15 * time.Minute
	DefaultRefreshLifetime = 72 * time.Hour
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrInvalidInput = errors.New("invalid input")
)

type Options struct {
	Issuer          string
	AccessLifetime  time.Duration
	RefreshLifetime time.Duration
	Logger          logrus.FieldLogger
}

type account struct {
	user client.User
	hash []byte
}

// Server is an in-memory implementation of the remote authentication API.
// Refresh tokens are single use, and access tokens stay valid until they
// expire or RevokeAccessTokens is called.
type Server struct {
	issuer *tokens.Issuer
	opts   Options
	log    logrus.FieldLogger

	mu       sync.Mutex
	accounts map[string]*account // by email
	access   map[string]string   // access token -> user id
	refresh  map[string]string   // refresh token -> user id
	projects map[string][]client.Project

	refreshCalls atomic.Int64
	hold         atomic.Pointer[chan struct{}]
}

func New(opts Options) (*Server, error) {
	key, err := tokens.GenerateKey()
	if err != nil {
		return nil, err
	}
	return NewWithIssuer(tokens.NewIssuer(key, issuerOrDefault(opts.Issuer)), opts), nil
}

func NewWithIssuer(issuer *tokens.Issuer, opts Options) *Server {
	if opts.AccessLifetime == 0 {
		opts.AccessLifetime = DefaultAccessLifetime
	}
	if opts.RefreshLifetime == 0 {
		opts.RefreshLifetime = DefaultRefreshLifetime
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Server{
		issuer:   issuer,
		opts:     opts,
		log:      opts.Logger.WithField("component", "authtest"),
		accounts: make(map[string]*account),
		access:   make(map[string]string),
		refresh:  make(map[string]string),
		projects: make(map[string][]client.Project),
	}
}

func issuerOrDefault(issuer string) string {
	if issuer == "" {
		return DefaultIssuer
	}
	return issuer
}

// Start serves the API on a local listener that closes with the test.
func (s *Server) Start(t testing.TB) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return srv
}

func (s *Server) Issuer() *tokens.Issuer { return s.issuer }

// RefreshCalls returns how many times the refresh endpoint has been hit.
func (s *Server) RefreshCalls() int {
	return int(s.refreshCalls.Load())
}

// HoldRefreshes makes the refresh endpoint block until release is called.
func (s *Server) HoldRefreshes() (release func()) {
	gate := make(chan struct{})
	s.hold.Store(&gate)
	var once sync.Once
	return func() {
		once.Do(func() {
			s.hold.Store(nil)
			close(gate)
		})
	}
}

// AddUser creates an account directly, bypassing the register endpoint.
func (s *Server) AddUser(email, password, name string) (client.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") || len(password) < 8 {
		return client.User{}, fmt.Errorf("%w: email must contain @ and password must be 8+ characters", ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return client.User{}, fmt.Errorf("failed to hash password: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[email]; exists {
		return client.User{}, ErrUserExists
	}

	user := client.User{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      name,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	s.accounts[email] = &account{user: user, hash: hash}
	s.projects[user.ID] = []client.Project{
		{ID: uuid.NewString(), Name: "Default project", CreatedAt: user.CreatedAt},
	}
	return user, nil
}

// IssueSession mints and records a token pair for an existing account.
func (s *Server) IssueSession(email string) (tokens.Pair, error) {
	s.mu.Lock()
	acct, ok := s.accounts[strings.ToLower(email)]
	s.mu.Unlock()
	if !ok {
		return tokens.Pair{}, fmt.Errorf("no account for %s", email)
	}
	return s.issuePair(acct.user.ID)
}

// RevokeAccessTokens rejects every access token issued so far, as if they
// had all expired.
func (s *Server) RevokeAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.access)
}

// RevokeRefreshTokens rejects every refresh token issued so far.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.refresh)
}

func (s *Server) issuePair(userID string) (tokens.Pair, error) {
	pair, err := s.issuer.IssuePair(userID, s.opts.AccessLifetime, s.opts.RefreshLifetime)
	if err != nil {
		return tokens.Pair{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.access[pair.AccessToken] = userID
	s.refresh[pair.RefreshToken] = userID
	return pair, nil
}

// consumeRefresh removes a refresh token, returning its owner.
func (s *Server) consumeRefresh(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.refresh[token]
	delete(s.refresh, token)
	return userID, ok
}

func (s *Server) authenticate(token string) (string, bool) {
	if _, err := s.issuer.Verify(token, tokens.UseAccess); err != nil {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.access[token]
	return userID, ok
}

func (s *Server) userByID(id string) (client.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acct := range s.accounts {
		if acct.user.ID == id {
			return acct.user, true
		}
	}
	return client.User{}, false
}

func (s *Server) waitForRelease(ctx context.Context) {
	gate := s.hold.Load()
	if gate == nil {
		return
	}
	select {
	case <-*gate:
	case <-ctx.Done():
	}
}

func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/auth/register", s.Register()).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", s.Login()).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", s.Logout()).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", s.Refresh()).Methods(http.MethodPost)
	r.Handle("/auth/me", s.requireAccess(s.Me())).Methods(http.MethodGet)
	r.Handle("/projects", s.requireAccess(s.Projects())).Methods(http.MethodGet)
	return r
}
