package authtest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"git.sr.ht/~jakintosh/gatehouse/pkg/client"
	"git.sr.ht/~jakintosh/gatehouse/pkg/tokens"
)

type userIDKey struct{}

func (s *Server) Register() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := client.RegisterRequest{}
		if ok := s.decodeRequest(&req, w, r); !ok {
			return
		}

		user, err := s.AddUser(req.Email, req.Password, req.Name)
		switch {
		case errors.Is(err, ErrUserExists):
			s.returnError(w, r, http.StatusConflict, "user_exists", "an account with this email already exists")
			return
		case errors.Is(err, ErrInvalidInput):
			s.returnError(w, r, http.StatusUnprocessableEntity, "invalid_input", err.Error())
			return
		case err != nil:
			s.returnError(w, r, http.StatusInternalServerError, "internal", "failed to create account")
			return
		}

		pair, err := s.issuePair(user.ID)
		if err != nil {
			s.returnError(w, r, http.StatusInternalServerError, "internal", "failed to issue tokens")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		returnJson(client.AuthResponse{
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
			User:         user,
		}, w)
	}
}

func (s *Server) Login() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := client.LoginRequest{}
		if ok := s.decodeRequest(&req, w, r); !ok {
			return
		}

		s.mu.Lock()
		acct, ok := s.accounts[strings.ToLower(strings.TrimSpace(req.Email))]
		s.mu.Unlock()
		if !ok || bcrypt.CompareHashAndPassword(acct.hash, []byte(req.Password)) != nil {
			s.returnError(w, r, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
			return
		}

		pair, err := s.issuePair(acct.user.ID)
		if err != nil {
			s.returnError(w, r, http.StatusInternalServerError, "internal", "failed to issue tokens")
			return
		}

		returnJson(client.AuthResponse{
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
			User:         acct.user,
		}, w)
	}
}

func (s *Server) Logout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := client.LogoutRequest{}
		if ok := s.decodeRequest(&req, w, r); !ok {
			return
		}

		// logging out an unknown token is not an error
		s.consumeRefresh(req.RefreshToken)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) Refresh() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.refreshCalls.Add(1)
		s.waitForRelease(r.Context())

		req := client.RefreshRequest{}
		if ok := s.decodeRequest(&req, w, r); !ok {
			return
		}

		// consume the token before anything else; refresh tokens are single use
		userID, ok := s.consumeRefresh(req.RefreshToken)
		if !ok {
			s.returnError(w, r, http.StatusUnauthorized, "invalid_refresh_token", "refresh token is invalid or already used")
			return
		}
		if _, err := s.issuer.Verify(req.RefreshToken, tokens.UseRefresh); err != nil {
			s.returnError(w, r, http.StatusUnauthorized, "invalid_refresh_token", err.Error())
			return
		}

		pair, err := s.issuePair(userID)
		if err != nil {
			s.returnError(w, r, http.StatusInternalServerError, "internal", "failed to issue tokens")
			return
		}
		returnJson(pair, w)
	}
}

func (s *Server) Me() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Context().Value(userIDKey{}).(string)
		user, ok := s.userByID(userID)
		if !ok {
			s.returnError(w, r, http.StatusUnauthorized, "unknown_user", "account no longer exists")
			return
		}
		returnJson(user, w)
	}
}

func (s *Server) Projects() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Context().Value(userIDKey{}).(string)
		s.mu.Lock()
		projects := append([]client.Project{}, s.projects[userID]...)
		s.mu.Unlock()
		returnJson(projects, w)
	}
}

func (s *Server) requireAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			s.returnError(w, r, http.StatusUnauthorized, "missing_token", "authorization required")
			return
		}
		userID, ok := s.authenticate(token)
		if !ok {
			s.returnError(w, r, http.StatusUnauthorized, "invalid_token", "access token is invalid or expired")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) decodeRequest(req any, w http.ResponseWriter, r *http.Request) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		s.returnError(w, r, http.StatusBadRequest, "bad_request", "bad json request")
		return false
	}
	return true
}

func returnJson(data any, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
}

type errorDetail struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (s *Server) returnError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	s.log.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
	}).Debug(msg)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]errorDetail{
		"error": {Message: msg, Code: code},
	})
}
