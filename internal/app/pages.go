package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"git.sr.ht/~jakintosh/gatehouse/pkg/client"
)

type authPage struct {
	Next     string
	Email    string
	Name     string
	Remember bool
	Error    string
}

type dashboardPage struct {
	User     *client.User
	Projects []client.Project
}

type errorPage struct {
	Status  int
	Message string
}

func (a *App) Home() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, a.routes.DashboardPath, http.StatusFound)
	}
}

func (a *App) LoginPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		next := r.URL.Query().Get(a.routes.NextParam)
		a.render(w, r, http.StatusOK, "login.html", authPage{Next: next})
	}
}

func (a *App) Login() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			a.renderError(w, r, http.StatusBadRequest, "malformed form")
			return
		}
		page := authPage{
			Next:     r.PostForm.Get(a.routes.NextParam),
			Email:    strings.TrimSpace(r.PostForm.Get("email")),
			Remember: r.PostForm.Get("remember") != "",
		}

		c, ctx, err := a.clientFor(w, r)
		if err != nil {
			a.renderError(w, r, http.StatusInternalServerError, "couldn't start a session")
			return
		}

		_, err = c.Login(ctx, page.Email, r.PostForm.Get("password"), page.Remember)
		if err != nil {
			page.Error = describeError(err)
			a.render(w, r, statusForError(err), "login.html", page)
			return
		}

		http.Redirect(w, r, a.localRedirect(page.Next), http.StatusSeeOther)
	}
}

func (a *App) RegisterPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		next := r.URL.Query().Get(a.routes.NextParam)
		a.render(w, r, http.StatusOK, "register.html", authPage{Next: next})
	}
}

func (a *App) Register() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			a.renderError(w, r, http.StatusBadRequest, "malformed form")
			return
		}
		page := authPage{
			Next:     r.PostForm.Get(a.routes.NextParam),
			Email:    strings.TrimSpace(r.PostForm.Get("email")),
			Name:     strings.TrimSpace(r.PostForm.Get("name")),
			Remember: r.PostForm.Get("remember") != "",
		}

		c, ctx, err := a.clientFor(w, r)
		if err != nil {
			a.renderError(w, r, http.StatusInternalServerError, "couldn't start a session")
			return
		}

		_, err = c.Register(ctx, client.RegisterRequest{
			Email:    page.Email,
			Password: r.PostForm.Get("password"),
			Name:     page.Name,
		}, page.Remember)
		if err != nil {
			page.Error = describeError(err)
			a.render(w, r, statusForError(err), "register.html", page)
			return
		}

		http.Redirect(w, r, a.localRedirect(page.Next), http.StatusSeeOther)
	}
}

func (a *App) Logout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ctx, err := a.clientFor(w, r)
		if err != nil {
			a.renderError(w, r, http.StatusInternalServerError, "couldn't load the session")
			return
		}

		// tokens are cleared locally even when the API call fails
		if err := c.Logout(ctx); err != nil {
			a.log.WithError(err).Warn("remote logout failed")
		}
		http.Redirect(w, r, a.routes.LoginPath, http.StatusSeeOther)
	}
}

func (a *App) Dashboard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ctx, err := a.clientFor(w, r)
		if err != nil {
			a.renderError(w, r, http.StatusInternalServerError, "couldn't load the session")
			return
		}

		user, err := c.Me(ctx)
		if err != nil {
			a.handleClientError(w, r, err)
			return
		}
		projects, err := c.Projects(ctx)
		if err != nil {
			a.handleClientError(w, r, err)
			return
		}

		a.render(w, r, http.StatusOK, "dashboard.html", dashboardPage{
			User:     user,
			Projects: projects,
		})
	}
}

func (a *App) notFound(w http.ResponseWriter, r *http.Request) {
	a.renderError(w, r, http.StatusNotFound, "page not found")
}

// handleClientError sends a lapsed session to the login page and renders
// anything else as an error page.
func (a *App) handleClientError(w http.ResponseWriter, r *http.Request, err error) {
	if client.IsUnauthorized(err) {
		a.redirectToLogin(w, r)
		return
	}
	a.log.WithError(err).WithField("path", r.URL.Path).Error("api call failed")
	a.renderError(w, r, http.StatusBadGateway, describeError(err))
}

func (a *App) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	q := url.Values{}
	q.Set(a.routes.NextParam, r.URL.Path)
	http.Redirect(w, r, a.routes.LoginPath+"?"+q.Encode(), http.StatusSeeOther)
}

// localRedirect returns next when it is a path on this site, and the
// dashboard otherwise.
func (a *App) localRedirect(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return a.routes.DashboardPath
	}
	u, err := url.Parse(next)
	if err != nil || u.Host != "" || u.Scheme != "" {
		return a.routes.DashboardPath
	}
	return next
}

func (a *App) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	body, err := a.templates.Render(name, data)
	if err != nil {
		a.log.WithError(err).WithField("template", name).Error("couldn't render template")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(serverErrorHTML))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(body)
}

func (a *App) renderError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	a.log.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
	}).Debug(msg)
	a.render(w, r, status, "error.html", errorPage{Status: status, Message: msg})
}

func describeError(err error) string {
	var apiErr *client.Error
	if !errors.As(err, &apiErr) {
		return "something went wrong"
	}
	switch apiErr.Kind {
	case client.KindNetwork:
		return "the service is unreachable, try again shortly"
	case client.KindServer:
		return "the service had a problem, try again shortly"
	}
	if apiErr.Message != "" {
		return apiErr.Message
	}
	return "something went wrong"
}

func statusForError(err error) int {
	switch client.KindOf(err) {
	case client.KindUnauthorized:
		return http.StatusUnauthorized
	case client.KindValidation, client.KindRequest:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func returnJson(data any, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
}

const serverErrorHTML = `<!doctype html><title>Server error</title><p>Something went wrong.</p>`
