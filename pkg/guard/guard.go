package guard

import (
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"git.sr.ht/~jakintosh/gatehouse/internal/resources"
	"git.sr.ht/~jakintosh/gatehouse/pkg/tokens"
)

// Action is what the guard decided to do with a navigation.
type Action int

const (
	Allow Action = iota
	RedirectToLogin
	RedirectToDashboard
)

func (a Action) String() string {
	switch a {
	case RedirectToLogin:
		return "login"
	case RedirectToDashboard:
		return "dashboard"
	default:
		return "allow"
	}
}

// Decision is the outcome for one request. Location is empty for Allow.
type Decision struct {
	Class    Classification
	Action   Action
	Location string
}

type Options struct {
	Logger  logrus.FieldLogger
	Metrics *Metrics
	Now     func() time.Time
}

// Guard redirects navigations based on the access token cookie alone. It
// never sees token storage, and the remote API still has the final say on
// every request.
type Guard struct {
	routes  atomic.Pointer[Routes]
	log     logrus.FieldLogger
	metrics *Metrics
	now     func() time.Time
}

func New(routes Routes, opts Options) (*Guard, error) {
	if err := routes.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	g := &Guard{
		log:     opts.Logger.WithField("component", "guard"),
		metrics: opts.Metrics,
		now:     opts.Now,
	}
	g.routes.Store(&routes)
	return g, nil
}

func (g *Guard) Routes() Routes {
	return *g.routes.Load()
}

// SetRoutes swaps the route table for every request that starts afterwards.
func (g *Guard) SetRoutes(routes Routes) error {
	if err := routes.Validate(); err != nil {
		return err
	}
	g.routes.Store(&routes)
	return nil
}

// Watch reloads the route table from path whenever the file changes. A
// file that fails to load leaves the current table in place.
func (g *Guard) Watch(path string) (stop func() error, err error) {
	return resources.Watch(path, g.log, func() {
		routes, err := LoadRoutes(path)
		if err == nil {
			err = g.SetRoutes(routes)
		}
		if err != nil {
			g.log.WithError(err).WithField("path", path).Error("failed to reload routes")
			return
		}
		g.log.WithField("path", path).Info("reloaded routes")
	})
}

func (g *Guard) Decide(r *http.Request) Decision {
	routes := g.routes.Load()
	path := r.URL.Path
	class := routes.Classify(path)
	if class == Public {
		return Decision{Class: class}
	}

	var raw string
	if cookie, err := r.Cookie(routes.Cookie); err == nil {
		raw = cookie.Value
	}
	valid := tokens.Usable(raw, g.now())

	switch {
	case class == Protected && !valid:
		q := url.Values{}
		q.Set(routes.NextParam, path)
		return Decision{
			Class:    class,
			Action:   RedirectToLogin,
			Location: routes.LoginPath + "?" + q.Encode(),
		}
	case class == AuthOnly && valid:
		return Decision{
			Class:    class,
			Action:   RedirectToDashboard,
			Location: routes.DashboardPath,
		}
	}
	return Decision{Class: class}
}

func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := g.Decide(r)
		g.metrics.observe(d)
		if d.Action == Allow {
			next.ServeHTTP(w, r)
			return
		}

		g.log.WithFields(logrus.Fields{
			"path":     r.URL.Path,
			"class":    d.Class.String(),
			"location": d.Location,
		}).Debug("redirecting navigation")
		http.Redirect(w, r, d.Location, http.StatusTemporaryRedirect)
	})
}
