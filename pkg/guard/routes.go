package guard

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"git.sr.ht/~jakintosh/gatehouse/pkg/tokens"
)

var ErrInvalidRoutes = errors.New("invalid routes")

// Classification is the access class of a request path.
type Classification int

const (
	Public Classification = iota
	Protected
	AuthOnly
)

func (c Classification) String() string {
	switch c {
	case Protected:
		return "protected"
	case AuthOnly:
		return "auth_only"
	default:
		return "public"
	}
}

// Routes is the route table the guard classifies paths against. It is
// plain configuration, normally loaded from YAML.
type Routes struct {
	LoginPath     string   `yaml:"login_path"`
	DashboardPath string   `yaml:"dashboard_path"`
	NextParam     string   `yaml:"next_param"`
	Cookie        string   `yaml:"cookie"`
	Protected     []string `yaml:"protected"`
	AuthOnly      []string `yaml:"auth_only"`
	Skip          []string `yaml:"skip"`
}

func DefaultRoutes() Routes {
	return Routes{
		LoginPath:     "/login",
		DashboardPath: "/dashboard",
		NextParam:     "next",
		Cookie:        tokens.AccessTokenName,
		Protected:     []string{"/dashboard"},
		AuthOnly:      []string{"/login", "/signup", "/register"},
		Skip:          []string{"/static/", "/api/", "/favicon.ico", "/metrics", "/healthz"},
	}
}

// LoadRoutes reads a YAML route table. Keys missing from the file keep
// their default values.
func LoadRoutes(path string) (Routes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Routes{}, err
	}
	return ParseRoutes(data)
}

func ParseRoutes(data []byte) (Routes, error) {
	routes := DefaultRoutes()
	if err := yaml.Unmarshal(data, &routes); err != nil {
		return Routes{}, fmt.Errorf("%w: %v", ErrInvalidRoutes, err)
	}
	if err := routes.Validate(); err != nil {
		return Routes{}, err
	}
	return routes, nil
}

func (r Routes) Validate() error {
	for name, path := range map[string]string{
		"login_path":     r.LoginPath,
		"dashboard_path": r.DashboardPath,
	} {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("%w: %s must be an absolute path, got %q", ErrInvalidRoutes, name, path)
		}
	}
	if r.NextParam == "" {
		return fmt.Errorf("%w: next_param is empty", ErrInvalidRoutes)
	}
	if r.Cookie == "" {
		return fmt.Errorf("%w: cookie is empty", ErrInvalidRoutes)
	}

	// a login page that demands a login can never be reached
	for _, prefix := range r.Protected {
		if matchPrefix(r.LoginPath, prefix) {
			return fmt.Errorf("%w: login_path %s is under protected prefix %s", ErrInvalidRoutes, r.LoginPath, prefix)
		}
	}
	return nil
}

// Classify places path into exactly one class. Skipped prefixes win over
// everything, then exact auth-only matches, then protected prefixes.
func (r Routes) Classify(path string) Classification {
	for _, prefix := range r.Skip {
		if strings.HasPrefix(path, prefix) {
			return Public
		}
	}
	for _, p := range r.AuthOnly {
		if path == p {
			return AuthOnly
		}
	}
	for _, prefix := range r.Protected {
		if matchPrefix(path, prefix) {
			return Protected
		}
	}
	return Public
}

// matchPrefix reports whether path is prefix or lies below it, so that
// /dashboard covers /dashboard/keys but not /dashboards.
func matchPrefix(path, prefix string) bool {
	if prefix == "" {
		return false
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) ||
		strings.HasSuffix(prefix, "/") ||
		path[len(prefix)] == '/'
}
