// Command gatehouse-cli is a terminal client for the authentication API.
// Tokens are kept in a local SQLite file, so a login survives between
// invocations and expired access tokens are refreshed transparently.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"git.sr.ht/~jakintosh/gatehouse/internal/database"
	"git.sr.ht/~jakintosh/gatehouse/pkg/client"
	"git.sr.ht/~jakintosh/gatehouse/pkg/tokenstore"
)

const usage = `usage: gatehouse-cli [flags] <command>

commands:
  login     sign in with -email and -password (or GATEHOUSE_PASSWORD)
  register  create an account with -email, -password and -name
  me        print the signed-in user
  projects  list the signed-in user's projects
  logout    sign out and forget stored tokens

flags:
`

type options struct {
	apiURL   string
	dbPath   string
	email    string
	password string
	name     string
	timeout  time.Duration
	verbose  bool
}

func main() {
	opts := parseFlags()

	log := logrus.New()
	log.SetOutput(io.Discard)
	if opts.verbose {
		log.SetOutput(os.Stderr)
		log.SetLevel(logrus.DebugLevel)
	}

	if err := run(context.Background(), opts, flag.Args(), log, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "gatehouse-cli: %v\n", err)
		if client.IsUnauthorized(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.apiURL, "api", os.Getenv("GATEHOUSE_API_URL"), "Authentication API base URL")
	flag.StringVar(&opts.dbPath, "db", defaultDBPath(), "Token database path")
	flag.StringVar(&opts.email, "email", "", "Account email")
	flag.StringVar(&opts.password, "password", os.Getenv("GATEHOUSE_PASSWORD"), "Account password")
	flag.StringVar(&opts.name, "name", "", "Display name (register)")
	flag.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout")
	flag.BoolVar(&opts.verbose, "v", false, "Log to stderr")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	return opts
}

func defaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "gatehouse-tokens.sqlite"
	}
	return filepath.Join(dir, "gatehouse", "tokens.sqlite")
}

func run(
	ctx context.Context,
	opts options,
	args []string,
	log logrus.FieldLogger,
	out io.Writer,
) error {
	if len(args) != 1 {
		return errors.New("expected exactly one command (see -h)")
	}
	if opts.apiURL == "" {
		return errors.New("missing API URL: set -api or GATEHOUSE_API_URL")
	}

	if err := os.MkdirAll(filepath.Dir(opts.dbPath), 0700); err != nil {
		return err
	}
	durable, err := database.NewSQLiteStorage(opts.dbPath, database.DefaultTTL)
	if err != nil {
		return err
	}
	defer durable.Close()

	// a CLI process has no browser session to scope to, so every login
	// is remembered
	store := tokenstore.New(tokenstore.Config{
		Durable: durable,
		Session: tokenstore.NewMemoryStorage(0, 0),
		Logger:  log,
	})
	c, err := client.New(client.Config{
		BaseURL:    opts.apiURL,
		Store:      store,
		HTTPClient: &http.Client{Timeout: opts.timeout},
		Logger:     log,
	})
	if err != nil {
		return err
	}

	switch args[0] {
	case "login":
		user, err := c.Login(ctx, opts.email, opts.password, true)
		if err != nil {
			return err
		}
		return printJSON(out, user)

	case "register":
		user, err := c.Register(ctx, client.RegisterRequest{
			Email:    opts.email,
			Password: opts.password,
			Name:     opts.name,
		}, true)
		if err != nil {
			return err
		}
		return printJSON(out, user)

	case "me":
		user, err := c.Me(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, user)

	case "projects":
		projects, err := c.Projects(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, projects)

	case "logout":
		return c.Logout(ctx)

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
