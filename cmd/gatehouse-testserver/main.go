package main

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"git.sr.ht/~jakintosh/gatehouse/pkg/authtest"
	"git.sr.ht/~jakintosh/gatehouse/pkg/tokens"
)

// Config holds all command-line configuration
type Config struct {
	ListenAddr      string
	Issuer          string
	AccessLifetime  time.Duration
	RefreshLifetime time.Duration
	Users           []UserCredentials
	Quiet           bool
}

// UserCredentials holds email and password
type UserCredentials struct {
	Email    string
	Password string
}

// OutputContract is the JSON structure emitted on stdout
type OutputContract struct {
	BaseURL   string       `json:"base_url"`
	Issuer    string       `json:"issuer"`
	Lifetimes OutputTTLs   `json:"lifetimes"`
	Users     []OutputUser `json:"users"`
	Keys      OutputKeys   `json:"keys"`
}

type OutputTTLs struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

type OutputUser struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type OutputKeys struct {
	VerificationKeyDERBase64 string `json:"verification_key_der_base64"`
}

// UserFlag is a custom flag type for repeatable --user flags
type UserFlag []UserCredentials

func (u *UserFlag) String() string {
	return fmt.Sprintf("%v", *u)
}

func (u *UserFlag) Set(value string) error {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("user must be in format 'email:password'")
	}
	*u = append(*u, UserCredentials{Email: parts[0], Password: parts[1]})
	return nil
}

func main() {
	cfg := parseFlags()

	log := logrus.New()
	log.SetOutput(os.Stderr)
	if cfg.Quiet {
		log.SetOutput(io.Discard)
	}

	key, err := tokens.GenerateKey()
	if err != nil {
		log.Fatalf("failed to generate keys: %v", err)
	}
	issuer := tokens.NewIssuer(key, cfg.Issuer)
	verificationKeyDER, err := x509.MarshalPKIXPublicKey(issuer.VerificationKey())
	if err != nil {
		log.Fatalf("failed to marshal verification key: %v", err)
	}

	server := authtest.NewWithIssuer(issuer, authtest.Options{
		Issuer:          cfg.Issuer,
		AccessLifetime:  cfg.AccessLifetime,
		RefreshLifetime: cfg.RefreshLifetime,
		Logger:          log,
	})

	// Seed test users
	users := make([]OutputUser, 0, len(cfg.Users))
	for _, creds := range cfg.Users {
		user, err := server.AddUser(creds.Email, creds.Password, "")
		if err != nil {
			log.Fatalf("failed to seed user %s: %v", creds.Email, err)
		}
		users = append(users, OutputUser{ID: user.ID, Email: user.Email, Password: creds.Password})
	}

	// Start HTTP server with ephemeral port
	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}
	defer listener.Close()

	addr := listener.Addr().(*net.TCPAddr)
	baseURL := fmt.Sprintf("http://%s", net.JoinHostPort(addr.IP.String(), fmt.Sprint(addr.Port)))

	// Emit JSON contract to stdout
	contract := OutputContract{
		BaseURL: baseURL,
		Issuer:  cfg.Issuer,
		Lifetimes: OutputTTLs{
			Access:  cfg.AccessLifetime.String(),
			Refresh: cfg.RefreshLifetime.String(),
		},
		Users: users,
		Keys: OutputKeys{
			VerificationKeyDERBase64: base64.StdEncoding.EncodeToString(verificationKeyDER),
		},
	}
	if err := json.NewEncoder(os.Stdout).Encode(contract); err != nil {
		log.Fatalf("failed to encode JSON contract: %v", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- http.Serve(listener, server.Router())
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalf("server error: %v", err)
	case sig := <-sigChan:
		log.Infof("received signal %v, shutting down", sig)
	}
}

func parseFlags() Config {
	var cfg Config
	var users UserFlag

	flag.StringVar(&cfg.ListenAddr, "listen", "127.0.0.1:0", "Listen address (default uses ephemeral port)")
	flag.StringVar(&cfg.Issuer, "issuer", authtest.DefaultIssuer, "Issuer for JWT tokens")
	flag.DurationVar(&cfg.AccessLifetime, "access-ttl", authtest.DefaultAccessLifetime, "Access token lifetime")
	flag.DurationVar(&cfg.RefreshLifetime, "refresh-ttl", authtest.DefaultRefreshLifetime, "Refresh token lifetime")
	flag.Var(&users, "user", "User credentials in format 'email:password' (repeatable)")
	flag.BoolVar(&cfg.Quiet, "quiet", false, "Suppress log output")

	flag.Parse()

	if len(users) == 0 {
		cfg.Users = []UserCredentials{{Email: "test@example.com", Password: "password"}}
	} else {
		cfg.Users = users
	}

	return cfg
}
