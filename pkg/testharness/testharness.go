// Package testharness runs gatehouse-testserver as a child process so that
// integration tests can talk to a fake authentication API over a real
// socket.
package testharness

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"
)

// BinaryEnv names the environment variable that points at the
// gatehouse-testserver binary.
const BinaryEnv = "GATEHOUSE_TESTSERVER_BIN"

// Config holds configuration for starting the test harness.
type Config struct {
	Issuer          string
	AccessLifetime  time.Duration
	RefreshLifetime time.Duration
	Users           []User
	ListenAddr      string
	BinaryPath      string
	Quiet           bool
}

// User holds test user credentials.
type User struct {
	ID       string
	Email    string
	Password string
}

// Harness represents a running gatehouse-testserver instance.
type Harness struct {
	BaseURL            string
	Issuer             string
	AccessLifetime     time.Duration
	RefreshLifetime    time.Duration
	VerificationKeyDER []byte
	Users              []User

	// Internal state
	cmd    *exec.Cmd
	cancel context.CancelFunc
}

// outputContract matches the JSON structure from gatehouse-testserver
type outputContract struct {
	BaseURL   string       `json:"base_url"`
	Issuer    string       `json:"issuer"`
	Lifetimes outputTTLs   `json:"lifetimes"`
	Users     []outputUser `json:"users"`
	Keys      outputKeys   `json:"keys"`
}

type outputTTLs struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

type outputUser struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type outputKeys struct {
	VerificationKeyDERBase64 string `json:"verification_key_der_base64"`
}

// Available reports whether a gatehouse-testserver binary can be found.
func Available(cfg Config) bool {
	return findBinary(cfg.BinaryPath) != ""
}

// Start spawns a gatehouse-testserver and returns a handle to it.
// It registers cleanup with t.Cleanup().
func Start(t *testing.T, cfg Config) *Harness {
	t.Helper()

	binaryPath := findBinary(cfg.BinaryPath)
	if binaryPath == "" {
		t.Fatalf("gatehouse-testserver binary not found (check PATH or set Config.BinaryPath or %s)", BinaryEnv)
	}

	ctx, cancel := context.WithCancel(context.Background())

	cmd := exec.CommandContext(ctx, binaryPath, buildArgs(cfg)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		t.Fatalf("failed to create stdout pipe: %v", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		t.Fatalf("failed to create stderr pipe: %v", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		t.Fatalf("failed to start gatehouse-testserver: %v", err)
	}

	// first line of stdout is the JSON contract
	scanner := bufio.NewScanner(stdout)
	if !scanner.Scan() {
		cancel()
		cmd.Wait()
		t.Fatal("failed to read JSON contract from gatehouse-testserver")
	}

	var contract outputContract
	if err := json.Unmarshal(scanner.Bytes(), &contract); err != nil {
		cancel()
		cmd.Wait()
		t.Fatalf("failed to parse JSON contract: %v", err)
	}

	harness, err := fromContract(contract)
	if err != nil {
		cancel()
		cmd.Wait()
		t.Fatalf("invalid JSON contract: %v", err)
	}
	harness.cmd = cmd
	harness.cancel = cancel

	if !cfg.Quiet {
		go func() {
			for scanner.Scan() {
				t.Logf("[gatehouse-testserver] %s", scanner.Text())
			}
		}()

		go func() {
			stderrScanner := bufio.NewScanner(stderr)
			for stderrScanner.Scan() {
				t.Logf("[gatehouse-testserver stderr] %s", stderrScanner.Text())
			}
		}()
	}

	t.Cleanup(func() {
		if err := harness.Close(); err != nil {
			t.Logf("warning: harness cleanup failed: %v", err)
		}
	})

	return harness
}

func fromContract(contract outputContract) (*Harness, error) {
	verificationKeyDER, err := base64.StdEncoding.DecodeString(contract.Keys.VerificationKeyDERBase64)
	if err != nil {
		return nil, fmt.Errorf("decode verification key: %w", err)
	}
	access, err := time.ParseDuration(contract.Lifetimes.Access)
	if err != nil {
		return nil, fmt.Errorf("parse access lifetime: %w", err)
	}
	refresh, err := time.ParseDuration(contract.Lifetimes.Refresh)
	if err != nil {
		return nil, fmt.Errorf("parse refresh lifetime: %w", err)
	}

	harness := &Harness{
		BaseURL:            contract.BaseURL,
		Issuer:             contract.Issuer,
		AccessLifetime:     access,
		RefreshLifetime:    refresh,
		VerificationKeyDER: verificationKeyDER,
		Users:              make([]User, len(contract.Users)),
	}
	for i, user := range contract.Users {
		harness.Users[i] = User{ID: user.ID, Email: user.Email, Password: user.Password}
	}
	return harness, nil
}

// VerificationKey parses the server's public signing key.
func (h *Harness) VerificationKey() (*ecdsa.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(h.VerificationKeyDER)
	if err != nil {
		return nil, err
	}
	ecdsaKey, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("verification key is %T, not ECDSA", key)
	}
	return ecdsaKey, nil
}

// Close terminates the gatehouse-testserver process.
func (h *Harness) Close() error {
	if h.cancel != nil {
		h.cancel()
	}

	if h.cmd == nil || h.cmd.Process == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- h.cmd.Wait()
	}()

	select {
	case err := <-done:
		// killed by the cancelled context, which is how we stop it
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil
		}
		return err
	case <-time.After(5 * time.Second):
		if err := h.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("force kill: %w", err)
		}
		return fmt.Errorf("timeout waiting for graceful shutdown, process killed")
	}
}

func findBinary(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
	}

	if envPath := os.Getenv(BinaryEnv); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	if pathBinary, err := exec.LookPath("gatehouse-testserver"); err == nil {
		return pathBinary
	}

	return ""
}

func buildArgs(cfg Config) []string {
	var args []string

	if cfg.Issuer != "" {
		args = append(args, "--issuer", cfg.Issuer)
	}

	if cfg.AccessLifetime != 0 {
		args = append(args, "--access-ttl", cfg.AccessLifetime.String())
	}

	if cfg.RefreshLifetime != 0 {
		args = append(args, "--refresh-ttl", cfg.RefreshLifetime.String())
	}

	if cfg.ListenAddr != "" {
		args = append(args, "--listen", cfg.ListenAddr)
	}

	if cfg.Quiet {
		args = append(args, "--quiet")
	}

	for _, user := range cfg.Users {
		args = append(args, "--user", fmt.Sprintf("%s:%s", user.Email, user.Password))
	}

	return args
}
