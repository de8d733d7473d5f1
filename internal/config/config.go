// Package config reads dashboard configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	// Remote authentication API
	APIURL         string
	RequestTimeout time.Duration

	// HTTP server
	ListenAddr   string
	RoutesPath   string
	TemplatesDir string

	Storage  StorageConfig
	Sessions SessionConfig
	Log      LogConfig
}

type StorageConfig struct {
	Type          string // sqlite, redis or memory
	SQLitePath    string
	RedisURL      string
	PruneSchedule string
}

type SessionConfig struct {
	SecureCookies bool
	CacheSize     int
	Idle          time.Duration
}

type LogConfig struct {
	Level  logrus.Level
	Format string // text or json
}

// Load reads every GATEHOUSE_* variable and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		APIURL:         getEnv("GATEHOUSE_API_URL", ""),
		RequestTimeout: getEnvDuration("GATEHOUSE_REQUEST_TIMEOUT", 10*time.Second),
		ListenAddr:     getEnv("GATEHOUSE_LISTEN_ADDR", ":8080"),
		RoutesPath:     getEnv("GATEHOUSE_ROUTES_PATH", ""),
		TemplatesDir:   getEnv("GATEHOUSE_TEMPLATES_DIR", ""),
		Storage: StorageConfig{
			Type:          strings.ToLower(getEnv("GATEHOUSE_STORAGE", "sqlite")),
			SQLitePath:    getEnv("GATEHOUSE_SQLITE_PATH", "gatehouse.sqlite"),
			RedisURL:      getEnv("GATEHOUSE_REDIS_URL", ""),
			PruneSchedule: getEnv("GATEHOUSE_PRUNE_SCHEDULE", "@hourly"),
		},
		Sessions: SessionConfig{
			SecureCookies: getEnvBool("GATEHOUSE_SECURE_COOKIES", true),
			CacheSize:     getEnvInt("GATEHOUSE_SESSION_CACHE_SIZE", 10000),
			Idle:          getEnvDuration("GATEHOUSE_SESSION_IDLE", 24*time.Hour),
		},
		Log: LogConfig{
			Level:  parseLogLevel(getEnv("GATEHOUSE_LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("GATEHOUSE_LOG_FORMAT", "text")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("%w: GATEHOUSE_API_URL is required", ErrInvalidConfig)
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: GATEHOUSE_API_URL must be an absolute URL, got %q", ErrInvalidConfig, c.APIURL)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen address is required", ErrInvalidConfig)
	}

	switch c.Storage.Type {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("%w: GATEHOUSE_SQLITE_PATH is required for sqlite storage", ErrInvalidConfig)
		}
		if _, err := cron.ParseStandard(c.Storage.PruneSchedule); err != nil {
			return fmt.Errorf("%w: bad prune schedule %q: %v", ErrInvalidConfig, c.Storage.PruneSchedule, err)
		}
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("%w: GATEHOUSE_REDIS_URL is required for redis storage", ErrInvalidConfig)
		}
	case "memory":
	default:
		return fmt.Errorf("%w: invalid storage type: %s (must be sqlite, redis, or memory)", ErrInvalidConfig, c.Storage.Type)
	}

	if c.Sessions.CacheSize < 0 {
		return fmt.Errorf("%w: session cache size must not be negative", ErrInvalidConfig)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("%w: log format must be text or json, got %q", ErrInvalidConfig, c.Log.Format)
	}
	return nil
}

// ConfigureLogger applies the level and format to log.
func (c *Config) ConfigureLogger(log *logrus.Logger) {
	log.SetLevel(c.Log.Level)
	if c.Log.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func parseLogLevel(level string) logrus.Level {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return parsed
}

// getEnv returns an environment variable or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
