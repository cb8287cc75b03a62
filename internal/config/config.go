// Package config loads the bridge configuration from the environment and
// the provider list from its file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all bridge configuration.
type Config struct {
	OllamaURL  string
	ConfigFile string
	Host       string
	Port       int

	MaxToolRounds  int
	ToolTimeout    time.Duration
	HealthTimeout  time.Duration
	ConnectRetries int
	PingInterval   time.Duration

	LogLevel string
}

// Init loads config from environment variables.
func Init() Config {
	return Config{
		OllamaURL:      strings.TrimRight(env("BRIDGE_OLLAMA_URL", "http://localhost:11434"), "/"),
		ConfigFile:     env("BRIDGE_CONFIG", "mcp-config.json"),
		Host:           env("BRIDGE_HOST", "0.0.0.0"),
		Port:           envInt("BRIDGE_PORT", 8000),
		MaxToolRounds:  envInt("BRIDGE_MAX_TOOL_ROUNDS", 10),
		ToolTimeout:    envDuration("BRIDGE_TOOL_TIMEOUT", 0),
		HealthTimeout:  envDuration("BRIDGE_HEALTH_TIMEOUT", 3*time.Second),
		ConnectRetries: envInt("BRIDGE_CONNECT_RETRIES", 2),
		PingInterval:   envDuration("BRIDGE_PING_INTERVAL", 0),
		LogLevel:       env("BRIDGE_LOG_LEVEL", "info"),
	}
}

// LoadEnvFile loads variables from a .env file without overriding ones
// already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks values that would otherwise fail late.
func (c Config) Validate() error {
	var errs []error
	u, err := url.Parse(c.OllamaURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("BRIDGE_OLLAMA_URL: invalid url %q", c.OllamaURL))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("BRIDGE_PORT: %d out of range", c.Port))
	}
	if c.MaxToolRounds < 1 {
		errs = append(errs, fmt.Errorf("BRIDGE_MAX_TOOL_ROUNDS: must be at least 1, got %d", c.MaxToolRounds))
	}
	if c.ToolTimeout < 0 || c.HealthTimeout <= 0 || c.PingInterval < 0 {
		errs = append(errs, errors.New("timeouts must not be negative and the health timeout must be positive"))
	}
	if c.ConnectRetries < 0 {
		errs = append(errs, fmt.Errorf("BRIDGE_CONNECT_RETRIES: must not be negative, got %d", c.ConnectRetries))
	}
	if _, ok := parseLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("BRIDGE_LOG_LEVEL: unknown level %q", c.LogLevel))
	}
	return errors.Join(errs...)
}

// SlogLevel returns the configured log level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	lvl, _ := parseLevel(c.LogLevel)
	return lvl
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// envDuration accepts a Go duration ("90s", "2m") or plain seconds ("90").
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}
