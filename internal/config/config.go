// Package config centralizes how invctl reads environment variables and exposes
// them as typed values.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents runtime configuration for the CLI.
type Config struct {
	APIBaseURL         string
	HubURL             string
	RequestTimeout     time.Duration
	HistoryPath        string
	ReconnectAttempts  int
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
}

const (
	defaultAPIBaseURL        = "http://localhost:8080"
	defaultRequestTimeout    = 30 * time.Second
	defaultReconnectAttempts = 5
	defaultReconnectBase     = 1 * time.Second
	defaultReconnectMax      = 16 * time.Second
)

// Load reads configuration from a .env file (if present) and the environment,
// falling back to defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		APIBaseURL:         readEnv("INVCTL_API_URL", defaultAPIBaseURL),
		HubURL:             readEnv("INVCTL_HUB_URL", ""),
		RequestTimeout:     parseDuration("INVCTL_TIMEOUT", defaultRequestTimeout),
		HistoryPath:        readEnv("INVCTL_HISTORY_PATH", defaultHistoryPath()),
		ReconnectAttempts:  parseInt("INVCTL_RECONNECT_ATTEMPTS", defaultReconnectAttempts),
		ReconnectBaseDelay: parseDuration("INVCTL_RECONNECT_BASE", defaultReconnectBase),
		ReconnectMaxDelay:  parseDuration("INVCTL_RECONNECT_MAX", defaultReconnectMax),
	}
	if cfg.HubURL == "" {
		cfg.HubURL = deriveHubURL(cfg.APIBaseURL)
	}
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = defaultReconnectAttempts
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return cfg, nil
}

// deriveHubURL turns the API base URL into the websocket hub endpoint when no
// explicit hub URL is configured.
func deriveHubURL(apiBase string) string {
	hub := strings.TrimSuffix(apiBase, "/")
	switch {
	case strings.HasPrefix(hub, "https://"):
		hub = "wss://" + strings.TrimPrefix(hub, "https://")
	case strings.HasPrefix(hub, "http://"):
		hub = "ws://" + strings.TrimPrefix(hub, "http://")
	}
	return hub + "/hubs/import-status"
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "invctl-history.db")
	}
	return filepath.Join(home, ".invctl", "history.db")
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}
