package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIBaseURL != "http://localhost:8080" {
		t.Fatalf("api base = %q", cfg.APIBaseURL)
	}
	if cfg.HubURL != "ws://localhost:8080/hubs/import-status" {
		t.Fatalf("hub url = %q", cfg.HubURL)
	}
	if cfg.ReconnectAttempts != 5 || cfg.ReconnectBaseDelay != time.Second || cfg.ReconnectMaxDelay != 16*time.Second {
		t.Fatalf("reconnect defaults: %d %s %s", cfg.ReconnectAttempts, cfg.ReconnectBaseDelay, cfg.ReconnectMaxDelay)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("INVCTL_API_URL", "https://inventory.example.com")
	t.Setenv("INVCTL_TIMEOUT", "5s")
	t.Setenv("INVCTL_RECONNECT_ATTEMPTS", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIBaseURL != "https://inventory.example.com" {
		t.Fatalf("api base = %q", cfg.APIBaseURL)
	}
	if cfg.HubURL != "wss://inventory.example.com/hubs/import-status" {
		t.Fatalf("derived hub url = %q", cfg.HubURL)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Fatalf("timeout = %s", cfg.RequestTimeout)
	}
	if cfg.ReconnectAttempts != 2 {
		t.Fatalf("reconnect attempts = %d", cfg.ReconnectAttempts)
	}
}

func TestDeriveHubURL(t *testing.T) {
	cases := []struct {
		api  string
		want string
	}{
		{"http://localhost:8080", "ws://localhost:8080/hubs/import-status"},
		{"https://api.example.com/", "wss://api.example.com/hubs/import-status"},
	}
	for _, tc := range cases {
		if got := deriveHubURL(tc.api); got != tc.want {
			t.Fatalf("deriveHubURL(%q) = %q, want %q", tc.api, got, tc.want)
		}
	}
}
