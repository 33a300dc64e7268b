package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "DATABASE_URL", "REDIS_URL", "STATE_DIR", "CACHE_TTL_SECONDS",
		"LOCK_TTL_SECONDS", "LOCK_WAIT_SECONDS", "REQUEST_TIMEOUT_SECONDS", "SHUTDOWN_TIMEOUT_SECONDS", "LOAD_EXAMPLE"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr() != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.Addr())
	}
	if cfg.CacheTTL != 30*time.Second || cfg.LockTTL != 10*time.Second || cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("unexpected durations %+v", cfg)
	}
	if cfg.DatabaseURL != "" || cfg.RedisURL != "" || cfg.LoadExample {
		t.Errorf("expected empty optional settings, got %+v", cfg)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STATE_DIR", "/var/lib/bondgame")
	t.Setenv("LOCK_TTL_SECONDS", "3")
	t.Setenv("LOAD_EXAMPLE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "9090" || cfg.StateDir != "/var/lib/bondgame" || cfg.LockTTL != 3*time.Second || !cfg.LoadExample {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct{ key, value string }{
		{"CACHE_TTL_SECONDS", "soon"},
		{"LOCK_TTL_SECONDS", "0"},
		{"SHUTDOWN_TIMEOUT_SECONDS", "-1"},
		{"LOAD_EXAMPLE", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}
