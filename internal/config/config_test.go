package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("expected default addr :8080, got %q", cfg.HTTP.Addr)
	}
	if cfg.MySQL.MaxOpenConns != 50 || cfg.MySQL.MaxIdleConns != 25 {
		t.Errorf("unexpected pool defaults: %d/%d", cfg.MySQL.MaxOpenConns, cfg.MySQL.MaxIdleConns)
	}
	if cfg.Breaker.FailureThreshold != 3 {
		t.Errorf("expected failure threshold 3, got %d", cfg.Breaker.FailureThreshold)
	}
	if cfg.Quota.MaxPublished != 2 {
		t.Errorf("expected quota 2, got %d", cfg.Quota.MaxPublished)
	}
	if cfg.Redis.DedupTTL != 24*time.Hour {
		t.Errorf("expected dedup ttl 24h, got %v", cfg.Redis.DedupTTL)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("EDITIONS_HTTP_ADDR", ":9090")
	t.Setenv("EDITIONS_MYSQL_MAX_OPEN_CONNS", "10")
	t.Setenv("EDITIONS_MYSQL_MAX_IDLE_CONNS", "5")
	t.Setenv("EDITIONS_BREAKER_PROBE_INTERVAL", "10s")
	t.Setenv("EDITIONS_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("env addr override ignored: %q", cfg.HTTP.Addr)
	}
	if cfg.MySQL.MaxOpenConns != 10 || cfg.MySQL.MaxIdleConns != 5 {
		t.Errorf("env pool override ignored: %d/%d", cfg.MySQL.MaxOpenConns, cfg.MySQL.MaxIdleConns)
	}
	if cfg.Breaker.ProbeInterval != 10*time.Second {
		t.Errorf("env probe interval override ignored: %v", cfg.Breaker.ProbeInterval)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("env log level override ignored: %q", cfg.Log.Level)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
http:
  addr: ":7070"
quota:
  max_published: 5
retry:
  max_attempts: 7
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTP.Addr != ":7070" {
		t.Errorf("file addr ignored: %q", cfg.HTTP.Addr)
	}
	if cfg.Quota.MaxPublished != 5 {
		t.Errorf("file quota ignored: %d", cfg.Quota.MaxPublished)
	}
	if cfg.Retry.MaxAttempts != 7 {
		t.Errorf("file retry attempts ignored: %d", cfg.Retry.MaxAttempts)
	}
	// Untouched keys keep their defaults.
	if cfg.MySQL.MaxOpenConns != 50 {
		t.Errorf("default disturbed by partial file: %d", cfg.MySQL.MaxOpenConns)
	}
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("http:\n  addr: \":7070\"\n"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("EDITIONS_HTTP_ADDR", ":6060")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTP.Addr != ":6060" {
		t.Errorf("environment should win over file: %q", cfg.HTTP.Addr)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"empty dsn", "EDITIONS_MYSQL_DSN", ""},
		{"zero pool", "EDITIONS_MYSQL_MAX_OPEN_CONNS", "0"},
		{"idle above open", "EDITIONS_MYSQL_MAX_IDLE_CONNS", "100"},
		{"zero threshold", "EDITIONS_BREAKER_FAILURE_THRESHOLD", "0"},
		{"zero attempts", "EDITIONS_RETRY_MAX_ATTEMPTS", "0"},
		{"zero quota", "EDITIONS_QUOTA_MAX_PUBLISHED", "0"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected validation error for %s=%q", tc.key, tc.value)
			}
		})
	}
}
