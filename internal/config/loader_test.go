package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Sync.AutoSaveDelay != 3*time.Second {
		t.Errorf("expected autosave delay 3s, got %v", cfg.Sync.AutoSaveDelay)
	}
	if cfg.Sync.PresenceTimeout != 30*time.Second {
		t.Errorf("expected presence timeout 30s, got %v", cfg.Sync.PresenceTimeout)
	}
	if cfg.Remote.Breaker.Timeout != 30*time.Second {
		t.Errorf("expected breaker timeout 30s, got %v", cfg.Remote.Breaker.Timeout)
	}
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "docsync.yaml")

	content := `
server:
  port: "9090"
logging:
  level: "debug"
remote:
  provider: "memory"
  retry:
    max_attempts: 2
sync:
  autosave_delay: 5s
  strategy: "auto-branch"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	if cfg.Remote.Provider != "memory" {
		t.Errorf("expected memory provider, got %s", cfg.Remote.Provider)
	}
	if cfg.Remote.Retry.MaxAttempts != 2 {
		t.Errorf("expected 2 retry attempts, got %d", cfg.Remote.Retry.MaxAttempts)
	}
	if cfg.Sync.AutoSaveDelay != 5*time.Second {
		t.Errorf("expected autosave delay 5s, got %v", cfg.Sync.AutoSaveDelay)
	}
	if cfg.Sync.Strategy != "auto-branch" {
		t.Errorf("expected auto-branch, got %s", cfg.Sync.Strategy)
	}
	// Unchanged fields keep defaults
	if cfg.Remote.Retry.MaxDelay != 30*time.Second {
		t.Errorf("expected default retry max delay, got %v", cfg.Remote.Retry.MaxDelay)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	if err := loadYAML(&cfg, "/nonexistent/path.yaml"); err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestLoadYAMLInvalid(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(yamlPath, []byte("server: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("DOCSYNC_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("DOCSYNC_PG_MAX_CONNS", "25")
	t.Setenv("DOCSYNC_LOG_LEVEL", "warn")
	t.Setenv("DOCSYNC_BREAKER_TIMEOUT", "1m")
	t.Setenv("DOCSYNC_AUTOSAVE_DELAY", "0")
	t.Setenv("DOCSYNC_STRICT", "true")
	t.Setenv("DOCSYNC_RETRY_MULTIPLIER", "1.5")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("unexpected DSN: %s", cfg.Postgres.DSN)
	}
	if cfg.Postgres.MaxConns != 25 {
		t.Errorf("expected max_conns 25, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Logging.Level)
	}
	if cfg.Remote.Breaker.Timeout != time.Minute {
		t.Errorf("expected breaker timeout 1m, got %v", cfg.Remote.Breaker.Timeout)
	}
	if cfg.Sync.AutoSaveDelay != 0 {
		t.Errorf("expected autosave disabled, got %v", cfg.Sync.AutoSaveDelay)
	}
	if !cfg.Sync.Strict {
		t.Error("expected strict mode")
	}
	if cfg.Remote.Retry.Multiplier != 1.5 {
		t.Errorf("expected multiplier 1.5, got %v", cfg.Remote.Retry.Multiplier)
	}
}

func TestEnvDurationSeconds(t *testing.T) {
	cfg := Defaults()
	t.Setenv("DOCSYNC_AUTOSAVE_DELAY", "7")
	loadEnv(&cfg)
	if cfg.Sync.AutoSaveDelay != 7*time.Second {
		t.Errorf("expected bare integer as seconds, got %v", cfg.Sync.AutoSaveDelay)
	}
}

func TestEnvInvalidValuesIgnored(t *testing.T) {
	cfg := Defaults()
	t.Setenv("DOCSYNC_PG_MAX_CONNS", "lots")
	t.Setenv("DOCSYNC_LOG_ASYNC", "perhaps")
	t.Setenv("DOCSYNC_REMOTE_TIMEOUT", "soon")
	loadEnv(&cfg)

	if cfg.Postgres.MaxConns != 10 {
		t.Errorf("expected default max_conns, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Logging.Async {
		t.Error("expected async to stay false")
	}
	if cfg.Remote.Timeout != 30*time.Second {
		t.Errorf("expected default timeout, got %v", cfg.Remote.Timeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"empty port", func(c *Config) { c.Server.Port = "" }, "server.port"},
		{"empty provider", func(c *Config) { c.Remote.Provider = "" }, "remote.provider"},
		{"github without url", func(c *Config) { c.Remote.BaseURL = "" }, "remote.base_url"},
		{"negative delay", func(c *Config) { c.Sync.AutoSaveDelay = -time.Second }, "autosave_delay"},
		{"unknown strategy", func(c *Config) { c.Sync.Strategy = "yolo" }, "sync.strategy"},
		{"auto-branch without prefix", func(c *Config) {
			c.Sync.Strategy = "auto-branch"
			c.Sync.BranchPrefix = ""
		}, "branch_prefix"},
		{"zero presence", func(c *Config) { c.Sync.PresenceTimeout = 0 }, "presence_timeout"},
		{"zero attempts", func(c *Config) { c.Remote.Retry.MaxAttempts = 0 }, "max_attempts"},
		{"l2 without nats", func(c *Config) { c.Cache.L2Bucket = "docsync-cache" }, "nats.url"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadFromPrecedence(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "docsync.yaml")
	if err := os.WriteFile(yamlPath, []byte("server:\n  port: \"9090\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DOCSYNC_PORT", "6060")

	cfg, err := LoadFrom(yamlPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "6060" {
		t.Errorf("env should win over yaml, got %s", cfg.Server.Port)
	}
}
