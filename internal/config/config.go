// Package config provides hierarchical configuration loading for DocSync.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the DocSync service.
type Config struct {
	Server   Server   `yaml:"server"`
	Logging  Logging  `yaml:"logging"`
	Postgres Postgres `yaml:"postgres"`
	NATS     NATS     `yaml:"nats"`
	Cache    Cache    `yaml:"cache"`
	Remote   Remote   `yaml:"remote"`
	Sync     Sync     `yaml:"sync"`
	Webhook  Webhook  `yaml:"webhook"`
	OTEL     OTEL     `yaml:"otel"`
	MCP      MCP      `yaml:"mcp"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port            string        `yaml:"port"`
	CORSOrigin      string        `yaml:"cors_origin"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// RateLimitRPS is the sustained per-user request rate; zero disables limiting.
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
	Format  string `yaml:"format"` // "auto" (text on a terminal), "json" or "text"
}

// Postgres holds PostgreSQL connection configuration. An empty DSN keeps tab
// state in memory.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// NATS holds NATS JetStream configuration. An empty URL disables event
// forwarding and the L2 cache.
type NATS struct {
	URL    string `yaml:"url"`
	Stream string `yaml:"stream"`
}

// Cache holds read-cache configuration.
type Cache struct {
	L1MaxSizeMB     int64         `yaml:"l1_max_size_mb"`
	L2Bucket        string        `yaml:"l2_bucket"` // empty disables L2
	L2TTL           time.Duration `yaml:"l2_ttl"`
	PullRequestTTL  time.Duration `yaml:"pull_request_ttl"`
	CommitTTL       time.Duration `yaml:"commit_ttl"`
	CollaboratorTTL time.Duration `yaml:"collaborator_ttl"`
	BranchTTL       time.Duration `yaml:"branch_ttl"`
}

// Remote holds Remote Repository Client configuration.
type Remote struct {
	Provider      string        `yaml:"provider"` // "github" or "memory"
	BaseURL       string        `yaml:"base_url"`
	GraphQLURL    string        `yaml:"graphql_url"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	Retry         Retry         `yaml:"retry"`
	Breaker       Breaker       `yaml:"breaker"`
}

// Retry bounds retries of transient remote failures.
type Retry struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	Multiplier    float64       `yaml:"multiplier"`
	JitterPercent float64       `yaml:"jitter_percent"`
}

// Breaker holds circuit breaker configuration.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Sync holds sync engine configuration.
type Sync struct {
	// AutoSaveDelay is the debounce delay. Zero disables auto-save.
	AutoSaveDelay    time.Duration `yaml:"autosave_delay"`
	AutoSaveMessage  string        `yaml:"autosave_message"`
	Strategy         string        `yaml:"strategy"` // "direct" or "auto-branch"
	BranchPrefix     string        `yaml:"branch_prefix"`
	PresenceTimeout  time.Duration `yaml:"presence_timeout"`
	Heartbeat        time.Duration `yaml:"heartbeat"`
	TabSaveDebounce  time.Duration `yaml:"tab_save_debounce"`
	FetchConcurrency int           `yaml:"fetch_concurrency"`
	// Strict makes Content Store programming errors panic.
	Strict bool `yaml:"strict"`
}

// Webhook holds inbound VCS webhook configuration.
type Webhook struct {
	GitHubSecret string `yaml:"github_secret"`
}

// OTEL holds OpenTelemetry configuration.
type OTEL struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	Insecure    bool    `yaml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// MCP holds the tool server configuration.
type MCP struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	// APIKey guards the tool endpoint; empty disables the check.
	APIKey string `yaml:"api_key"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:            "8080",
			CORSOrigin:      "http://localhost:3000",
			ShutdownTimeout: 15 * time.Second,
			RateLimitRPS:    20,
			RateLimitBurst:  40,
		},
		Logging: Logging{
			Level:   "info",
			Service: "docsync",
			Format:  "auto",
		},
		Postgres: Postgres{
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		NATS: NATS{
			Stream: "DOCSYNC",
		},
		Cache: Cache{
			L1MaxSizeMB:     64,
			L2TTL:           10 * time.Minute,
			PullRequestTTL:  30 * time.Second,
			CommitTTL:       time.Minute,
			CollaboratorTTL: 5 * time.Minute,
			BranchTTL:       30 * time.Second,
		},
		Remote: Remote{
			Provider:      "github",
			BaseURL:       "https://api.github.com",
			GraphQLURL:    "https://api.github.com/graphql",
			Timeout:       30 * time.Second,
			MaxConcurrent: 8,
			Retry: Retry{
				MaxAttempts:   4,
				InitialDelay:  500 * time.Millisecond,
				MaxDelay:      30 * time.Second,
				Multiplier:    2,
				JitterPercent: 0.1,
			},
			Breaker: Breaker{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
			},
		},
		Sync: Sync{
			AutoSaveDelay:    3 * time.Second,
			AutoSaveMessage:  "Auto-save",
			Strategy:         "direct",
			BranchPrefix:     "docsync/session-",
			PresenceTimeout:  30 * time.Second,
			Heartbeat:        25 * time.Second,
			TabSaveDebounce:  time.Second,
			FetchConcurrency: 8,
		},
		OTEL: OTEL{
			Endpoint:    "localhost:4317",
			ServiceName: "docsync",
			Insecure:    true,
			SampleRate:  1.0,
		},
		MCP: MCP{
			Enabled: true,
			Addr:    ":3001",
			Name:    "docsync",
			Version: "0.1.0",
		},
	}
}
