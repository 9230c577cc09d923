package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "docsync.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML path comes from DOCSYNC_CONFIG, falling back to DefaultConfigFile.
// A missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("DOCSYNC_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator supplied
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "DOCSYNC_PORT")
	setString(&cfg.Server.CORSOrigin, "DOCSYNC_CORS_ORIGIN")
	setDuration(&cfg.Server.ShutdownTimeout, "DOCSYNC_SHUTDOWN_TIMEOUT")
	setFloat64(&cfg.Server.RateLimitRPS, "DOCSYNC_RATE_LIMIT_RPS")
	setInt(&cfg.Server.RateLimitBurst, "DOCSYNC_RATE_LIMIT_BURST")

	setString(&cfg.Logging.Level, "DOCSYNC_LOG_LEVEL")
	setString(&cfg.Logging.Service, "DOCSYNC_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "DOCSYNC_LOG_ASYNC")
	setString(&cfg.Logging.Format, "DOCSYNC_LOG_FORMAT")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "DOCSYNC_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "DOCSYNC_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "DOCSYNC_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "DOCSYNC_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "DOCSYNC_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "DOCSYNC_NATS_STREAM")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "DOCSYNC_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "DOCSYNC_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "DOCSYNC_CACHE_L2_TTL")
	setDuration(&cfg.Cache.PullRequestTTL, "DOCSYNC_CACHE_PR_TTL")
	setDuration(&cfg.Cache.CommitTTL, "DOCSYNC_CACHE_COMMIT_TTL")
	setDuration(&cfg.Cache.CollaboratorTTL, "DOCSYNC_CACHE_COLLABORATOR_TTL")
	setDuration(&cfg.Cache.BranchTTL, "DOCSYNC_CACHE_BRANCH_TTL")

	// Remote
	setString(&cfg.Remote.Provider, "DOCSYNC_REMOTE_PROVIDER")
	setString(&cfg.Remote.BaseURL, "DOCSYNC_REMOTE_BASE_URL")
	setString(&cfg.Remote.GraphQLURL, "DOCSYNC_REMOTE_GRAPHQL_URL")
	setDuration(&cfg.Remote.Timeout, "DOCSYNC_REMOTE_TIMEOUT")
	setInt(&cfg.Remote.MaxConcurrent, "DOCSYNC_REMOTE_MAX_CONCURRENT")
	setInt(&cfg.Remote.Retry.MaxAttempts, "DOCSYNC_RETRY_MAX_ATTEMPTS")
	setDuration(&cfg.Remote.Retry.InitialDelay, "DOCSYNC_RETRY_INITIAL_DELAY")
	setDuration(&cfg.Remote.Retry.MaxDelay, "DOCSYNC_RETRY_MAX_DELAY")
	setFloat64(&cfg.Remote.Retry.Multiplier, "DOCSYNC_RETRY_MULTIPLIER")
	setFloat64(&cfg.Remote.Retry.JitterPercent, "DOCSYNC_RETRY_JITTER")
	setInt(&cfg.Remote.Breaker.MaxFailures, "DOCSYNC_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Remote.Breaker.Timeout, "DOCSYNC_BREAKER_TIMEOUT")

	// Sync
	setDuration(&cfg.Sync.AutoSaveDelay, "DOCSYNC_AUTOSAVE_DELAY")
	setString(&cfg.Sync.AutoSaveMessage, "DOCSYNC_AUTOSAVE_MESSAGE")
	setString(&cfg.Sync.Strategy, "DOCSYNC_SAVE_STRATEGY")
	setString(&cfg.Sync.BranchPrefix, "DOCSYNC_BRANCH_PREFIX")
	setDuration(&cfg.Sync.PresenceTimeout, "DOCSYNC_PRESENCE_TIMEOUT")
	setDuration(&cfg.Sync.Heartbeat, "DOCSYNC_HEARTBEAT")
	setDuration(&cfg.Sync.TabSaveDebounce, "DOCSYNC_TAB_SAVE_DEBOUNCE")
	setInt(&cfg.Sync.FetchConcurrency, "DOCSYNC_FETCH_CONCURRENCY")
	setBool(&cfg.Sync.Strict, "DOCSYNC_STRICT")

	setString(&cfg.Webhook.GitHubSecret, "DOCSYNC_WEBHOOK_GITHUB_SECRET")

	// OTEL
	setBool(&cfg.OTEL.Enabled, "DOCSYNC_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "DOCSYNC_OTEL_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "DOCSYNC_OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "DOCSYNC_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "DOCSYNC_OTEL_SAMPLE_RATE")

	setBool(&cfg.MCP.Enabled, "DOCSYNC_MCP_ENABLED")
	setString(&cfg.MCP.Addr, "DOCSYNC_MCP_ADDR")
	setString(&cfg.MCP.APIKey, "DOCSYNC_MCP_API_KEY")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Remote.Provider == "" {
		return errors.New("remote.provider is required")
	}
	if cfg.Remote.Provider == "github" && cfg.Remote.BaseURL == "" {
		return errors.New("remote.base_url is required for the github provider")
	}
	if cfg.Remote.MaxConcurrent < 1 {
		return errors.New("remote.max_concurrent must be >= 1")
	}
	if cfg.Remote.Retry.MaxAttempts < 1 {
		return errors.New("remote.retry.max_attempts must be >= 1")
	}
	if cfg.Remote.Breaker.MaxFailures < 1 {
		return errors.New("remote.breaker.max_failures must be >= 1")
	}
	if cfg.Sync.AutoSaveDelay < 0 {
		return errors.New("sync.autosave_delay must be >= 0 (0 disables auto-save)")
	}
	switch cfg.Sync.Strategy {
	case "direct", "auto-branch":
	default:
		return fmt.Errorf("sync.strategy must be \"direct\" or \"auto-branch\", got %q", cfg.Sync.Strategy)
	}
	if cfg.Sync.Strategy == "auto-branch" && cfg.Sync.BranchPrefix == "" {
		return errors.New("sync.branch_prefix is required for the auto-branch strategy")
	}
	if cfg.Sync.PresenceTimeout <= 0 {
		return errors.New("sync.presence_timeout must be > 0")
	}
	if cfg.Sync.Heartbeat <= 0 {
		return errors.New("sync.heartbeat must be > 0")
	}
	if cfg.Sync.FetchConcurrency < 1 {
		return errors.New("sync.fetch_concurrency must be >= 1")
	}
	if cfg.Postgres.DSN != "" && cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Cache.L2Bucket != "" && cfg.NATS.URL == "" {
		return errors.New("cache.l2_bucket requires nats.url")
	}
	switch cfg.Logging.Format {
	case "", "auto", "json", "text":
	default:
		return fmt.Errorf("logging.format must be auto, json or text, got %q", cfg.Logging.Format)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// setDuration accepts Go durations ("3s") and bare integers as seconds.
func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
	}
}
