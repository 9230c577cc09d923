package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/DocSync/internal/adapter/channel"
	cfhttp "github.com/Strob0t/DocSync/internal/adapter/http"
	"github.com/Strob0t/DocSync/internal/adapter/localdoc"
	"github.com/Strob0t/DocSync/internal/adapter/mcp"
	cfnats "github.com/Strob0t/DocSync/internal/adapter/nats"
	"github.com/Strob0t/DocSync/internal/adapter/natskv"
	cfotel "github.com/Strob0t/DocSync/internal/adapter/otel"
	"github.com/Strob0t/DocSync/internal/adapter/postgres"
	"github.com/Strob0t/DocSync/internal/adapter/ristretto"
	"github.com/Strob0t/DocSync/internal/adapter/tiered"
	"github.com/Strob0t/DocSync/internal/adapter/ws"
	"github.com/Strob0t/DocSync/internal/clock"
	"github.com/Strob0t/DocSync/internal/config"
	"github.com/Strob0t/DocSync/internal/logger"
	"github.com/Strob0t/DocSync/internal/middleware"
	"github.com/Strob0t/DocSync/internal/port/broadcast"
	"github.com/Strob0t/DocSync/internal/port/cache"
	"github.com/Strob0t/DocSync/internal/port/messagequeue"
	"github.com/Strob0t/DocSync/internal/port/remote"
	"github.com/Strob0t/DocSync/internal/port/tabstore"
	"github.com/Strob0t/DocSync/internal/secrets"
	"github.com/Strob0t/DocSync/internal/service"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const fanoutBuffer = 1024

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"remote", cfg.Remote.Provider,
		"strategy", cfg.Sync.Strategy,
		"autosave_delay", cfg.Sync.AutoSaveDelay,
	)

	ctx := context.Background()

	// --- Telemetry ---

	shutdownOTEL, err := cfotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Secrets ---

	vault, err := secrets.NewVault(secrets.EnvLoader(map[string]string{
		secrets.EnvWebhookSecret: cfg.Webhook.GitHubSecret,
		secrets.EnvMCPAPIKey:     cfg.MCP.APIKey,
	}, secrets.EnvWebhookSecret, secrets.EnvMCPAPIKey))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	if vault.Get(secrets.EnvWebhookSecret) == "" {
		slog.Warn("github webhook secret not set; webhook deliveries will be rejected")
	}

	// --- Infrastructure ---

	var tabs tabstore.Store = tabstore.NewMemory()
	var pool *pgxpool.Pool
	if cfg.Postgres.DSN != "" {
		pool, err = postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		slog.Info("postgres connected")

		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		slog.Info("migrations applied")
		tabs = postgres.NewTabStore(pool)
	} else {
		slog.Info("postgres not configured; tab state kept in memory")
	}

	var queue *cfnats.Queue
	if cfg.NATS.URL != "" {
		queue, err = cfnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Close() }()
	}

	readCache, closeCache, err := buildCache(ctx, cfg, queue)
	if err != nil {
		return err
	}
	defer closeCache()

	provider, err := remote.New(cfg.Remote.Provider, remoteConfig(cfg.Remote))
	if err != nil {
		return fmt.Errorf("remote: %w", err)
	}

	// --- Services ---

	clk := clock.Real{}
	channels := channel.New()
	var bus messagequeue.Publisher
	if queue != nil {
		bus = queue
	}
	fanout := broadcast.NewFanout(channels, bus, fanoutBuffer)

	tabSvc := service.NewTabService(tabs, clk, cfg.Sync.TabSaveDebounce)
	mgr := service.NewManager(service.ManagerOptions{
		Provider: provider,
		Docs:     localdoc.New(clk, cfg.Sync.PresenceTimeout),
		Bus:      fanout,
		Cache:    readCache,
		TTLs: service.ReadCacheTTLs{
			PullRequests:  cfg.Cache.PullRequestTTL,
			Commits:       cfg.Cache.CommitTTL,
			Collaborators: cfg.Cache.CollaboratorTTL,
			Branches:      cfg.Cache.BranchTTL,
		},
		Tabs:    tabSvc,
		Clock:   clk,
		Metrics: metrics,
		Sync:    cfg.Sync,
	})
	webhooks := service.NewVCSWebhookService(mgr)

	// --- HTTP ---

	handlers := &cfhttp.Handlers{
		Workspaces: mgr,
		Webhooks:   webhooks,
		Channels:   channels,
		WebSocket:  ws.NewHandler(channels, cfg.Sync.Heartbeat, originPatterns(cfg.Server.CORSOrigin)...),
		Heartbeat:  cfg.Sync.Heartbeat,
		Version:    version,
	}

	var limiter *middleware.RateLimiter
	if cfg.Server.RateLimitRPS > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
		stopCleanup := limiter.StartCleanup(time.Minute, 10*time.Minute)
		defer stopCleanup()
	}

	r := cfhttp.NewRouter(handlers, cfhttp.RouteOptions{
		CORSOrigin:     cfg.Server.CORSOrigin,
		ServiceName:    otelServiceName(cfg.OTEL),
		WebhookSecret:  vault.Func(secrets.EnvWebhookSecret),
		RateLimiter:    limiter,
		Idempotency:    readCache, // nil disables idempotent replays
		IdempotencyTTL: 24 * time.Hour,
		Health:         healthHandler(cfg, pool, queue, provider),
	})

	var mcpSrv *mcp.Server
	if cfg.MCP.Enabled {
		mcpSrv = mcp.NewServer(mcp.ServerConfig{
			Addr:    cfg.MCP.Addr,
			Name:    cfg.MCP.Name,
			Version: cfg.MCP.Version,
			APIKey:  vault.Get(secrets.EnvMCPAPIKey),
		}, mcp.ServerDeps{Workspaces: mgr})
		if err := mcpSrv.Start(); err != nil {
			return fmt.Errorf("mcp: %w", err)
		}
	}

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Event streams stay open; handlers bound their own work.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// SIGHUP reloads secrets; SIGINT and SIGTERM shut down.
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	defer signal.Stop(reload)
	go func() {
		for range reload {
			if err := vault.Reload(); err != nil {
				slog.Error("secret reload failed", "error", err)
				continue
			}
			slog.Info("secrets reloaded", "keys", vault.Keys())
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-done:
	case err := <-serveErr:
		return fmt.Errorf("server: %w", err)
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}
	if mcpSrv != nil {
		if err := mcpSrv.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("mcp: %w", err))
		}
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("workspaces: %w", err))
	}
	if err := fanout.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("fanout: %w", err))
	}
	return errors.Join(errs...)
}

// buildCache assembles the read cache: ristretto in process, backed by a
// NATS KV bucket when one is configured. A zero L1 size disables caching.
func buildCache(ctx context.Context, cfg *config.Config, queue *cfnats.Queue) (cache.Cache, func(), error) {
	if cfg.Cache.L1MaxSizeMB <= 0 {
		return nil, func() {}, nil
	}
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return nil, nil, fmt.Errorf("cache: %w", err)
	}
	if queue == nil || cfg.Cache.L2Bucket == "" {
		return l1, l1.Close, nil
	}
	l2, err := natskv.Open(ctx, queue.JetStream(), cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
	if err != nil {
		l1.Close()
		return nil, nil, err
	}
	slog.Info("read cache tiered", "l2_bucket", cfg.Cache.L2Bucket)
	return tiered.New(l1, l2, cfg.Cache.L2TTL), l1.Close, nil
}

func remoteConfig(c config.Remote) map[string]string {
	m := map[string]string{
		"base_url":             c.BaseURL,
		"graphql_url":          c.GraphQLURL,
		"timeout":              c.Timeout.String(),
		"max_concurrent":       strconv.Itoa(c.MaxConcurrent),
		"retry_max_attempts":   strconv.Itoa(c.Retry.MaxAttempts),
		"retry_initial_delay":  c.Retry.InitialDelay.String(),
		"retry_max_delay":      c.Retry.MaxDelay.String(),
		"retry_multiplier":     strconv.FormatFloat(c.Retry.Multiplier, 'f', -1, 64),
		"retry_jitter":         strconv.FormatFloat(c.Retry.JitterPercent, 'f', -1, 64),
		"breaker_max_failures": strconv.Itoa(c.Breaker.MaxFailures),
		"breaker_timeout":      c.Breaker.Timeout.String(),
	}
	for k, v := range m {
		if v == "" || v == "0" || v == "0s" {
			delete(m, k)
		}
	}
	return m
}

// originPatterns turns the CORS origin URL into the host pattern the
// WebSocket handshake matches against.
func originPatterns(origin string) []string {
	if origin == "" || origin == "*" {
		return nil
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return []string{origin}
	}
	return []string{u.Host}
}

func otelServiceName(c config.OTEL) string {
	if !c.Enabled {
		return ""
	}
	return c.ServiceName
}

// healthHandler returns an http.HandlerFunc that reports dependency health.
// It never reports secrets or connection strings.
func healthHandler(cfg *config.Config, pool *pgxpool.Pool, queue *cfnats.Queue, provider remote.Provider) http.HandlerFunc {
	type healthStatus struct {
		Status   string `json:"status"`
		Remote   string `json:"remote"`
		Breaker  string `json:"breaker,omitempty"`
		Postgres string `json:"postgres"`
		NATS     string `json:"nats"`
	}
	type breakerReporter interface{ BreakerState() string }

	return func(w http.ResponseWriter, r *http.Request) {
		status := healthStatus{
			Status:   "ok",
			Remote:   provider.Name(),
			Postgres: "disabled",
			NATS:     "disabled",
		}
		if b, ok := provider.(breakerReporter); ok {
			status.Breaker = b.BreakerState()
			if status.Breaker == "open" {
				status.Status = "degraded"
			}
		}
		if pool != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			status.Postgres = "ok"
			if err := pool.Ping(ctx); err != nil {
				status.Postgres = "unreachable"
				status.Status = "degraded"
			}
		}
		if queue != nil {
			status.NATS = "ok"
			if !queue.IsConnected() {
				status.NATS = "disconnected"
				status.Status = "degraded"
			}
		}

		code := http.StatusOK
		if status.Status != "ok" && r.URL.Path == "/health/ready" {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}
