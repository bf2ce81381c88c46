package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mrtnsch/checkboxes/internal/adapter/httpserver"
	"github.com/mrtnsch/checkboxes/internal/adapter/memory"
	"github.com/mrtnsch/checkboxes/internal/adapter/metrics"
	"github.com/mrtnsch/checkboxes/internal/adapter/redis"
	"github.com/mrtnsch/checkboxes/internal/broadcast"
	"github.com/mrtnsch/checkboxes/internal/domain"
	"github.com/mrtnsch/checkboxes/internal/platform/config"
	"github.com/mrtnsch/checkboxes/internal/platform/logging"
	"github.com/mrtnsch/checkboxes/internal/platform/retry"
	"github.com/mrtnsch/checkboxes/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
)

const shutdownTimeout = 10 * time.Second

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// setupStore builds the configured backend. The returned client is nil for
// the memory backend.
func setupStore(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (domain.CheckboxStore, *goredis.Client) {
	if cfg.StoreBackend == config.BackendMemory {
		slog.Warn("Using in-memory store, state is lost on restart")
		return memory.NewBitmapStore(cfg.NumCheckboxes), nil
	}

	storeMetrics := metrics.NewStoreMetrics(reg)
	client, err := redis.NewClient(ctx, cfg.RedisURL,
		redis.NewMetricsHook(storeMetrics),
		redis.NewCircuitBreakerHook(storeMetrics),
	)
	if err != nil {
		slog.Error("Failed to create Redis client", "error", err)
		os.Exit(1)
	}
	return redis.NewBitmapStore(client, cfg.RedisBitmapName, cfg.NumCheckboxes), client
}

// waitForStore pings the store with backoff so a slow-starting Redis does not
// fail the boot.
func waitForStore(ctx context.Context, store domain.CheckboxStore) {
	policy := retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Store not ready, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	err := retry.DoVoid(ctx, policy, retry.Always, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return store.Ping(pingCtx)
	})
	if err != nil {
		slog.Error("Store unreachable", "error", err)
		os.Exit(1)
	}
}

// shutdown closes every websocket client, waits until their close frames
// are written, then stops the HTTP server, all bounded by ctx. echo does not
// track hijacked connections, so the session wait must come first.
func shutdown(ctx context.Context, srv *httpserver.Server, registry *broadcast.Registry, sessions *session.Handler) error {
	closed := registry.CloseAll(broadcast.ReasonShutdown)
	slog.Info("Closing websocket clients", "count", closed)

	var errs []error
	if err := sessions.Wait(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func runGracefulShutdown(srv *httpserver.Server, registry *broadcast.Registry, sessions *session.Handler) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdown(shutdownCtx, srv, registry, sessions); err != nil {
			slog.Error("Shutdown error", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "backend", cfg.StoreBackend, "checkboxes", cfg.NumCheckboxes)

	reg := metrics.NewRegistry()
	metrics.RegisterBuildInfo(reg)
	wsMetrics := metrics.NewWebSocketMetrics(reg)
	toggleMetrics := metrics.NewToggleMetrics(reg)
	httpMetrics := metrics.NewHTTPMetrics(reg)

	ctx := context.Background()
	store, redisClient := setupStore(ctx, cfg, reg)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}
	waitForStore(ctx, store)

	registry := broadcast.NewRegistry(cfg.OutboundBufferSize, wsMetrics)
	sessions := session.NewHandler(registry, store, clock, cfg.StoreTimeout, wsMetrics, toggleMetrics)

	srv := httpserver.NewServer(cfg, httpserver.Dependencies{
		Store:            store,
		Sessions:         sessions,
		MetricsHandler:   metrics.Handler(reg),
		WebSocketMetrics: wsMetrics,
		HTTPMetrics:      httpMetrics,
		HealthChecks: []httpserver.HealthCheck{
			{Name: "store", Check: store.Ping},
		},
		Clock: clock,
	})

	done := runGracefulShutdown(srv, registry, sessions)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
	slog.Info("Shutdown complete")
}
