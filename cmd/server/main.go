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
	goredis "github.com/redis/go-redis/v9"

	"github.com/sockpulse/sockpulse/internal/adapter/httpserver"
	"github.com/sockpulse/sockpulse/internal/adapter/jwtauth"
	"github.com/sockpulse/sockpulse/internal/adapter/natsbroker"
	"github.com/sockpulse/sockpulse/internal/adapter/redisbroker"
	"github.com/sockpulse/sockpulse/internal/heartbeat"
	"github.com/sockpulse/sockpulse/internal/platform/config"
	"github.com/sockpulse/sockpulse/internal/platform/logging"
	"github.com/sockpulse/sockpulse/internal/platform/retry"
	"github.com/sockpulse/sockpulse/internal/registry"
	"github.com/sockpulse/sockpulse/internal/relay"
	"github.com/sockpulse/sockpulse/internal/router"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// setupRedis dials Redis with a few retries so a briefly unready
// dependency does not kill the process at boot.
func setupRedis(ctx context.Context, cfg *config.Config) *goredis.Client {
	policy := retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Redis not ready, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}

	client, err := retry.Do(ctx, policy, nil, func() (*goredis.Client, error) {
		return redisbroker.NewClient(ctx, cfg.RedisURL)
	})
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(srv *httpserver.Server, monitor *heartbeat.Monitor, rt *router.Router, cleanup func()) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		monitor.StopAll()
		if err := rt.Close(); err != nil {
			slog.Error("Router shutdown error", "error", err)
		}
		cleanup()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()
	ctx := context.Background()

	cfg := setupConfig()

	logging.Init(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "broker", cfg.BrokerKind)

	var (
		broker       router.BrokerClient
		registryOpts []registry.Option
		healthChecks []httpserver.HealthCheck
		cleanup      = func() {}
	)

	switch cfg.BrokerKind {
	case config.BrokerNATS:
		broker = natsbroker.NewBroker(cfg.NATSServer)
	default:
		redisClient := setupRedis(ctx, cfg)
		cleanup = func() { _ = redisClient.Close() }

		broker = redisbroker.NewBroker(redisClient)
		registryOpts = append(registryOpts, registry.WithStore(redisbroker.NewStore(redisClient), cfg.ConnectionTTL))
		healthChecks = append(healthChecks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}

	reg := registry.New(clock, registryOpts...)

	rt, err := router.New(broker, router.Config{
		ReconnectBaseDelay: cfg.ReconnectBaseDelay,
		ReconnectMaxDelay:  cfg.ReconnectMaxDelay,
	}, clock)
	if err != nil {
		slog.Error("Failed to create router", "error", err)
		os.Exit(1)
	}

	relay.New(reg).Attach(ctx, rt)
	if err := rt.Start(ctx); err != nil {
		slog.Error("Failed to start router", "error", err)
		os.Exit(1)
	}

	monitor, err := heartbeat.NewMonitor(heartbeat.Config{
		PingInterval: cfg.PingInterval,
		PongTimeout:  cfg.PongTimeout,
	}, clock, heartbeat.WithBeatHook(func(connectionID string) {
		reg.TouchTTL(ctx, connectionID)
	}))
	if err != nil {
		slog.Error("Failed to create heartbeat monitor", "error", err)
		os.Exit(1)
	}

	auth := jwtauth.New(cfg.JWTSecret)
	srv := httpserver.NewServer(cfg, reg, monitor, rt, auth, healthChecks)

	done := runGracefulShutdown(srv, monitor, rt, cleanup)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
