// Package httpserver exposes the service over HTTP: the WebSocket endpoint,
// a small publish API, health probes, stats, and Prometheus metrics.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sockpulse/sockpulse/internal/adapter/wstransport"
	"github.com/sockpulse/sockpulse/internal/envelope"
	"github.com/sockpulse/sockpulse/internal/heartbeat"
	"github.com/sockpulse/sockpulse/internal/platform/config"
	"github.com/sockpulse/sockpulse/internal/registry"
)

// Publisher hands envelopes to the broker for cross-instance routing.
type Publisher interface {
	PublishBroadcast(ctx context.Context, env *envelope.Envelope)
	PublishToUser(ctx context.Context, env *envelope.Envelope, userID string)
	PublishToConnection(ctx context.Context, env *envelope.Envelope, connectionID string)
	PublishToRoom(ctx context.Context, env *envelope.Envelope, roomID string)
}

// Server wires the HTTP surface together.
type Server struct {
	echo   *echo.Echo
	config *config.Config

	registry  *registry.Registry
	monitor   *heartbeat.Monitor
	publisher Publisher
	auth      registry.Authenticator

	upgrader *wstransport.Upgrader
	limits   *ConnLimits

	healthChecks []HealthCheck
	startTime    time.Time
}

// NewServer assembles the server from its collaborators.
func NewServer(cfg *config.Config, reg *registry.Registry, monitor *heartbeat.Monitor, publisher Publisher, auth registry.Authenticator, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	isDevelopment := cfg.AppEnv != "production"

	srv := &Server{
		echo:         e,
		config:       cfg,
		registry:     reg,
		monitor:      monitor,
		publisher:    publisher,
		auth:         auth,
		upgrader:     wstransport.NewUpgrader(cfg.AppURL, isDevelopment),
		limits:       NewConnLimits(cfg.MaxConnections, cfg.MaxConnectionsPerIP, cfg.ConnectionsPerSec, cfg.ConnectionBurst),
		healthChecks: healthChecks,
		startTime:    time.Now(),
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
