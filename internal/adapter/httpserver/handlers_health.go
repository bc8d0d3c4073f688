package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sockpulse/sockpulse/internal/platform/version"
)

const (
	startupProbeTimeout   = 2 * time.Second
	readinessProbeTimeout = 5 * time.Second
)

// HealthCheck is a named dependency probe run by the startup and readiness
// endpoints.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

func (s *Server) handleStartup(c echo.Context) error {
	return s.runProbes(c, startupProbeTimeout)
}

func (s *Server) handleReadiness(c echo.Context) error {
	return s.runProbes(c, readinessProbeTimeout)
}

// handleLiveness never consults dependencies: a broker outage must not get
// the process restarted while it still holds live connections.
func (s *Server) handleLiveness(c echo.Context) error {
	health := s.monitor.AllHealth()
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    time.Since(s.startTime).Seconds(),
		"monitored": health.Monitored,
		"stale":     health.Stale,
	})
}

// runProbes runs every registered check and reports them all, so one probe
// response names each broken dependency instead of only the first.
func (s *Server) runProbes(c echo.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
	defer cancel()

	checks := make(map[string]string, len(s.healthChecks))
	failed := ""
	for _, hc := range s.healthChecks {
		if err := hc.Check(ctx); err != nil {
			checks[hc.Name] = err.Error()
			if failed == "" {
				failed = hc.Name
			}
			continue
		}
		checks[hc.Name] = "ok"
	}

	if failed != "" {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status":       "unhealthy",
			"failed_check": failed,
			"checks":       checks,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "ready", "checks": checks})
}

func (s *Server) handleVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, version.Get())
}
