package httpserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sockpulse/sockpulse/internal/envelope"
	apperrors "github.com/sockpulse/sockpulse/internal/platform/errors"
)

type publishRequest struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// buildEnvelope validates a publish request into an envelope.
func buildEnvelope(c echo.Context) (*envelope.Envelope, error) {
	var req publishRequest
	if err := c.Bind(&req); err != nil {
		return nil, apperrors.ValidationError("invalid request body")
	}
	if req.Type == "" {
		return nil, apperrors.ValidationError("message type is required")
	}
	env, err := envelope.New(req.Type, req.Data)
	if err != nil {
		return nil, apperrors.ValidationError(err.Error())
	}
	return env, nil
}

func accepted(c echo.Context, env *envelope.Envelope) error {
	response := map[string]string{"event_id": env.EventID}
	if err := c.JSON(http.StatusAccepted, response); err != nil {
		return fmt.Errorf("failed to write publish response: %w", err)
	}
	return nil
}

func (s *Server) handlePublishBroadcast(c echo.Context) error {
	env, err := buildEnvelope(c)
	if err != nil {
		return err
	}
	s.publisher.PublishBroadcast(c.Request().Context(), env)
	return accepted(c, env)
}

func (s *Server) handlePublishToUser(c echo.Context) error {
	env, err := buildEnvelope(c)
	if err != nil {
		return err
	}
	s.publisher.PublishToUser(c.Request().Context(), env, c.Param("id"))
	return accepted(c, env)
}

func (s *Server) handlePublishToConnection(c echo.Context) error {
	env, err := buildEnvelope(c)
	if err != nil {
		return err
	}
	s.publisher.PublishToConnection(c.Request().Context(), env, c.Param("id"))
	return accepted(c, env)
}

func (s *Server) handlePublishToRoom(c echo.Context) error {
	env, err := buildEnvelope(c)
	if err != nil {
		return err
	}
	s.publisher.PublishToRoom(c.Request().Context(), env, c.Param("id"))
	return accepted(c, env)
}

func (s *Server) handleStats(c echo.Context) error {
	stats := s.registry.Stats(c.Request().Context())
	health := s.monitor.AllHealth()

	response := map[string]any{
		"local_connections":  stats.LocalConnections,
		"local_users":        stats.LocalUsers,
		"global_connections": stats.GlobalConnections,
		"monitored":          health.Monitored,
		"held_slots":         s.limits.Current(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write stats response: %w", err)
	}
	return nil
}
