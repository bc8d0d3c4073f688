package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/sockpulse/sockpulse/internal/adapter/wstransport"
	"github.com/sockpulse/sockpulse/internal/envelope"
	"github.com/sockpulse/sockpulse/internal/metrics"
	"github.com/sockpulse/sockpulse/internal/registry"
)

// handleWebSocket runs one client connection for its whole lifetime. The
// handler returns when the client disconnects, the heartbeat declares the
// connection dead, or the server shuts down.
func (s *Server) handleWebSocket(c echo.Context) error {
	ip := c.RealIP()
	ok, reason := s.limits.Acquire(ip)
	if !ok {
		metrics.ServerConnectionsRejectedTotal.WithLabelValues(string(reason)).Inc()
		slog.Warn("Connection rejected", "reason", reason, "ip", ip)
		if reason == LimitReasonGlobal {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "server at capacity")
		}
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many connections")
	}
	defer s.limits.Release(ip)

	ctx := c.Request().Context()
	transport := s.upgrader.Transport(c.Response(), c.Request())

	conn, err := s.registry.Connect(ctx, transport, credentialFrom(c), s.auth)
	if err != nil {
		// The transport already answered, either with a close frame
		// carrying the policy-violation code or with an upgrade error.
		slog.Info("Connection not established", "ip", ip, "error", err)
		return nil
	}

	// Heartbeat death and read-loop exit both funnel into Disconnect,
	// which is idempotent.
	cleanupCtx := context.WithoutCancel(ctx)
	err = s.monitor.Watch(conn.ID, transport, func(connectionID string) {
		s.registry.Disconnect(cleanupCtx, connectionID)
	})
	if err != nil {
		s.registry.Disconnect(cleanupCtx, conn.ID)
		return nil
	}

	readErr := transport.ReadLoop(ctx, wstransport.ReadHooks{
		OnPong: func() { s.monitor.RecordPong(conn.ID) },
		OnEnvelope: func(ctx context.Context, env *envelope.Envelope) {
			s.handleClientEnvelope(ctx, conn, env)
		},
	})

	s.monitor.Stop(conn.ID)
	s.registry.Disconnect(cleanupCtx, conn.ID)
	slog.Debug("Client connection ended", "connection_id", conn.ID, "error", readErr)
	return nil
}

// credentialFrom pulls the token from the query string or, failing that,
// a bearer Authorization header. WebSocket browser clients cannot set
// headers, so the query parameter is the primary channel.
func credentialFrom(c echo.Context) string {
	if token := c.QueryParam("token"); token != "" {
		return token
	}
	auth := c.Request().Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return token
	}
	return ""
}

// handleClientEnvelope processes application messages from the client.
// Room membership is the only client-driven operation; everything else is
// answered with an error envelope.
func (s *Server) handleClientEnvelope(ctx context.Context, conn *registry.Connection, env *envelope.Envelope) {
	switch env.Type {
	case "join_room":
		roomID, ok := env.Data["room_id"].(string)
		if !ok || roomID == "" {
			s.replyError(ctx, conn.ID, env, "join_room requires room_id")
			return
		}
		if s.registry.JoinRoom(conn.ID, roomID) {
			s.registry.SendPersonal(ctx, envelope.Ack(env.EventID), conn.ID)
		}
	case "leave_room":
		roomID, ok := env.Data["room_id"].(string)
		if !ok || roomID == "" {
			s.replyError(ctx, conn.ID, env, "leave_room requires room_id")
			return
		}
		s.registry.LeaveRoom(conn.ID, roomID)
		s.registry.SendPersonal(ctx, envelope.Ack(env.EventID), conn.ID)
	default:
		s.replyError(ctx, conn.ID, env, "unsupported message type")
	}
}

func (s *Server) replyError(ctx context.Context, connectionID string, env *envelope.Envelope, message string) {
	details := map[string]any{"type": env.Type, "event_id": env.EventID}
	s.registry.SendPersonal(ctx, envelope.Error(message, details), connectionID)
}
