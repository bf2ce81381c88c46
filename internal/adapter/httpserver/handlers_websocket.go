package httpserver

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	apperrors "github.com/mrtnsch/checkboxes/internal/platform/errors"
)

// Connection results recorded on the websocket connections counter.
const (
	resultAccepted      = "accepted"
	resultUpgradeFailed = "upgrade_failed"
)

// handleWebSocket admits the connection through the limits, upgrades it and
// runs its session on this goroutine until the peer goes away.
func (s *Server) handleWebSocket(c echo.Context) error {
	ctx := c.Request().Context()
	ip := c.RealIP()

	ok, reason := s.limits.Acquire(ip)
	if !ok {
		s.recordConnection(string(reason))
		slog.WarnContext(ctx, "WebSocket connection rejected", "ip", ip, "reason", reason)
		if reason == LimitReasonGlobal {
			return apperrors.UnavailableError("server at connection capacity", nil).WithContext("reason", string(reason))
		}
		return apperrors.RateLimitedError("too many connections").WithContext("reason", string(reason))
	}
	defer s.limits.Release(ip)

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written an HTTP error response.
		s.recordConnection(resultUpgradeFailed)
		slog.DebugContext(ctx, "WebSocket upgrade failed", "ip", ip, "error", err)
		return nil
	}
	s.recordConnection(resultAccepted)

	s.sessions.Serve(ctx, conn)
	return nil
}

func (s *Server) recordConnection(result string) {
	if s.wsMetrics != nil {
		s.wsMetrics.ConnectionsTotal.WithLabelValues(result).Inc()
	}
}
