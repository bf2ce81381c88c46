package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/mrtnsch/checkboxes/internal/adapter/metrics"
	"github.com/mrtnsch/checkboxes/internal/domain"
	"github.com/mrtnsch/checkboxes/internal/platform/config"
	"github.com/mrtnsch/checkboxes/internal/session"
)

// Dependencies are the collaborators the HTTP surface needs. Metric fields
// and MetricsHandler may be nil.
type Dependencies struct {
	Store            domain.CheckboxStore
	Sessions         *session.Handler
	MetricsHandler   http.Handler
	WebSocketMetrics *metrics.WebSocketMetrics
	HTTPMetrics      *metrics.HTTPMetrics
	HealthChecks     []HealthCheck
	Clock            clockwork.Clock
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	store          domain.CheckboxStore
	sessions       *session.Handler
	metricsHandler http.Handler
	wsMetrics      *metrics.WebSocketMetrics
	httpMetrics    *metrics.HTTPMetrics

	upgrader     websocket.Upgrader
	limits       *ConnectionLimits
	healthChecks []HealthCheck
	clock        clockwork.Clock
	startTime    time.Time
}

func NewServer(cfg *config.Config, deps Dependencies) *Server {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:           e,
		config:         cfg,
		store:          deps.Store,
		sessions:       deps.Sessions,
		metricsHandler: deps.MetricsHandler,
		wsMetrics:      deps.WebSocketMetrics,
		httpMetrics:    deps.HTTPMetrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     NewCheckOrigin(cfg.AllowedOrigins),
		},
		limits: NewConnectionLimits(
			int64(cfg.MaxWebSocketConnections),
			cfg.MaxConnectionsPerIP,
			cfg.ConnectionRatePerIP,
			cfg.ConnectionRateBurst,
			clock,
		),
		healthChecks: deps.HealthChecks,
		clock:        clock,
		startTime:    clock.Now(),
	}

	srv.registerRoutes()

	return srv
}

// ServeHTTP lets tests and embedders drive the router directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port, "checkboxes", s.store.Size())
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones. Hijacked
// websocket connections are not tracked by it; close them through the
// registry first.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
