// Package httpserver exposes the hub over HTTP: the WebSocket stream
// endpoint, the producer publish endpoint, status, health and metrics.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/marketpulse/internal/adapter/metrics"
	"github.com/pscheid92/marketpulse/internal/adapter/websocket"
	"github.com/pscheid92/marketpulse/internal/broadcast"
	"github.com/pscheid92/marketpulse/internal/domain"
	"github.com/pscheid92/marketpulse/internal/platform/config"
)

type streamHub interface {
	domain.Publisher
	CheckChannel(name string) error
	Attach(channel string, transport broadcast.Transport, topics []string) (*broadcast.Connection, error)
	Serve(ctx context.Context, conn *broadcast.Connection) error
	Status() broadcast.Status
	ShuttingDown() bool
}

var _ streamHub = (*broadcast.Hub)(nil)

type Server struct {
	echo   *echo.Echo
	config *config.Config
	hub    streamHub

	upgrader    *gorillaws.Upgrader
	limits      *ConnectionLimits
	httpMetrics *metrics.HTTPMetrics
	wsMetrics   *metrics.WebSocketMetrics
	metrics     http.Handler

	healthChecks []HealthCheck
	startTime    time.Time
}

// NewServer wires routes and registers HTTP metrics on reg.
func NewServer(cfg *config.Config, hub streamHub, reg *prometheus.Registry, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:         e,
		config:       cfg,
		hub:          hub,
		upgrader:     websocket.NewUpgrader(websocket.NewCheckOrigin(cfg.AppURL, cfg.IsDevelopment())),
		limits:       NewConnectionLimits(cfg.MaxWebSocketConnections, cfg.MaxConnectionsPerIP, cfg.ConnectRate, cfg.ConnectBurst),
		httpMetrics:  metrics.NewHTTPMetrics(reg),
		wsMetrics:    metrics.NewWebSocketMetrics(reg),
		metrics:      metrics.Handler(reg),
		healthChecks: healthChecks,
		startTime:    time.Now(),
	}

	srv.registerRoutes()
	return srv
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

func (s *Server) handleStatus(c echo.Context) error {
	if err := c.JSON(http.StatusOK, s.hub.Status()); err != nil {
		return fmt.Errorf("failed to write status response: %w", err)
	}
	return nil
}
