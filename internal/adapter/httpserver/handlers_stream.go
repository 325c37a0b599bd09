package httpserver

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/marketpulse/internal/domain"
	apperrors "github.com/pscheid92/marketpulse/internal/platform/errors"
)

const attachRefusalTimeout = time.Second

func (s *Server) registerStreamRoutes() {
	s.echo.GET("/stream/:channel", s.handleStream)
}

// handleStream upgrades to a WebSocket, attaches it to the hub and blocks in
// the read loop until the connection ends.
func (s *Server) handleStream(c echo.Context) error {
	channel := c.Param("channel")
	if err := s.hub.CheckChannel(channel); err != nil {
		return channelError(channel, err)
	}

	topics, err := parseTopics(c.QueryParam("topics"))
	if err != nil {
		return apperrors.ValidationError(err.Error()).WithField("channel", channel)
	}

	ip := c.RealIP()
	if ok, reason := s.limits.Acquire(ip); !ok {
		s.wsMetrics.Rejected(string(reason))
		return apperrors.RateLimitedError("connection limit exceeded").WithField("reason", string(reason))
	}
	defer func() {
		s.limits.Release(ip)
		s.wsMetrics.SetUniqueIPs(s.limits.UniqueIPs())
	}()
	s.wsMetrics.SetUniqueIPs(s.limits.UniqueIPs())

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader already answered the handshake.
		s.wsMetrics.Failed()
		return nil
	}

	ctx := c.Request().Context()
	conn, err := s.hub.Attach(channel, ws, topics)
	if err != nil {
		s.refuseAttached(ws, err)
		slog.InfoContext(ctx, "Stream connection refused", "channel", channel, "error", err)
		return nil
	}
	s.wsMetrics.Accepted()

	start := time.Now()
	err = s.hub.Serve(ctx, conn)
	s.wsMetrics.Closed(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, domain.ErrClientDisconnect) {
		slog.DebugContext(ctx, "Stream ended", "channel", channel, "conn_id", conn.ID(), "error", err)
	}
	return nil
}

// refuseAttached closes an upgraded socket the hub would not take, with a
// close code telling the client whether to retry.
func (s *Server) refuseAttached(ws *gorillaws.Conn, err error) {
	code, reason := gorillaws.ClosePolicyViolation, "connection refused"
	switch {
	case errors.Is(err, domain.ErrChannelFull):
		code, reason = gorillaws.CloseTryAgainLater, "channel full"
		s.wsMetrics.Rejected("channel_full")
	case errors.Is(err, domain.ErrShutdownInProgress):
		code, reason = gorillaws.CloseGoingAway, "server shutting down"
		s.wsMetrics.Rejected("shutting_down")
	default:
		s.wsMetrics.Failed()
	}
	deadline := time.Now().Add(attachRefusalTimeout)
	_ = ws.WriteControl(gorillaws.CloseMessage, gorillaws.FormatCloseMessage(code, reason), deadline)
	_ = ws.Close()
}

// parseTopics splits a comma-separated topics query value. Empty entries are
// ignored so "?topics=" means no filter.
func parseTopics(raw string) ([]string, error) {
	var topics []string
	for t := range strings.SplitSeq(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	return domain.NormalizeTopics(topics)
}

func channelError(channel string, err error) error {
	if errors.Is(err, domain.ErrShutdownInProgress) {
		return apperrors.UnavailableError("server shutting down", err)
	}
	return apperrors.ValidationError("invalid channel").WithField("channel", channel)
}
