package httpserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/marketpulse/internal/domain"
	apperrors "github.com/pscheid92/marketpulse/internal/platform/errors"
	"github.com/pscheid92/marketpulse/internal/platform/tracing"
)

const maxPublishBody = 1 << 20

type publishRequest struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) registerPublishRoutes() {
	s.echo.POST("/publish/:channel", s.handlePublish,
		requireBearerToken(s.config.PublishToken),
		newRateLimiter(publishRatePerSecond, publishBurst),
	)
}

// handlePublish answers 202 with the assigned seq, 503 while shutting down
// and 400 for malformed input. A drop_newest rejection is 503 too since the
// producer may retry.
func (s *Server) handlePublish(c echo.Context) error {
	channel := c.Param("channel")

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPublishBody+1))
	if err != nil {
		return apperrors.ValidationError("failed to read body")
	}
	if len(body) > maxPublishBody {
		return apperrors.ValidationError("body too large").WithField("limit", maxPublishBody)
	}

	var req publishRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return apperrors.ValidationError("body must be a JSON object with topic and payload")
	}

	_, span := tracing.StartPublish(c.Request().Context(), "http", channel, req.Topic)
	res := s.hub.Publish(channel, req.Topic, req.Payload)
	tracing.EndPublish(span, res)
	status := publishStatus(res)
	if err := c.JSON(status, res); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func publishStatus(res domain.PublishResult) int {
	switch {
	case res.Accepted:
		return http.StatusAccepted
	case res.Reason == domain.ReasonShuttingDown, res.Reason == domain.ReasonQueueFull:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}
