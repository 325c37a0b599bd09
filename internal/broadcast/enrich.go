package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/pscheid92/marketpulse/internal/domain"
)

// Causes of a failed enrichment, used as metric labels.
const (
	enrichCauseTimeout     = "timeout"
	enrichCauseError       = "error"
	enrichCauseInvalid     = "invalid_payload"
	enrichCauseCircuitOpen = "circuit_open"
)

// enrichment wraps a channel's Enricher with a timeout and a circuit breaker.
// The raw payload is delivered whenever the hook fails.
type enrichment struct {
	channel  string
	enricher domain.Enricher
	breaker  circuitbreaker.CircuitBreaker[any]
	timeout  time.Duration
}

func newEnrichment(channel string, e domain.Enricher, cfg Config) *enrichment {
	breaker := circuitbreaker.NewBuilder[any]().
		WithFailureThreshold(cfg.EnrichFailureThreshold).
		WithDelay(cfg.EnrichBreakerDelay).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Enrichment circuit breaker state changed",
				"channel", channel,
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
		}).
		Build()

	return &enrichment{
		channel:  channel,
		enricher: e,
		breaker:  breaker,
		timeout:  cfg.EnrichTimeout,
	}
}

type enrichResult struct {
	payload json.RawMessage
	err     error
}

// apply runs the hook for ev. On failure it returns the raw payload together
// with the failure cause and an error wrapping domain.ErrEnrichment.
func (en *enrichment) apply(ev domain.Event) (json.RawMessage, string, error) {
	if !en.breaker.TryAcquirePermit() {
		return ev.Payload, enrichCauseCircuitOpen, fmt.Errorf("%w: %w", domain.ErrEnrichment, circuitbreaker.ErrOpen)
	}

	ctx, cancel := context.WithTimeout(context.Background(), en.timeout)
	defer cancel()

	done := make(chan enrichResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- enrichResult{err: fmt.Errorf("enricher panicked: %v", r)}
			}
		}()
		payload, err := en.enricher.Enrich(ctx, ev)
		done <- enrichResult{payload: payload, err: err}
	}()

	var res enrichResult
	select {
	case res = <-done:
	case <-ctx.Done():
		en.breaker.RecordError(ctx.Err())
		return ev.Payload, enrichCauseTimeout, fmt.Errorf("%w: timed out after %s", domain.ErrEnrichment, en.timeout)
	}

	switch {
	case res.err != nil && errors.Is(res.err, context.DeadlineExceeded):
		en.breaker.RecordError(res.err)
		return ev.Payload, enrichCauseTimeout, fmt.Errorf("%w: %w", domain.ErrEnrichment, res.err)
	case res.err != nil:
		en.breaker.RecordError(res.err)
		return ev.Payload, enrichCauseError, fmt.Errorf("%w: %w", domain.ErrEnrichment, res.err)
	case !json.Valid(res.payload):
		err := errors.New("enricher returned invalid JSON")
		en.breaker.RecordError(err)
		return ev.Payload, enrichCauseInvalid, fmt.Errorf("%w: %w", domain.ErrEnrichment, err)
	}

	en.breaker.RecordSuccess()
	return res.payload, "", nil
}
