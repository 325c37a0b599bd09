package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/marketpulse/internal/adapter/metrics"
	"github.com/pscheid92/marketpulse/internal/domain"
	"github.com/pscheid92/marketpulse/internal/platform/retry"
	"github.com/pscheid92/marketpulse/internal/platform/tracing"
)

const (
	source       = "postgres"
	closeTimeout = 2 * time.Second
)

var listenPolicy = retry.Policy{
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     30 * time.Second,
}

// Listener holds a dedicated connection in LISTEN on one notification
// channel. Each notification payload is a producer envelope naming its
// target channel.
type Listener struct {
	pool      *pgxpool.Pool
	channel   string
	publisher domain.Publisher
	metrics   *metrics.BridgeMetrics
	policy    retry.Policy
}

func NewListener(pool *pgxpool.Pool, channel string, publisher domain.Publisher, m *metrics.BridgeMetrics) *Listener {
	return &Listener{
		pool:      pool,
		channel:   channel,
		publisher: publisher,
		metrics:   m,
		policy:    listenPolicy,
	}
}

// Run listens until ctx is cancelled, reconnecting with backoff when the
// connection is lost.
func (l *Listener) Run(ctx context.Context) error {
	policy := l.policy
	policy.OnRetry = func(attempt int, err error, backoff time.Duration) {
		l.metrics.Reconnect(source)
		slog.Warn("Postgres listener lost, reconnecting", "pg_channel", l.channel, "attempt", attempt, "backoff", backoff, "error", err)
	}

	err := retry.DoVoid(ctx, policy, classify, func() error { return l.listen(ctx) })
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func classify(err error) retry.Action {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Stop
	}
	return retry.Retry
}

func (l *Listener) listen(ctx context.Context) error {
	pooled, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	// The LISTEN session must not return to the pool.
	conn := pooled.Hijack()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen on %q: %w", l.channel, err)
	}
	slog.Info("Postgres bridge listening", "pg_channel", l.channel)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		l.handle([]byte(n.Payload))
	}
}

func (l *Listener) handle(data []byte) {
	msg, err := domain.DecodeProducerMessage(data)
	if err == nil && msg.Channel == "" {
		err = errors.New("missing channel")
	}
	if err != nil {
		l.metrics.Received(source, "invalid")
		slog.Warn("Dropping malformed notification", "pg_channel", l.channel, "error", err)
		return
	}

	_, span := tracing.StartPublish(context.Background(), source, msg.Channel, msg.Topic)
	res := l.publisher.Publish(msg.Channel, msg.Topic, msg.Payload)
	tracing.EndPublish(span, res)
	if !res.Accepted {
		l.metrics.Received(source, "rejected")
		slog.Debug("Notification rejected", "channel", msg.Channel, "topic", msg.Topic, "reason", res.Reason)
		return
	}
	l.metrics.Received(source, "published")
}

// Ping is the listener's readiness check.
func (l *Listener) Ping(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

// Notify publishes an event through pg_notify, the producer side of the
// bridge.
func Notify(ctx context.Context, pool *pgxpool.Pool, pgChannel, channel, topic string, payload json.RawMessage) error {
	data, err := json.Marshal(domain.ProducerMessage{Channel: channel, Topic: topic, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal producer message: %w", err)
	}
	if _, err := pool.Exec(ctx, "SELECT pg_notify($1, $2)", pgChannel, string(data)); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}
