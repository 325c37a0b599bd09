// Package redis feeds events published on Redis pub/sub channels into the hub.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pscheid92/marketpulse/internal/adapter/metrics"
	"github.com/pscheid92/marketpulse/internal/domain"
	"github.com/pscheid92/marketpulse/internal/platform/retry"
	"github.com/pscheid92/marketpulse/internal/platform/tracing"
	goredis "github.com/redis/go-redis/v9"
)

const (
	source       = "redis"
	breakerDelay = 30 * time.Second
)

var subscribePolicy = retry.Policy{
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     30 * time.Second,
}

// NewClient parses redisURL, installs the metrics and circuit breaker hooks
// and verifies the connection.
func NewClient(ctx context.Context, redisURL string, m *metrics.BridgeMetrics) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := goredis.NewClient(opts)
	rdb.AddHook(&metricsHook{metrics: m})
	rdb.AddHook(newBreakerHook(breakerDelay, m))
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}

// Bridge pattern-subscribes to "<prefix>:*" and publishes each message to the
// hub channel named by the suffix.
type Bridge struct {
	rdb       *goredis.Client
	prefix    string
	publisher domain.Publisher
	metrics   *metrics.BridgeMetrics
	policy    retry.Policy
}

func NewBridge(rdb *goredis.Client, prefix string, publisher domain.Publisher, m *metrics.BridgeMetrics) *Bridge {
	return &Bridge{
		rdb:       rdb,
		prefix:    prefix,
		publisher: publisher,
		metrics:   m,
		policy:    subscribePolicy,
	}
}

func (b *Bridge) pattern() string { return b.prefix + ":*" }

// Run consumes messages until ctx is cancelled. The initial subscription is
// retried with backoff; go-redis re-establishes it after later disconnects.
func (b *Bridge) Run(ctx context.Context) error {
	policy := b.policy
	policy.OnRetry = func(attempt int, err error, backoff time.Duration) {
		b.metrics.Reconnect(source)
		slog.Warn("Redis subscribe failed, retrying", "pattern", b.pattern(), "attempt", attempt, "backoff", backoff, "error", err)
	}

	pubsub, err := retry.Do(ctx, policy, classify, func() (*goredis.PubSub, error) {
		ps := b.rdb.PSubscribe(ctx, b.pattern())
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return nil, err
		}
		return ps, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redis bridge subscribe: %w", err)
	}
	defer func() { _ = pubsub.Close() }()

	slog.Info("Redis bridge subscribed", "pattern", b.pattern())
	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle(msg.Channel, []byte(msg.Payload))
		case <-ctx.Done():
			return nil
		}
	}
}

func classify(err error) retry.Action {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Stop
	}
	return retry.Retry
}

func (b *Bridge) handle(redisChannel string, data []byte) {
	channel, ok := strings.CutPrefix(redisChannel, b.prefix+":")
	if !ok || channel == "" {
		b.metrics.Received(source, "invalid")
		slog.Warn("Redis message on unexpected channel", "redis_channel", redisChannel)
		return
	}

	msg, err := domain.DecodeProducerMessage(data)
	if err != nil {
		b.metrics.Received(source, "invalid")
		slog.Warn("Dropping malformed Redis message", "channel", channel, "error", err)
		return
	}

	_, span := tracing.StartPublish(context.Background(), source, channel, msg.Topic)
	res := b.publisher.Publish(channel, msg.Topic, msg.Payload)
	tracing.EndPublish(span, res)
	if !res.Accepted {
		b.metrics.Received(source, "rejected")
		slog.Debug("Redis message rejected", "channel", channel, "topic", msg.Topic, "reason", res.Reason)
		return
	}
	b.metrics.Received(source, "published")
}

// Ping is the bridge's readiness check.
func (b *Bridge) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// Publish sends an event for channel through Redis, the producer side of
// the bridge.
func Publish(ctx context.Context, rdb *goredis.Client, prefix, channel, topic string, payload json.RawMessage) error {
	data, err := json.Marshal(domain.ProducerMessage{Topic: topic, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal producer message: %w", err)
	}
	if err := rdb.Publish(ctx, prefix+":"+channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}
