package redis

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/pscheid92/marketpulse/internal/adapter/metrics"
	goredis "github.com/redis/go-redis/v9"
)

// metricsHook records command counts and latency for every Redis call.
type metricsHook struct {
	metrics *metrics.BridgeMetrics
}

var _ goredis.Hook = (*metricsHook)(nil)

func (h *metricsHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		start := time.Now()
		conn, err := next(ctx, network, addr)
		h.metrics.ObserveRedisOp("dial", status(err), time.Since(start).Seconds())
		return conn, err
	}
}

func (h *metricsHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		h.metrics.ObserveRedisOp(cmd.Name(), status(err), time.Since(start).Seconds())
		return err
	}
}

func (h *metricsHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		h.metrics.ObserveRedisOp("pipeline", status(err), time.Since(start).Seconds())
		return err
	}
}

func status(err error) string {
	if err != nil && !errors.Is(err, goredis.Nil) {
		return "error"
	}
	return "success"
}
