package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/marketpulse/internal/adapter/metrics"
	"github.com/pscheid92/marketpulse/internal/domain"
)

// HeartbeatMonitor evicts connections that stopped answering probes.
//
// Every interval it walks the registry. A connection whose last ack is older
// than timeout accrues a miss; maxMisses consecutive misses close it with
// domain.ErrHeartbeatTimeout. Every surviving connection gets a ping request.
type HeartbeatMonitor struct {
	registry  *Registry
	clock     clockwork.Clock
	interval  time.Duration
	timeout   time.Duration
	maxMisses int
	metrics   *metrics.BroadcastMetrics
}

func NewHeartbeatMonitor(registry *Registry, clock clockwork.Clock, interval, timeout time.Duration, maxMisses int, m *metrics.BroadcastMetrics) (*HeartbeatMonitor, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("heartbeat interval must be positive, got %s", interval)
	}
	if timeout <= interval {
		return nil, fmt.Errorf("heartbeat timeout (%s) must be greater than interval (%s)", timeout, interval)
	}
	if maxMisses < 1 {
		maxMisses = 1
	}
	return &HeartbeatMonitor{
		registry:  registry,
		clock:     clock,
		interval:  interval,
		timeout:   timeout,
		maxMisses: maxMisses,
		metrics:   m,
	}, nil
}

// Run ticks until ctx is cancelled.
func (hm *HeartbeatMonitor) Run(ctx context.Context) {
	ticker := hm.clock.NewTicker(hm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if evicted := hm.Check(); evicted > 0 {
				slog.Info("Heartbeat evicted connections", "evicted", evicted, "remaining", hm.registry.Len())
			}
		}
	}
}

// Check runs one heartbeat pass and returns the number of evicted connections.
func (hm *HeartbeatMonitor) Check() int {
	now := hm.clock.Now()
	evicted := 0

	for _, conn := range hm.registry.All() {
		if conn.State() != StateActive {
			continue
		}

		silence := now.Sub(conn.LastAck())
		if silence > hm.timeout {
			if int(conn.misses.Add(1)) >= hm.maxMisses {
				conn.Close(fmt.Errorf("%w: no ack for %s", domain.ErrHeartbeatTimeout, silence.Truncate(time.Millisecond)))
				hm.metrics.HeartbeatEvicted()
				evicted++
				continue
			}
		} else {
			conn.misses.Store(0)
		}
		conn.requestProbe()
	}
	return evicted
}
