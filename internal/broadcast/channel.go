package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/marketpulse/internal/adapter/metrics"
	"github.com/pscheid92/marketpulse/internal/domain"
)

// ChannelStats is a point-in-time copy of a channel's counters.
type ChannelStats struct {
	Published      uint64
	Sent           uint64
	Dropped        uint64
	QueueDropped   uint64
	QueueRejected  uint64
	EnrichFailures uint64
	QueueDepth     int
	QueueCapacity  int
	LastError      string
}

// Channel owns the bounded event queue of one named stream and the
// goroutine that fans its events out to subscribers.
type Channel struct {
	name    string
	policy  domain.ChannelPolicy
	index   *SubscriptionIndex
	clock   clockwork.Clock
	metrics *metrics.BroadcastMetrics
	cfg     Config

	// mu serializes publishers so seq assignment and queue order agree.
	mu     sync.Mutex
	seq    uint64
	queue  chan domain.Event
	closed bool

	enricher atomic.Pointer[enrichment]

	published      atomic.Uint64
	sent           atomic.Uint64
	dropped        atomic.Uint64
	queueDropped   atomic.Uint64
	queueRejected  atomic.Uint64
	enrichFailures atomic.Uint64
	lastErr        atomic.Pointer[string]

	stopCh chan time.Time
	done   chan struct{}
}

func newChannel(name string, policy domain.ChannelPolicy, cfg Config, clock clockwork.Clock, m *metrics.BroadcastMetrics) *Channel {
	return &Channel{
		name:    name,
		policy:  policy,
		index:   NewSubscriptionIndex(policy.Mode),
		clock:   clock,
		metrics: m,
		cfg:     cfg,
		queue:   make(chan domain.Event, policy.QueueCapacity),
		stopCh:  make(chan time.Time, 1),
		done:    make(chan struct{}),
	}
}

func (c *Channel) Name() string                 { return c.name }
func (c *Channel) Policy() domain.ChannelPolicy { return c.policy }
func (c *Channel) Index() *SubscriptionIndex    { return c.index }

func (c *Channel) setEnricher(e domain.Enricher) {
	if e == nil {
		c.enricher.Store(nil)
		return
	}
	c.enricher.Store(newEnrichment(c.name, e, c.cfg))
}

// publish enqueues an event without blocking. When the queue is full the
// oldest queued event is evicted, or the new one rejected under drop_newest.
func (c *Channel) publish(topic string, payload json.RawMessage) domain.PublishResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return domain.PublishResult{Reason: domain.ReasonShuttingDown}
	}

	ev := domain.Event{
		Channel:   c.name,
		Topic:     topic,
		Payload:   payload,
		Seq:       c.seq + 1,
		Timestamp: c.clock.Now(),
	}

	select {
	case c.queue <- ev:
	default:
		if c.policy.QueuePolicy == domain.QueueDropNewest {
			c.queueRejected.Add(1)
			c.setLastError(fmt.Errorf("%w: seq %d rejected", domain.ErrQueueFull, ev.Seq))
			return domain.PublishResult{Reason: domain.ReasonQueueFull}
		}
		select {
		case old := <-c.queue:
			c.dropped.Add(1)
			c.queueDropped.Add(1)
			c.metrics.Dropped(c.name, "queue", 1)
			c.setLastError(fmt.Errorf("%w: evicted seq %d", domain.ErrQueueFull, old.Seq))
		default:
		}
		// Only publishers push and they hold mu, so there is room now.
		c.queue <- ev
	}

	c.seq = ev.Seq
	c.published.Add(1)
	c.metrics.Published(c.name)
	c.metrics.SetQueueDepth(c.name, len(c.queue))
	return domain.PublishResult{Accepted: true, Seq: ev.Seq}
}

// run dispatches queued events in FIFO order until stop is called.
func (c *Channel) run() {
	defer close(c.done)
	for {
		select {
		case ev := <-c.queue:
			c.dispatch(ev)
		case deadline := <-c.stopCh:
			c.drainQueue(deadline)
			return
		}
	}
}

// stop closes the channel to publishers and lets the dispatch loop deliver
// what is queued until deadline.
func (c *Channel) stop(deadline time.Time) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.stopCh <- deadline
}

func (c *Channel) drainQueue(deadline time.Time) {
	for c.clock.Now().Before(deadline) {
		select {
		case ev := <-c.queue:
			c.dispatch(ev)
		default:
			return
		}
	}

	n := 0
discard:
	for {
		select {
		case <-c.queue:
			n++
		default:
			break discard
		}
	}
	if n > 0 {
		c.dropped.Add(uint64(n))
		c.metrics.Dropped(c.name, "shutdown", n)
		c.metrics.SetQueueDepth(c.name, 0)
		slog.Warn("Drain deadline reached, discarding queued events", "channel", c.name, "discarded", n)
	}
}

func (c *Channel) dispatch(ev domain.Event) {
	start := time.Now()

	payload := ev.Payload
	if en := c.enricher.Load(); en != nil {
		enriched, cause, err := en.apply(ev)
		if err != nil {
			c.enrichFailures.Add(1)
			c.setLastError(err)
			c.metrics.EnrichFailed(c.name, cause)
			slog.Warn("Enrichment failed, delivering raw payload",
				"channel", c.name, "seq", ev.Seq, "topic", ev.Topic, "cause", cause, "error", err)
		}
		payload = enriched
	}

	frame, err := json.Marshal(ev.Frame(payload))
	if err != nil {
		c.setLastError(err)
		slog.Error("Failed to encode event frame", "channel", c.name, "seq", ev.Seq, "error", err)
		return
	}

	var sent, dropped int
	for _, conn := range c.index.Targets(ev.Topic) {
		switch conn.enqueue(frame) {
		case enqueueSent:
			sent++
		case enqueueDropped:
			dropped++
			if c.policy.SlowConsumer == domain.SlowConsumerDisconnect {
				conn.Close(fmt.Errorf("%w: buffer of %d frames full", domain.ErrSlowConsumer, cap(conn.outbound)))
			}
		}
	}

	c.sent.Add(uint64(sent))
	c.dropped.Add(uint64(dropped))
	c.metrics.Dropped(c.name, "connection", dropped)
	c.metrics.SetQueueDepth(c.name, len(c.queue))
	c.metrics.ObserveDispatch(c.name, time.Since(start).Seconds())
}

// reclassifyDiscarded moves n deliveries that a connection discarded at the
// drain deadline from sent to dropped.
func (c *Channel) reclassifyDiscarded(n int) {
	c.sent.Add(^uint64(n - 1))
	c.dropped.Add(uint64(n))
}

func (c *Channel) setLastError(err error) {
	msg := err.Error()
	c.lastErr.Store(&msg)
}

// Stats returns the channel counters. Safe to call concurrently with publish and dispatch.
func (c *Channel) Stats() ChannelStats {
	s := ChannelStats{
		Published:      c.published.Load(),
		Sent:           c.sent.Load(),
		Dropped:        c.dropped.Load(),
		QueueDropped:   c.queueDropped.Load(),
		QueueRejected:  c.queueRejected.Load(),
		EnrichFailures: c.enrichFailures.Load(),
		QueueDepth:     len(c.queue),
		QueueCapacity:  cap(c.queue),
	}
	if p := c.lastErr.Load(); p != nil {
		s.LastError = *p
	}
	return s
}
