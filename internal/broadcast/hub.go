package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/marketpulse/internal/adapter/metrics"
	"github.com/pscheid92/marketpulse/internal/domain"
)

// Hub is the broadcast engine: it owns every channel, the connection
// registry and the heartbeat monitor.
type Hub struct {
	cfg      Config
	clock    clockwork.Clock
	metrics  *metrics.BroadcastMetrics
	registry *Registry
	monitor  *HeartbeatMonitor
	reporter *StatusReporter

	mu       sync.RWMutex
	channels map[string]*Channel
	closing  bool

	writers       sync.WaitGroup
	stopMonitor   context.CancelFunc
	monitorDone   chan struct{}
	shutdownOnce  sync.Once
	shutdownDone  chan struct{}
	shutdownError error
}

var _ domain.Publisher = (*Hub)(nil)

// NewHub validates cfg and starts the heartbeat monitor. m may be nil.
func NewHub(cfg Config, clock clockwork.Clock, m *metrics.BroadcastMetrics) (*Hub, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid broadcast config: %w", err)
	}

	registry := NewRegistry(cfg.MaxConnectionsPerChannel)
	monitor, err := NewHeartbeatMonitor(registry, clock, cfg.HeartbeatInterval, cfg.HeartbeatTimeout, cfg.HeartbeatMaxMisses, m)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:          cfg,
		clock:        clock,
		metrics:      m,
		registry:     registry,
		monitor:      monitor,
		channels:     make(map[string]*Channel),
		stopMonitor:  cancel,
		monitorDone:  make(chan struct{}),
		shutdownDone: make(chan struct{}),
	}
	h.reporter = NewStatusReporter(h)

	go func() {
		defer close(h.monitorDone)
		monitor.Run(ctx)
	}()
	return h, nil
}

func (h *Hub) Registry() *Registry { return h.registry }

// Status returns the current status snapshot.
func (h *Hub) Status() Status { return h.reporter.Snapshot() }

func (h *Hub) ShuttingDown() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closing
}

// Channel returns an existing channel.
func (h *Hub) Channel(name string) (*Channel, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ch, ok := h.channels[name]
	return ch, ok
}

// Publish hands an event to the channel's queue and never blocks. The
// channel is created on first use.
func (h *Hub) Publish(channel, topic string, payload json.RawMessage) domain.PublishResult {
	res := h.publish(channel, topic, payload)
	if !res.Accepted {
		h.metrics.Rejected(string(res.Reason))
	}
	return res
}

func (h *Hub) publish(channel, topic string, payload json.RawMessage) domain.PublishResult {
	if h.ShuttingDown() {
		return domain.PublishResult{Reason: domain.ReasonShuttingDown}
	}

	topic = strings.TrimSpace(topic)
	if len(topic) > domain.MaxTopicLength {
		return domain.PublishResult{Reason: domain.ReasonInvalidTopic}
	}
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	if !json.Valid(payload) {
		return domain.PublishResult{Reason: domain.ReasonInvalidPayload}
	}

	ch, err := h.channel(channel)
	switch {
	case errors.Is(err, domain.ErrShutdownInProgress):
		return domain.PublishResult{Reason: domain.ReasonShuttingDown}
	case err != nil:
		return domain.PublishResult{Reason: domain.ReasonInvalidChannel}
	}

	// Events are immutable once published; detach from the caller's buffer.
	return ch.publish(topic, append(json.RawMessage(nil), payload...))
}

// RegisterEnrichment installs the enrichment hook of a channel, replacing
// any previous one. A nil enricher removes the hook.
func (h *Hub) RegisterEnrichment(channel string, e domain.Enricher) error {
	ch, err := h.channel(channel)
	if err != nil {
		return err
	}
	ch.setEnricher(e)
	return nil
}

// Attach registers a new connection on channel with its initial topics and
// starts its write goroutine. The caller then runs Serve for the read side.
func (h *Hub) Attach(channel string, transport Transport, topics []string) (*Connection, error) {
	topics, err := domain.NormalizeTopics(topics)
	if err != nil {
		return nil, err
	}

	ch, err := h.channel(channel)
	if err != nil {
		return nil, err
	}

	conn := newConnection(ch.name, transport, ch.policy.BufferCapacity, h.clock, h.metrics, h.cfg.WriteTimeout)
	conn.onClose = h.detach
	conn.onDiscard = ch.reclassifyDiscarded

	// Holding the read lock keeps Shutdown from snapshotting the registry
	// between registration and start.
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closing {
		return nil, domain.ErrShutdownInProgress
	}
	if err := h.registry.Register(conn); err != nil {
		return nil, err
	}
	ch.index.Attach(conn, topics)
	conn.start(&h.writers)
	h.metrics.ConnectionAdded(ch.name)

	slog.Debug("Connection attached", append(conn.logAttrs(), "topics", topics)...)
	return conn, nil
}

// Serve runs the read side of conn until the client goes away, the
// connection is evicted or ctx is cancelled. Inbound frames are routed as
// subscription control messages and acknowledged on the same connection.
// It returns nil after a graceful drain.
func (h *Hub) Serve(ctx context.Context, conn *Connection) error {
	ch, ok := h.Channel(conn.channel)
	if !ok {
		conn.Close(domain.ErrInvalidChannel)
		return domain.ErrInvalidChannel
	}

	stop := context.AfterFunc(ctx, func() { conn.Close(ctx.Err()) })
	defer stop()

	slog.InfoContext(ctx, "Client connected", conn.logAttrs()...)
	conn.serve(h.cfg.MaxMessageSize, func(data []byte) {
		reply := routeControl(ch.index, conn, data)
		if !conn.reply(reply) {
			slog.DebugContext(ctx, "Dropped control reply, buffer full", conn.logAttrs()...)
		}
	})
	return conn.Err()
}

// detach runs exactly once per connection when it reaches Closed.
func (h *Hub) detach(conn *Connection, reason error) {
	removed := h.registry.Unregister(conn.id)
	if ch, ok := h.Channel(conn.channel); ok {
		ch.index.Remove(conn.id)
	}
	if removed {
		h.metrics.ConnectionRemoved(conn.channel)
	}
	conn.logClosed(reason)
}

// channel returns the named channel, creating and starting it if needed.
func (h *Hub) channel(name string) (*Channel, error) {
	if ch, ok := h.Channel(name); ok {
		return ch, nil
	}
	policy, err := h.resolve(name)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.channels[name]; ok {
		return ch, nil
	}
	if h.closing {
		return nil, domain.ErrShutdownInProgress
	}

	ch := newChannel(name, policy, h.cfg, h.clock, h.metrics)
	h.channels[name] = ch
	go ch.run()

	slog.Info("Channel created", "channel", name, "mode", policy.Mode, "queue_capacity", policy.QueueCapacity)
	return ch, nil
}

// CheckChannel reports whether connections and publishes on name would be
// accepted, without creating the channel.
func (h *Hub) CheckChannel(name string) error {
	if h.ShuttingDown() {
		return domain.ErrShutdownInProgress
	}
	if _, ok := h.Channel(name); ok {
		return nil
	}
	_, err := h.resolve(name)
	return err
}

func (h *Hub) resolve(name string) (domain.ChannelPolicy, error) {
	if err := domain.ValidateChannelName(name); err != nil {
		return domain.ChannelPolicy{}, err
	}
	policy, known := h.cfg.policyFor(name)
	if !known {
		return domain.ChannelPolicy{}, fmt.Errorf("%w: %q is not configured", domain.ErrInvalidChannel, name)
	}
	return policy, nil
}

// channelList returns all channels sorted by name.
func (h *Hub) channelList() []*Channel {
	h.mu.RLock()
	out := make([]*Channel, 0, len(h.channels))
	for _, ch := range h.channels {
		out = append(out, ch)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Shutdown stops the hub. New publishes and connections are rejected at once;
// channel queues drain until DrainTimeout, then every connection flushes its
// buffer, sends a normal closure frame and closes. Shutdown returns once all
// hub goroutines have exited. If ctx ends first, remaining connections are
// closed forcibly and ctx's error is returned.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(func() {
		h.shutdownError = h.shutdown(ctx)
		close(h.shutdownDone)
	})
	<-h.shutdownDone
	return h.shutdownError
}

func (h *Hub) shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	channels := h.channelList()
	deadline := h.clock.Now().Add(h.cfg.DrainTimeout)
	slog.Info("Hub shutting down", "channels", len(channels), "connections", h.registry.Len(), "drain_timeout", h.cfg.DrainTimeout)

	var errs []error
	for _, ch := range channels {
		ch.stop(deadline)
	}
	for _, ch := range channels {
		select {
		case <-ch.done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("channel %s: %w", ch.name, ctx.Err()))
		}
	}

	for _, ch := range channels {
		for _, conn := range h.registry.Snapshot(ch.name) {
			conn.drain(deadline)
		}
	}

	written := make(chan struct{})
	go func() {
		h.writers.Wait()
		close(written)
	}()
	select {
	case <-written:
	case <-ctx.Done():
		for _, conn := range h.registry.All() {
			conn.Close(domain.ErrShutdownInProgress)
		}
		<-written
		if len(errs) == 0 {
			errs = append(errs, ctx.Err())
		}
	}

	h.stopMonitor()
	<-h.monitorDone

	slog.Info("Hub stopped")
	return errors.Join(errs...)
}
