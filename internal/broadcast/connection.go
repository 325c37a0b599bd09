package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/marketpulse/internal/adapter/metrics"
	"github.com/pscheid92/marketpulse/internal/domain"
)

// Transport is the subset of *websocket.Conn used by a Connection.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

var _ Transport = (*websocket.Conn)(nil)

// State is the lifecycle state of a Connection.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type enqueueResult int

const (
	enqueueSent enqueueResult = iota
	enqueueDropped
	enqueueRejected
)

// outFrame is one entry of the outbound buffer. Only event frames take part
// in the sent and dropped counters.
type outFrame struct {
	data  []byte
	event bool
}

// ConnStats are the personal counters of a connection.
type ConnStats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

// Connection is one client attached to exactly one channel.
type Connection struct {
	id           uuid.UUID
	channel      string
	transport    Transport
	clock        clockwork.Clock
	metrics      *metrics.BroadcastMetrics
	writeTimeout time.Duration
	connectedAt  time.Time
	seq          uint64 // registration order, assigned by the Registry

	outbound chan outFrame
	probeCh  chan struct{}
	drainCh  chan time.Time
	done     chan struct{}
	exited   chan struct{}

	state   atomic.Int32
	lastAck atomic.Int64
	misses  atomic.Int32
	sent    atomic.Uint64
	dropped atomic.Uint64

	closeOnce sync.Once
	closeErr  error
	onClose   func(c *Connection, err error)
	// onDiscard reports event frames that were counted as sent but
	// discarded at the drain deadline.
	onDiscard func(n int)
}

func newConnection(channel string, transport Transport, bufferCapacity int, clock clockwork.Clock, m *metrics.BroadcastMetrics, writeTimeout time.Duration) *Connection {
	now := clock.Now()
	c := &Connection{
		id:           uuid.New(),
		channel:      channel,
		transport:    transport,
		clock:        clock,
		metrics:      m,
		writeTimeout: writeTimeout,
		connectedAt:  now,
		outbound:     make(chan outFrame, bufferCapacity),
		probeCh:      make(chan struct{}, 1),
		drainCh:      make(chan time.Time, 1),
		done:         make(chan struct{}),
		exited:       make(chan struct{}),
	}
	c.lastAck.Store(now.UnixNano())
	return c
}

func (c *Connection) ID() uuid.UUID          { return c.id }
func (c *Connection) Channel() string        { return c.channel }
func (c *Connection) State() State           { return State(c.state.Load()) }
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// LastAck returns the time of the last pong or inbound frame.
func (c *Connection) LastAck() time.Time {
	return time.Unix(0, c.lastAck.Load())
}

func (c *Connection) Stats() ConnStats {
	return ConnStats{Sent: c.sent.Load(), Dropped: c.dropped.Load()}
}

// Err returns the reason the connection closed, nil while open or after a graceful drain.
func (c *Connection) Err() error {
	select {
	case <-c.done:
		return c.closeErr
	default:
		return nil
	}
}

// Done is closed once the connection reaches StateClosed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// start moves the connection to Active and launches its write goroutine,
// tracked by wg.
func (c *Connection) start(wg *sync.WaitGroup) {
	c.transport.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateActive)) {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()
}

func (c *Connection) touch() {
	c.lastAck.Store(c.clock.Now().UnixNano())
	c.misses.Store(0)
}

// enqueue hands a frame to the write goroutine without blocking.
// A full buffer drops the frame for this connection only.
func (c *Connection) enqueue(frame []byte) enqueueResult {
	if c.State() != StateActive {
		return enqueueRejected
	}
	select {
	case c.outbound <- outFrame{data: frame, event: true}:
		c.sent.Add(1)
		return enqueueSent
	default:
		c.dropped.Add(1)
		return enqueueDropped
	}
}

// reply queues a control reply. Replies are best effort and not counted.
func (c *Connection) reply(r domain.ControlReply) bool {
	if c.State() != StateActive {
		return false
	}
	data, err := json.Marshal(r)
	if err != nil {
		return false
	}
	select {
	case c.outbound <- outFrame{data: data}:
		return true
	default:
		return false
	}
}

// requestProbe asks the write goroutine to send a ping. Never blocks.
func (c *Connection) requestProbe() {
	select {
	case c.probeCh <- struct{}{}:
	default:
	}
}

// Close transitions the connection to Closed, closes the transport and
// triggers unregistration. Safe to call more than once.
func (c *Connection) Close(reason error) {
	c.closeOnce.Do(func() {
		c.closeErr = reason
		c.state.Store(int32(StateClosed))
		close(c.done)
		_ = c.transport.Close()
		if c.onClose != nil {
			c.onClose(c, reason)
		}
	})
}

// drain asks the write goroutine to flush its buffer until deadline and then
// close the socket with a normal closure frame. No new frames are accepted.
func (c *Connection) drain(deadline time.Time) bool {
	if !c.state.CompareAndSwap(int32(StateActive), int32(StateDraining)) {
		return false
	}
	c.drainCh <- deadline
	return true
}

// serve runs the read side of the connection until the transport fails or
// the connection is closed. handle is called for every inbound text frame.
func (c *Connection) serve(maxMessageSize int64, handle func(data []byte)) {
	if maxMessageSize > 0 {
		c.transport.SetReadLimit(maxMessageSize)
	}
	for {
		msgType, data, err := c.transport.ReadMessage()
		if err != nil {
			c.Close(classifyReadError(err))
			return
		}
		c.touch()
		if msgType != websocket.TextMessage {
			continue
		}
		if c.State() != StateActive {
			continue
		}
		handle(data)
	}
}

func classifyReadError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return domain.ErrClientDisconnect
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return domain.ErrClientDisconnect
	}
	return fmt.Errorf("%w: read: %w", domain.ErrTransport, err)
}

func (c *Connection) logAttrs() []any {
	return []any{"conn_id", c.id.String(), "channel", c.channel}
}

func (c *Connection) logClosed(reason error) {
	attrs := append(c.logAttrs(), "sent", c.sent.Load(), "dropped", c.dropped.Load(), "duration", c.clock.Since(c.connectedAt))
	switch {
	case reason == nil:
		slog.Debug("Connection drained", attrs...)
	case errors.Is(reason, domain.ErrClientDisconnect):
		slog.Debug("Client disconnected", attrs...)
	default:
		slog.Info("Connection closed", append(attrs, "reason", reason.Error())...)
	}
}
