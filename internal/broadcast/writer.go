package broadcast

import (
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pscheid92/marketpulse/internal/domain"
)

const shutdownCloseReason = "server shutting down"

// writeLoop is the only goroutine that writes to the transport. It sends
// buffered frames, heartbeat probes and, on drain, the final close frame.
func (c *Connection) writeLoop() {
	defer close(c.exited)

	for {
		select {
		case frame := <-c.outbound:
			if c.State() == StateClosed {
				return
			}
			if err := c.writeFrame(frame); err != nil {
				c.Close(fmt.Errorf("%w: write: %w", domain.ErrTransport, err))
				return
			}
		case <-c.probeCh:
			if c.State() == StateClosed {
				return
			}
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(fmt.Errorf("%w: ping: %w", domain.ErrTransport, err))
				return
			}
		case deadline := <-c.drainCh:
			c.flush(deadline)
			return
		case <-c.done:
			return
		}
	}
}

// flush writes what is left in the buffer until it is empty or the deadline
// passes, then closes the socket with a normal closure frame.
func (c *Connection) flush(deadline time.Time) {
drained:
	for c.clock.Now().Before(deadline) {
		select {
		case frame := <-c.outbound:
			if err := c.writeFrame(frame); err != nil {
				c.Close(fmt.Errorf("%w: drain: %w", domain.ErrTransport, err))
				return
			}
		default:
			break drained
		}
	}
	c.discard()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, shutdownCloseReason)
	_ = c.transport.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	_ = c.transport.WriteMessage(websocket.CloseMessage, msg)
	c.Close(nil)
}

// discard empties the buffer. Event frames were counted as sent when they
// were enqueued, so they move from sent to dropped. Control replies are
// not counted.
func (c *Connection) discard() {
	n := 0
	for {
		select {
		case frame := <-c.outbound:
			if frame.event {
				n++
			}
		default:
			if n > 0 {
				c.sent.Add(^uint64(n - 1))
				c.dropped.Add(uint64(n))
				c.metrics.Dropped(c.channel, "shutdown", n)
				if c.onDiscard != nil {
					c.onDiscard(n)
				}
			}
			return
		}
	}
}

// writeFrame writes one buffered frame. Event frames count towards the
// channel's written messages.
func (c *Connection) writeFrame(frame outFrame) error {
	if err := c.write(websocket.TextMessage, frame.data); err != nil {
		return err
	}
	if frame.event {
		c.metrics.Sent(c.channel, 1)
	}
	return nil
}

// write sends one frame with a wall-clock write deadline.
func (c *Connection) write(messageType int, data []byte) error {
	start := time.Now()
	_ = c.transport.SetWriteDeadline(start.Add(c.writeTimeout))
	if err := c.transport.WriteMessage(messageType, data); err != nil {
		return err
	}
	if messageType == websocket.TextMessage {
		c.metrics.ObserveWrite(time.Since(start).Seconds())
	}
	return nil
}
