package broadcast

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/marketpulse/internal/domain"
	"github.com/stretchr/testify/require"
)

// fakeTransport records what the write goroutine sends and feeds inbound
// frames to the read loop.
type fakeTransport struct {
	mu          sync.Mutex
	frames      [][]byte
	pings       int
	closeFrames []string
	pong        func(string) error
	autoPong    bool

	gate       chan struct{} // when set, text writes block until it is closed
	writeDelay time.Duration // added to every text write
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

// newGatedTransport returns a transport whose text writes block until
// the test ends, simulating a client that stopped reading.
func newGatedTransport(t *testing.T) *fakeTransport {
	ft := newFakeTransport()
	ft.gate = make(chan struct{})
	var once sync.Once
	t.Cleanup(func() { once.Do(func() { close(ft.gate) }) })
	return ft
}

func (ft *fakeTransport) WriteMessage(messageType int, data []byte) error {
	if messageType == websocket.TextMessage && ft.writeDelay > 0 {
		time.Sleep(ft.writeDelay)
	}
	if messageType == websocket.TextMessage && ft.gate != nil {
		select {
		case <-ft.gate:
		case <-ft.closed:
			return net.ErrClosed
		}
	}
	select {
	case <-ft.closed:
		return net.ErrClosed
	default:
	}

	ft.mu.Lock()
	switch messageType {
	case websocket.TextMessage:
		ft.frames = append(ft.frames, append([]byte(nil), data...))
	case websocket.PingMessage:
		ft.pings++
	case websocket.CloseMessage:
		reason := ""
		if len(data) >= 2 {
			reason = string(data[2:]) // skip the status code
		}
		ft.closeFrames = append(ft.closeFrames, reason)
	}
	pong, autoPong := ft.pong, ft.autoPong
	ft.mu.Unlock()

	if messageType == websocket.PingMessage && autoPong && pong != nil {
		_ = pong("")
	}
	return nil
}

func (ft *fakeTransport) ReadMessage() (int, []byte, error) {
	select {
	case data := <-ft.inbound:
		return websocket.TextMessage, data, nil
	case <-ft.closed:
		return 0, nil, net.ErrClosed
	}
}

func (ft *fakeTransport) SetWriteDeadline(time.Time) error { return nil }
func (ft *fakeTransport) SetReadLimit(int64)               {}

func (ft *fakeTransport) SetPongHandler(h func(string) error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.pong = h
}

func (ft *fakeTransport) Close() error {
	ft.closeOnce.Do(func() { close(ft.closed) })
	return nil
}

func (ft *fakeTransport) isClosed() bool {
	select {
	case <-ft.closed:
		return true
	default:
		return false
	}
}

func (ft *fakeTransport) frameCount() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.frames)
}

func (ft *fakeTransport) pingCount() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.pings
}

func (ft *fakeTransport) closeReasons() []string {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return append([]string(nil), ft.closeFrames...)
}

// events decodes every event frame written so far, skipping control replies.
func (ft *fakeTransport) events(t *testing.T) []domain.EventFrame {
	t.Helper()
	ft.mu.Lock()
	defer ft.mu.Unlock()

	var out []domain.EventFrame
	for _, raw := range ft.frames {
		var f domain.EventFrame
		require.NoError(t, json.Unmarshal(raw, &f))
		if f.Channel == "" {
			continue
		}
		out = append(out, f)
	}
	return out
}

// replies decodes every control reply written so far.
func (ft *fakeTransport) replies(t *testing.T) []domain.ControlReply {
	t.Helper()
	ft.mu.Lock()
	defer ft.mu.Unlock()

	var out []domain.ControlReply
	for _, raw := range ft.frames {
		var r domain.ControlReply
		require.NoError(t, json.Unmarshal(raw, &r))
		if r.Type == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

func waitForFrames(t *testing.T, ft *fakeTransport, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return ft.frameCount() >= n },
		2*time.Second, time.Millisecond, "expected %d frames, got %d", n, ft.frameCount())
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DrainTimeout = 2 * time.Second
	return cfg
}

func testHub(t *testing.T, clock clockwork.Clock, cfg Config) *Hub {
	t.Helper()
	h, err := NewHub(cfg, clock, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
	})
	return h
}

func payload(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// newTestConnPair returns both ends of a real WebSocket connection.
func newTestConnPair(t *testing.T) (server *websocket.Conn, client *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	serverConns := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case server = <-serverConns:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server side of websocket")
	}
	return server, client
}
