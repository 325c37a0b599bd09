// Package websocket builds the gorilla upgrader used by the stream endpoint.
package websocket

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	readBufferSize   = 1024
	writeBufferSize  = 4096
	handshakeTimeout = 10 * time.Second
)

// NewUpgrader returns an upgrader with the given origin policy. Handshake
// failures are answered with a plain status and logged at debug level.
func NewUpgrader(checkOrigin func(r *http.Request) bool) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:   readBufferSize,
		WriteBufferSize:  writeBufferSize,
		HandshakeTimeout: handshakeTimeout,
		CheckOrigin:      checkOrigin,
		Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
			slog.Debug("WebSocket handshake failed", "status", status, "remote_addr", r.RemoteAddr, "error", reason)
			http.Error(w, http.StatusText(status), status)
		},
	}
}
