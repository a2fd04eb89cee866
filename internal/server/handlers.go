// Package server exposes HTTP handlers, including the WebSocket upgrade that
// opens a chat session and the health check.
package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketHandler returns the handler that upgrades GET requests to WebSocket
// and hands each connection to the registry as a new session.
func WebSocketHandler(reg *Registry) http.HandlerFunc {
	policy := newOriginPolicy(reg.cfg.AllowedOrigins, reg.log)
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     policy.check,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		if reg.ShuttingDown() {
			http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			reg.log.Warn("WebSocket upgrade failed", zap.String("addr", r.RemoteAddr), zap.Error(err))
			return
		}

		if _, err := reg.Connect(conn, r.RemoteAddr); err != nil {
			reg.log.Warn("could not open session", zap.String("addr", r.RemoteAddr), zap.Error(err))
		}
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Chat relay is running!")
}
