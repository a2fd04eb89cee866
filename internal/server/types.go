// Package server defines shared frame types, sentinel errors and utility helpers
// that are reused across session, registry and broadcast logic.
package server

import (
	"errors"
	"strings"

	"github.com/gorilla/websocket"
)

var (
	// ErrSessionClosed is returned when delivering to a session that has already
	// been disconnected.
	ErrSessionClosed = errors.New("session closed")
	// ErrSendBufferFull is returned when a session is not draining its outbound
	// queue fast enough.
	ErrSendBufferFull = errors.New("session send buffer full")
)

// frame is one outbound WebSocket message. The bootstrap key travels as a
// binary frame; every encrypted payload travels as a text frame.
type frame struct {
	messageType int
	data        []byte
}

func textFrame(s string) frame {
	return frame{messageType: websocket.TextMessage, data: []byte(s)}
}

func binaryFrame(b []byte) frame {
	return frame{messageType: websocket.BinaryMessage, data: b}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
