// Package server manages individual chat sessions, handling read/write pumps,
// per-session encryption, rate limiting, and lifecycle control for each
// connection.
package server

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/cipherchat/internal/cipher"
	"github.com/Tyrowin/cipherchat/internal/metrics"
	"github.com/Tyrowin/cipherchat/internal/protocol"
)

// Session is the server side of one connected client. It owns the connection
// and the personal key shared with that client.
//
// username and room are read by other sessions' goroutines when they route and
// broadcast, so they are guarded by the registry lock and must only be touched
// through Registry methods.
type Session struct {
	id       uuid.UUID
	seq      uint64
	conn     *websocket.Conn
	addr     string
	key      cipher.Key
	registry *Registry
	cfg      Config
	limiter  *rate.Limiter
	log      *zap.Logger

	username string
	room     string

	sendMu sync.Mutex
	send   chan frame
	closed bool
}

// newSession creates a Session with a freshly generated personal key. conn may
// be nil for sessions that are driven directly through their send queue.
func newSession(conn *websocket.Conn, r *Registry, addr string) (*Session, error) {
	key, err := cipher.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("personal key: %w", err)
	}

	if conn != nil {
		conn.SetReadLimit(r.cfg.MaxMessageSize)
	}

	id := uuid.New()
	return &Session{
		id:       id,
		conn:     conn,
		addr:     addr,
		key:      key,
		registry: r,
		cfg:      r.cfg,
		limiter:  newRateLimiter(r.cfg.RateLimit),
		log:      r.log.With(zap.String("session_id", id.String()), zap.String("addr", addr)),
		username: protocol.DefaultUsername,
		send:     make(chan frame, r.cfg.SendBufferSize),
	}, nil
}

// ID returns the session identifier used for room membership.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// deliver encrypts plaintext under the session's personal key and queues it.
func (s *Session) deliver(plaintext string) error {
	ct, err := cipher.Encrypt(s.key, plaintext)
	if err != nil {
		return fmt.Errorf("encrypt for %s: %w", s.id, err)
	}
	return s.enqueue(textFrame(ct))
}

func (s *Session) enqueue(f frame) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	select {
	case s.send <- f:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// closeSend stops accepting frames. The write pump flushes what is queued,
// sends a close frame and closes the connection.
func (s *Session) closeSend() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

// closeConn aborts the connection so the read pump returns and runs the
// disconnection procedure on its own goroutine.
func (s *Session) closeConn() {
	if s.conn == nil {
		return
	}
	if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
		s.log.Warn("error closing connection", zap.Error(err))
	}
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (s *Session) setupReadConnection() {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout)); err != nil {
		s.log.Warn("error setting initial read deadline", zap.Error(err))
	}
	s.conn.SetPongHandler(func(string) error {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout)); err != nil {
			s.log.Warn("error setting read deadline in pong handler", zap.Error(err))
		}
		return nil
	})
}

// handleReadError logs a read failure at a level matching how expected it is.
func (s *Session) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		s.log.Warn("message exceeded maximum size", zap.Int64("limit", s.cfg.MaxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		s.log.Info("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		s.log.Info("connection closed", zap.Error(err))
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		s.log.Warn("unexpected WebSocket close", zap.Error(err))
	default:
		s.log.Warn("WebSocket read error", zap.Error(err))
	}
}

// checkRateLimit verifies if the session has exceeded rate limits
// and returns true if the message should be processed
func (s *Session) checkRateLimit() bool {
	if s.limiter != nil && !s.limiter.Allow() {
		metrics.RateLimited.Inc()
		s.log.Warn("rate limit exceeded; discarding message",
			zap.Int("burst", s.cfg.RateLimit.Burst),
			zap.Duration("refill_interval", s.cfg.RateLimit.RefillInterval))
		return false
	}
	return true
}

// readPump is the session's receive loop. It ends on bye, on a transport
// error, or on the first frame that does not decrypt under the personal key.
func (s *Session) readPump() {
	defer s.registry.disconnect(s)

	s.setupReadConnection()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.handleReadError(err)
			return
		}

		if !s.checkRateLimit() {
			continue
		}

		text, err := cipher.Decrypt(s.key, string(raw))
		if err != nil {
			metrics.DecryptFailures.Inc()
			s.log.Warn("dropping session after decryption failure", zap.Error(err))
			return
		}
		metrics.MessagesReceived.Inc()

		if protocol.IsBye(text) {
			s.log.Info("client said bye")
			return
		}

		s.registry.handle(s, text)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		s.closeConnection()
	}()

	for s.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (s *Session) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case f, ok := <-s.send:
		return s.handleFrame(f, ok)
	case <-ticker.C:
		return s.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (s *Session) closeConnection() {
	if err := s.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			s.log.Warn("error closing connection in writePump", zap.Error(err))
		}
	}
}

// handleFrame writes one outbound frame and returns false if the connection should be closed
func (s *Session) handleFrame(f frame, ok bool) bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		s.log.Warn("error setting write deadline", zap.Error(err))
		return false
	}

	if !ok {
		return s.writeCloseMessage()
	}

	if err := s.conn.WriteMessage(f.messageType, f.data); err != nil {
		if !isExpectedCloseError(err) {
			s.log.Warn("error writing message", zap.Error(err))
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close message to the client
func (s *Session) writeCloseMessage() bool {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := s.conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
		if !isExpectedCloseError(err) {
			s.log.Debug("error writing close message", zap.Error(err))
		}
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (s *Session) handlePing() bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		s.log.Warn("error setting write deadline for ping", zap.Error(err))
		return false
	}
	if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		s.log.Warn("error writing ping message", zap.Error(err))
		return false
	}
	return true
}
