// Package server coordinates session registration, room membership, room keys
// and connection cleanup for the chat relay via the Registry type.
package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/cipherchat/internal/cipher"
	"github.com/Tyrowin/cipherchat/internal/metrics"
	"github.com/Tyrowin/cipherchat/internal/protocol"
)

// ErrShuttingDown is returned by Connect once Shutdown has started.
var ErrShuttingDown = errors.New("registry shutting down")

// room is a named broadcast group. Members are referenced by session ID only;
// the registry's session map is the single owner of live sessions.
type room struct {
	name    string
	key     cipher.Key
	members map[uuid.UUID]struct{}
}

// Registry is the process-wide state of the relay: the set of live sessions and
// every room with its members and key.
//
// A single RWMutex guards the session map, the room maps, and the username and
// room fields of every Session. A session's membership and its current room are
// always changed together under the write lock. Room creation generates the key
// under the same lock, so concurrent creators cannot diverge. Broadcasts take a
// snapshot under the read lock and deliver after releasing it.
type Registry struct {
	cfg Config
	log *zap.Logger

	mu        sync.RWMutex
	sessions  map[uuid.UUID]*Session
	rooms     map[string]*room
	roomOrder []string
	nextSeq   uint64
	closing   bool

	wg sync.WaitGroup
}

// NewRegistry creates a Registry holding only the default room. A nil cfg uses
// defaults and a nil logger discards output.
func NewRegistry(cfg *Config, log *zap.Logger) (*Registry, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}

	r := &Registry{
		cfg:      cfg.sanitized(),
		log:      log,
		sessions: make(map[uuid.UUID]*Session),
		rooms:    make(map[string]*room),
	}

	r.mu.Lock()
	_, _, err := r.ensureRoomLocked(r.cfg.DefaultRoom)
	r.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("create default room: %w", err)
	}

	log.Info("registry ready", zap.String("default_room", r.cfg.DefaultRoom))
	return r, nil
}

// Config returns the sanitized configuration the registry runs with.
func (r *Registry) Config() Config {
	cfg := r.cfg
	cfg.AllowedOrigins = append([]string(nil), r.cfg.AllowedOrigins...)
	return cfg
}

// ensureRoomLocked returns the named room, creating it with a fresh key when
// absent. The caller must hold r.mu for writing.
func (r *Registry) ensureRoomLocked(name string) (*room, bool, error) {
	if rm, ok := r.rooms[name]; ok {
		return rm, false, nil
	}

	key, err := cipher.GenerateKey()
	if err != nil {
		return nil, false, err
	}

	rm := &room{
		name:    name,
		key:     key,
		members: make(map[uuid.UUID]struct{}),
	}
	r.rooms[name] = rm
	r.roomOrder = append(r.roomOrder, name)
	metrics.Rooms.Set(float64(len(r.rooms)))
	return rm, true, nil
}

// Connect creates a session for an upgraded connection and starts its pumps.
// The write pump is running before the bootstrap key is queued.
func (r *Registry) Connect(conn *websocket.Conn, addr string) (*Session, error) {
	// Both pumps are counted under the lock that Shutdown takes before it
	// waits, so no Add can race the Wait.
	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return nil, ErrShuttingDown
	}
	r.wg.Add(2)
	r.mu.Unlock()

	s, err := newSession(conn, r, addr)
	if err != nil {
		r.wg.Add(-2)
		return nil, err
	}

	go func() {
		defer r.wg.Done()
		s.writePump()
	}()

	if err := r.attach(s); err != nil {
		r.wg.Done()
		s.closeSend()
		return nil, err
	}

	go func() {
		defer r.wg.Done()
		s.readPump()
	}()

	return s, nil
}

// attach sends the personal key in the clear, registers the session in the
// global set and the default room, then delivers the default room key.
func (r *Registry) attach(s *Session) error {
	if err := s.enqueue(binaryFrame(s.key.Bytes())); err != nil {
		return fmt.Errorf("send personal key: %w", err)
	}

	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return ErrShuttingDown
	}
	r.nextSeq++
	s.seq = r.nextSeq
	r.sessions[s.id] = s

	rm := r.rooms[r.cfg.DefaultRoom]
	rm.members[s.id] = struct{}{}
	s.room = rm.name
	// Queued before the lock is released so no room traffic can overtake it.
	r.sendTo(s, protocol.RoomKeyMessage(rm.key.Base64()), metrics.AudienceSelf)
	sessionCount := len(r.sessions)
	r.mu.Unlock()

	metrics.ActiveSessions.Inc()
	metrics.SessionsTotal.Inc()
	s.log.Info("session registered", zap.String("room", rm.name), zap.Int("sessions", sessionCount))
	return nil
}

// disconnect removes s from the global set and its room, closes its channel,
// and tells everyone else. Calling it more than once is harmless.
func (r *Registry) disconnect(s *Session) {
	r.mu.Lock()
	if _, ok := r.sessions[s.id]; !ok {
		r.mu.Unlock()
		s.closeSend()
		return
	}
	delete(r.sessions, s.id)
	if rm, ok := r.rooms[s.room]; ok {
		delete(rm.members, s.id)
	}
	username := s.username
	roomName := s.room
	sessionCount := len(r.sessions)
	r.mu.Unlock()

	s.closeSend()
	metrics.ActiveSessions.Dec()
	s.log.Info("session unregistered",
		zap.String("username", username),
		zap.String("room", roomName),
		zap.Int("sessions", sessionCount))

	if username != protocol.DefaultUsername {
		r.broadcastAll(protocol.Notice(username + " left the chat"))
	}
	r.broadcastUserList()
}

// setUsername records a declared name, sends the room list to the session and
// announces the arrival to everyone.
func (r *Registry) setUsername(s *Session, name string) {
	r.mu.Lock()
	previous := s.username
	s.username = name
	r.mu.Unlock()

	s.log.Info("username declared", zap.String("username", name), zap.String("previous", previous))

	r.sendRoomList(s)
	r.broadcastUserList()
	r.broadcastAll(protocol.Notice(name + " joined the chat"))
}

// changeRoom moves s into name, creating the room when it does not exist, and
// hands over the room key followed by a confirmation.
func (r *Registry) changeRoom(s *Session, name string) {
	r.mu.Lock()
	rm, created, err := r.ensureRoomLocked(name)
	if err != nil {
		r.mu.Unlock()
		s.log.Error("could not create room", zap.String("room", name), zap.Error(err))
		r.sendTo(s, protocol.Notice("Could not join room "+name), metrics.AudienceSelf)
		return
	}
	previous := r.moveLocked(s, rm)
	r.sendTo(s, protocol.RoomKeyMessage(rm.key.Base64()), metrics.AudienceSelf)
	r.mu.Unlock()

	s.log.Info("changed room",
		zap.String("from", previous),
		zap.String("to", name),
		zap.Bool("created", created))

	r.sendTo(s, protocol.Notice("You are now in room: "+name), metrics.AudienceSelf)
}

// moveLocked makes rm the only room s is a member of and returns the room it
// left. The caller must hold r.mu for writing.
func (r *Registry) moveLocked(s *Session, rm *room) string {
	if old, ok := r.rooms[s.room]; ok && old != rm {
		delete(old.members, s.id)
	}
	rm.members[s.id] = struct{}{}
	previous := s.room
	s.room = rm.name
	return previous
}

// createRoom creates name with a fresh key and announces it to every session.
// The requester is not moved into the room.
func (r *Registry) createRoom(s *Session, name string) {
	r.mu.Lock()
	if _, exists := r.rooms[name]; exists {
		r.mu.Unlock()
		r.sendTo(s, protocol.Notice("Room "+name+" already exists"), metrics.AudienceSelf)
		return
	}
	_, _, err := r.ensureRoomLocked(name)
	r.mu.Unlock()

	if err != nil {
		s.log.Error("could not create room", zap.String("room", name), zap.Error(err))
		r.sendTo(s, protocol.Notice("Could not create room "+name), metrics.AudienceSelf)
		return
	}

	s.log.Info("room created", zap.String("room", name))
	r.broadcastAll(protocol.NewRoomMessage(name))
	r.broadcastRoomList()
}

// privateMessage delivers body to the first session that declared username to.
func (r *Registry) privateMessage(s *Session, to, body string) {
	target := r.findByUsername(to)
	sender := r.Username(s)

	if target == nil {
		r.sendTo(s, protocol.Notice("User "+to+" not found"), metrics.AudienceSelf)
		return
	}

	r.sendTo(target, protocol.PrivateLine(sender, body), metrics.AudiencePrivate)
	s.log.Debug("private message delivered", zap.String("to", to))
}

// adoptTag reconciles the recorded username and current room with the ones a
// client put in a room-tagged line. A move follows membership but hands out no
// room key, and a tag never creates a room.
func (r *Registry) adoptTag(s *Session, tag protocol.RoomTag) {
	if tag.Username == "" {
		return
	}

	r.mu.Lock()
	changed := s.username != tag.Username
	if changed {
		s.username = tag.Username
	}
	previous := s.room
	moved := false
	if rm, ok := r.rooms[tag.Room]; ok && tag.Room != previous {
		r.moveLocked(s, rm)
		moved = true
	}
	r.mu.Unlock()

	if moved {
		s.log.Debug("current room taken from tag",
			zap.String("from", previous),
			zap.String("to", tag.Room))
	}
	if changed {
		r.broadcastUserList()
	}
}

func (r *Registry) findByUsername(name string) *Session {
	if name == "" || name == protocol.DefaultUsername {
		return nil
	}
	for _, s := range r.snapshot() {
		if r.Username(s) == name {
			return s
		}
	}
	return nil
}

// snapshot returns the live sessions in connection order.
func (r *Registry) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []*Session {
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].seq < sessions[j].seq })
	return sessions
}

// Username returns the name s is currently known by.
func (r *Registry) Username(s *Session) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return s.username
}

// CurrentRoom returns the room s is currently a member of.
func (r *Registry) CurrentRoom(s *Session) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return s.room
}

// Usernames returns the declared usernames in connection order.
func (r *Registry) Usernames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sessions))
	for _, s := range r.snapshotLocked() {
		if s.username != protocol.DefaultUsername {
			names = append(names, s.username)
		}
	}
	return names
}

// Rooms returns every room name in creation order.
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.roomOrder...)
}

// SessionCount returns the number of live sessions.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ShuttingDown reports whether Shutdown has been called.
func (r *Registry) ShuttingDown() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closing
}

// Shutdown closes every live session and waits for their goroutines to finish,
// or until the timeout is reached. New connections are refused afterwards.
func (r *Registry) Shutdown(timeout time.Duration) error {
	r.log.Info("initiating registry shutdown")

	r.mu.Lock()
	r.closing = true
	sessions := r.snapshotLocked()
	r.mu.Unlock()

	for _, s := range sessions {
		if s.conn == nil {
			r.disconnect(s)
			continue
		}
		s.closeConn()
	}
	r.log.Info("closed session connections", zap.Int("count", len(sessions)))

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info("registry shutdown completed")
		return nil
	case <-time.After(timeout):
		r.log.Warn("registry shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
