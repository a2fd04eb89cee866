package server

import (
	"errors"

	"go.uber.org/zap"

	"github.com/Tyrowin/cipherchat/internal/metrics"
	"github.com/Tyrowin/cipherchat/internal/protocol"
)

// broadcastRoom relays text to every other member of the room named by its
// leading tag, or of the sender's current room when it has none.
func (r *Registry) broadcastRoom(sender *Session, text string) {
	roomName, tagged := protocol.RoomOf(text)

	r.mu.RLock()
	if !tagged {
		roomName = sender.room
	}
	rm, ok := r.rooms[roomName]
	var targets []*Session
	if ok {
		targets = make([]*Session, 0, len(rm.members))
		for id := range rm.members {
			if id == sender.id {
				continue
			}
			if s, live := r.sessions[id]; live {
				targets = append(targets, s)
			}
		}
	}
	r.mu.RUnlock()

	if !ok {
		sender.log.Warn("room not found; dropping message", zap.String("room", roomName))
		return
	}

	delivered := r.deliver(targets, text, metrics.AudienceRoom)
	sender.log.Debug("broadcast to room",
		zap.String("room", roomName),
		zap.Int("targets", len(targets)),
		zap.Int("delivered", delivered))
}

// broadcastAll delivers text to every live session.
func (r *Registry) broadcastAll(text string) {
	r.deliver(r.snapshot(), text, metrics.AudienceAll)
}

func (r *Registry) broadcastUserList() {
	r.broadcastAll(protocol.UserListMessage(r.Usernames()))
}

func (r *Registry) broadcastRoomList() {
	r.broadcastAll(protocol.RoomListMessage(r.Rooms()))
}

func (r *Registry) sendRoomList(s *Session) {
	r.sendTo(s, protocol.RoomListMessage(r.Rooms()), metrics.AudienceSelf)
}

// deliver sends text to each target independently and returns how many
// deliveries were queued. A failing target never stops the fan-out.
func (r *Registry) deliver(targets []*Session, text, audience string) int {
	delivered := 0
	for _, s := range targets {
		if r.sendTo(s, text, audience) {
			delivered++
		}
	}
	return delivered
}

// sendTo queues text for s under its personal key. A session whose queue is
// full is treated as a slow consumer and its connection is closed.
func (r *Registry) sendTo(s *Session, text, audience string) bool {
	err := s.deliver(text)
	switch {
	case err == nil:
		metrics.Deliveries.WithLabelValues(audience).Inc()
		return true
	case errors.Is(err, ErrSessionClosed):
		metrics.DeliveryFailures.WithLabelValues(metrics.ReasonClosed).Inc()
		s.log.Debug("skipping delivery to closed session")
	case errors.Is(err, ErrSendBufferFull):
		metrics.DeliveryFailures.WithLabelValues(metrics.ReasonBufferFull).Inc()
		s.log.Warn("send buffer full; closing slow session")
		s.closeConn()
	default:
		metrics.DeliveryFailures.WithLabelValues(metrics.ReasonEncrypt).Inc()
		s.log.Error("delivery failed", zap.Error(err))
	}
	return false
}
