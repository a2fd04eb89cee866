package server

import (
	"github.com/Tyrowin/cipherchat/internal/metrics"
	"github.com/Tyrowin/cipherchat/internal/protocol"
)

// handle routes one decrypted line from s. Lines that are not consumed by a
// command are broadcast to a room unchanged.
func (r *Registry) handle(s *Session, text string) {
	if !r.dispatch(s, protocol.Parse(text)) {
		r.broadcastRoom(s, text)
	}
}

// dispatch applies cmd on behalf of s and reports whether it consumed the line.
// Commands with an empty argument are ignored but still consumed.
func (r *Registry) dispatch(s *Session, cmd protocol.Command) bool {
	switch c := cmd.(type) {
	case protocol.SetUsername:
		metrics.Commands.WithLabelValues("set_username").Inc()
		if c.Name != "" {
			r.setUsername(s, c.Name)
		}
		return true

	case protocol.ChangeRoom:
		metrics.Commands.WithLabelValues("change_room").Inc()
		if c.Room != "" {
			r.changeRoom(s, c.Room)
		}
		return true

	case protocol.CreateRoom:
		metrics.Commands.WithLabelValues("create_room").Inc()
		if c.Room != "" {
			r.createRoom(s, c.Room)
		}
		return true

	case protocol.PrivateMessage:
		metrics.Commands.WithLabelValues("private_msg").Inc()
		if !c.Malformed {
			r.privateMessage(s, c.To, c.Body)
		}
		return true

	case protocol.ChatPayload:
		metrics.Commands.WithLabelValues("chat").Inc()
		if c.Tagged {
			r.adoptTag(s, c.Tag)
		}
		return false
	}
	return false
}
