package client

// EventKind identifies what an Event carries.
type EventKind int

const (
	// EventText is a line that matched no known shape.
	EventText EventKind = iota
	// EventChat is a room-tagged line from another member.
	EventChat
	// EventPrivate is a private message addressed to this client.
	EventPrivate
	// EventNotice is a server notice with the system tag removed.
	EventNotice
	// EventUserList carries the declared usernames.
	EventUserList
	// EventRoomList carries every room name.
	EventRoomList
	// EventNewRoom announces a room created by anyone.
	EventNewRoom
	// EventRoomKey reports that a room key was received and bound.
	EventRoomKey
)

func (k EventKind) String() string {
	switch k {
	case EventChat:
		return "chat"
	case EventPrivate:
		return "private"
	case EventNotice:
		return "notice"
	case EventUserList:
		return "user_list"
	case EventRoomList:
		return "room_list"
	case EventNewRoom:
		return "new_room"
	case EventRoomKey:
		return "room_key"
	default:
		return "text"
	}
}

// Event is one decoded message from the server.
//
// For EventChat, Text is the plaintext body when the room key was known and the
// body decrypted; otherwise Undecryptable is set and Text holds the body as it
// arrived.
type Event struct {
	Kind          EventKind
	Room          string
	From          string
	Text          string
	Names         []string
	Undecryptable bool
}
