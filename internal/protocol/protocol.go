// Package protocol defines the plaintext grammar carried inside encrypted chat
// frames: the commands a client may send, the control payloads the server pushes
// back, and the room-tagged chat line format shared by both sides.
package protocol

import "strings"

// Command prefixes sent by clients. Matching is case-sensitive.
const (
	PrefixSetUsername    = "SET_USERNAME:"
	PrefixChangeRoom     = "CHANGE_ROOM:"
	PrefixCreateRoom     = "CREATE_ROOM:"
	PrefixPrivateMessage = "PRIVATE_MSG:"
)

// Control payload prefixes sent by the server.
const (
	PrefixRoomKey  = "ROOM_KEY:"
	PrefixUserList = "USER_LIST:"
	PrefixRoomList = "ROOM_LIST:"
	PrefixNewRoom  = "NEW_ROOM:"
)

const (
	// ByeToken ends a session when received, compared case-insensitively.
	ByeToken = "bye"
	// DefaultUsername is the placeholder name of a session that has not declared one.
	DefaultUsername = "Anonymous"
	// SystemTag prefixes every server notice.
	SystemTag = "[SYSTEM] "

	privatePrefix = "[private from "
	listSeparator = ","
)

// Command is one parsed inbound line. The concrete type is one of SetUsername,
// ChangeRoom, CreateRoom, PrivateMessage or ChatPayload.
type Command interface {
	command()
}

// SetUsername declares the sender's display name.
type SetUsername struct {
	Name string
}

// ChangeRoom moves the sender into a room, creating it when absent.
type ChangeRoom struct {
	Room string
}

// CreateRoom creates a room without joining it.
type CreateRoom struct {
	Room string
}

// PrivateMessage targets a single user by name. Malformed is set when the body
// part is missing entirely, in which case the message must be ignored.
type PrivateMessage struct {
	To        string
	Body      string
	Malformed bool
}

// ChatPayload is any line that is not a command. Tag is populated when the line
// has the "[room]username: body" shape.
type ChatPayload struct {
	Text   string
	Tag    RoomTag
	Tagged bool
}

func (SetUsername) command()    {}
func (ChangeRoom) command()     {}
func (CreateRoom) command()     {}
func (PrivateMessage) command() {}
func (ChatPayload) command()    {}

// RoomTag is the header of a room-tagged chat line.
type RoomTag struct {
	Room     string
	Username string
	Body     string
}

// Parse classifies a decrypted inbound line. Prefixes are checked in priority
// order and the first match wins; everything else is a chat payload.
func Parse(line string) Command {
	switch {
	case strings.HasPrefix(line, PrefixSetUsername):
		return SetUsername{Name: strings.TrimSpace(line[len(PrefixSetUsername):])}
	case strings.HasPrefix(line, PrefixChangeRoom):
		return ChangeRoom{Room: strings.TrimSpace(line[len(PrefixChangeRoom):])}
	case strings.HasPrefix(line, PrefixCreateRoom):
		return CreateRoom{Room: strings.TrimSpace(line[len(PrefixCreateRoom):])}
	case strings.HasPrefix(line, PrefixPrivateMessage):
		return parsePrivateMessage(line[len(PrefixPrivateMessage):])
	}

	tag, ok := ParseRoomTag(line)
	return ChatPayload{Text: line, Tag: tag, Tagged: ok}
}

func parsePrivateMessage(rest string) PrivateMessage {
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return PrivateMessage{Malformed: true}
	}
	return PrivateMessage{
		To:   strings.TrimSpace(parts[0]),
		Body: strings.TrimSpace(parts[1]),
	}
}

// IsBye reports whether line is the end-of-session token.
func IsBye(line string) bool {
	return strings.EqualFold(line, ByeToken)
}

// RoomOf returns the room named by a leading "[room]" tag.
func RoomOf(line string) (string, bool) {
	if !strings.HasPrefix(line, "[") {
		return "", false
	}
	end := strings.Index(line, "]")
	if end < 0 {
		return "", false
	}
	return line[1:end], true
}

// ParseRoomTag splits a "[room]username: body" line. The username must be
// non-empty before trimming for the line to count as tagged.
func ParseRoomTag(line string) (RoomTag, bool) {
	room, ok := RoomOf(line)
	if !ok {
		return RoomTag{}, false
	}
	rest := line[len(room)+2:]

	colon := strings.Index(rest, ":")
	if colon <= 0 {
		return RoomTag{}, false
	}
	return RoomTag{
		Room:     room,
		Username: strings.TrimSpace(rest[:colon]),
		Body:     strings.TrimSpace(rest[colon+1:]),
	}, true
}

// ChatLine formats a room-tagged chat line.
func ChatLine(room, username, body string) string {
	return "[" + room + "]" + username + ": " + body
}

// JoinList renders names as a comma separated list.
func JoinList(names []string) string {
	return strings.Join(names, listSeparator)
}

// SplitList is the inverse of JoinList. An empty string yields an empty list.
func SplitList(csv string) []string {
	if csv == "" {
		return []string{}
	}
	return strings.Split(csv, listSeparator)
}
