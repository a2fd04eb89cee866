package protocol

import "strings"

// RoomKeyMessage carries a base64 room key to a single session.
func RoomKeyMessage(encodedKey string) string {
	return PrefixRoomKey + encodedKey
}

// UserListMessage publishes the declared usernames.
func UserListMessage(users []string) string {
	return PrefixUserList + JoinList(users)
}

// RoomListMessage publishes every room name.
func RoomListMessage(rooms []string) string {
	return PrefixRoomList + JoinList(rooms)
}

// NewRoomMessage announces a room by name only.
func NewRoomMessage(room string) string {
	return PrefixNewRoom + room
}

// Notice formats a system notice.
func Notice(text string) string {
	return SystemTag + text
}

// PrivateLine formats a private message as seen by its recipient.
func PrivateLine(from, body string) string {
	return privatePrefix + from + "] " + body
}

// ServerMessage is one parsed line received from the server. The concrete type
// is one of RoomKey, UserList, RoomList, NewRoom, SystemNotice, Private, Chat or
// Text.
type ServerMessage interface {
	serverMessage()
}

// RoomKey holds the base64 encoding of a room key.
type RoomKey struct {
	Encoded string
}

// UserList is the current set of declared usernames.
type UserList struct {
	Users []string
}

// RoomList is the current set of rooms.
type RoomList struct {
	Rooms []string
}

// NewRoom announces a freshly created room.
type NewRoom struct {
	Name string
}

// SystemNotice is an informational message from the server.
type SystemNotice struct {
	Text string
}

// Private is a message addressed to this client alone.
type Private struct {
	From string
	Body string
}

// Chat is a room-tagged line relayed from another member.
type Chat struct {
	Room string
	From string
	Body string
}

// Text is any line that matches no other shape.
type Text struct {
	Raw string
}

func (RoomKey) serverMessage()      {}
func (UserList) serverMessage()     {}
func (RoomList) serverMessage()     {}
func (NewRoom) serverMessage()      {}
func (SystemNotice) serverMessage() {}
func (Private) serverMessage()      {}
func (Chat) serverMessage()         {}
func (Text) serverMessage()         {}

// ParseServer classifies a decrypted line received from the server.
func ParseServer(line string) ServerMessage {
	switch {
	case strings.HasPrefix(line, PrefixRoomKey):
		return RoomKey{Encoded: line[len(PrefixRoomKey):]}
	case strings.HasPrefix(line, PrefixUserList):
		return UserList{Users: SplitList(line[len(PrefixUserList):])}
	case strings.HasPrefix(line, PrefixRoomList):
		return RoomList{Rooms: SplitList(line[len(PrefixRoomList):])}
	case strings.HasPrefix(line, PrefixNewRoom):
		return NewRoom{Name: line[len(PrefixNewRoom):]}
	case strings.HasPrefix(line, SystemTag):
		return SystemNotice{Text: line[len(SystemTag):]}
	case strings.HasPrefix(line, privatePrefix):
		rest := line[len(privatePrefix):]
		if end := strings.Index(rest, "] "); end >= 0 {
			return Private{From: rest[:end], Body: rest[end+2:]}
		}
	}

	if tag, ok := ParseRoomTag(line); ok {
		return Chat{Room: tag.Room, From: tag.Username, Body: tag.Body}
	}
	return Text{Raw: line}
}
