package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Command
	}{
		{
			name: "set username",
			line: "SET_USERNAME:alice",
			want: SetUsername{Name: "alice"},
		},
		{
			name: "set username trims",
			line: "SET_USERNAME:  alice  ",
			want: SetUsername{Name: "alice"},
		},
		{
			name: "set username empty",
			line: "SET_USERNAME:   ",
			want: SetUsername{Name: ""},
		},
		{
			name: "change room",
			line: "CHANGE_ROOM:secrets",
			want: ChangeRoom{Room: "secrets"},
		},
		{
			name: "create room",
			line: "CREATE_ROOM: lounge ",
			want: CreateRoom{Room: "lounge"},
		},
		{
			name: "private message",
			line: "PRIVATE_MSG:bob:psst",
			want: PrivateMessage{To: "bob", Body: "psst"},
		},
		{
			name: "private message body keeps later colons",
			line: "PRIVATE_MSG:bob: meet at 10:30",
			want: PrivateMessage{To: "bob", Body: "meet at 10:30"},
		},
		{
			name: "private message without body",
			line: "PRIVATE_MSG:bob",
			want: PrivateMessage{Malformed: true},
		},
		{
			name: "prefix match is case-sensitive",
			line: "set_username:alice",
			want: ChatPayload{Text: "set_username:alice"},
		},
		{
			name: "username prefix wins over room tag",
			line: "SET_USERNAME:[x]y: z",
			want: SetUsername{Name: "[x]y: z"},
		},
		{
			name: "room tagged chat",
			line: "[Général]alice: hello",
			want: ChatPayload{
				Text:   "[Général]alice: hello",
				Tag:    RoomTag{Room: "Général", Username: "alice", Body: "hello"},
				Tagged: true,
			},
		},
		{
			name: "bracket without username",
			line: "[room]: hello",
			want: ChatPayload{Text: "[room]: hello"},
		},
		{
			name: "plain text",
			line: "just chatting",
			want: ChatPayload{Text: "just chatting"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.line))
		})
	}
}

func TestIsBye(t *testing.T) {
	assert.True(t, IsBye("bye"))
	assert.True(t, IsBye("BYE"))
	assert.True(t, IsBye("Bye"))
	assert.False(t, IsBye("bye "))
	assert.False(t, IsBye("goodbye"))
}

func TestRoomOf(t *testing.T) {
	room, ok := RoomOf("[X]alice: hi")
	assert.True(t, ok)
	assert.Equal(t, "X", room)

	room, ok = RoomOf("[]x")
	assert.True(t, ok)
	assert.Equal(t, "", room)

	_, ok = RoomOf("no tag")
	assert.False(t, ok)

	_, ok = RoomOf("[unterminated")
	assert.False(t, ok)
}

func TestLists(t *testing.T) {
	assert.Equal(t, "a,b,c", JoinList([]string{"a", "b", "c"}))
	assert.Equal(t, []string{"a", "b"}, SplitList("a,b"))
	assert.Empty(t, SplitList(""))
	assert.Equal(t, "USER_LIST:", UserListMessage(nil))
	assert.Equal(t, "ROOM_LIST:Général,secrets", RoomListMessage([]string{"Général", "secrets"}))
}

func TestParseServer(t *testing.T) {
	tests := []struct {
		name string
		line string
		want ServerMessage
	}{
		{name: "room key", line: RoomKeyMessage("AAAA"), want: RoomKey{Encoded: "AAAA"}},
		{name: "user list", line: UserListMessage([]string{"alice", "bob"}), want: UserList{Users: []string{"alice", "bob"}}},
		{name: "empty user list", line: UserListMessage(nil), want: UserList{Users: []string{}}},
		{name: "room list", line: RoomListMessage([]string{"Général"}), want: RoomList{Rooms: []string{"Général"}}},
		{name: "new room", line: NewRoomMessage("secrets"), want: NewRoom{Name: "secrets"}},
		{name: "notice", line: Notice("alice left the chat"), want: SystemNotice{Text: "alice left the chat"}},
		{name: "private", line: PrivateLine("alice", "psst"), want: Private{From: "alice", Body: "psst"}},
		{name: "chat", line: ChatLine("X", "alice", "hi"), want: Chat{Room: "X", From: "alice", Body: "hi"}},
		{name: "text", line: "hello", want: Text{Raw: "hello"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseServer(tt.line))
		})
	}
}
