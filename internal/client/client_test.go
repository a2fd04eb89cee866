package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/cipherchat/internal/cipher"
	"github.com/Tyrowin/cipherchat/internal/protocol"
	"github.com/Tyrowin/cipherchat/internal/testhelpers"
)

func newDetachedClient(t *testing.T) *Client {
	t.Helper()
	key, err := cipher.GenerateKey()
	require.NoError(t, err)
	return &Client{
		key:      key,
		log:      Options{}.withDefaults().Logger,
		username: protocol.DefaultUsername,
		roomKeys: make(map[string]cipher.Key),
		pending:  []string{defaultRoom},
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, "Général", o.Room)
	assert.Equal(t, uint64(defaultMaxRetries), o.MaxRetries)
	assert.Equal(t, defaultRetryInterval, o.RetryInterval)
	assert.Equal(t, defaultEventBuffer, o.EventBuffer)
	assert.NotNil(t, o.Logger)

	o = Options{Room: "lobby", MaxRetries: 1}.withDefaults()
	assert.Equal(t, "lobby", o.Room)
	assert.Equal(t, uint64(1), o.MaxRetries)
}

// TestRoomKeysBindInRequestOrder verifies that each ROOM_KEY is attached to
// the oldest room still waiting for one.
func TestRoomKeysBindInRequestOrder(t *testing.T) {
	c := newDetachedClient(t)
	c.pending = append(c.pending, "X", "Y")

	keys := make([]cipher.Key, 3)
	for i := range keys {
		k, err := cipher.GenerateKey()
		require.NoError(t, err)
		keys[i] = k
	}

	for i, room := range []string{"Général", "X", "Y"} {
		ev := c.decode(protocol.RoomKeyMessage(keys[i].Base64()))
		assert.Equal(t, EventRoomKey, ev.Kind)
		assert.Equal(t, room, ev.Room)
		assert.Equal(t, room, c.Room())
	}

	for i, room := range []string{"Général", "X", "Y"} {
		got, ok := c.RoomKey(room)
		require.True(t, ok)
		assert.Equal(t, keys[i], got)
	}

	// An unsolicited key rebinds the current room.
	extra, err := cipher.GenerateKey()
	require.NoError(t, err)
	assert.Equal(t, "Y", c.decode(protocol.RoomKeyMessage(extra.Base64())).Room)
}

func TestDecodeServerLines(t *testing.T) {
	c := newDetachedClient(t)

	tests := []struct {
		line string
		want Event
	}{
		{"USER_LIST:alice,bob", Event{Kind: EventUserList, Names: []string{"alice", "bob"}}},
		{"USER_LIST:", Event{Kind: EventUserList, Names: []string{}}},
		{"ROOM_LIST:Général,secrets", Event{Kind: EventRoomList, Names: []string{"Général", "secrets"}}},
		{"NEW_ROOM:secrets", Event{Kind: EventNewRoom, Room: "secrets"}},
		{"[SYSTEM] bob left the chat", Event{Kind: EventNotice, Text: "bob left the chat"}},
		{"[private from alice] psst", Event{Kind: EventPrivate, From: "alice", Text: "psst"}},
		{"just words", Event{Kind: EventText, Text: "just words"}},
		{"ROOM_KEY:not-a-key", Event{Kind: EventText, Text: "ROOM_KEY:not-a-key"}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, c.decode(tt.line))
		})
	}
}

func TestDecodeChatBodies(t *testing.T) {
	c := newDetachedClient(t)
	roomKey, err := cipher.GenerateKey()
	require.NoError(t, err)
	c.decode(protocol.RoomKeyMessage(roomKey.Base64()))

	body, err := cipher.Encrypt(roomKey, "hello there")
	require.NoError(t, err)

	ev := c.decode(protocol.ChatLine("Général", "alice", body))
	assert.Equal(t, Event{Kind: EventChat, Room: "Général", From: "alice", Text: "hello there"}, ev)

	t.Run("unknown room", func(t *testing.T) {
		ev := c.decode(protocol.ChatLine("elsewhere", "bob", body))
		assert.True(t, ev.Undecryptable)
		assert.Equal(t, body, ev.Text)
	})

	t.Run("plaintext body", func(t *testing.T) {
		ev := c.decode(protocol.ChatLine("Général", "bob", "not encrypted"))
		assert.True(t, ev.Undecryptable)
		assert.Equal(t, "not encrypted", ev.Text)
	})
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "chat", EventChat.String())
	assert.Equal(t, "room_key", EventRoomKey.String())
	assert.Equal(t, "text", EventText.String())
}

func TestDialRetriesThenFails(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := testhelpers.BuildWebSocketURL(srv.URL)
	srv.Close()

	start := time.Now()
	_, err := Dial(context.Background(), url, Options{MaxRetries: 2, RetryInterval: 10 * time.Millisecond})
	require.Error(t, err)
	assert.Less(t, time.Since(start), testhelpers.DefaultTimeout)
}

func TestDialRejectedHandshakeIsPermanent(t *testing.T) {
	var attempts atomic.Int32
	srv := testhelpers.CreateTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		http.Error(w, "forbidden", http.StatusForbidden)
	}))

	_, err := Dial(context.Background(), testhelpers.BuildWebSocketURL(srv.URL), Options{MaxRetries: 5})
	require.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestDialRejectsTextBootstrap(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := testhelpers.CreateTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte("hello"))
		_, _, _ = conn.ReadMessage()
	}))

	_, err := Dial(context.Background(), testhelpers.BuildWebSocketURL(srv.URL), Options{})
	assert.ErrorIs(t, err, ErrBootstrap)
}

func TestDialHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Dial(ctx, "ws://127.0.0.1:1/ws", Options{})
	assert.Error(t, err)
}
