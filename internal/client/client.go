// Package client implements the remote side of the chat relay protocol. It
// receives the personal key on connect, tracks room keys as they are handed
// out, encrypts chat bodies under the current room key and exposes everything
// the server sends as a stream of typed events.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/cipherchat/internal/cipher"
	"github.com/Tyrowin/cipherchat/internal/protocol"
)

const (
	defaultRoom          = "Général"
	defaultMaxRetries    = 5
	defaultRetryInterval = 200 * time.Millisecond
	defaultEventBuffer   = 64
	handshakeTimeout     = 5 * time.Second
	writeTimeout         = 10 * time.Second
)

var (
	// ErrClosed is returned by operations on a client whose connection has ended.
	ErrClosed = errors.New("client closed")
	// ErrNoRoomKey is returned by Say before the current room's key has arrived.
	ErrNoRoomKey = errors.New("no key for current room")
	// ErrEmptyRoom is returned for a room name that is blank once trimmed. The
	// server ignores such commands without answering.
	ErrEmptyRoom = errors.New("empty room name")
	// ErrBootstrap is returned by Dial when the first frame is not a raw key.
	ErrBootstrap = errors.New("unexpected bootstrap frame")
)

// Options configures Dial. The zero value is usable.
type Options struct {
	// Header is sent with the handshake, typically to set Origin.
	Header http.Header
	// Room is the server's default room, bound to the first ROOM_KEY.
	Room string
	// MaxRetries bounds reconnection attempts after the first dial fails.
	MaxRetries uint64
	// RetryInterval is the initial backoff between dial attempts.
	RetryInterval time.Duration
	// EventBuffer sizes the Events channel.
	EventBuffer int
	Logger      *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Room == "" {
		o.Room = defaultRoom
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = defaultRetryInterval
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = defaultEventBuffer
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Client is one connection to the relay.
type Client struct {
	conn *websocket.Conn
	key  cipher.Key
	log  *zap.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	username string
	room     string
	roomKeys map[string]cipher.Key
	pending  []string

	events    chan Event
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// Dial connects to url, retrying with exponential backoff, and reads the
// personal key the server sends in the clear before anything else.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	opts = opts.withDefaults()

	conn, err := dialWithRetry(ctx, url, opts)
	if err != nil {
		return nil, err
	}

	key, err := readBootstrap(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	c := &Client{
		conn:     conn,
		key:      key,
		log:      opts.Logger,
		username: protocol.DefaultUsername,
		roomKeys: make(map[string]cipher.Key),
		pending:  []string{opts.Room},
		events:   make(chan Event, opts.EventBuffer),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func dialWithRetry(ctx context.Context, url string, opts Options) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	var conn *websocket.Conn
	operation := func() error {
		c, resp, err := dialer.DialContext(ctx, url, opts.Header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(fmt.Errorf("handshake rejected with %d: %w", resp.StatusCode, err))
			}
			return err
		}
		conn = c
		return nil
	}

	backoffStrategy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(backoff.WithInitialInterval(opts.RetryInterval)),
			opts.MaxRetries,
		),
		ctx,
	)

	err := backoff.RetryNotify(operation, backoffStrategy, func(err error, d time.Duration) {
		opts.Logger.Info("retrying dial", zap.String("url", url), zap.Error(err), zap.Duration("next_attempt", d))
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

func readBootstrap(conn *websocket.Conn) (cipher.Key, error) {
	if err := conn.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return cipher.Key{}, err
	}
	messageType, data, err := conn.ReadMessage()
	if err != nil {
		return cipher.Key{}, fmt.Errorf("read personal key: %w", err)
	}
	if messageType != websocket.BinaryMessage {
		return cipher.Key{}, ErrBootstrap
	}
	key, err := cipher.KeyFromBytes(data)
	if err != nil {
		return cipher.Key{}, fmt.Errorf("%w: %w", ErrBootstrap, err)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return cipher.Key{}, err
	}
	return key, nil
}

// PersonalKey returns the key received at connect.
func (c *Client) PersonalKey() cipher.Key {
	return c.key
}

// Username returns the name last declared through SetUsername.
func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// Room returns the room whose key was bound most recently.
func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// RoomKey returns the key bound to room, if any.
func (c *Client) RoomKey(room string) (cipher.Key, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, ok := c.roomKeys[room]
	return key, ok
}

// Events returns the stream of decoded server messages. It is closed when the
// connection ends.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Done is closed once the receive loop has stopped.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the receive loop, or nil after Close or a
// normal closure by the server.
func (c *Client) Err() error {
	<-c.done
	return c.err
}

// Send encrypts line under the personal key and writes it as one frame.
func (c *Client) Send(line string) error {
	ct, err := cipher.Encrypt(c.key, line)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(ct))
}

// SetUsername declares the display name used in chat lines.
func (c *Client) SetUsername(name string) error {
	if err := c.Send(protocol.PrefixSetUsername + name); err != nil {
		return err
	}
	c.mu.Lock()
	c.username = name
	c.mu.Unlock()
	return nil
}

// ChangeRoom asks to move into room. The next unbound ROOM_KEY belongs to it.
// The name is trimmed the way the server trims it.
func (c *Client) ChangeRoom(room string) error {
	room = strings.TrimSpace(room)
	if room == "" {
		return ErrEmptyRoom
	}

	c.mu.Lock()
	c.pending = append(c.pending, room)
	c.mu.Unlock()

	if err := c.Send(protocol.PrefixChangeRoom + room); err != nil {
		c.mu.Lock()
		c.pending = c.pending[:len(c.pending)-1]
		c.mu.Unlock()
		return err
	}
	return nil
}

// CreateRoom asks the server to create room without joining it.
func (c *Client) CreateRoom(room string) error {
	room = strings.TrimSpace(room)
	if room == "" {
		return ErrEmptyRoom
	}
	return c.Send(protocol.PrefixCreateRoom + room)
}

// PrivateMessage sends body to the user named to.
func (c *Client) PrivateMessage(to, body string) error {
	return c.Send(protocol.PrefixPrivateMessage + to + ":" + body)
}

// Say sends text to the current room. The body is encrypted under the room key
// so the relay only sees the room tag and username.
func (c *Client) Say(text string) error {
	c.mu.Lock()
	room, username := c.room, c.username
	key, ok := c.roomKeys[room]
	c.mu.Unlock()

	if !ok {
		return ErrNoRoomKey
	}

	body, err := cipher.Encrypt(key, text)
	if err != nil {
		return err
	}
	return c.Send(protocol.ChatLine(room, username, body))
}

// Bye tells the server to end the session. The server closes the connection
// in response, which ends the receive loop.
func (c *Client) Bye() error {
	return c.Send(protocol.ByeToken)
}

// Close sends a normal closure and tears down the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)

		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer func() {
		close(c.events)
		close(c.done)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}

		line, err := cipher.Decrypt(c.key, string(data))
		if err != nil {
			c.log.Warn("dropping frame that does not decrypt under personal key", zap.Error(err))
			continue
		}

		ev := c.decode(line)
		select {
		case c.events <- ev:
		case <-c.closing:
			return
		}
	}
}

func (c *Client) finish(err error) {
	select {
	case <-c.closing:
		return
	default:
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}
	c.err = err
}

// decode turns a plaintext server line into an Event, binding room keys and
// decrypting chat bodies on the way.
func (c *Client) decode(line string) Event {
	switch msg := protocol.ParseServer(line).(type) {
	case protocol.RoomKey:
		return c.bindRoomKey(msg.Encoded, line)
	case protocol.UserList:
		return Event{Kind: EventUserList, Names: msg.Users}
	case protocol.RoomList:
		return Event{Kind: EventRoomList, Names: msg.Rooms}
	case protocol.NewRoom:
		return Event{Kind: EventNewRoom, Room: msg.Name}
	case protocol.SystemNotice:
		return Event{Kind: EventNotice, Text: msg.Text}
	case protocol.Private:
		return Event{Kind: EventPrivate, From: msg.From, Text: msg.Body}
	case protocol.Chat:
		return c.decodeChat(msg)
	case protocol.Text:
		return Event{Kind: EventText, Text: msg.Raw}
	}
	return Event{Kind: EventText, Text: line}
}

func (c *Client) bindRoomKey(encoded, line string) Event {
	key, err := cipher.ParseKey(encoded)
	if err != nil {
		c.log.Warn("ignoring malformed room key", zap.Error(err))
		return Event{Kind: EventText, Text: line}
	}

	c.mu.Lock()
	room := c.room
	if len(c.pending) > 0 {
		room = c.pending[0]
		c.pending = c.pending[1:]
	}
	c.roomKeys[room] = key
	c.room = room
	c.mu.Unlock()

	return Event{Kind: EventRoomKey, Room: room}
}

func (c *Client) decodeChat(msg protocol.Chat) Event {
	ev := Event{Kind: EventChat, Room: msg.Room, From: msg.From, Text: msg.Body}

	key, ok := c.RoomKey(msg.Room)
	if !ok {
		ev.Undecryptable = true
		return ev
	}
	body, err := cipher.Decrypt(key, msg.Body)
	if err != nil {
		ev.Undecryptable = true
		return ev
	}
	ev.Text = body
	return ev
}
