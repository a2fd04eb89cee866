// Package testhelpers provides utilities shared by the relay's server and
// client tests: test servers, raw WebSocket connections that speak the
// encrypted framing, and bounded waits.
package testhelpers

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/cipherchat/internal/cipher"
)

// DefaultTimeout bounds every wait in these helpers.
const DefaultTimeout = 5 * time.Second

// TestOrigin is the origin the default configuration allows.
const TestOrigin = "http://localhost:8080"

// CreateTestServer starts an httptest server for handler and closes it when
// the test ends.
func CreateTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

// BuildWebSocketURL turns an httptest server URL into the relay endpoint.
func BuildWebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// OriginHeader returns a handshake header carrying origin.
func OriginHeader(origin string) http.Header {
	h := http.Header{}
	h.Set("Origin", origin)
	return h
}

// ConnectWebSocket dials url with the given header. The returned response is
// closed and its status code reported for handshake assertions.
func ConnectWebSocket(url string, header http.Header) (*websocket.Conn, int, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: DefaultTimeout,
	}

	conn, resp, err := dialer.Dial(url, header)
	status := 0
	if resp != nil {
		status = resp.StatusCode
		if resp.Body != nil {
			_ = resp.Body.Close()
		}
	}
	return conn, status, err
}

// RawSession is a hand-driven client connection used to exercise the wire
// format without the client package.
type RawSession struct {
	Conn *websocket.Conn
	Key  cipher.Key
}

// DialRaw connects to url, reads the bootstrap key and closes the connection
// when the test ends.
func DialRaw(t *testing.T, url string) *RawSession {
	t.Helper()

	conn, _, err := ConnectWebSocket(url, OriginHeader(TestOrigin))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(DefaultTimeout)))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, messageType, "bootstrap frame must be binary")

	key, err := cipher.KeyFromBytes(data)
	require.NoError(t, err)

	return &RawSession{Conn: conn, Key: key}
}

// Send encrypts line under the personal key and writes it as a text frame.
func (r *RawSession) Send(t *testing.T, line string) {
	t.Helper()
	ct, err := cipher.Encrypt(r.Key, line)
	require.NoError(t, err)
	require.NoError(t, r.Conn.WriteMessage(websocket.TextMessage, []byte(ct)))
}

// SendRaw writes data verbatim as a text frame.
func (r *RawSession) SendRaw(t *testing.T, data string) {
	t.Helper()
	require.NoError(t, r.Conn.WriteMessage(websocket.TextMessage, []byte(data)))
}

// Receive reads and decrypts the next frame.
func (r *RawSession) Receive(t *testing.T) string {
	t.Helper()
	require.NoError(t, r.Conn.SetReadDeadline(time.Now().Add(DefaultTimeout)))
	_, data, err := r.Conn.ReadMessage()
	require.NoError(t, err)

	line, err := cipher.Decrypt(r.Key, string(data))
	require.NoError(t, err)
	return line
}

// ReceiveUntil reads frames until match accepts one and returns it.
func (r *RawSession) ReceiveUntil(t *testing.T, match func(string) bool) string {
	t.Helper()
	deadline := time.Now().Add(DefaultTimeout)
	for time.Now().Before(deadline) {
		if line := r.Receive(t); match(line) {
			return line
		}
	}
	t.Fatalf("no matching message within %s", DefaultTimeout)
	return ""
}

// ExpectClosed waits for the server to end the connection.
func (r *RawSession) ExpectClosed(t *testing.T) {
	t.Helper()
	require.NoError(t, r.Conn.SetReadDeadline(time.Now().Add(DefaultTimeout)))
	for {
		if _, _, err := r.Conn.ReadMessage(); err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				t.Fatalf("connection still open after %s", DefaultTimeout)
			}
			return
		}
	}
}

// WaitFor polls cond until it holds or the default timeout expires.
func WaitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, DefaultTimeout, 10*time.Millisecond, msg)
}
