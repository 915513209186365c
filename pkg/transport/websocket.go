package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tmplbind/tmplbind-go/pkg/log"
)

// ErrUnexpectedMessageType is returned when the peer sends a non-binary
// WebSocket message.
var ErrUnexpectedMessageType = errors.New("unexpected websocket message type")

// closeWriteTimeout bounds the close handshake write.
const closeWriteTimeout = time.Second

// WebSocketConn is a Conn over a WebSocket. Each protocol message is one
// binary WebSocket message.
type WebSocketConn struct {
	id     string
	conn   *websocket.Conn
	logger log.Logger

	writeMu   sync.Mutex
	readMu    sync.Mutex
	closeCh   chan struct{}
	closeOnce sync.Once
}

// DialWebSocket connects to a ws:// or wss:// URL.
func DialWebSocket(ctx context.Context, rawURL string, opts DialOptions) (*WebSocketConn, error) {
	dialer := websocket.Dialer{
		TLSClientConfig:  opts.TLS,
		HandshakeTimeout: opts.ConnectTimeout,
		Subprotocols:     []string{ALPNProtocol},
	}
	conn, resp, err := dialer.DialContext(ctx, rawURL, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return newWebSocketConn(conn, opts.MaxMessageSize, opts.Logger), nil
}

// UpgradeWebSocket upgrades an HTTP request on the service side.
func UpgradeWebSocket(w http.ResponseWriter, r *http.Request, maxSize uint32, logger log.Logger) (*WebSocketConn, error) {
	upgrader := websocket.Upgrader{
		Subprotocols: []string{ALPNProtocol},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade failed: %w", err)
	}
	return newWebSocketConn(conn, maxSize, logger), nil
}

func newWebSocketConn(conn *websocket.Conn, maxSize uint32, logger log.Logger) *WebSocketConn {
	if maxSize == 0 {
		maxSize = DefaultMaxMessageSize
	}
	conn.SetReadLimit(int64(maxSize))
	return &WebSocketConn{
		id:      uuid.NewString(),
		conn:    conn,
		logger:  logger,
		closeCh: make(chan struct{}),
	}
}

// ID returns the connection identifier.
func (c *WebSocketConn) ID() string {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *WebSocketConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Send sends one binary message.
func (c *WebSocketConn) Send(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if c.logger != nil {
		c.logger.Log(frameEvent(c.id, data, log.DirectionOut, 0))
	}
	return nil
}

// Receive reads one binary message, waiting at most timeout (zero waits
// forever). A normal close from the peer is reported as ErrConnectionClosed.
func (c *WebSocketConn) Receive(timeout time.Duration) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}

	msgType, data, err := c.conn.ReadMessage()
	if err != nil {
		select {
		case <-c.closeCh:
			return nil, ErrConnectionClosed
		default:
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, ErrConnectionClosed
		}
		return nil, err
	}
	if msgType != websocket.BinaryMessage {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedMessageType, msgType)
	}
	if c.logger != nil {
		c.logger.Log(frameEvent(c.id, data, log.DirectionIn, 0))
	}
	return data, nil
}

// Close sends a close message and closes the connection.
func (c *WebSocketConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWriteTimeout))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
