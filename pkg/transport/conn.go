package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tmplbind/tmplbind-go/pkg/log"
)

// DefaultConnectTimeout bounds Dial when the context has no deadline.
const DefaultConnectTimeout = 30 * time.Second

// DialOptions configures Dial.
type DialOptions struct {
	// TLS is used for tls:// and wss:// URLs. Nil uses NewClientTLSConfig(nil).
	TLS *tls.Config

	// MaxMessageSize is the maximum message size (default: 64 KiB).
	MaxMessageSize uint32

	// ConnectTimeout is used when ctx carries no deadline (default: 30s).
	ConnectTimeout time.Duration

	// Header is sent with the WebSocket upgrade request.
	Header http.Header

	// Logger captures frames. Nil disables capture.
	Logger log.Logger
}

// Dial connects to the evaluation service at rawURL.
// Supported schemes: tcp, tls, ws, wss.
func Dial(ctx context.Context, rawURL string, opts DialOptions) (Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid service URL %q: %w", rawURL, err)
	}

	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	switch u.Scheme {
	case "tcp":
		return dialStream(ctx, u.Host, nil, opts)
	case "tls":
		tlsConf := opts.TLS
		if tlsConf == nil {
			if tlsConf, err = NewClientTLSConfig(nil); err != nil {
				return nil, err
			}
		}
		return dialStream(ctx, u.Host, tlsConf, opts)
	case "ws", "wss":
		return DialWebSocket(ctx, u.String(), opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

func dialStream(ctx context.Context, address string, tlsConf *tls.Config, opts DialOptions) (*StreamConn, error) {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	if tlsConf != nil {
		if tlsConf.ServerName == "" {
			host, _, _ := net.SplitHostPort(address)
			tlsConf = tlsConf.Clone()
			tlsConf.ServerName = host
		}
		tlsConn := tls.Client(conn, tlsConf)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("TLS handshake failed: %w", err)
		}
		conn = tlsConn
	}

	return NewStreamConn(conn, opts.MaxMessageSize, opts.Logger), nil
}

// StreamConn is a Conn over a byte stream using length-prefixed frames.
type StreamConn struct {
	id     string
	conn   net.Conn
	framer *Framer

	closeCh   chan struct{}
	closeOnce sync.Once
	readMu    sync.Mutex
}

// NewStreamConn wraps an established net.Conn. Used by Dial and by
// servers accepting connections.
func NewStreamConn(conn net.Conn, maxSize uint32, logger log.Logger) *StreamConn {
	c := &StreamConn{
		id:      uuid.NewString(),
		conn:    conn,
		framer:  NewFramer(conn, maxSize),
		closeCh: make(chan struct{}),
	}
	c.framer.SetLogger(logger, c.id)
	return c
}

// ID returns the connection identifier.
func (c *StreamConn) ID() string {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *StreamConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Send sends one frame.
func (c *StreamConn) Send(data []byte) error {
	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}
	return c.framer.WriteFrame(data)
}

// Receive reads one frame, waiting at most timeout (zero waits forever).
func (c *StreamConn) Receive(timeout time.Duration) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	select {
	case <-c.closeCh:
		return nil, ErrConnectionClosed
	default:
	}

	if timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}

	data, err := c.framer.ReadFrame()
	if err != nil {
		select {
		case <-c.closeCh:
			return nil, ErrConnectionClosed
		default:
		}
		return nil, err
	}
	return data, nil
}

// Close closes the connection.
func (c *StreamConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}
