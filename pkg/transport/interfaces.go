package transport

import (
	"errors"
	"time"
)

// Connection errors.
var (
	ErrConnectionClosed  = errors.New("connection closed")
	ErrUnsupportedScheme = errors.New("unsupported transport scheme")
)

// Conn is a message-oriented, bidirectional connection.
// Implemented by StreamConn and WebSocketConn.
type Conn interface {
	// ID returns the connection identifier used in protocol capture.
	ID() string

	// RemoteAddr returns the peer address.
	RemoteAddr() string

	// Send sends one message. Safe for concurrent use.
	Send(data []byte) error

	// Receive blocks for the next message. A zero timeout waits forever.
	Receive(timeout time.Duration) ([]byte, error)

	// Close closes the connection. Safe to call more than once.
	Close() error
}

// FrameReadWriter provides length-prefixed frame I/O.
// Implemented by Framer.
type FrameReadWriter interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
}

var (
	_ Conn            = (*StreamConn)(nil)
	_ Conn            = (*WebSocketConn)(nil)
	_ FrameReadWriter = (*Framer)(nil)
)
