package transport

import (
	"crypto/tls"
	"net"

	"github.com/tmplbind/tmplbind-go/pkg/log"
)

// Listener accepts stream connections from clients.
type Listener struct {
	ln      net.Listener
	scheme  string
	maxSize uint32
	logger  log.Logger
}

// Listen listens on address. A non-nil tlsConf makes it a tls:// endpoint.
func Listen(address string, tlsConf *tls.Config, maxSize uint32, logger log.Logger) (*Listener, error) {
	var (
		ln     net.Listener
		err    error
		scheme = "tcp"
	)
	if tlsConf != nil {
		ln, err = tls.Listen("tcp", address, tlsConf)
		scheme = "tls"
	} else {
		ln, err = net.Listen("tcp", address)
	}
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln, scheme: scheme, maxSize: maxSize, logger: logger}, nil
}

// Accept waits for the next connection.
func (l *Listener) Accept() (*StreamConn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return NewStreamConn(conn, l.maxSize, l.logger), nil
}

// Addr returns the listen address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// URL returns the URL clients dial.
func (l *Listener) URL() string {
	return l.scheme + "://" + l.ln.Addr().String()
}

// Close stops listening.
func (l *Listener) Close() error {
	return l.ln.Close()
}
