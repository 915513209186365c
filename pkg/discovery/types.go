package discovery

import (
	"errors"
	"net"
	"strconv"
	"time"
)

// Service type constants for mDNS.
const (
	// ServiceType is the DNS-SD service type of evaluation services.
	ServiceType = "_tmplbind._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default evaluation service port.
	DefaultPort = 8125

	// ProtocolVersion is the wire protocol version advertised in TXT records.
	ProtocolVersion = "1"
)

// TXT record key constants.
const (
	TXTKeyVersion   = "v"    // Protocol version
	TXTKeyTransport = "tr"   // Transport scheme (tcp, tls, ws, wss)
	TXTKeyPath      = "path" // HTTP path for WebSocket transports (optional)
	TXTKeyID        = "id"   // Stable service identifier (optional)
)

// Timing constants.
const (
	// BrowseTimeout is the default timeout for Find.
	BrowseTimeout = 5 * time.Second

	// DefaultTTL is the default DNS record TTL.
	DefaultTTL = 120 * time.Second
)

// Limits.
const (
	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63
)

// Errors.
var (
	ErrNotFound            = errors.New("service not found")
	ErrMissingRequired     = errors.New("missing required TXT record")
	ErrInvalidTXTRecord    = errors.New("invalid TXT record")
	ErrInvalidTransport    = errors.New("invalid transport scheme")
	ErrInvalidInstanceName = errors.New("invalid instance name")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrNoAddress           = errors.New("service has no address")
)

// ServiceInfo describes a service to advertise.
type ServiceInfo struct {
	// InstanceName is the DNS-SD instance name.
	InstanceName string

	// Port is the listening port (default: DefaultPort).
	Port uint16

	// Transport is the URL scheme clients dial (default: tcp).
	Transport string

	// Path is the HTTP path for ws and wss.
	Path string

	// ID is an optional stable identifier.
	ID string
}

// Service is a discovered evaluation service.
type Service struct {
	InstanceName string
	Host         string
	Port         uint16

	// Addresses holds every IPv4 and IPv6 address seen for the instance.
	Addresses []string

	Version   string
	Transport string
	Path      string
	ID        string
}

// URL returns the dial URL for the service. IPv4 addresses are preferred
// over IPv6, and the host name is used when no address was resolved.
func (s *Service) URL() (string, error) {
	host := ""
	for _, addr := range s.Addresses {
		ip := net.ParseIP(addr)
		if ip == nil {
			continue
		}
		if ip.To4() != nil {
			host = addr
			break
		}
		if host == "" {
			host = addr
		}
	}
	if host == "" {
		host = s.Host
	}
	if host == "" {
		return "", ErrNoAddress
	}

	transport := s.Transport
	if transport == "" {
		transport = "tcp"
	}
	port := s.Port
	if port == 0 {
		port = DefaultPort
	}

	u := transport + "://" + net.JoinHostPort(host, strconv.Itoa(int(port)))
	if s.Path != "" && (transport == "ws" || transport == "wss") {
		if s.Path[0] != '/' {
			u += "/"
		}
		u += s.Path
	}
	return u, nil
}

// ValidTransport reports whether scheme is a transport clients can dial.
func ValidTransport(scheme string) bool {
	switch scheme {
	case "tcp", "tls", "ws", "wss":
		return true
	}
	return false
}
