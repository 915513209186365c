package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// ALPNProtocol is the ALPN identifier offered on tls:// connections.
const ALPNProtocol = "tmplbind/1"

// TLSConfig holds client-side TLS settings.
type TLSConfig struct {
	// CAFile is a PEM bundle of trusted CAs. Empty uses the system pool.
	CAFile string

	// ServerName overrides the name used for certificate verification.
	ServerName string

	// InsecureSkipVerify disables certificate verification.
	// Only for testing - never use in production!
	InsecureSkipVerify bool
}

// NewClientTLSConfig builds a *tls.Config from cfg. A nil cfg yields a
// config that verifies against the system roots.
func NewClientTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		NextProtos: []string{ALPNProtocol},
	}
	if cfg == nil {
		return tlsConfig, nil
	}

	tlsConfig.ServerName = cfg.ServerName
	tlsConfig.InsecureSkipVerify = cfg.InsecureSkipVerify

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}
