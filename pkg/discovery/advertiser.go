package discovery

import (
	"context"
	"time"
)

// Advertiser provides mDNS service advertising capabilities.
type Advertiser interface {
	// Advertise starts advertising a service. An existing advertisement
	// with the same instance name is replaced.
	Advertise(ctx context.Context, info *ServiceInfo) error

	// Update replaces the TXT records of an advertised instance.
	Update(instanceName string, info *ServiceInfo) error

	// Stop stops advertising one instance.
	Stop(instanceName string) error

	// StopAll stops all advertisements.
	StopAll()
}

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// TTL is the DNS record TTL.
	// Default: 120 seconds.
	TTL time.Duration
}

// DefaultAdvertiserConfig returns the default advertiser configuration.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{
		Interface: "",
		TTL:       DefaultTTL,
	}
}
