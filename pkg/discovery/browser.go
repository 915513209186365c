package discovery

import (
	"context"
	"time"
)

// Browser provides mDNS service browsing capabilities.
type Browser interface {
	// Browse searches for evaluation services. Each instance is emitted
	// once; addresses seen later on other interfaces are merged into it.
	// The channel is closed when ctx is done.
	Browse(ctx context.Context) (<-chan *Service, error)

	// Find returns the first service whose instance name matches, or any
	// service if instanceName is empty. It gives up after the configured
	// BrowseTimeout or when ctx is done.
	Find(ctx context.Context, instanceName string) (*Service, error)

	// Stop stops all active browsing operations.
	Stop()
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// BrowseTimeout bounds Find.
	// Default: 5 seconds.
	BrowseTimeout time.Duration

	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		BrowseTimeout: BrowseTimeout,
		Interface:     "",
	}
}

// FilterFunc is a function that filters browse results.
type FilterFunc func(*Service) bool

// FilterByInstance returns a filter that matches one instance name. An
// empty name matches every service.
func FilterByInstance(name string) FilterFunc {
	return func(svc *Service) bool {
		return name == "" || svc.InstanceName == name
	}
}

// FilterByTransport returns a filter that matches services reachable over
// any of the given transports.
func FilterByTransport(transports ...string) FilterFunc {
	set := make(map[string]struct{}, len(transports))
	for _, t := range transports {
		set[t] = struct{}{}
	}
	return func(svc *Service) bool {
		_, ok := set[svc.Transport]
		return ok
	}
}
