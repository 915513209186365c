package channel

import (
	"context"
	"time"
)

// Keep-alive defaults.
const (
	DefaultPingInterval   = 30 * time.Second
	DefaultPongTimeout    = 5 * time.Second
	DefaultMaxMissedPongs = 3
)

// KeepAliveConfig configures keep-alive pings.
type KeepAliveConfig struct {
	// PingInterval is the interval between pings. Zero disables keep-alive.
	PingInterval time.Duration

	// PongTimeout is how long to wait for each ping's response.
	PongTimeout time.Duration

	// MaxMissedPongs is the number of consecutive failures before the
	// connection is declared lost.
	MaxMissedPongs int
}

// DefaultKeepAliveConfig returns the default keep-alive configuration.
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		PingInterval:   DefaultPingInterval,
		PongTimeout:    DefaultPongTimeout,
		MaxMissedPongs: DefaultMaxMissedPongs,
	}
}

// DetectionDelay is the longest time a dead connection goes unnoticed.
func (c KeepAliveConfig) DetectionDelay() time.Duration {
	return c.PingInterval*time.Duration(c.MaxMissedPongs) + c.PongTimeout
}

type keepAlive struct {
	config    KeepAliveConfig
	ping      func(ctx context.Context) (time.Duration, error)
	onTimeout func()
}

func newKeepAlive(config KeepAliveConfig, ping func(ctx context.Context) (time.Duration, error), onTimeout func()) *keepAlive {
	if config.PongTimeout == 0 {
		config.PongTimeout = DefaultPongTimeout
	}
	if config.MaxMissedPongs == 0 {
		config.MaxMissedPongs = DefaultMaxMissedPongs
	}
	return &keepAlive{config: config, ping: ping, onTimeout: onTimeout}
}

// start runs the ping loop until stop is closed.
func (ka *keepAlive) start(stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(ka.config.PingInterval)
		defer ticker.Stop()

		missed := 0
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}

			ctx, cancel := context.WithTimeout(context.Background(), ka.config.PongTimeout)
			_, err := ka.ping(ctx)
			cancel()

			if err == nil {
				missed = 0
				continue
			}
			missed++
			if missed >= ka.config.MaxMissedPongs {
				ka.onTimeout()
				return
			}
		}
	}()
}
