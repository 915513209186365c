package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/tmplbind/tmplbind-go/internal/evaltest"
	"github.com/tmplbind/tmplbind-go/pkg/channel"
	"github.com/tmplbind/tmplbind-go/pkg/config"
	"github.com/tmplbind/tmplbind-go/pkg/discovery"
	"github.com/tmplbind/tmplbind-go/pkg/transport"
)

func TestResolveURLFixed(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Service.URL = "tcp://10.0.0.5:8125"

	url, err := resolveURL(context.Background(), cfg)
	if err != nil {
		t.Fatalf("resolveURL failed: %v", err)
	}
	if url != "tcp://10.0.0.5:8125" {
		t.Errorf("url = %q, want the configured URL", url)
	}
}

// TestResolveURLDiscoversService advertises a running service over mDNS
// and checks that the discovered URL can be dialed.
func TestResolveURLDiscoversService(t *testing.T) {
	if os.Getenv("TMPLBIND_MDNS_TESTS") == "" {
		t.Skip("set TMPLBIND_MDNS_TESTS=1 to run mDNS tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	srv, err := evaltest.NewServerAt(":0", evaltest.Handlers{})
	if err != nil {
		t.Fatalf("Failed to start service: %v", err)
	}
	defer srv.Close()

	adv, err := discovery.NewMDNSAdvertiser(discovery.DefaultAdvertiserConfig())
	if err != nil {
		t.Fatalf("Failed to create advertiser: %v", err)
	}
	defer adv.StopAll()

	instance := fmt.Sprintf("tmplbind-test-%d", os.Getpid())
	if err := srv.Advertise(ctx, adv, instance); err != nil {
		t.Fatalf("Advertise failed: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Service.URL = config.DiscoverURL
	cfg.Service.Instance = instance
	cfg.Service.DiscoveryTimeout = config.Duration(10 * time.Second)

	url, err := resolveURL(ctx, cfg)
	if err != nil {
		t.Fatalf("resolveURL failed: %v", err)
	}
	if !strings.HasSuffix(url, fmt.Sprintf(":%d", srv.Port())) {
		t.Errorf("url = %q, want port %d", url, srv.Port())
	}

	conn, err := transport.Dial(ctx, url, transport.DialOptions{})
	if err != nil {
		t.Fatalf("Dial %s failed: %v", url, err)
	}
	client := channel.NewClient(conn, channel.Config{RequestTimeout: 2 * time.Second})
	defer client.Close()

	if _, err := client.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
