// Command tmplbind binds configured fields to a template evaluation service.
//
// It connects to the service (or finds it via mDNS), attaches every
// configured owner, and prints each value change. When the connection
// drops it reconnects with backoff and resubscribes the fields that fell
// back to their raw values.
//
// Usage:
//
//	tmplbind [flags]
//	tmplbind log [flags] <file.tlog>
//
// Flags:
//
//	-config string        Configuration file path (YAML)
//	-url string           Evaluation service URL, or "mdns" to discover it
//	-instance string      mDNS instance name to connect to
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-interactive          Enable interactive command mode
//	-strict               Subscribe templates in strict mode
//	-protocol-log string  File path for protocol event logging (CBOR format)
//	-metrics-addr string  Address to serve Prometheus metrics on, e.g. :9125
//
// Examples:
//
//	# Bind the owners in bindings.yaml and open a console
//	tmplbind -config bindings.yaml -interactive
//
//	# Find the service on the local network and capture the session
//	tmplbind -config bindings.yaml -url mdns -protocol-log session.tlog
//
//	# View a captured session
//	tmplbind log session.tlog
//
// Interactive Commands:
//
//	owners                         - List owners and their phase
//	attach <owner>                 - Attach an owner
//	detach <owner>                 - Release all subscriptions of an owner
//	retry <owner>                  - Resubscribe keys that fell back
//	read <owner> [key]             - Show current values
//	set <owner> <key> <value...>   - Declare or change a field
//	var <owner> <key> <name> <val> - Set a template variable
//	ping                           - Check the evaluation service
//	quit                           - Exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tmplbind/tmplbind-go/cmd/tmplbind-log/commands"
	"github.com/tmplbind/tmplbind-go/cmd/tmplbind/interactive"
	"github.com/tmplbind/tmplbind-go/pkg/binding"
	"github.com/tmplbind/tmplbind-go/pkg/channel"
	"github.com/tmplbind/tmplbind-go/pkg/config"
	"github.com/tmplbind/tmplbind-go/pkg/connection"
	"github.com/tmplbind/tmplbind-go/pkg/discovery"
	tblog "github.com/tmplbind/tmplbind-go/pkg/log"
	"github.com/tmplbind/tmplbind-go/pkg/transport"
)

// shutdownTimeout bounds releasing all subscriptions on exit.
const shutdownTimeout = 10 * time.Second

// Options holds the command-line flags.
type Options struct {
	ConfigFile  string
	URL         string
	Instance    string
	LogLevel    string
	Interactive bool
	Strict      bool
	ProtocolLog string
	MetricsAddr string
}

var opts Options

func init() {
	flag.StringVar(&opts.ConfigFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&opts.URL, "url", "", "Evaluation service URL, or \"mdns\" to discover it")
	flag.StringVar(&opts.Instance, "instance", "", "mDNS instance name to connect to")
	flag.StringVar(&opts.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.BoolVar(&opts.Interactive, "interactive", false, "Enable interactive command mode")
	flag.BoolVar(&opts.Strict, "strict", false, "Subscribe templates in strict mode")
	flag.StringVar(&opts.ProtocolLog, "protocol-log", "", "File path for protocol event logging (CBOR format)")
	flag.StringVar(&opts.MetricsAddr, "metrics-addr", "", "Address to serve Prometheus metrics on, e.g. :9125")
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "log" {
		runLog(os.Args[2:])
		return
	}

	flag.Parse()

	logger := setupLogging(opts.LogLevel)

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Println("tmplbind")
	log.Println("========")
	log.Printf("Service: %s", cfg.Service.URL)
	log.Printf("Owners: %d", len(cfg.Owners))

	protocolLogger, closeProtocolLog, err := setupProtocolLog(cfg.ProtocolLog, logger)
	if err != nil {
		log.Fatalf("Failed to create protocol logger: %v", err)
	}
	defer closeProtocolLog()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := binding.NewMetrics(reg)
	if err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, reg)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	url, err := resolveURL(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to find evaluation service: %v", err)
	}
	log.Printf("Connecting to %s", url)

	dialOpts, err := dialOptions(cfg, protocolLogger)
	if err != nil {
		log.Fatalf("Invalid TLS settings: %v", err)
	}

	// Owners that fell back on a lost connection resubscribe once a new
	// one is up.
	var (
		mgr   *binding.Manager
		ready atomic.Bool
	)
	session := connection.NewSession(connection.Config{
		Dial: func(ctx context.Context) (transport.Conn, error) {
			return transport.Dial(ctx, url, dialOpts)
		},
		Client:         clientConfig(cfg, logger, protocolLogger),
		DialTimeout:    cfg.Service.ConnectTimeout.Std(),
		Logger:         logger,
		ProtocolLogger: protocolLogger,
		OnStateChange: func(oldState, newState connection.State) {
			log.Printf("[CONN] %s -> %s", oldState, newState)
		},
		OnConnected: func(client *channel.Client) {
			if ready.Load() {
				go retryAll(mgr)
			}
		},
	})
	defer session.Close()

	mgr = binding.NewManager(session, binding.Config{
		Strict:         cfg.Strict,
		Logger:         logger,
		ProtocolLogger: protocolLogger,
		Metrics:        metrics,
		OnChange:       printChange,
	})

	connectCtx, connectCancel := context.WithTimeout(ctx, cfg.Service.ConnectTimeout.Std())
	err = session.Connect(connectCtx)
	connectCancel()
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}

	for _, o := range cfg.Owners {
		if _, err := mgr.Attach(ctx, o.ID, o.BindingFields()); err != nil {
			log.Printf("Failed to attach %s: %v", o.ID, err)
		}
	}
	ready.Store(true)

	if opts.Interactive {
		console, err := interactive.New(mgr, session, cfg)
		if err != nil {
			log.Fatalf("Failed to create interactive console: %v", err)
		}
		// Redirect log output through readline to avoid interfering with input
		log.SetOutput(console.Stdout())
		go console.Run(ctx, cancel)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal: %v", sig)
	case <-ctx.Done():
		// Context was cancelled (e.g., by interactive quit command)
	}

	log.Println("Shutting down...")

	closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer closeCancel()
	if err := mgr.Close(closeCtx); err != nil {
		log.Printf("Error releasing subscriptions: %v", err)
	}

	log.Println("Goodbye!")
}

// setupLogging configures the standard logger and returns the structured
// debug logger, which is nil unless level is debug.
func setupLogging(level string) *slog.Logger {
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	switch level {
	case "debug":
		log.SetFlags(log.Ltime | log.Lmicroseconds | log.Lshortfile)
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case "warn", "error":
		log.SetFlags(log.Ltime)
	}
	return nil
}

// loadConfig loads the configuration file, if any, and applies flags that
// were set explicitly.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if opts.ConfigFile != "" {
		var err error
		cfg, err = config.Load(opts.ConfigFile)
		if err != nil {
			return nil, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "url":
			cfg.Service.URL = opts.URL
		case "instance":
			cfg.Service.Instance = opts.Instance
		case "strict":
			cfg.Strict = opts.Strict
		case "protocol-log":
			cfg.ProtocolLog = opts.ProtocolLog
		case "metrics-addr":
			cfg.MetricsAddr = opts.MetricsAddr
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupProtocolLog opens the capture file. In debug mode captured events
// are also written to the debug logger.
func setupProtocolLog(path string, logger *slog.Logger) (tblog.Logger, func(), error) {
	var loggers []tblog.Logger
	closeFn := func() {}

	if path != "" {
		fileLogger, err := tblog.NewFileLogger(path)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("Protocol logging to: %s", path)
		loggers = append(loggers, fileLogger)
		closeFn = func() {
			log.Printf("Protocol log: %d events written to %s", fileLogger.Events(), fileLogger.Path())
			_ = fileLogger.Close()
		}
	}
	if logger != nil {
		loggers = append(loggers, tblog.NewSlogAdapter(logger))
	}

	// Only return a logger when there is one to avoid a typed-nil interface.
	switch len(loggers) {
	case 0:
		return nil, closeFn, nil
	case 1:
		return loggers[0], closeFn, nil
	default:
		return tblog.NewMultiLogger(loggers...), closeFn, nil
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Metrics server failed: %v", err)
		}
	}()
	log.Printf("Serving metrics on %s/metrics", addr)
	return srv
}

// resolveURL returns the configured URL, browsing mDNS when asked to.
func resolveURL(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.Service.URL != config.DiscoverURL {
		return cfg.Service.URL, nil
	}

	browser, err := discovery.NewMDNSBrowser(discovery.BrowserConfig{
		BrowseTimeout: cfg.Service.DiscoveryTimeout.Std(),
	})
	if err != nil {
		return "", err
	}
	defer browser.Stop()

	log.Printf("Browsing for %s services...", discovery.ServiceType)
	svc, err := browser.Find(ctx, cfg.Service.Instance)
	if err != nil {
		return "", err
	}
	log.Printf("Found %s at %s:%d", svc.InstanceName, svc.Host, svc.Port)
	return svc.URL()
}

func dialOptions(cfg *config.Config, protocolLogger tblog.Logger) (transport.DialOptions, error) {
	tlsConf, err := transport.NewClientTLSConfig(&transport.TLSConfig{
		CAFile:             cfg.Service.TLS.CAFile,
		ServerName:         cfg.Service.TLS.ServerName,
		InsecureSkipVerify: cfg.Service.TLS.InsecureSkipVerify,
	})
	if err != nil {
		return transport.DialOptions{}, err
	}
	return transport.DialOptions{
		TLS:            tlsConf,
		MaxMessageSize: cfg.Service.MaxMessageSize,
		ConnectTimeout: cfg.Service.ConnectTimeout.Std(),
		Logger:         protocolLogger,
	}, nil
}

func clientConfig(cfg *config.Config, logger *slog.Logger, protocolLogger tblog.Logger) channel.Config {
	var keepAlive channel.KeepAliveConfig
	if ka := cfg.Service.KeepAlive; ka.Interval > 0 {
		keepAlive = channel.DefaultKeepAliveConfig()
		keepAlive.PingInterval = ka.Interval.Std()
		if ka.Timeout > 0 {
			keepAlive.PongTimeout = ka.Timeout.Std()
		}
		if ka.MaxMissed > 0 {
			keepAlive.MaxMissedPongs = ka.MaxMissed
		}
	}
	return channel.Config{
		RequestTimeout: cfg.Service.RequestTimeout.Std(),
		KeepAlive:      keepAlive,
		Logger:         logger,
		ProtocolLogger: protocolLogger,
	}
}

func retryAll(mgr *binding.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, owner := range mgr.Owners() {
		if b := mgr.Binder(owner); b == nil || b.Phase() == binding.PhaseDetached {
			continue
		}
		if err := mgr.Retry(ctx, owner); err != nil {
			log.Printf("Failed to resubscribe %s: %v", owner, err)
		}
	}
}

func printChange(c binding.Change) {
	if c.Fallback {
		log.Printf("[CHANGE] %s/%s = %q (fallback)", c.Owner, c.Key, c.Result.Value)
		return
	}
	log.Printf("[CHANGE] %s/%s = %q", c.Owner, c.Key, c.Result.Value)
}

func usageExit(fs *flag.FlagSet) {
	fs.Usage()
	os.Exit(1)
}

// runLog prints a captured protocol log.
func runLog(args []string) {
	fs := flag.NewFlagSet("log", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "tmplbind log - View a protocol log\n\nUsage:\n  tmplbind log [flags] <file.tlog>\n\nFlags:\n")
		fs.PrintDefaults()
		fmt.Fprintln(os.Stderr, "\nUse tmplbind-log for export, filter and stats.")
	}
	owner := fs.String("owner", "", "Filter by owner")
	layer := fs.String("layer", "", "Filter by layer (transport, wire, binding)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		usageExit(fs)
	}

	filter := commands.ViewFilter{Owner: *owner}
	if *layer != "" {
		l, err := commands.ParseLayerFlag(*layer)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		filter.Layer = &l
	}

	if err := commands.RunView(fs.Arg(0), filter, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
