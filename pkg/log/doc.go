// Package log provides structured protocol capture for template bindings.
//
// This package defines the Logger interface and Event types for recording
// what happens on the evaluation channel and inside owners' bindings. It is
// separate from operational logging (slog): capture produces a complete,
// machine-readable trace for debugging why a field shows a fallback value.
//
// # Basic Usage
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to a binary capture file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/tmplbind/session.tlog")
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(console, file)
//
// # Event Types
//
// Events are captured at three layers:
//   - Transport: raw frames (FrameEvent)
//   - Wire: decoded requests, responses and events (MessageEvent)
//   - Binding: subscription and owner state transitions (StateChangeEvent)
//
// Errors at any layer have a dedicated ErrorEventData payload.
//
// # File Format
//
// Capture files are a sequence of CBOR-encoded events (.tlog). The
// "tmplbind log" command prints them.
package log
