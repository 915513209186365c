package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tmplbind/tmplbind-go/pkg/channel"
	"github.com/tmplbind/tmplbind-go/pkg/log"
	"github.com/tmplbind/tmplbind-go/pkg/transport"
)

// DefaultDialTimeout bounds each reconnect attempt.
const DefaultDialTimeout = 30 * time.Second

// Session errors.
var (
	ErrSessionClosed    = errors.New("session closed")
	ErrAlreadyConnected = errors.New("already connected")
)

// State represents the session state.
type State uint8

const (
	// StateDisconnected indicates no channel and no reconnect in progress.
	StateDisconnected State = iota

	// StateConnecting indicates the first dial is in progress.
	StateConnecting

	// StateConnected indicates an open channel.
	StateConnected

	// StateReconnecting indicates the channel dropped and redialing is
	// in progress.
	StateReconnecting

	// StateClosed indicates the session has been closed.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// DialFunc opens a connection to the evaluation service.
type DialFunc func(ctx context.Context) (transport.Conn, error)

// Config configures a Session.
type Config struct {
	// Dial opens connections. Required.
	Dial DialFunc

	// Client configures each channel.Client the session creates.
	Client channel.Config

	// Backoff configures redial delays.
	Backoff BackoffConfig

	// DialTimeout bounds each redial (default: 30s).
	DialTimeout time.Duration

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger captures session state changes. Nil disables capture.
	ProtocolLogger log.Logger

	// OnStateChange is called after every state change.
	OnStateChange func(oldState, newState State)

	// OnConnected is called with the new client after every successful
	// dial, including the first.
	OnConnected func(client *channel.Client)
}

// Session keeps one channel.Client open and redials when it drops.
type Session struct {
	config  Config
	backoff *Backoff
	logger  *slog.Logger

	mu     sync.RWMutex
	state  State
	client *channel.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSession creates a disconnected session.
func NewSession(config Config) *Session {
	if config.DialTimeout == 0 {
		config.DialTimeout = DefaultDialTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		config:  config,
		backoff: NewBackoffWithConfig(config.Backoff),
		logger:  config.Logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Client returns the current client, or nil while disconnected.
func (s *Session) Client() *channel.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// Connect dials the service. Once connected, the session redials on its
// own until Close.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return ErrSessionClosed
	case StateConnected, StateConnecting, StateReconnecting:
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.state = StateConnecting
	s.mu.Unlock()
	s.stateChanged(StateDisconnected, StateConnecting, "")

	client, err := s.dial(ctx)
	if err != nil {
		s.mu.Lock()
		reset := s.state == StateConnecting
		if reset {
			s.state = StateDisconnected
		}
		s.mu.Unlock()
		if reset {
			s.stateChanged(StateConnecting, StateDisconnected, err.Error())
		}
		return err
	}
	s.connected(client)
	return nil
}

// Subscribe subscribes on the current client. Without one it fails with
// channel.ErrClientClosed.
func (s *Session) Subscribe(ctx context.Context, req channel.SubscribeRequest, listener channel.Listener) (channel.CancelFunc, error) {
	client := s.Client()
	if client == nil {
		return nil, channel.ErrClientClosed
	}
	return client.Subscribe(ctx, req, listener)
}

// Ping pings the service over the current client.
func (s *Session) Ping(ctx context.Context) (time.Duration, error) {
	client := s.Client()
	if client == nil {
		return 0, channel.ErrClientClosed
	}
	return client.Ping(ctx)
}

// Close stops redialing and closes the current client.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	old := s.state
	s.state = StateClosed
	client := s.client
	s.client = nil
	s.mu.Unlock()

	s.stateChanged(old, StateClosed, "")
	s.cancel()
	if client != nil {
		_ = client.Close()
	}
	s.wg.Wait()
	return nil
}

func (s *Session) dial(ctx context.Context) (*channel.Client, error) {
	conn, err := s.config.Dial(ctx)
	if err != nil {
		return nil, err
	}
	return channel.NewClient(conn, s.config.Client), nil
}

func (s *Session) connected(client *channel.Client) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		_ = client.Close()
		return
	}
	old := s.state
	s.state = StateConnected
	s.client = client
	s.wg.Add(1)
	s.mu.Unlock()

	s.backoff.Reset()
	s.stateChanged(old, StateConnected, "")
	s.debugLog("connected", "conn_id", client.ConnectionID())

	go s.watch(client)

	if s.config.OnConnected != nil {
		s.config.OnConnected(client)
	}
}

// watch waits for client to drop and starts redialing.
func (s *Session) watch(client *channel.Client) {
	defer s.wg.Done()

	select {
	case <-s.ctx.Done():
		return
	case <-client.Done():
	}

	s.mu.Lock()
	if s.state != StateConnected || s.client != client {
		s.mu.Unlock()
		return
	}
	s.client = nil
	s.state = StateReconnecting
	s.mu.Unlock()

	reason := ""
	if err := client.Err(); err != nil {
		reason = err.Error()
	}
	s.stateChanged(StateConnected, StateReconnecting, reason)
	s.debugLog("connection lost", "reason", reason)

	s.reconnect()
}

func (s *Session) reconnect() {
	for {
		delay := s.backoff.Next()
		s.debugLog("reconnecting", "attempt", s.backoff.Attempts(), "delay", delay)

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(s.ctx, s.config.DialTimeout)
		client, err := s.dial(ctx)
		cancel()
		if err == nil {
			s.connected(client)
			return
		}
		s.debugLog("reconnect failed", "error", err)
	}
}

func (s *Session) stateChanged(oldState, newState State, reason string) {
	if s.config.ProtocolLogger != nil {
		s.config.ProtocolLogger.Log(log.Event{
			Timestamp: time.Now(),
			Layer:     log.LayerTransport,
			Category:  log.CategoryState,
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityConnection,
				OldState: oldState.String(),
				NewState: newState.String(),
				Reason:   reason,
			},
		})
	}
	if s.config.OnStateChange != nil {
		s.config.OnStateChange(oldState, newState)
	}
}

func (s *Session) debugLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
