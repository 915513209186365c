package connection_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmplbind/tmplbind-go/internal/evaltest"
	"github.com/tmplbind/tmplbind-go/pkg/binding"
	"github.com/tmplbind/tmplbind-go/pkg/channel"
	"github.com/tmplbind/tmplbind-go/pkg/connection"
	"github.com/tmplbind/tmplbind-go/pkg/log"
	"github.com/tmplbind/tmplbind-go/pkg/transport"
	"github.com/tmplbind/tmplbind-go/pkg/wire"
)

var _ binding.Evaluator = (*connection.Session)(nil)

const waitFor = 2 * time.Second

type stateRecorder struct {
	mu     sync.Mutex
	states []connection.State
}

func (r *stateRecorder) record(_, newState connection.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, newState)
}

func (r *stateRecorder) seen(s connection.State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.states {
		if st == s {
			return true
		}
	}
	return false
}

type eventSink struct {
	mu     sync.Mutex
	events []log.Event
}

func (s *eventSink) Log(ev log.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) Close() error { return nil }

func (s *eventSink) newStates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, ev := range s.events {
		if ev.StateChange != nil {
			out = append(out, ev.StateChange.NewState)
		}
	}
	return out
}

func startServer(t *testing.T) *evaltest.Server {
	t.Helper()
	srv, err := evaltest.NewServer(evaltest.Handlers{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func dialer(url string) connection.DialFunc {
	return func(ctx context.Context) (transport.Conn, error) {
		return transport.Dial(ctx, url, transport.DialOptions{})
	}
}

func fastBackoff() connection.BackoffConfig {
	return connection.BackoffConfig{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond, Jitter: -1}
}

func TestSessionConnectAndSubscribe(t *testing.T) {
	srv := startServer(t)
	rec := &stateRecorder{}
	s := connection.NewSession(connection.Config{
		Dial:          dialer(srv.URL()),
		OnStateChange: rec.record,
	})
	defer s.Close()

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, connection.StateConnected, s.State())
	assert.NotNil(t, s.Client())
	assert.True(t, rec.seen(connection.StateConnecting))

	got := make(chan *wire.Result, 1)
	cancel, err := s.Subscribe(context.Background(), channel.SubscribeRequest{Template: "{{ 1 }}"}, func(res *wire.Result, err error) {
		if err == nil {
			got <- res
		}
	})
	require.NoError(t, err)

	select {
	case res := <-got:
		assert.Equal(t, "{{ 1 }}", res.Value)
	case <-time.After(waitFor):
		t.Fatal("no result")
	}
	require.NoError(t, cancel(context.Background()))

	rtt, err := s.Ping(context.Background())
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))

	assert.ErrorIs(t, s.Connect(context.Background()), connection.ErrAlreadyConnected)
}

func TestSessionWithoutClient(t *testing.T) {
	s := connection.NewSession(connection.Config{})
	defer s.Close()

	assert.Equal(t, connection.StateDisconnected, s.State())
	assert.Nil(t, s.Client())

	_, err := s.Subscribe(context.Background(), channel.SubscribeRequest{Template: "{{ 1 }}"}, func(*wire.Result, error) {})
	assert.ErrorIs(t, err, channel.ErrClientClosed)
	assert.True(t, channel.IsBenign(err))

	_, err = s.Ping(context.Background())
	assert.ErrorIs(t, err, channel.ErrClientClosed)
}

func TestSessionConnectFailure(t *testing.T) {
	dialErr := errors.New("refused")
	s := connection.NewSession(connection.Config{
		Dial: func(context.Context) (transport.Conn, error) { return nil, dialErr },
	})
	defer s.Close()

	assert.ErrorIs(t, s.Connect(context.Background()), dialErr)
	assert.Equal(t, connection.StateDisconnected, s.State())
}

func TestSessionReconnects(t *testing.T) {
	srv := startServer(t)
	rec := &stateRecorder{}
	sink := &eventSink{}

	connected := make(chan *channel.Client, 4)
	s := connection.NewSession(connection.Config{
		Dial:           dialer(srv.URL()),
		Backoff:        fastBackoff(),
		OnStateChange:  rec.record,
		ProtocolLogger: sink,
		OnConnected:    func(c *channel.Client) { connected <- c },
	})
	defer s.Close()

	require.NoError(t, s.Connect(context.Background()))
	first := <-connected

	srv.DropConnections()

	var second *channel.Client
	select {
	case second = <-connected:
	case <-time.After(waitFor):
		t.Fatal("session did not reconnect")
	}
	assert.NotSame(t, first, second)
	assert.NotEqual(t, first.ConnectionID(), second.ConnectionID())
	assert.True(t, rec.seen(connection.StateReconnecting))
	assert.Equal(t, connection.StateConnected, s.State())
	assert.Same(t, second, s.Client())
	assert.Contains(t, sink.newStates(), "RECONNECTING")

	_, err := s.Ping(context.Background())
	assert.NoError(t, err)
}

func TestSessionRetriesUntilServiceReturns(t *testing.T) {
	srv := startServer(t)
	var (
		mu   sync.Mutex
		down bool
	)
	dial := func(ctx context.Context) (transport.Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		if down {
			return nil, errors.New("service down")
		}
		return transport.Dial(ctx, srv.URL(), transport.DialOptions{})
	}

	connected := make(chan struct{}, 4)
	s := connection.NewSession(connection.Config{
		Dial:        dial,
		Backoff:     fastBackoff(),
		OnConnected: func(*channel.Client) { connected <- struct{}{} },
	})
	defer s.Close()

	require.NoError(t, s.Connect(context.Background()))
	<-connected

	mu.Lock()
	down = true
	mu.Unlock()
	srv.DropConnections()

	require.Eventually(t, func() bool {
		return s.State() == connection.StateReconnecting
	}, waitFor, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, connection.StateReconnecting, s.State())

	mu.Lock()
	down = false
	mu.Unlock()

	select {
	case <-connected:
	case <-time.After(waitFor):
		t.Fatal("session did not recover")
	}
	assert.Equal(t, connection.StateConnected, s.State())
}

func TestSessionClose(t *testing.T) {
	srv := startServer(t)
	s := connection.NewSession(connection.Config{Dial: dialer(srv.URL()), Backoff: fastBackoff()})

	require.NoError(t, s.Connect(context.Background()))
	client := s.Client()
	require.NotNil(t, client)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, connection.StateClosed, s.State())
	assert.Nil(t, s.Client())

	select {
	case <-client.Done():
	case <-time.After(waitFor):
		t.Fatal("client not closed")
	}

	assert.ErrorIs(t, s.Connect(context.Background()), connection.ErrSessionClosed)

	// No reconnect after close.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, connection.StateClosed, s.State())
}
