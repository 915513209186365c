package channel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tmplbind/tmplbind-go/pkg/log"
	"github.com/tmplbind/tmplbind-go/pkg/transport"
	"github.com/tmplbind/tmplbind-go/pkg/wire"
)

// DefaultRequestTimeout bounds Unsubscribe and Ping round trips.
// Subscribe has no timeout of its own; it waits on its context only.
const DefaultRequestTimeout = 30 * time.Second

// releaseTimeout bounds the background unsubscribe sent when a Subscribe
// is abandoned after its request went out.
const releaseTimeout = 5 * time.Second

// SubscribeRequest describes one template subscription.
type SubscribeRequest struct {
	Template  string
	Variables map[string]any

	// Strict makes rendering errors fail the subscription instead of
	// producing best-effort output.
	Strict bool
}

// Listener receives results for one subscription. A non-nil err means the
// subscription ended and no further calls will be made.
type Listener func(res *wire.Result, err error)

// CancelFunc releases a subscription on the service. It is idempotent and
// returns nil once the subscription is already gone on the client side.
type CancelFunc func(ctx context.Context) error

// Config configures a Client.
type Config struct {
	// RequestTimeout bounds Unsubscribe and Ping (default: 30s).
	RequestTimeout time.Duration

	// KeepAlive enables periodic pings. Zero PingInterval disables it.
	KeepAlive KeepAliveConfig

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger captures wire-layer events. Nil disables capture.
	ProtocolLogger log.Logger
}

type subscription struct {
	id       uint32
	template string
	listener Listener
}

// Client multiplexes template subscriptions over one connection.
type Client struct {
	conn   transport.Conn
	config Config
	logger *slog.Logger

	nextMsgID atomic.Uint32

	mu       sync.Mutex
	pending  map[uint32]chan *wire.Response
	subs     map[uint32]*subscription
	closed   bool
	closeErr error

	done      chan struct{}
	closeOnce sync.Once
	keepAlive *keepAlive
}

// NewClient wraps conn and starts the read loop (and keep-alive, if
// configured). The client owns conn from here on.
func NewClient(conn transport.Conn, config Config) *Client {
	if config.RequestTimeout == 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}

	c := &Client{
		conn:    conn,
		config:  config,
		logger:  config.Logger,
		pending: make(map[uint32]chan *wire.Response),
		subs:    make(map[uint32]*subscription),
		done:    make(chan struct{}),
	}

	c.captureState("", "connected", "")
	go c.readLoop()

	if config.KeepAlive.PingInterval > 0 {
		c.keepAlive = newKeepAlive(config.KeepAlive, c.Ping, func() {
			c.shutdown(ErrKeepAliveTimeout)
		})
		c.keepAlive.start(c.done)
	}
	return c
}

// Done is closed once the client is closed or the connection is lost.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the client closed, or nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// ConnectionID returns the underlying connection identifier.
func (c *Client) ConnectionID() string {
	return c.conn.ID()
}

// ActiveSubscriptions returns the number of live subscriptions.
func (c *Client) ActiveSubscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Close closes the client. Pending requests fail with ErrClientClosed and
// live subscriptions are told the connection is gone.
func (c *Client) Close() error {
	c.shutdown(ErrClientClosed)
	return nil
}

func (c *Client) nextMessageID() uint32 {
	for {
		if id := c.nextMsgID.Add(1); id != wire.EventMessageID {
			return id
		}
	}
}

// Subscribe starts a subscription and returns its cancel handle once the
// service accepted it. The listener may be called before Subscribe
// returns. On error no subscription exists.
func (c *Client) Subscribe(ctx context.Context, sr SubscribeRequest, listener Listener) (CancelFunc, error) {
	id := c.nextMessageID()
	req, err := wire.NewRequest(id, wire.OpSubscribe, &wire.SubscribePayload{
		Template:  sr.Template,
		Variables: sr.Variables,
		Strict:    sr.Strict,
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	// Registered before sending so events racing the response are kept.
	c.subs[id] = &subscription{id: id, template: sr.Template, listener: listener}
	c.mu.Unlock()

	resp, err := c.roundTrip(ctx, req, 0)
	if err != nil {
		c.removeSubscription(id)
		if ctx.Err() != nil {
			// The request may have reached the service.
			go c.releaseAbandoned(id)
		}
		return nil, err
	}
	if !resp.IsSuccess() {
		c.removeSubscription(id)
		return nil, errorFromPayload(resp.Error)
	}

	c.debugLog("subscribed", "sub_id", id, "template", sr.Template)
	return c.cancelFunc(id), nil
}

func (c *Client) cancelFunc(id uint32) CancelFunc {
	return func(ctx context.Context) error {
		if !c.removeSubscription(id) {
			return nil
		}
		return c.unsubscribe(ctx, id)
	}
}

func (c *Client) unsubscribe(ctx context.Context, id uint32) error {
	req, err := wire.NewRequest(c.nextMessageID(), wire.OpUnsubscribe, &wire.UnsubscribePayload{SubscriptionID: id})
	if err != nil {
		return err
	}

	resp, err := c.roundTrip(ctx, req, c.config.RequestTimeout)
	if err != nil {
		if errors.Is(err, ErrClientClosed) {
			return nil
		}
		return err
	}
	if !resp.IsSuccess() {
		return errorFromPayload(resp.Error)
	}
	c.debugLog("unsubscribed", "sub_id", id)
	return nil
}

func (c *Client) releaseAbandoned(id uint32) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := c.unsubscribe(ctx, id); err != nil && !IsBenign(err) {
		c.debugLog("release of abandoned subscription failed", "sub_id", id, "error", err)
	}
}

// removeSubscription reports whether id was still registered.
func (c *Client) removeSubscription(id uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[id]; !ok {
		return false
	}
	delete(c.subs, id)
	return true
}

// Ping round-trips a ping request and returns the latency.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	req, err := wire.NewRequest(c.nextMessageID(), wire.OpPing, nil)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	resp, err := c.roundTrip(ctx, req, c.config.RequestTimeout)
	if err != nil {
		return 0, err
	}
	if !resp.IsSuccess() {
		return 0, errorFromPayload(resp.Error)
	}
	return time.Since(start), nil
}

// roundTrip sends req and waits for its response. A zero timeout waits
// on ctx only.
func (c *Client) roundTrip(ctx context.Context, req *wire.Request, timeout time.Duration) (*wire.Response, error) {
	respCh := make(chan *wire.Response, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	c.pending[req.MessageID] = respCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.MessageID)
		c.mu.Unlock()
	}()

	data, err := wire.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	if err := c.conn.Send(data); err != nil {
		if errors.Is(err, transport.ErrConnectionClosed) {
			return nil, ErrClientClosed
		}
		return nil, err
	}
	start := time.Now()
	c.captureRequest(req)

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeoutCh:
		return nil, ErrRequestTimeout
	case resp, ok := <-respCh:
		if !ok {
			return nil, ErrClientClosed
		}
		c.captureResponse(resp, time.Since(start))
		return resp, nil
	}
}

func (c *Client) readLoop() {
	for {
		data, err := c.conn.Receive(0)
		if err != nil {
			c.shutdown(err)
			return
		}

		typ, err := wire.PeekMessageType(data)
		if err != nil {
			c.captureError(wire.CodeInvalidFormat, err.Error(), "peek")
			continue
		}

		switch typ {
		case wire.MessageTypeResponse:
			resp, err := wire.DecodeResponse(data)
			if err != nil {
				c.captureError(wire.CodeInvalidFormat, err.Error(), "response")
				continue
			}
			c.handleResponse(resp)
		case wire.MessageTypeEvent:
			ev, err := wire.DecodeEvent(data)
			if err != nil {
				c.captureError(wire.CodeInvalidFormat, err.Error(), "event")
				continue
			}
			c.handleEvent(ev)
		default:
			c.debugLog("ignoring unexpected message", "type", typ.String())
		}
	}
}

func (c *Client) handleResponse(resp *wire.Response) {
	// Hand off under the lock so shutdown cannot close ch in between.
	// ch has room for one response and is removed here, so the send
	// never blocks.
	c.mu.Lock()
	ch, exists := c.pending[resp.MessageID]
	if exists {
		delete(c.pending, resp.MessageID)
		ch <- resp
	}
	c.mu.Unlock()

	if !exists {
		c.debugLog("response without pending request", "msg_id", resp.MessageID, "error", ErrUnexpectedReply)
	}
}

func (c *Client) handleEvent(ev *wire.Event) {
	c.mu.Lock()
	sub, exists := c.subs[ev.SubscriptionID]
	if exists && ev.Error != nil {
		delete(c.subs, ev.SubscriptionID)
	}
	c.mu.Unlock()

	c.captureEvent(ev)
	if !exists {
		// Late event for a subscription that was already released.
		return
	}

	if ev.Error != nil {
		c.debugLog("subscription failed", "sub_id", ev.SubscriptionID, "code", ev.Error.Code)
		sub.listener(nil, errorFromPayload(ev.Error))
		return
	}
	if ev.Result == nil {
		return
	}
	sub.listener(ev.Result, nil)
}

// shutdown closes the client once, failing pending requests and ending
// every live subscription with ErrConnectionLost.
func (c *Client) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.closeErr = cause
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		subs := make([]*subscription, 0, len(c.subs))
		for id, sub := range c.subs {
			subs = append(subs, sub)
			delete(c.subs, id)
		}
		c.mu.Unlock()

		_ = c.conn.Close()

		reason := ""
		if cause != nil {
			reason = cause.Error()
		}
		c.captureState("connected", "closed", reason)
		c.debugLog("channel closed", "reason", reason, "subscriptions", len(subs))

		for _, sub := range subs {
			sub.listener(nil, &Error{Code: wire.CodeConnectionLost, Message: reason})
		}

		// Done closes last so watchers see every listener notified.
		close(c.done)
	})
}

func (c *Client) debugLog(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
