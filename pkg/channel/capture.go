package channel

import (
	"time"

	"github.com/tmplbind/tmplbind-go/pkg/log"
	"github.com/tmplbind/tmplbind-go/pkg/wire"
)

func (c *Client) capture(direction log.Direction, msg *log.MessageEvent) {
	if c.config.ProtocolLogger == nil {
		return
	}
	c.config.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.conn.ID(),
		Direction:    direction,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		RemoteAddr:   c.conn.RemoteAddr(),
		Message:      msg,
	})
}

func (c *Client) captureRequest(req *wire.Request) {
	if c.config.ProtocolLogger == nil {
		return
	}
	op := req.Operation
	msg := &log.MessageEvent{
		Type:      log.MessageTypeRequest,
		MessageID: req.MessageID,
		Operation: &op,
	}
	switch op {
	case wire.OpSubscribe:
		var p wire.SubscribePayload
		if req.DecodePayload(&p) == nil {
			msg.Text = p.Template
		}
	case wire.OpUnsubscribe:
		var p wire.UnsubscribePayload
		if req.DecodePayload(&p) == nil {
			msg.SubscriptionID = &p.SubscriptionID
		}
	}
	c.capture(log.DirectionOut, msg)
}

func (c *Client) captureResponse(resp *wire.Response, rtt time.Duration) {
	msg := &log.MessageEvent{
		Type:      log.MessageTypeResponse,
		MessageID: resp.MessageID,
		RoundTrip: &rtt,
	}
	if resp.Error != nil {
		msg.ErrorCode = resp.Error.Code
		msg.Text = resp.Error.Message
	}
	c.capture(log.DirectionIn, msg)
}

func (c *Client) captureEvent(ev *wire.Event) {
	id := ev.SubscriptionID
	msg := &log.MessageEvent{
		Type:           log.MessageTypeEvent,
		SubscriptionID: &id,
	}
	switch {
	case ev.Error != nil:
		msg.ErrorCode = ev.Error.Code
		msg.Text = ev.Error.Message
	case ev.Result != nil:
		msg.Text = ev.Result.Value
	}
	c.capture(log.DirectionIn, msg)
}

func (c *Client) captureError(code wire.Code, message, context string) {
	c.debugLog("protocol error", "code", code, "error", message, "context", context)
	if c.config.ProtocolLogger == nil {
		return
	}
	ev := log.NewErrorEvent(log.LayerWire, code, message, context)
	ev.ConnectionID = c.conn.ID()
	c.config.ProtocolLogger.Log(ev)
}

func (c *Client) captureState(oldState, newState, reason string) {
	if c.config.ProtocolLogger == nil {
		return
	}
	ev := log.NewStateEvent(log.StateEntityConnection, "", "", oldState, newState, reason)
	ev.Layer = log.LayerWire
	ev.ConnectionID = c.conn.ID()
	ev.RemoteAddr = c.conn.RemoteAddr()
	c.config.ProtocolLogger.Log(ev)
}
