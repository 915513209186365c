// Package evaltest provides a scripted template evaluation service for
// tests. It speaks the real wire protocol over stream connections but does
// not evaluate anything: results come from Handlers or are pushed by the
// test.
package evaltest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/tmplbind/tmplbind-go/pkg/discovery"
	"github.com/tmplbind/tmplbind-go/pkg/transport"
	"github.com/tmplbind/tmplbind-go/pkg/wire"
)

// Handlers holds callbacks for service operations.
type Handlers struct {
	// OnSubscribe produces the first result of a subscription. Returning a
	// non-nil error payload rejects the subscribe. If nil, the template is
	// echoed back as the value.
	OnSubscribe func(p wire.SubscribePayload) (*wire.Result, *wire.ErrorPayload)

	// OnUnsubscribe overrides the unsubscribe reply for known
	// subscriptions. Unknown subscriptions always get not_found.
	OnUnsubscribe func(sub Subscription) *wire.ErrorPayload
}

// Subscription is a live subscription held by the service.
type Subscription struct {
	ConnID  string
	ID      uint32
	Payload wire.SubscribePayload
}

type subKey struct {
	connID string
	id     uint32
}

// Server is a scripted evaluation service.
type Server struct {
	ln       *transport.Listener
	handlers Handlers

	mu           sync.Mutex
	conns        map[string]*transport.StreamConn
	subs         map[subKey]Subscription
	subscribes   int
	unsubscribes int
	hold         chan struct{}

	adv      discovery.Advertiser
	instance string

	wg sync.WaitGroup
}

// NewServer starts a service on a loopback port.
func NewServer(handlers Handlers) (*Server, error) {
	return NewServerAt("127.0.0.1:0", handlers)
}

// NewServerAt starts a service listening on addr. Use ":0" for a service
// that is reachable at the addresses mDNS announces.
func NewServerAt(addr string, handlers Handlers) (*Server, error) {
	ln, err := transport.Listen(addr, nil, 0, nil)
	if err != nil {
		return nil, err
	}
	s := &Server{
		ln:       ln,
		handlers: handlers,
		conns:    make(map[string]*transport.StreamConn),
		subs:     make(map[subKey]Subscription),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// URL returns the tcp:// URL of the service.
func (s *Server) URL() string {
	return s.ln.URL()
}

// Port returns the listening port.
func (s *Server) Port() uint16 {
	if addr, ok := s.ln.Addr().(*net.TCPAddr); ok {
		return uint16(addr.Port)
	}
	return 0
}

// Advertise announces the service as instance through adv. Close stops
// the announcement.
func (s *Server) Advertise(ctx context.Context, adv discovery.Advertiser, instance string) error {
	err := adv.Advertise(ctx, &discovery.ServiceInfo{
		InstanceName: instance,
		Port:         s.Port(),
		Transport:    "tcp",
		ID:           instance,
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.adv, s.instance = adv, instance
	s.mu.Unlock()
	return nil
}

// Close stops the service and closes all connections.
func (s *Server) Close() error {
	s.mu.Lock()
	adv, instance := s.adv, s.instance
	s.adv = nil
	s.mu.Unlock()
	if adv != nil {
		_ = adv.Stop(instance)
	}

	err := s.ln.Close()
	s.DropConnections()
	s.Release()
	s.wg.Wait()
	return err
}

// DropConnections closes every client connection, simulating a reset.
// Subscriptions are discarded.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]*transport.StreamConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.subs = make(map[subKey]Subscription)
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// HoldSubscribes delays subscribe replies until Release is called.
func (s *Server) HoldSubscribes() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hold == nil {
		s.hold = make(chan struct{})
	}
}

// Release lets held subscribe replies through.
func (s *Server) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hold != nil {
		close(s.hold)
		s.hold = nil
	}
}

// SubscribeCount returns the number of subscribe requests received.
func (s *Server) SubscribeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribes
}

// UnsubscribeCount returns the number of unsubscribe requests received.
func (s *Server) UnsubscribeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribes
}

// Subscriptions returns the live subscriptions ordered by id.
func (s *Server) Subscriptions() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Find returns the live subscription for template.
func (s *Server) Find(template string) (Subscription, bool) {
	for _, sub := range s.Subscriptions() {
		if sub.Payload.Template == template {
			return sub, true
		}
	}
	return Subscription{}, false
}

// Push sends a new result for sub.
func (s *Server) Push(sub Subscription, res wire.Result) error {
	return s.sendEvent(sub, &wire.Event{SubscriptionID: sub.ID, Result: &res})
}

// Fail ends sub with a mid-stream error.
func (s *Server) Fail(sub Subscription, code wire.Code, message string) error {
	s.Forget(sub)
	return s.sendEvent(sub, &wire.Event{
		SubscriptionID: sub.ID,
		Error:          &wire.ErrorPayload{Code: code, Message: message},
	})
}

// Forget discards sub without telling the client, so a later
// unsubscribe is answered with not_found.
func (s *Server) Forget(sub Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, subKey{sub.ConnID, sub.ID})
}

func (s *Server) sendEvent(sub Subscription, ev *wire.Event) error {
	s.mu.Lock()
	conn, ok := s.conns[sub.ConnID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("connection %s is gone", sub.ConnID)
	}
	data, err := wire.EncodeEvent(ev)
	if err != nil {
		return err
	}
	return conn.Send(data)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		s.mu.Lock()
		s.conns[conn.ID()] = conn
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn *transport.StreamConn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn.ID())
		for k := range s.subs {
			if k.connID == conn.ID() {
				delete(s.subs, k)
			}
		}
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		data, err := conn.Receive(0)
		if err != nil {
			return
		}
		req, err := wire.DecodeRequest(data)
		if err != nil {
			continue
		}

		switch req.Operation {
		case wire.OpSubscribe:
			s.mu.Lock()
			hold := s.hold
			s.mu.Unlock()
			if hold != nil {
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					<-hold
					s.handleSubscribe(conn, req)
				}()
				continue
			}
			s.handleSubscribe(conn, req)
		case wire.OpUnsubscribe:
			s.handleUnsubscribe(conn, req)
		case wire.OpPing:
			s.reply(conn, req.MessageID, nil)
		default:
			s.reply(conn, req.MessageID, &wire.ErrorPayload{Code: wire.CodeUnknownCommand})
		}
	}
}

func (s *Server) handleSubscribe(conn *transport.StreamConn, req *wire.Request) {
	s.mu.Lock()
	s.subscribes++
	s.mu.Unlock()

	var p wire.SubscribePayload
	if err := req.DecodePayload(&p); err != nil {
		s.reply(conn, req.MessageID, &wire.ErrorPayload{Code: wire.CodeInvalidFormat, Message: err.Error()})
		return
	}

	res := &wire.Result{Value: p.Template}
	if s.handlers.OnSubscribe != nil {
		var errPayload *wire.ErrorPayload
		res, errPayload = s.handlers.OnSubscribe(p)
		if errPayload != nil {
			s.reply(conn, req.MessageID, errPayload)
			return
		}
	}

	sub := Subscription{ConnID: conn.ID(), ID: req.MessageID, Payload: p}
	s.mu.Lock()
	s.subs[subKey{conn.ID(), req.MessageID}] = sub
	s.mu.Unlock()

	s.reply(conn, req.MessageID, nil)
	if res != nil {
		_ = s.Push(sub, *res)
	}
}

func (s *Server) handleUnsubscribe(conn *transport.StreamConn, req *wire.Request) {
	s.mu.Lock()
	s.unsubscribes++
	s.mu.Unlock()

	var p wire.UnsubscribePayload
	if err := req.DecodePayload(&p); err != nil {
		s.reply(conn, req.MessageID, &wire.ErrorPayload{Code: wire.CodeInvalidFormat, Message: err.Error()})
		return
	}

	key := subKey{conn.ID(), p.SubscriptionID}
	s.mu.Lock()
	sub, ok := s.subs[key]
	delete(s.subs, key)
	s.mu.Unlock()

	if !ok {
		s.reply(conn, req.MessageID, &wire.ErrorPayload{Code: wire.CodeNotFound, Message: "subscription not found"})
		return
	}
	var errPayload *wire.ErrorPayload
	if s.handlers.OnUnsubscribe != nil {
		errPayload = s.handlers.OnUnsubscribe(sub)
	}
	s.reply(conn, req.MessageID, errPayload)
}

func (s *Server) reply(conn *transport.StreamConn, id uint32, errPayload *wire.ErrorPayload) {
	data, err := wire.EncodeResponse(&wire.Response{MessageID: id, Error: errPayload})
	if err != nil {
		return
	}
	_ = conn.Send(data)
}
