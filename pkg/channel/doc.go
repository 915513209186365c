// Package channel implements the client side of the template evaluation
// protocol over a transport.Conn.
//
// A Client multiplexes any number of template subscriptions over one
// connection, shared by every owner in the process:
//
//	conn, _ := transport.Dial(ctx, "tcp://eval.local:8765", transport.DialOptions{})
//	client := channel.NewClient(conn, channel.Config{})
//	defer client.Close()
//
//	cancel, err := client.Subscribe(ctx, channel.SubscribeRequest{
//	    Template:  "{{ states(entity) }}",
//	    Variables: map[string]any{"entity": "sensor.temp"},
//	    Strict:    true,
//	}, func(res *wire.Result, err error) {
//	    // Called on the client's read goroutine.
//	})
//	...
//	err = cancel(ctx)
//
// # Delivery
//
// Listeners are invoked from the client's read goroutine, never from the
// goroutine calling Subscribe, and in arrival order per subscription. The
// first result may be delivered before Subscribe returns. A non-nil error
// passed to a listener means the subscription is over: the service
// reported a mid-stream failure, or the connection was lost.
//
// # Cancellation
//
// CancelFunc is idempotent. Calling it after the subscription already
// ended (failure, connection loss, client closed) returns nil without
// touching the wire. If the service replies that it no longer knows the
// subscription, the *Error carries CodeNotFound; IsBenign reports such
// teardown errors.
package channel
