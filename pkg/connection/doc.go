// Package connection keeps a channel to the evaluation service open.
//
// A Session dials the service, wraps the connection in a channel.Client
// and, when the connection drops, redials with exponential backoff. It
// implements binding.Evaluator by forwarding to the current client, so
// owners keep one evaluator across reconnects.
//
// # Reconnection
//
// Delays start at 500ms and double up to 30s, with up to 25% jitter so
// many clients do not redial in lockstep:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
//
// The backoff resets after a successful dial. Subscriptions do not survive
// a reconnect: the client ends them with connection_lost, owners publish
// their raw values, and the OnConnected callback is the place to re-attach
// them.
package connection
