// Package wire defines the CBOR wire format of the template evaluation
// protocol.
//
// Messages are CBOR maps with integer keys, length-prefixed on stream
// transports and sent as single binary messages on WebSocket transports.
//
// # Message Types
//
// There are three message types:
//   - Request: client to service (Subscribe, Unsubscribe, Ping)
//   - Response: service to client (success or error)
//   - Event: service to client (a subscription produced a new result, or
//     failed mid-stream)
//
// A request's message id doubles as the subscription id for Subscribe.
// Events carry message id 0 so they can be told apart from responses
// without decoding the whole message.
//
// # Error Codes
//
// Errors carry a string Code. CodeNotFound and CodeTemplateError are
// expected during teardown when the service already discarded a
// subscription.
package wire
