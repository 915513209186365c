// Package transport carries protocol messages between a client and the
// template evaluation service.
//
// Two transports are provided:
//
//   - Stream: length-prefixed frames over TCP, optionally TLS
//     (tcp:// and tls:// URLs)
//   - WebSocket: one binary message per frame (ws:// and wss:// URLs)
//
// Both implement Conn, so the channel client does not care which one it
// runs on.
//
// # Framing
//
// Stream frames are a 4-byte big-endian length followed by the payload:
//
//	+----------------+------------------+
//	| Length (4 B)   | CBOR payload     |
//	+----------------+------------------+
//
// The default maximum payload size is 64 KiB. Oversized frames are
// rejected on both read and write.
package transport
