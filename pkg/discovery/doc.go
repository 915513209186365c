// Package discovery finds evaluation services on the local network via
// mDNS/DNS-SD.
//
// Services advertise the _tmplbind._tcp service type. The instance name is
// the user-visible service name; TXT records describe how to reach it:
//
//   - v: protocol version (required)
//   - tr: transport scheme, one of tcp, tls, ws, wss (default tcp)
//   - path: HTTP path for ws and wss (optional)
//   - id: stable service identifier (optional)
//
// A browse result carries the host, port and every address seen for the
// instance across interfaces. Service.URL turns it into a dial URL for
// transport.Dial.
package discovery
