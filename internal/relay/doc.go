// Package relay pairs devices and controllers over WebSocket and forwards
// JSON messages between them by a shared identifier.
//
// # Architecture
//
//	 transport accept
//	       │
//	       ▼
//	┌──────────────┐  register   ┌──────────┐  Verify   ┌─────────────────┐
//	│   Session    │────────────▶│   Gate   │──────────▶│ device.Verifier │
//	│ (per conn)   │             └────┬─────┘           └─────────────────┘
//	│              │                  │ Insert
//	│              │  other frames    ▼
//	│              │────────────▶┌──────────┐  Lookup   ┌──────────┐
//	└──────────────┘             │  Router  │──────────▶│ Registry │
//	                             └────┬─────┘  Snapshot └──────────┘
//	                                  │
//	                                  ▼
//	                           TelemetrySinks (MQTT, InfluxDB)
//
// # Wire protocol
//
// Every frame is a UTF-8 text frame carrying one JSON object. The first
// frame on a connection must be a register message:
//
//	{"type":"register","id":"esp1","password":"p1"}
//
// After that, objects with a string "target_id" are commands and are
// forwarded verbatim to the connection registered under that identifier.
// Objects with "type":"telemetry" and a string "id" are forwarded verbatim
// to every other connection registered under "id". Anything else is
// dropped.
//
// # Registry semantics
//
// The Registry holds at most one connection per identifier. A newer
// registration replaces the older one, and the older connection is closed
// with close code 4000. Cleanup on disconnect only removes an entry that
// still points at the disconnecting connection.
//
// # Thread Safety
//
// Session.Serve runs on the connection's own goroutine. Conn.Send may be
// called from any goroutine; a single writer goroutine per connection
// serialises frames onto the socket.
package relay
