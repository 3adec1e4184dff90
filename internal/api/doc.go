// Package api implements the relay's HTTP surface.
//
// This package provides:
//   - the WebSocket upgrade endpoint that hands connections to the relay
//   - device signup and presence token endpoints backed by the device store
//   - a token-protected presence lookup
//   - health and Prometheus endpoints
//   - the middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
//	device ──ws──> /ws ──> relay.Serve (one goroutine per connection)
//	admin  ──http─> /api/v1/devices ──> device.Repository
//	ops    ──http─> /api/v1/health, /metrics
//
// HTTP errors use a {"status","code","message"} envelope. WebSocket traffic
// follows the relay's own JSON protocol and never sees that envelope.
package api
