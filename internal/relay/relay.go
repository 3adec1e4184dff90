package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/iot-relay/internal/device"
	"github.com/nerrad567/iot-relay/internal/infrastructure/logging"
)

// Relay bundles the registry, gate, router and session for one server.
type Relay struct {
	registry *Registry
	gate     *Gate
	router   *Router
	session  *Session

	// stopping is cancelled by Shutdown and ends every running session.
	stopping context.Context
	stop     context.CancelFunc

	mu       sync.Mutex
	shutdown bool
	sessions sync.WaitGroup
}

// New builds a Relay that verifies registrations with verifier. A nil
// logger discards output; a nil metrics records nothing.
func New(verifier device.Verifier, logger *logging.Logger, metrics *Metrics) *Relay {
	if logger == nil {
		logger = logging.Discard()
	}

	registry := NewRegistry()
	gate := NewGate(verifier, registry, logger, metrics)
	router := NewRouter(registry, logger, metrics)

	stopping, stop := context.WithCancel(context.Background())
	return &Relay{
		registry: registry,
		gate:     gate,
		router:   router,
		session:  NewSession(gate, router, registry, logger, metrics),
		stopping: stopping,
		stop:     stop,
	}
}

// Serve runs one connection to completion. See Session.Serve. After
// Shutdown it closes conn with a going-away code and returns at once.
func (r *Relay) Serve(ctx context.Context, conn *Conn) {
	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		conn.CloseWithReason(websocket.CloseGoingAway, "server shutting down")
		return
	}
	r.sessions.Add(1)
	r.mu.Unlock()
	defer r.sessions.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	unlink := context.AfterFunc(r.stopping, cancel)
	defer unlink()

	r.session.Serve(ctx, conn)
}

// Dispatch sends a command to a registered identifier without a sending
// connection. See Router.Dispatch.
func (r *Relay) Dispatch(targetID string, raw []byte) error {
	return r.router.Dispatch(targetID, raw)
}

// AddTelemetrySink registers a telemetry sink.
func (r *Relay) AddTelemetrySink(s TelemetrySink) {
	r.router.AddSink(s)
}

// AddPresenceObserver registers a presence observer.
func (r *Relay) AddPresenceObserver(o PresenceObserver) {
	r.session.AddPresenceObserver(o)
}

// Online reports whether a connection is registered under id.
func (r *Relay) Online(id string) bool {
	_, ok := r.registry.Lookup(id)
	return ok
}

// Connections returns the number of registered identifiers.
func (r *Relay) Connections() int {
	return r.registry.Len()
}

// Shutdown closes every connection with a going-away code, including those
// still in the handshake, and waits for their sessions to exit. Offline
// presence events have been delivered once it returns nil. If ctx ends
// first, Shutdown returns its error and the remaining sessions finish on
// their own.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.shutdown = true
	r.mu.Unlock()

	r.stop()
	r.registry.CloseAll(websocket.CloseGoingAway, "server shutting down")

	done := make(chan struct{})
	go func() {
		r.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for relay sessions: %w", ctx.Err())
	}
}
