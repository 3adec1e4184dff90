package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/iot-relay/internal/infrastructure/logging"
)

// Router forwards messages from registered connections.
type Router struct {
	registry *Registry
	logger   *logging.Logger
	metrics  *Metrics
	now      func() time.Time

	mu    sync.RWMutex
	sinks []TelemetrySink
}

// NewRouter creates a Router that resolves targets through registry.
func NewRouter(registry *Registry, logger *logging.Logger, metrics *Metrics) *Router {
	return &Router{
		registry: registry,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// AddSink registers a sink for routed telemetry.
func (r *Router) AddSink(s TelemetrySink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, s)
}

// Route handles one message from from. Failures are reported to the sender
// or logged; they never end the session.
func (r *Router) Route(ctx context.Context, from *Conn, msg Inbound) {
	start := time.Now()
	r.metrics.recordMessage(msg.Kind)

	switch msg.Kind {
	case KindCommand:
		r.routeCommand(from, msg)
	case KindTelemetry:
		r.routeTelemetry(ctx, from, msg)
	case KindRegister:
		// The bound identifier never changes after the handshake.
		r.logger.Warn("register on authenticated connection", "conn_id", from.ID())
		r.replyError(from, MsgAlreadyRegistered)
	default:
		r.logger.Debug("dropping unrecognised message", "conn_id", from.ID())
	}

	r.metrics.observeRoute(msg.Kind, time.Since(start))
}

// Dispatch sends raw verbatim to the connection registered under targetID.
// It returns ErrTargetOffline or an error wrapping ErrSendFailed.
func (r *Router) Dispatch(targetID string, raw []byte) error {
	target, ok := r.registry.Lookup(targetID)
	if !ok {
		r.metrics.recordForward(KindCommand, forwardOffline)
		return ErrTargetOffline
	}
	if err := target.Send(raw); err != nil {
		r.metrics.recordForward(KindCommand, forwardFailed)
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	r.metrics.recordForward(KindCommand, forwardDelivered)
	return nil
}

func (r *Router) routeCommand(from *Conn, msg Inbound) {
	err := r.Dispatch(msg.TargetID, msg.Raw)
	switch {
	case err == nil:
	case errors.Is(err, ErrTargetOffline):
		r.replyError(from, MsgTargetOffline)
	default:
		r.logger.Warn("command delivery failed",
			"conn_id", from.ID(), "target_id", msg.TargetID, "error", err)
		r.replyError(from, MsgDeliveryFailed)
	}
}

func (r *Router) routeTelemetry(ctx context.Context, from *Conn, msg Inbound) {
	delivered := 0
	for _, e := range r.registry.Snapshot() {
		if e.ID != msg.ID || e.Conn == from {
			continue
		}
		if err := e.Conn.Send(msg.Raw); err != nil {
			r.metrics.recordForward(KindTelemetry, forwardFailed)
			r.logger.Debug("telemetry forward failed",
				"device_id", msg.ID, "conn_id", e.Conn.ID(), "error", err)
			continue
		}
		delivered++
		r.metrics.recordForward(KindTelemetry, forwardDelivered)
	}

	r.logger.Debug("telemetry forwarded", "device_id", msg.ID, "peers", delivered)

	r.mu.RLock()
	sinks := r.sinks
	r.mu.RUnlock()
	if len(sinks) == 0 {
		return
	}

	t := Telemetry{
		DeviceID:   msg.ID,
		Raw:        msg.Raw,
		Fields:     msg.Fields,
		ReceivedAt: r.now(),
	}
	for _, s := range sinks {
		if err := s.HandleTelemetry(ctx, t); err != nil {
			r.logger.Warn("telemetry sink failed", "device_id", msg.ID, "error", err)
		}
	}
}

func (r *Router) replyError(to *Conn, text string) {
	if err := to.Send(ErrorFrame(text)); err != nil {
		r.logger.Debug("error reply not sent", "conn_id", to.ID(), "error", err)
	}
}
