package relay

import (
	"context"
	"time"
)

// TelemetrySink receives every routed telemetry message after peer
// fan-out. Sinks run on the sender's session goroutine: while one blocks,
// that device's next frames wait unread. Wrap a sink that can block, such
// as a QoS 1 MQTT publish, in a QueuedSink.
type TelemetrySink interface {
	HandleTelemetry(ctx context.Context, t Telemetry) error
}

// PresenceObserver is told when an identifier gains or loses its
// registered connection. A superseded connection does not produce an
// offline event because the identifier stays online.
type PresenceObserver interface {
	PresenceChanged(ctx context.Context, id string, online bool, at time.Time) error
}

// LastSeenStore is the slice of the device store the relay writes to.
type LastSeenStore interface {
	TouchLastSeen(ctx context.Context, id string, at time.Time) error
}

// LastSeenRecorder updates the device store's last_seen_at on every
// presence change.
type LastSeenRecorder struct {
	store LastSeenStore
}

// NewLastSeenRecorder creates a presence observer backed by store.
func NewLastSeenRecorder(store LastSeenStore) *LastSeenRecorder {
	return &LastSeenRecorder{store: store}
}

// PresenceChanged implements PresenceObserver.
func (r *LastSeenRecorder) PresenceChanged(ctx context.Context, id string, _ bool, at time.Time) error {
	return r.store.TouchLastSeen(ctx, id, at)
}
