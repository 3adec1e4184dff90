package telemetry

import (
	"context"
	"fmt"

	"github.com/nerrad567/iot-relay/internal/infrastructure/mqtt"
	"github.com/nerrad567/iot-relay/internal/relay"
)

// MQTTMirror republishes every routed telemetry frame, unchanged, on
// {prefix}/telemetry/{id}. Messages are not retained.
type MQTTMirror struct {
	pub    Publisher
	topics mqtt.Topics
	qos    byte
}

// NewMQTTMirror creates a telemetry sink publishing through pub.
func NewMQTTMirror(pub Publisher, topics mqtt.Topics, qos byte) *MQTTMirror {
	return &MQTTMirror{pub: pub, topics: topics, qos: qos}
}

// HandleTelemetry implements relay.TelemetrySink.
func (m *MQTTMirror) HandleTelemetry(_ context.Context, t relay.Telemetry) error {
	if err := m.pub.Publish(m.topics.Telemetry(t.DeviceID), t.Raw, m.qos, false); err != nil {
		return fmt.Errorf("mirroring telemetry for %s: %w", t.DeviceID, err)
	}
	return nil
}
