package telemetry

import (
	"context"
	"encoding/json"
	"maps"
	"slices"

	"github.com/nerrad567/iot-relay/internal/relay"
)

// InfluxRecorder writes every numeric or boolean top-level telemetry field
// as a device_metrics point. Strings, objects, arrays and nulls are skipped,
// as are the "type" and "id" envelope members.
type InfluxRecorder struct {
	writer PointWriter
}

// NewInfluxRecorder creates a telemetry sink writing through w.
func NewInfluxRecorder(w PointWriter) *InfluxRecorder {
	return &InfluxRecorder{writer: w}
}

// HandleTelemetry implements relay.TelemetrySink.
func (r *InfluxRecorder) HandleTelemetry(_ context.Context, t relay.Telemetry) error {
	for _, name := range slices.Sorted(maps.Keys(t.Fields)) {
		if name == "type" || name == "id" {
			continue
		}
		if value, ok := metricValue(t.Fields[name]); ok {
			r.writer.WriteDeviceMetric(t.DeviceID, name, value, t.ReceivedAt)
		}
	}
	return nil
}

// metricValue returns raw as a float64 or bool.
func metricValue(raw json.RawMessage) (any, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	switch v := v.(type) {
	case float64, bool:
		return v, true
	default:
		return nil, false
	}
}
