package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementDeviceMetrics is the measurement every telemetry field is written to.
const MeasurementDeviceMetrics = "device_metrics"

// WriteDeviceMetric queues one telemetry field for deviceID. value should be
// a float64 or a bool; the write is dropped silently when the client is closed.
func (c *Client) WriteDeviceMetric(deviceID, measurement string, value any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(newDevicePoint(deviceID, measurement, value, at))
}

func newDevicePoint(deviceID, measurement string, value any, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementDeviceMetrics,
		map[string]string{
			"device_id":   deviceID,
			"measurement": measurement,
		},
		map[string]interface{}{
			"value": value,
		},
		at,
	)
}
