package telemetry

import (
	"time"

	"github.com/nerrad567/iot-relay/internal/infrastructure/mqtt"
)

// Publisher is the publishing half of *mqtt.Client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Subscriber is the subscribing half of *mqtt.Client.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Dispatcher delivers a directed command to a registered device.
// *relay.Relay satisfies it.
type Dispatcher interface {
	Dispatch(targetID string, raw []byte) error
}

// PointWriter is the write half of *influxdb.Client.
type PointWriter interface {
	WriteDeviceMetric(deviceID, measurement string, value any, at time.Time)
}
