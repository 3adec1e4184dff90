package telemetry

import (
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/iot-relay/internal/infrastructure/mqtt"
)

type published struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// fakeBroker records publishes and holds subscriptions in place of *mqtt.Client.
type fakeBroker struct {
	mu       sync.Mutex
	messages []published
	handlers map[string]mqtt.MessageHandler
	err      error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]mqtt.MessageHandler)}
}

func (b *fakeBroker) Publish(topic string, payload []byte, qos byte, retained bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.messages = append(b.messages, published{topic: topic, payload: payload, qos: qos, retained: retained})
	return nil
}

func (b *fakeBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)
	return nil
}

func (b *fakeBroker) handler(topic string) mqtt.MessageHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handlers[topic]
}

func (b *fakeBroker) published() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.messages...)
}

type dispatched struct {
	target string
	raw    []byte
}

type fakeDispatcher struct {
	calls []dispatched
	err   error
}

func (d *fakeDispatcher) Dispatch(targetID string, raw []byte) error {
	d.calls = append(d.calls, dispatched{target: targetID, raw: raw})
	return d.err
}

type point struct {
	deviceID    string
	measurement string
	value       any
	at          time.Time
}

type fakeWriter struct {
	points []point
}

func (w *fakeWriter) WriteDeviceMetric(deviceID, measurement string, value any, at time.Time) {
	w.points = append(w.points, point{deviceID, measurement, value, at})
}

var errBroker = errors.New("broker down")
