package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/iot-relay/internal/infrastructure/mqtt"
)

// PresenceMessage is the retained payload on {prefix}/presence/{id}.
type PresenceMessage struct {
	ID        string    `json:"id"`
	Online    bool      `json:"online"`
	Timestamp time.Time `json:"timestamp"`
}

// PresencePublisher keeps a retained presence message per device so late
// MQTT subscribers see the current state.
type PresencePublisher struct {
	pub    Publisher
	topics mqtt.Topics
	qos    byte
}

// NewPresencePublisher creates a presence observer publishing through pub.
func NewPresencePublisher(pub Publisher, topics mqtt.Topics, qos byte) *PresencePublisher {
	return &PresencePublisher{pub: pub, topics: topics, qos: qos}
}

// PresenceChanged implements relay.PresenceObserver.
func (p *PresencePublisher) PresenceChanged(_ context.Context, id string, online bool, at time.Time) error {
	payload, err := json.Marshal(PresenceMessage{ID: id, Online: online, Timestamp: at.UTC()})
	if err != nil {
		return fmt.Errorf("encoding presence: %w", err)
	}
	if err := p.pub.Publish(p.topics.Presence(id), payload, p.qos, true); err != nil {
		return fmt.Errorf("publishing presence for %s: %w", id, err)
	}
	return nil
}
