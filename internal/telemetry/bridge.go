package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/iot-relay/internal/infrastructure/logging"
	"github.com/nerrad567/iot-relay/internal/infrastructure/mqtt"
	"github.com/nerrad567/iot-relay/internal/relay"
)

// ErrInvalidCommand is returned for command payloads that are not a JSON object.
var ErrInvalidCommand = errors.New("telemetry: command payload must be a JSON object")

// CommandError is published on {prefix}/error/{id} when a bridged command
// cannot be delivered.
type CommandError struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	TargetID string `json:"target_id"`
}

// CommandBridge forwards MQTT commands on {prefix}/command/{id} to the
// device registered under id.
type CommandBridge struct {
	sub        Subscriber
	pub        Publisher
	dispatcher Dispatcher
	topics     mqtt.Topics
	qos        byte
	logger     *logging.Logger
}

// NewCommandBridge wires an MQTT subscription to dispatcher. Call Start to subscribe.
func NewCommandBridge(sub Subscriber, pub Publisher, dispatcher Dispatcher, topics mqtt.Topics, qos byte, logger *logging.Logger) *CommandBridge {
	if logger == nil {
		logger = logging.Discard()
	}
	return &CommandBridge{
		sub:        sub,
		pub:        pub,
		dispatcher: dispatcher,
		topics:     topics,
		qos:        qos,
		logger:     logger.With("component", "command_bridge"),
	}
}

// Start subscribes to every device's command topic.
func (b *CommandBridge) Start() error {
	if err := b.sub.Subscribe(b.topics.AllCommands(), b.qos, b.handle); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	b.logger.Info("command bridge started", "topic", b.topics.AllCommands())
	return nil
}

// Stop removes the command subscription.
func (b *CommandBridge) Stop() error {
	return b.sub.Unsubscribe(b.topics.AllCommands())
}

func (b *CommandBridge) handle(topic string, payload []byte) error {
	targetID, ok := b.topics.CommandDevice(topic)
	if !ok {
		return fmt.Errorf("unexpected command topic %q", topic)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil || obj == nil {
		b.logger.Debug("command payload rejected", "target_id", targetID)
		return fmt.Errorf("%w: topic %s", ErrInvalidCommand, topic)
	}

	err := b.dispatcher.Dispatch(targetID, payload)
	if err == nil {
		return nil
	}

	text := relay.MsgDeliveryFailed
	if errors.Is(err, relay.ErrTargetOffline) {
		text = relay.MsgTargetOffline
	}
	b.logger.Debug("bridged command not delivered", "target_id", targetID, "error", err)
	return b.publishError(targetID, text)
}

func (b *CommandBridge) publishError(targetID, text string) error {
	payload, err := json.Marshal(CommandError{Type: relay.TypeError, Message: text, TargetID: targetID})
	if err != nil {
		return fmt.Errorf("encoding command error: %w", err)
	}
	if err := b.pub.Publish(b.topics.Error(targetID), payload, b.qos, false); err != nil {
		return fmt.Errorf("publishing command error for %s: %w", targetID, err)
	}
	return nil
}
