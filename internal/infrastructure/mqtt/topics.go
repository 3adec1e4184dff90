package mqtt

import "strings"

// DefaultTopicPrefix is used when the config leaves topic_prefix empty.
const DefaultTopicPrefix = "iotrelay"

// Topics builds the relay's MQTT topic names under one prefix.
//
//	topics := mqtt.NewTopics("iotrelay")
//	topics.Telemetry("esp1") // "iotrelay/telemetry/esp1"
type Topics struct {
	prefix string
}

// NewTopics returns a builder for prefix, trimming any trailing slash.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the root of every topic.
func (t Topics) Prefix() string { return t.prefix }

// Telemetry is where routed telemetry for deviceID is mirrored.
func (t Topics) Telemetry(deviceID string) string {
	return t.prefix + "/telemetry/" + deviceID
}

// Presence carries the retained online/offline state of deviceID.
func (t Topics) Presence(deviceID string) string {
	return t.prefix + "/presence/" + deviceID
}

// Command is where external systems publish commands for deviceID.
func (t Topics) Command(deviceID string) string {
	return t.prefix + "/command/" + deviceID
}

// AllCommands matches Command for every device.
func (t Topics) AllCommands() string {
	return t.prefix + "/command/+"
}

// Error receives delivery failures for commands bridged to deviceID.
func (t Topics) Error(deviceID string) string {
	return t.prefix + "/error/" + deviceID
}

// SystemStatus carries the relay's own retained status and LWT.
func (t Topics) SystemStatus() string {
	return t.prefix + "/system/status"
}

// CommandDevice extracts the device ID from a Command topic.
func (t Topics) CommandDevice(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, t.prefix+"/command/")
	if !ok || id == "" || strings.ContainsAny(id, "/+#") {
		return "", false
	}
	return id, true
}
