// Package mqtt provides the relay's MQTT broker connection.
//
// The relay uses MQTT for three optional integrations:
//   - mirroring routed telemetry to {prefix}/telemetry/{id}
//   - publishing retained device presence to {prefix}/presence/{id}
//   - accepting commands from other systems on {prefix}/command/{id}
//
// The client reconnects with exponential backoff, restores its
// subscriptions after a reconnect, and registers a retained Last Will on
// {prefix}/system/status so subscribers notice a crashed relay.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Publish(topics.Telemetry("esp1"), payload, client.QoS(), false)
package mqtt
