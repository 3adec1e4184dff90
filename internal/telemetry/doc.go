// Package telemetry connects the relay to the outside world.
//
// The relay itself only moves frames between WebSocket connections. This
// package hangs optional integrations off its extension points:
//
//	relay.TelemetrySink     MQTTMirror      telemetry -> {prefix}/telemetry/{id}
//	                        InfluxRecorder  numeric/bool fields -> device_metrics
//	relay.PresenceObserver  PresencePublisher  retained {prefix}/presence/{id}
//	relay.Dispatch          CommandBridge   {prefix}/command/{id} -> device
//
// Each piece depends on a narrow interface rather than a concrete client so
// it can run against fakes in tests.
package telemetry
