// Package influxdb stores device telemetry in InfluxDB v2.
//
// It wraps influxdb-client-go with the connection handling the relay needs:
// a ping on connect, non-blocking batched writes, and an error callback for
// write failures that surface asynchronously.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteDeviceMetric("esp1", "temp", 21.5, time.Now())
//
// Every point lands in the device_metrics measurement, tagged with
// device_id and measurement, carrying a single value field.
package influxdb
