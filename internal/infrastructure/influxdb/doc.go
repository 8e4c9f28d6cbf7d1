// Package influxdb records MQTT session telemetry in InfluxDB v2.
//
// Each observer event of a session becomes a point: connection outcomes,
// disconnects, delivery acknowledgements, subscription grants, and inbound
// messages. Writes go through the non-blocking batched WriteAPI of
// influxdb-client-go, so recording never stalls the session loop.
//
// Measurements:
//
//	mqtt_session   tags: client_id, event    fields: code, message_id, granted, failed
//	mqtt_messages  tags: client_id, qos      fields: topic, bytes, retained
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.RecordConnect("dev1", 0)
//
// Asynchronous write failures are delivered to the SetOnError callback.
package influxdb
