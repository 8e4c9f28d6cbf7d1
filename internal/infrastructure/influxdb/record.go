package influxdb

import (
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementSession  = "mqtt_session"
	measurementMessages = "mqtt_messages"
)

// Event tag values of the mqtt_session measurement.
const (
	EventConnect     = "connect"
	EventDisconnect  = "disconnect"
	EventPublish     = "publish"
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
	EventReconnect   = "reconnect"
)

// grantFailure is the SUBACK code for a refused filter.
const grantFailure = 0x80

func (c *Client) writeSession(clientID, event string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	if len(fields) == 0 {
		fields = map[string]any{"count": int64(1)}
	}
	c.writer.WritePoint(write.NewPoint(
		measurementSession,
		map[string]string{
			"client_id": clientID,
			"event":     event,
		},
		fields,
		c.now(),
	))
}

// RecordConnect records a connection outcome. code is the CONNACK return code.
func (c *Client) RecordConnect(clientID string, code byte) {
	c.writeSession(clientID, EventConnect, map[string]any{"code": int64(code)})
}

// RecordDisconnect records a closed connection.
func (c *Client) RecordDisconnect(clientID string) {
	c.writeSession(clientID, EventDisconnect, nil)
}

// RecordReconnect records a reconnect attempt made by the supervisor.
func (c *Client) RecordReconnect(clientID string, attempt int) {
	c.writeSession(clientID, EventReconnect, map[string]any{"attempt": int64(attempt)})
}

// RecordPublish records a delivery acknowledgement.
func (c *Client) RecordPublish(clientID string, mid uint16) {
	c.writeSession(clientID, EventPublish, map[string]any{"message_id": int64(mid)})
}

// RecordSubscribe records a SUBACK; failed counts filters the broker refused.
func (c *Client) RecordSubscribe(clientID string, mid uint16, granted []byte) {
	failed := 0
	for _, q := range granted {
		if q >= grantFailure {
			failed++
		}
	}
	c.writeSession(clientID, EventSubscribe, map[string]any{
		"message_id": int64(mid),
		"granted":    int64(len(granted) - failed),
		"failed":     int64(failed),
	})
}

// RecordUnsubscribe records an UNSUBACK.
func (c *Client) RecordUnsubscribe(clientID string, mid uint16) {
	c.writeSession(clientID, EventUnsubscribe, map[string]any{"message_id": int64(mid)})
}

// RecordMessage records an inbound message. The topic is stored as a field;
// tags are limited to client and QoS.
func (c *Client) RecordMessage(clientID, topic string, qos byte, size int, retained bool) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(write.NewPoint(
		measurementMessages,
		map[string]string{
			"client_id": clientID,
			"qos":       qosTag(qos),
		},
		map[string]any{
			"topic":    topic,
			"bytes":    int64(size),
			"retained": retained,
		},
		c.now(),
	))
}

func qosTag(q byte) string {
	switch q {
	case 0:
		return "0"
	case 1:
		return "1"
	case 2:
		return "2"
	default:
		return "invalid"
	}
}
