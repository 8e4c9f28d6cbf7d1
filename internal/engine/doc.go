// Package engine defines the contract between an MQTT session and the
// protocol engine that speaks the wire protocol on its behalf.
//
// The engine is a black box. It owns framing, QoS acknowledgement
// handshakes and keepalive pings. The session only ever:
//   - hands it connection parameters, a will and TLS material
//   - asks it to publish, subscribe and unsubscribe
//   - drives it periodically through Loop and RetryStep
//
// # Event Delivery
//
// Engines never call back into the session from their own goroutines.
// Raw network events (connect ack, connection lost, acks, inbound messages)
// are queued internally and handed to the registered Handler only from
// inside Loop. Whoever calls Loop therefore decides which goroutine the
// session's observer runs on.
//
// # Implementations
//
//   - pahoengine: github.com/eclipse/paho.mqtt.golang
//   - enginetest: scriptable in-memory engine for tests
package engine
