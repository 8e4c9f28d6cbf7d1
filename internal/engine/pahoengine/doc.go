// Package pahoengine implements engine.Engine on github.com/eclipse/paho.mqtt.golang.
//
// paho runs its own network goroutines and reports through callbacks and
// tokens. This package turns that into the cooperative-poll shape the
// session expects:
//   - paho callbacks (inbound messages, connection lost) only append to an
//     internal queue
//   - tokens (connect, publish, subscribe, unsubscribe) are checked without
//     blocking inside Loop
//   - Loop hands everything to the engine.Handler, so handler code runs on
//     whichever goroutine calls Loop
//
// # Message IDs
//
// IDs are assigned locally, 1..65535 wrapping and skipping 0, for every
// publish, subscribe and unsubscribe including QoS 0 publishes. paho's own
// packet identifiers are not exposed.
//
// # Message Retry
//
// RetryStep re-sends QoS 1 publishes that stay unacknowledged longer than the
// retry interval (default 20s). QoS 2 flows are left to paho, which resumes
// them from its Store after a reconnect.
//
// # Connections
//
// Every Connect builds a fresh paho client from the current parameters, will
// and TLS material; paho itself never reconnects automatically. Callbacks
// from a superseded client are discarded.
package pahoengine
