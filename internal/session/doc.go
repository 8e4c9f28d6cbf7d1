// Package session manages the lifecycle of one MQTT client session.
//
// This package manages:
//   - Validated, immutable session configuration (client ID, broker, credentials)
//   - The Disconnected → Connecting → Connected state machine
//   - Last Will and Testament registration for the next connect
//   - Publish, subscribe and unsubscribe with QoS validation
//   - Translation of raw engine events into Observer callbacks
//   - The RetryTimer that drives the engine's network loop and message retries
//
// # Architecture
//
// A Session owns exactly one engine handle (see package engine) from New until
// Close. It never speaks the wire protocol itself:
//
//	caller → Session → engine.Engine → broker
//	                       │
//	   RetryTimer ── Loop ─┴→ Session handler → Observer
//
// # Event Delivery
//
// Every Observer callback runs on the RetryTimer goroutine, never on the
// goroutine that called Connect, Publish or Subscribe. Outcomes of those calls
// (broker rejection, acknowledgements, connection loss) arrive only through
// the Observer; they are never returned from an earlier call.
//
// # Thread Safety
//
// Connect, Reconnect, Disconnect, Publish, Subscribe and Unsubscribe must be
// serialised by the caller. State reads and SetObserver are safe from any
// goroutine.
//
// # Usage
//
//	sess, err := session.Build("dev1", pahoengine.Factory())
//	if err != nil {
//	    return err
//	}
//	defer sess.Close()
//
//	sess.SetObserver(session.ObserverFuncs{
//	    OnConnect: func(code byte) { log.Printf("connected: %d", code) },
//	})
//	if err := sess.Connect(); err != nil {
//	    return err
//	}
package session
