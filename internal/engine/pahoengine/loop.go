package pahoengine

import (
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/mqtt-session/internal/engine"
)

type opKind uint8

const (
	opPublish opKind = iota + 1
	opSubscribe
	opUnsubscribe
)

func (k opKind) String() string {
	switch k {
	case opPublish:
		return "publish"
	case opSubscribe:
		return "subscribe"
	case opUnsubscribe:
		return "unsubscribe"
	default:
		return "unknown"
	}
}

// pendingOp is a request whose paho token has not been collected yet.
type pendingOp struct {
	kind  opKind
	id    uint16
	token pahomqtt.Token

	// publish
	topic   string
	payload []byte
	qos     byte
	retain  bool
	retries int

	// subscribe
	filters []engine.Filter

	sentAt time.Time
}

// connectResult is satisfied by *pahomqtt.ConnectToken.
type connectResult interface {
	ReturnCode() byte
}

// subscribeResult is satisfied by *pahomqtt.SubscribeToken.
type subscribeResult interface {
	Result() map[string]byte
}

const (
	// grantFailure is the SUBACK code for a refused filter.
	grantFailure = 0x80

	// localFailureCode is the first connect return code paho uses for
	// client-side failures (network error, protocol violation) rather than
	// a CONNACK from the broker.
	localFailureCode = 0x80
)

func tokenDone(tok pahomqtt.Token) bool {
	select {
	case <-tok.Done():
		return true
	default:
		return false
	}
}

// queuedEvent is an event waiting for the next Loop. close marks
// OnDisconnect, which a later connect attempt discards.
type queuedEvent struct {
	deliver func(engine.Handler)
	close   bool
}

func closeEvent() queuedEvent {
	return queuedEvent{deliver: func(h engine.Handler) { h.OnDisconnect() }, close: true}
}

// enqueue records an event produced by a paho callback. Events from a
// superseded client generation are dropped.
func (e *Engine) enqueue(gen uint64, ev queuedEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || gen != e.generation {
		return
	}
	e.events = append(e.events, ev)
}

func messageEvent(msg pahomqtt.Message) queuedEvent {
	m := &engine.Message{
		Topic:     msg.Topic(),
		Payload:   msg.Payload(),
		QoS:       msg.Qos(),
		Retain:    msg.Retained(),
		MessageID: msg.MessageID(),
	}
	return queuedEvent{deliver: func(h engine.Handler) { h.OnMessage(m) }}
}

// Loop implements engine.Engine.
//
// One call delivers, in order:
//  1. the outcome of a completed connect attempt
//  2. acknowledgements of completed requests, in the order they were issued
//  3. queued inbound messages and connection loss, in arrival order
//
// Nothing blocks; requests still in flight stay pending for a later call.
func (e *Engine) Loop() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}

	var batch []func(engine.Handler)
	if ev := e.collectConnectLocked(); ev != nil {
		batch = append(batch, ev)
	}
	batch = append(batch, e.collectAcksLocked()...)
	for _, ev := range e.events {
		batch = append(batch, ev.deliver)
	}
	e.events = nil
	h := e.handler
	e.mu.Unlock()

	if h == nil {
		return nil
	}
	for _, ev := range batch {
		ev(h)
	}
	return nil
}

// collectConnectLocked converts a finished connect token into an event.
//
// A CONNACK return code from the broker is reported as OnConnect(code).
// A connect that failed before any CONNACK (dial error, timeout, protocol
// violation) is reported as OnDisconnect, as mosquitto does.
func (e *Engine) collectConnectLocked() func(engine.Handler) {
	tok := e.connectTok
	if tok == nil || !tokenDone(tok) {
		return nil
	}
	e.connectTok = nil

	var code byte
	if cr, ok := tok.(connectResult); ok {
		code = cr.ReturnCode()
	}
	err := tok.Error()

	switch {
	case code == byte(engine.ConnAccepted) && err == nil:
		return func(h engine.Handler) { h.OnConnect(code) }
	case code != byte(engine.ConnAccepted) && code < localFailureCode:
		e.dropClientLocked()
		return func(h engine.Handler) { h.OnConnect(code) }
	default:
		e.logDebug("connect failed", "client_id", e.clientID, "code", code, "error", err)
		e.dropClientLocked()
		return func(h engine.Handler) { h.OnDisconnect() }
	}
}

// collectAcksLocked converts finished request tokens into events and keeps
// the rest pending.
func (e *Engine) collectAcksLocked() []func(engine.Handler) {
	var out []func(engine.Handler)
	kept := e.pending[:0]

	for _, op := range e.pending {
		if !tokenDone(op.token) {
			kept = append(kept, op)
			continue
		}
		if err := op.token.Error(); err != nil {
			e.logWarn("request failed", "client_id", e.clientID, "request", op.String(), "error", err)
			continue
		}

		id := op.id
		switch op.kind {
		case opPublish:
			out = append(out, func(h engine.Handler) { h.OnPublish(id) })
		case opSubscribe:
			granted := grantedQoS(op.token, op.filters)
			out = append(out, func(h engine.Handler) { h.OnSubscribe(id, granted) })
		case opUnsubscribe:
			out = append(out, func(h engine.Handler) { h.OnUnsubscribe(id) })
		}
	}

	for i := len(kept); i < len(e.pending); i++ {
		e.pending[i] = nil
	}
	e.pending = kept
	return out
}

// grantedQoS returns one granted QoS per requested filter, in request order.
// A filter missing from the SUBACK result is reported as refused.
func grantedQoS(tok pahomqtt.Token, filters []engine.Filter) []byte {
	granted := make([]byte, len(filters))
	sr, ok := tok.(subscribeResult)
	if !ok {
		for i, f := range filters {
			granted[i] = f.QoS
		}
		return granted
	}

	result := sr.Result()
	for i, f := range filters {
		q, found := result[f.Topic]
		if !found {
			q = grantFailure
		}
		granted[i] = q
	}
	return granted
}

// RetryStep implements engine.Engine. QoS 1 publishes unacknowledged for
// longer than the retry interval are published again under the same local
// message ID.
func (e *Engine) RetryStep() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || e.client == nil || !e.client.IsConnectionOpen() {
		return
	}

	now := e.now()
	for _, op := range e.pending {
		if op.kind != opPublish || op.qos != 1 {
			continue
		}
		if now.Sub(op.sentAt) < e.retry || tokenDone(op.token) {
			continue
		}
		op.token = e.client.Publish(op.topic, op.qos, op.retain, op.payload)
		op.sentAt = now
		op.retries++
		e.logDebug("message retried",
			"client_id", e.clientID,
			"message_id", op.id,
			"topic", op.topic,
			"attempt", op.retries,
		)
	}
}
