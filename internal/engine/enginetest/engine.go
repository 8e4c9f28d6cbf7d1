// Package enginetest provides a scriptable in-memory engine.Engine.
//
// Tests queue network events with the Queue* methods; the events reach the
// registered handler on the next Loop call, exactly as a real engine would
// deliver them from its own queue.
package enginetest

import (
	"crypto/tls"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/mqtt-session/internal/engine"
)

// ErrClosed is returned by request methods after Close.
var ErrClosed = errors.New("enginetest: engine closed")

// ConnectCall records a Connect or Reconnect invocation.
type ConnectCall struct {
	Params    engine.ConnectParams
	Will      *engine.Will
	TLS       *tls.Config
	Reconnect bool
}

// PublishCall records a Publish invocation.
type PublishCall struct {
	ID      uint16
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// SubscribeCall records a Subscribe invocation.
type SubscribeCall struct {
	ID      uint16
	Filters []engine.Filter
}

// UnsubscribeCall records an Unsubscribe invocation.
type UnsubscribeCall struct {
	ID     uint16
	Topics []string
}

// Engine is a fake engine.Engine. It is safe for concurrent use.
type Engine struct {
	ClientID     string
	CleanSession bool

	// ConnectErr, when set, is returned by the next Connect or Reconnect.
	ConnectErr error

	// EmitDisconnect makes Disconnect queue an OnDisconnect event, the way
	// mosquitto reports a graceful close. Defaults to true.
	EmitDisconnect bool

	mu           sync.Mutex
	handler      engine.Handler
	queue        []event
	nextID       uint16
	will         *engine.Will
	tlsConfig    *tls.Config
	retry        time.Duration
	connects     []ConnectCall
	publishes    []PublishCall
	subscribes   []SubscribeCall
	unsubscribes []UnsubscribeCall
	disconnects  int
	loops        int
	retrySteps   int
	closed       bool
}

// event is a scripted event; close marks OnDisconnect.
type event struct {
	deliver func(engine.Handler)
	close   bool
}

// New returns an engine as a Factory would for clientID.
func New(clientID string, cleanSession bool) *Engine {
	return &Engine{
		ClientID:       clientID,
		CleanSession:   cleanSession,
		EmitDisconnect: true,
	}
}

// Factory returns an engine.Factory that hands out e, filling in the
// identity it was asked for.
func Factory(e *Engine) engine.Factory {
	return func(clientID string, cleanSession bool) (engine.Engine, error) {
		e.mu.Lock()
		e.ClientID = clientID
		e.CleanSession = cleanSession
		e.mu.Unlock()
		return e, nil
	}
}

func (e *Engine) nextMessageID() uint16 {
	e.nextID++
	if e.nextID == 0 {
		e.nextID = 1
	}
	return e.nextID
}

func (e *Engine) connect(params engine.ConnectParams, reconnect bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if err := e.ConnectErr; err != nil {
		e.ConnectErr = nil
		return err
	}
	e.queue = slices.DeleteFunc(e.queue, func(ev event) bool { return ev.close })

	call := ConnectCall{Params: params, TLS: e.tlsConfig, Reconnect: reconnect}
	if e.will != nil {
		w := *e.will
		call.Will = &w
	}
	e.connects = append(e.connects, call)
	return nil
}

// Connect implements engine.Engine.
func (e *Engine) Connect(params engine.ConnectParams) error {
	return e.connect(params, false)
}

// Reconnect implements engine.Engine.
func (e *Engine) Reconnect(params engine.ConnectParams) error {
	return e.connect(params, true)
}

// Disconnect implements engine.Engine.
func (e *Engine) Disconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.disconnects++
	if e.EmitDisconnect {
		e.queue = append(e.queue, event{deliver: func(h engine.Handler) { h.OnDisconnect() }, close: true})
	}
	return nil
}

// Publish implements engine.Engine.
func (e *Engine) Publish(topic string, payload []byte, qos byte, retain bool) (uint16, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, ErrClosed
	}
	id := e.nextMessageID()
	e.publishes = append(e.publishes, PublishCall{ID: id, Topic: topic, Payload: payload, QoS: qos, Retain: retain})
	return id, nil
}

// Subscribe implements engine.Engine.
func (e *Engine) Subscribe(filters ...engine.Filter) (uint16, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, ErrClosed
	}
	id := e.nextMessageID()
	e.subscribes = append(e.subscribes, SubscribeCall{ID: id, Filters: append([]engine.Filter(nil), filters...)})
	return id, nil
}

// Unsubscribe implements engine.Engine.
func (e *Engine) Unsubscribe(topics ...string) (uint16, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, ErrClosed
	}
	id := e.nextMessageID()
	e.unsubscribes = append(e.unsubscribes, UnsubscribeCall{ID: id, Topics: append([]string(nil), topics...)})
	return id, nil
}

// SetWill implements engine.Engine.
func (e *Engine) SetWill(w engine.Will) {
	e.mu.Lock()
	e.will = &w
	e.mu.Unlock()
}

// ClearWill implements engine.Engine.
func (e *Engine) ClearWill() {
	e.mu.Lock()
	e.will = nil
	e.mu.Unlock()
}

// SetTLS implements engine.Engine.
func (e *Engine) SetTLS(cfg *tls.Config) {
	e.mu.Lock()
	e.tlsConfig = cfg
	e.mu.Unlock()
}

// SetMessageRetry implements engine.Engine.
func (e *Engine) SetMessageRetry(d time.Duration) {
	e.mu.Lock()
	e.retry = d
	e.mu.Unlock()
}

// SetHandler implements engine.Engine.
func (e *Engine) SetHandler(h engine.Handler) {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
}

// Loop implements engine.Engine. Queued events are delivered outside the
// engine lock so handlers may call back into the engine.
func (e *Engine) Loop() error {
	e.mu.Lock()
	e.loops++
	queue := e.queue
	e.queue = nil
	h := e.handler
	e.mu.Unlock()

	if h == nil {
		return nil
	}
	for _, ev := range queue {
		ev.deliver(h)
	}
	return nil
}

// RetryStep implements engine.Engine.
func (e *Engine) RetryStep() {
	e.mu.Lock()
	e.retrySteps++
	e.mu.Unlock()
}

// Close implements engine.Engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.queue = nil
	e.mu.Unlock()
	return nil
}

// =============================================================================
// Event scripting
// =============================================================================

func (e *Engine) enqueue(ev func(engine.Handler)) {
	e.mu.Lock()
	e.queue = append(e.queue, event{deliver: ev})
	e.mu.Unlock()
}

// QueueConnAck queues a connect acknowledgement with the given return code.
func (e *Engine) QueueConnAck(code byte) {
	e.enqueue(func(h engine.Handler) { h.OnConnect(code) })
}

// QueueConnectionLost queues an abnormal close. Like a real engine, the
// next Connect or Reconnect discards it if it is still undelivered.
func (e *Engine) QueueConnectionLost() {
	e.mu.Lock()
	e.queue = append(e.queue, event{deliver: func(h engine.Handler) { h.OnDisconnect() }, close: true})
	e.mu.Unlock()
}

// QueuePublishAck queues a publish acknowledgement.
func (e *Engine) QueuePublishAck(id uint16) {
	e.enqueue(func(h engine.Handler) { h.OnPublish(id) })
}

// QueueMessage queues an inbound message.
func (e *Engine) QueueMessage(msg engine.Message) {
	e.enqueue(func(h engine.Handler) { h.OnMessage(&msg) })
}

// QueueSubAck queues a subscribe acknowledgement.
func (e *Engine) QueueSubAck(id uint16, granted ...byte) {
	e.enqueue(func(h engine.Handler) { h.OnSubscribe(id, granted) })
}

// QueueUnsubAck queues an unsubscribe acknowledgement.
func (e *Engine) QueueUnsubAck(id uint16) {
	e.enqueue(func(h engine.Handler) { h.OnUnsubscribe(id) })
}

// =============================================================================
// Inspection
// =============================================================================

// Connects returns every recorded Connect and Reconnect call.
func (e *Engine) Connects() []ConnectCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ConnectCall(nil), e.connects...)
}

// LastConnect returns the most recent connect call and whether one exists.
func (e *Engine) LastConnect() (ConnectCall, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.connects) == 0 {
		return ConnectCall{}, false
	}
	return e.connects[len(e.connects)-1], true
}

// Publishes returns every recorded Publish call.
func (e *Engine) Publishes() []PublishCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]PublishCall(nil), e.publishes...)
}

// Subscribes returns every recorded Subscribe call.
func (e *Engine) Subscribes() []SubscribeCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]SubscribeCall(nil), e.subscribes...)
}

// Unsubscribes returns every recorded Unsubscribe call.
func (e *Engine) Unsubscribes() []UnsubscribeCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]UnsubscribeCall(nil), e.unsubscribes...)
}

// RequestCount is the number of publish, subscribe and unsubscribe calls.
func (e *Engine) RequestCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.publishes) + len(e.subscribes) + len(e.unsubscribes)
}

// Disconnects returns how many times Disconnect was called.
func (e *Engine) Disconnects() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disconnects
}

// Loops returns how many times Loop was called.
func (e *Engine) Loops() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loops
}

// RetrySteps returns how many times RetryStep was called.
func (e *Engine) RetrySteps() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retrySteps
}

// MessageRetry returns the last interval passed to SetMessageRetry.
func (e *Engine) MessageRetry() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retry
}

// Will returns the will currently registered, if any.
func (e *Engine) Will() *engine.Will {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.will == nil {
		return nil
	}
	w := *e.will
	return &w
}

// TLS returns the TLS configuration currently registered.
func (e *Engine) TLS() *tls.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tlsConfig
}

// Closed reports whether Close was called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
