package session

import "github.com/nerrad567/mqtt-session/internal/engine"

// Message is an inbound application message.
type Message = engine.Message

// Filter is one topic filter of a subscribe request.
type Filter = engine.Filter

// Observer receives the session's lifecycle and message events.
//
// All methods are called from the RetryTimer goroutine, one at a time and in
// the order the engine observed the underlying events. Implementations should
// return quickly; a slow observer delays every later event.
type Observer interface {
	// DidConnect reports a connect acknowledgement. Code 0 means accepted;
	// any other value is the broker's rejection reason.
	DidConnect(code byte)

	// DidDisconnect reports that the network connection closed, gracefully
	// or not.
	DidDisconnect()

	// DidPublish reports delivery of the message with the ID Publish returned.
	DidPublish(messageID uint16)

	// DidReceiveMessage delivers an inbound message.
	DidReceiveMessage(msg *Message)

	// DidSubscribe reports the granted QoS per filter, in request order.
	DidSubscribe(messageID uint16, granted []byte)

	// DidUnsubscribe reports an unsubscribe acknowledgement.
	DidUnsubscribe(messageID uint16)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnConnect     func(code byte)
	OnDisconnect  func()
	OnPublish     func(messageID uint16)
	OnMessage     func(msg *Message)
	OnSubscribe   func(messageID uint16, granted []byte)
	OnUnsubscribe func(messageID uint16)
}

// DidConnect implements Observer.
func (f ObserverFuncs) DidConnect(code byte) {
	if f.OnConnect != nil {
		f.OnConnect(code)
	}
}

// DidDisconnect implements Observer.
func (f ObserverFuncs) DidDisconnect() {
	if f.OnDisconnect != nil {
		f.OnDisconnect()
	}
}

// DidPublish implements Observer.
func (f ObserverFuncs) DidPublish(messageID uint16) {
	if f.OnPublish != nil {
		f.OnPublish(messageID)
	}
}

// DidReceiveMessage implements Observer.
func (f ObserverFuncs) DidReceiveMessage(msg *Message) {
	if f.OnMessage != nil {
		f.OnMessage(msg)
	}
}

// DidSubscribe implements Observer.
func (f ObserverFuncs) DidSubscribe(messageID uint16, granted []byte) {
	if f.OnSubscribe != nil {
		f.OnSubscribe(messageID, granted)
	}
}

// DidUnsubscribe implements Observer.
func (f ObserverFuncs) DidUnsubscribe(messageID uint16) {
	if f.OnUnsubscribe != nil {
		f.OnUnsubscribe(messageID)
	}
}

// MultiObserver returns an Observer that forwards every callback to each of
// observers in order. Nil entries are skipped.
func MultiObserver(observers ...Observer) Observer {
	all := make(multiObserver, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			all = append(all, o)
		}
	}
	return all
}

type multiObserver []Observer

func (m multiObserver) DidConnect(code byte) {
	for _, o := range m {
		o.DidConnect(code)
	}
}

func (m multiObserver) DidDisconnect() {
	for _, o := range m {
		o.DidDisconnect()
	}
}

func (m multiObserver) DidPublish(messageID uint16) {
	for _, o := range m {
		o.DidPublish(messageID)
	}
}

func (m multiObserver) DidReceiveMessage(msg *Message) {
	for _, o := range m {
		o.DidReceiveMessage(msg)
	}
}

func (m multiObserver) DidSubscribe(messageID uint16, granted []byte) {
	for _, o := range m {
		o.DidSubscribe(messageID, granted)
	}
}

func (m multiObserver) DidUnsubscribe(messageID uint16) {
	for _, o := range m {
		o.DidUnsubscribe(messageID)
	}
}
