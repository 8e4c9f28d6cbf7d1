package engine

import (
	"crypto/tls"
	"errors"
	"time"
)

// Protocol limits shared by all engines.
const (
	// MaxClientIDLength is the longest client identifier an engine accepts.
	// MQTT encodes the identifier as a length-prefixed UTF-8 string.
	MaxClientIDLength = 65535

	// MaxQoS is the highest Quality of Service level.
	MaxQoS = 2
)

// ErrInvalidHost is returned by Connect when the broker address cannot be
// turned into a dialable URL.
var ErrInvalidHost = errors.New("engine: invalid broker host")

// ConnectParams carries everything an engine needs to open a connection.
type ConnectParams struct {
	Host      string
	Port      int
	Username  string
	Password  string
	KeepAlive time.Duration
}

// Will is the last-will message the broker publishes if the client
// disappears without a graceful disconnect.
type Will struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Filter is a single topic filter in a subscribe request.
type Filter struct {
	Topic string
	QoS   byte
}

// Message is an inbound application message.
type Message struct {
	Topic     string
	Payload   []byte
	QoS       byte
	Retain    bool
	MessageID uint16
}

// Handler receives translated engine events.
//
// Engines invoke Handler only from inside Loop, one event at a time, in the
// order the events were observed on the network.
type Handler interface {
	OnConnect(code byte)
	OnDisconnect()
	OnPublish(messageID uint16)
	OnMessage(msg *Message)
	OnSubscribe(messageID uint16, granted []byte)
	OnUnsubscribe(messageID uint16)
}

// Engine is the protocol engine a session drives.
//
// Implementations are not required to be safe for concurrent use; the
// session serialises its own calls but Loop and RetryStep run on the
// session's timer goroutine, so engines must guard state shared between
// those and the request methods.
type Engine interface {
	// Connect starts a connection attempt and returns once it is initiated.
	// The outcome arrives later as OnConnect or OnDisconnect. An OnDisconnect
	// still queued for an earlier connection is discarded.
	Connect(params ConnectParams) error

	// Reconnect closes the current connection, if any, without emitting
	// OnDisconnect, and starts a fresh attempt with the same TLS material.
	// Undelivered OnDisconnect events are discarded as for Connect.
	Reconnect(params ConnectParams) error

	// Disconnect requests a graceful close. OnDisconnect follows.
	Disconnect() error

	Publish(topic string, payload []byte, qos byte, retain bool) (uint16, error)
	Subscribe(filters ...Filter) (uint16, error)
	Unsubscribe(topics ...string) (uint16, error)

	// SetWill and ClearWill are read at the next Connect.
	SetWill(w Will)
	ClearWill()

	// SetTLS registers TLS material for subsequent connects. nil disables TLS.
	SetTLS(cfg *tls.Config)

	// SetMessageRetry sets how long a QoS>0 publish may stay unacknowledged
	// before RetryStep re-sends it.
	SetMessageRetry(d time.Duration)

	SetHandler(h Handler)

	// Loop delivers queued events to the handler without blocking.
	Loop() error

	// RetryStep re-sends overdue unacknowledged messages.
	RetryStep()

	// Close releases the engine handle. The engine is unusable afterwards.
	Close() error
}

// Factory acquires a new engine handle for a client.
type Factory func(clientID string, cleanSession bool) (Engine, error)

// ValidQoS reports whether qos is 0, 1 or 2.
func ValidQoS(qos byte) bool {
	return qos <= MaxQoS
}
