package main

import (
	"github.com/nerrad567/mqtt-session/internal/engine"
	"github.com/nerrad567/mqtt-session/internal/session"
)

// Telemetry receives session events for time-series recording.
// Satisfied by *influxdb.Client.
type Telemetry interface {
	RecordConnect(clientID string, code byte)
	RecordDisconnect(clientID string)
	RecordReconnect(clientID string, attempt int)
	RecordPublish(clientID string, mid uint16)
	RecordSubscribe(clientID string, mid uint16, granted []byte)
	RecordUnsubscribe(clientID string, mid uint16)
	RecordMessage(clientID, topic string, qos byte, size int, retained bool)
}

// Subscriber is the part of *session.Session the observer drives.
type Subscriber interface {
	ClientID() string
	SubscribeMultiple(filters ...session.Filter) (uint16, error)
}

// Logger is the logging surface the observer needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// appObserver logs session events, records them as telemetry and
// re-subscribes the configured filters after every successful connect.
//
// Callbacks arrive on the session's timer goroutine, one at a time.
type appObserver struct {
	sess      Subscriber
	filters   []session.Filter
	telemetry Telemetry
	log       Logger

	// configured holds the message IDs of subscribe requests for filters,
	// so their SUBACKs can be matched to topics by position.
	configured map[uint16]struct{}
}

var _ session.Observer = (*appObserver)(nil)

// newAppObserver creates the observer. telemetry may be nil.
func newAppObserver(sess Subscriber, filters []session.Filter, telemetry Telemetry, log Logger) *appObserver {
	return &appObserver{
		sess:      sess,
		filters:   filters,
		telemetry: telemetry,
		log:       log,

		configured: make(map[uint16]struct{}),
	}
}

func (o *appObserver) DidConnect(code byte) {
	clientID := o.sess.ClientID()
	if o.telemetry != nil {
		o.telemetry.RecordConnect(clientID, code)
	}
	if code != 0 {
		o.log.Warn("broker refused connection",
			"code", code,
			"reason", engine.ConnAckCode(code).String(),
		)
		return
	}

	o.log.Info("connected", "client_id", clientID)
	if len(o.filters) == 0 {
		return
	}
	mid, err := o.sess.SubscribeMultiple(o.filters...)
	if err != nil {
		o.log.Warn("subscribing configured filters failed", "error", err)
		return
	}
	o.configured[mid] = struct{}{}
	o.log.Debug("subscribe requested", "message_id", mid, "filters", len(o.filters))
}

func (o *appObserver) DidDisconnect() {
	if o.telemetry != nil {
		o.telemetry.RecordDisconnect(o.sess.ClientID())
	}
	o.log.Info("disconnected")
}

func (o *appObserver) DidPublish(messageID uint16) {
	if o.telemetry != nil {
		o.telemetry.RecordPublish(o.sess.ClientID(), messageID)
	}
	o.log.Debug("publish acknowledged", "message_id", messageID)
}

func (o *appObserver) DidReceiveMessage(msg *session.Message) {
	if o.telemetry != nil {
		o.telemetry.RecordMessage(o.sess.ClientID(), msg.Topic, msg.QoS, len(msg.Payload), msg.Retain)
	}
	o.log.Info("message received",
		"topic", msg.Topic,
		"qos", msg.QoS,
		"retain", msg.Retain,
		"bytes", len(msg.Payload),
	)
}

func (o *appObserver) DidSubscribe(messageID uint16, granted []byte) {
	if o.telemetry != nil {
		o.telemetry.RecordSubscribe(o.sess.ClientID(), messageID, granted)
	}
	if _, ok := o.configured[messageID]; ok {
		delete(o.configured, messageID)
		for i, q := range granted {
			if q >= 0x80 && i < len(o.filters) {
				o.log.Warn("subscription refused", "topic", o.filters[i].Topic)
			}
		}
	}
	o.log.Info("subscribed", "message_id", messageID, "granted", granted)
}

func (o *appObserver) DidUnsubscribe(messageID uint16) {
	if o.telemetry != nil {
		o.telemetry.RecordUnsubscribe(o.sess.ClientID(), messageID)
	}
	o.log.Info("unsubscribed", "message_id", messageID)
}

// reconnectAttempted is the supervisor's OnAttempt hook.
func (o *appObserver) reconnectAttempted(attempt int, err error) {
	if o.telemetry != nil {
		o.telemetry.RecordReconnect(o.sess.ClientID(), attempt)
	}
	if err != nil {
		o.log.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
		return
	}
	o.log.Info("reconnect attempt started", "attempt", attempt)
}
