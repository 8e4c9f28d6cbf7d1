package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/mqtt-session/internal/engine"
	"github.com/nerrad567/mqtt-session/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-session/internal/infrastructure/logging"
	"github.com/nerrad567/mqtt-session/internal/session"
)

// Event channels, one per session callback. Streams subscribe to channel
// names or path.Match patterns such as "session.*".
const (
	ChannelConnect     = "session.connect"
	ChannelDisconnect  = "session.disconnect"
	ChannelPublish     = "session.publish"
	ChannelMessage     = "session.message"
	ChannelSubscribe   = "session.subscribe"
	ChannelUnsubscribe = "session.unsubscribe"
)

// Frame operations.
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpPing        = "ping"
	OpPong        = "pong"
	OpEvent       = "event"
	OpAck         = "ack"
	OpError       = "error"
)

// Frame is the JSON unit exchanged with stream clients in both directions.
//
// Clients send subscribe, unsubscribe (with Channels) and ping. The hub
// answers ack (the resulting subscriptions), pong or error, echoing Ref, and
// pushes event frames carrying Channel, Time and Data.
type Frame struct {
	Op       string   `json:"op"`
	Ref      string   `json:"ref,omitempty"`
	Channel  string   `json:"channel,omitempty"`
	Channels []string `json:"channels,omitempty"`
	Time     string   `json:"time,omitempty"`
	Data     any      `json:"data,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Hub fans session events out to WebSocket streams.
//
// Hub implements session.Observer. Callbacks never block: an event is
// dropped for a stream whose queue is full and counted in Dropped.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.Mutex
	streams map[*stream]struct{}

	dropped atomic.Uint64
}

var _ session.Observer = (*Hub)(nil)

// NewHub creates a hub. Call Run to tie stream lifetimes to a context.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		streams: make(map[*stream]struct{}),
	}
}

// Run blocks until ctx is done, then closes every stream with a going-away
// close frame.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	open := h.streams
	h.streams = make(map[*stream]struct{})
	h.mu.Unlock()

	for st := range open {
		st.close(websocket.CloseGoingAway, "server shutting down")
	}
}

// ClientCount returns the number of open streams.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams)
}

// Dropped returns how many events were discarded because a stream's queue
// was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) add(st *stream) {
	h.mu.Lock()
	h.streams[st] = struct{}{}
	n := len(h.streams)
	h.mu.Unlock()
	h.logger.Debug("event stream opened", "subject", st.subject, "streams", n)
}

func (h *Hub) remove(st *stream) {
	h.mu.Lock()
	_, ok := h.streams[st]
	delete(h.streams, st)
	n := len(h.streams)
	h.mu.Unlock()
	if ok {
		h.logger.Debug("event stream closed", "subject", st.subject, "streams", n)
	}
}

// publish encodes one event frame and queues it on every stream whose
// subscriptions match channel.
func (h *Hub) publish(channel string, data any) {
	b, err := json.Marshal(Frame{
		Op:      OpEvent,
		Channel: channel,
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Data:    data,
	})
	if err != nil {
		h.logger.Error("encoding stream event failed", "channel", channel, "error", err)
		return
	}

	h.mu.Lock()
	targets := make([]*stream, 0, len(h.streams))
	for st := range h.streams {
		targets = append(targets, st)
	}
	h.mu.Unlock()

	for _, st := range targets {
		if st.wants(channel) && !st.enqueue(b) {
			h.dropped.Add(1)
		}
	}
}

// ─── session.Observer ──────────────────────────────────────────────

// ConnectEvent is the data of a session.connect event.
type ConnectEvent struct {
	Code   byte   `json:"code"`
	Reason string `json:"reason"`
}

// MessageEvent is the data of a session.message event. Payloads that are
// not valid UTF-8 are base64 encoded.
type MessageEvent struct {
	Topic     string `json:"topic"`
	Payload   string `json:"payload"`
	Encoding  string `json:"encoding"`
	QoS       byte   `json:"qos"`
	Retain    bool   `json:"retain"`
	MessageID uint16 `json:"message_id,omitempty"`
}

// AckEvent is the data of publish, subscribe and unsubscribe events.
// Granted is only set for subscribe.
type AckEvent struct {
	MessageID uint16 `json:"message_id"`
	Granted   []int  `json:"granted,omitempty"`
}

// DidConnect implements session.Observer.
func (h *Hub) DidConnect(code byte) {
	h.publish(ChannelConnect, ConnectEvent{Code: code, Reason: engine.ConnAckCode(code).String()})
}

// DidDisconnect implements session.Observer.
func (h *Hub) DidDisconnect() {
	h.publish(ChannelDisconnect, nil)
}

// DidPublish implements session.Observer.
func (h *Hub) DidPublish(messageID uint16) {
	h.publish(ChannelPublish, AckEvent{MessageID: messageID})
}

// DidReceiveMessage implements session.Observer.
func (h *Hub) DidReceiveMessage(msg *session.Message) {
	ev := MessageEvent{
		Topic:     msg.Topic,
		Payload:   string(msg.Payload),
		Encoding:  encodingUTF8,
		QoS:       msg.QoS,
		Retain:    msg.Retain,
		MessageID: msg.MessageID,
	}
	if !utf8.Valid(msg.Payload) {
		ev.Payload = base64.StdEncoding.EncodeToString(msg.Payload)
		ev.Encoding = encodingBase64
	}
	h.publish(ChannelMessage, ev)
}

// DidSubscribe implements session.Observer. Granted QoS values are sent as
// a number list.
func (h *Hub) DidSubscribe(messageID uint16, granted []byte) {
	g := make([]int, len(granted))
	for i, q := range granted {
		g[i] = int(q)
	}
	h.publish(ChannelSubscribe, AckEvent{MessageID: messageID, Granted: g})
}

// DidUnsubscribe implements session.Observer.
func (h *Hub) DidUnsubscribe(messageID uint16) {
	h.publish(ChannelUnsubscribe, AckEvent{MessageID: messageID})
}
