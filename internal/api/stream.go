package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// streamQueueLen is the number of frames buffered per stream.
const streamQueueLen = 256

// closeWriteTimeout bounds writing the close frame on shutdown.
const closeWriteTimeout = time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Access is gated by the bearer token, not the origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// stream is one WebSocket client of the hub.
type stream struct {
	hub     *Hub
	conn    *websocket.Conn
	subject string

	out      chan []byte
	quit     chan struct{}
	quitOnce sync.Once

	mu       sync.Mutex
	patterns []string
}

// handleWebSocket upgrades an authenticated request into an event stream.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	st := &stream{
		hub:     s.hub,
		conn:    conn,
		subject: subjectOf(r),
		out:     make(chan []byte, streamQueueLen),
		quit:    make(chan struct{}),
	}
	s.hub.add(st)

	go st.writeLoop()
	go st.readLoop()
}

// stop ends both loops and closes the connection. Safe to call repeatedly.
func (st *stream) stop() {
	st.quitOnce.Do(func() {
		close(st.quit)
		st.conn.Close()
	})
}

// close sends a close frame with code and reason, then stops the stream.
func (st *stream) close(code int, reason string) {
	//nolint:errcheck // Best-effort close frame; the connection is dropped regardless
	st.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(closeWriteTimeout))
	st.stop()
}

// enqueue queues b for the write loop. It reports false only when the queue
// is full; frames for a stopped stream are discarded silently.
func (st *stream) enqueue(b []byte) bool {
	select {
	case st.out <- b:
		return true
	case <-st.quit:
		return true
	default:
		return false
	}
}

func (st *stream) reply(f Frame) {
	b, err := json.Marshal(f)
	if err != nil {
		return
	}
	st.enqueue(b)
}

func (st *stream) readLoop() {
	defer func() {
		st.hub.remove(st)
		st.stop()
	}()

	cfg := st.hub.cfg
	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func(string) error {
		return st.conn.SetReadDeadline(time.Now().Add(idle))
	}

	st.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	//nolint:errcheck // A failed deadline surfaces as a read error
	extend("")
	st.conn.SetPongHandler(extend)

	for {
		_, data, err := st.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				st.hub.logger.Warn("event stream read failed", "subject", st.subject, "error", err)
			}
			return
		}
		//nolint:errcheck // A failed deadline surfaces as a read error
		extend("")

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			st.reply(Frame{Op: OpError, Error: "frame is not valid JSON"})
			continue
		}
		st.handle(f)
	}
}

func (st *stream) writeLoop() {
	cfg := st.hub.cfg
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	ping := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-st.quit:
			return
		case b := <-st.out:
			//nolint:errcheck // A failed deadline surfaces as a write error
			st.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := st.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				st.stop()
				return
			}
		case <-ping.C:
			if err := st.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				st.stop()
				return
			}
		}
	}
}

func (st *stream) handle(f Frame) {
	switch f.Op {
	case OpSubscribe:
		if err := st.subscribe(f.Channels); err != nil {
			st.reply(Frame{Op: OpError, Ref: f.Ref, Error: err.Error()})
			return
		}
		st.reply(Frame{Op: OpAck, Ref: f.Ref, Channels: st.subscriptions()})
	case OpUnsubscribe:
		st.unsubscribe(f.Channels)
		st.reply(Frame{Op: OpAck, Ref: f.Ref, Channels: st.subscriptions()})
	case OpPing:
		st.reply(Frame{Op: OpPong, Ref: f.Ref})
	default:
		st.reply(Frame{Op: OpError, Ref: f.Ref, Error: fmt.Sprintf("unknown op %q", f.Op)})
	}
}

// subscribe adds channel patterns. Either all patterns are added or none.
func (st *stream) subscribe(patterns []string) error {
	if len(patterns) == 0 {
		return errors.New("no channels given")
	}
	for _, p := range patterns {
		if _, err := path.Match(p, ""); err != nil {
			return fmt.Errorf("invalid channel pattern %q", p)
		}
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	for _, p := range patterns {
		if !slices.Contains(st.patterns, p) {
			st.patterns = append(st.patterns, p)
		}
	}
	return nil
}

// unsubscribe removes patterns exactly as they were subscribed.
func (st *stream) unsubscribe(patterns []string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.patterns = slices.DeleteFunc(st.patterns, func(p string) bool {
		return slices.Contains(patterns, p)
	})
}

// subscriptions returns a sorted copy of the stream's patterns.
func (st *stream) subscriptions() []string {
	st.mu.Lock()
	out := slices.Clone(st.patterns)
	st.mu.Unlock()
	slices.Sort(out)
	return out
}

func (st *stream) wants(channel string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, p := range st.patterns {
		if ok, _ := path.Match(p, channel); ok {
			return true
		}
	}
	return false
}
