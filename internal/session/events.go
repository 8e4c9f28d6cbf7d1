package session

import "github.com/nerrad567/mqtt-session/internal/engine"

// eventHandler receives engine events on the RetryTimer goroutine, applies
// the state transitions and forwards each event to the observer.
type eventHandler struct {
	s *Session
}

var _ engine.Handler = (*eventHandler)(nil)

func (h *eventHandler) OnConnect(code byte) {
	s := h.s
	switch {
	case code != 0:
		s.state.set(StateDisconnected)
		s.disconnecting.Store(false)
		if logger := s.getLogger(); logger != nil {
			logger.Warn("connection refused",
				"client_id", s.cfg.ClientID,
				"code", code,
				"reason", engine.ConnAckCode(code).String(),
			)
		}
	case s.disconnecting.Load():
		// Disconnect already requested; the engine's close confirmation
		// will move the session to Disconnected.
		if logger := s.getLogger(); logger != nil {
			logger.Debug("connect ack after disconnect request", "client_id", s.cfg.ClientID)
		}
	case s.state.transition(StateConnecting, StateConnected):
		if logger := s.getLogger(); logger != nil {
			logger.Info("session connected", "client_id", s.cfg.ClientID)
		}
	}

	s.dispatch("connect", func(o Observer) { o.DidConnect(code) })
}

func (h *eventHandler) OnDisconnect() {
	s := h.s
	s.disconnecting.Store(false)
	if s.state.swap(StateDisconnected) == StateDisconnected {
		return
	}
	if logger := s.getLogger(); logger != nil {
		logger.Info("session disconnected", "client_id", s.cfg.ClientID)
	}
	s.dispatch("disconnect", func(o Observer) { o.DidDisconnect() })
}

func (h *eventHandler) OnPublish(messageID uint16) {
	h.s.dispatch("publish", func(o Observer) { o.DidPublish(messageID) })
}

func (h *eventHandler) OnMessage(msg *engine.Message) {
	h.s.dispatch("message", func(o Observer) { o.DidReceiveMessage(msg) })
}

func (h *eventHandler) OnSubscribe(messageID uint16, granted []byte) {
	h.s.dispatch("subscribe", func(o Observer) { o.DidSubscribe(messageID, granted) })
}

func (h *eventHandler) OnUnsubscribe(messageID uint16) {
	h.s.dispatch("unsubscribe", func(o Observer) { o.DidUnsubscribe(messageID) })
}

// dispatch calls fn with the current observer, if any. A panicking observer
// is recovered and logged so the loop keeps delivering later events.
func (s *Session) dispatch(event string, fn func(Observer)) {
	o := s.getObserver()
	if o == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			if logger := s.getLogger(); logger != nil {
				logger.Error("observer panic recovered",
					"client_id", s.cfg.ClientID,
					"event", event,
					"panic", r,
				)
			}
		}
	}()

	fn(o)
}
