package session

import (
	"fmt"
	"time"

	"github.com/nerrad567/mqtt-session/internal/tlsconfig"
)

// Connect starts a connection attempt with the configured broker,
// credentials, keepalive, clean-session flag and any stored will.
//
// It is only valid from Disconnected; the session moves to Connecting and
// the call returns as soon as the engine has initiated the handshake. The
// outcome arrives as Observer.DidConnect (or DidDisconnect if the network
// fails first).
//
// Returns:
//   - ErrInvalidState if the session is not Disconnected
//   - ErrConnection if the engine rejects the parameters locally
func (s *Session) Connect() error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.state.transition(StateDisconnected, StateConnecting) {
		return fmt.Errorf("%w: connect while %s", ErrInvalidState, s.state.get())
	}
	return s.startConnect(false)
}

// ConnectTLS loads the TLS material, registers it with the engine and then
// behaves like Connect. The material stays registered for Reconnect.
//
// Returns ErrTLSConfig, before any network I/O, if a certificate file is
// unreadable or the protocol version is unknown.
func (s *Session) ConnectTLS(material tlsconfig.Material) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if st := s.state.get(); st != StateDisconnected {
		return fmt.Errorf("%w: connect while %s", ErrInvalidState, st)
	}

	tlsCfg, err := tlsconfig.Load(material)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTLSConfig, err)
	}
	s.engine.SetTLS(tlsCfg)

	return s.Connect()
}

// Reconnect re-establishes the session with every previously configured
// parameter, including the will and registered TLS material.
//
// From Disconnected it is equivalent to Connect. From Connected the engine
// drops the current connection and reconnects on the same handle without
// reporting DidDisconnect. From Connecting it returns ErrInvalidState: an
// attempt is already in flight.
func (s *Session) Reconnect() error {
	if s.closed.Load() {
		return ErrClosed
	}
	from, ok := s.state.transitionFrom(StateConnecting, StateDisconnected, StateConnected)
	if !ok {
		return fmt.Errorf("%w: reconnect while %s", ErrInvalidState, from)
	}
	return s.startConnect(from == StateConnected)
}

// startConnect pushes the will and hands the parameters to the engine.
// The session must already be Connecting.
func (s *Session) startConnect(reconnect bool) error {
	s.disconnecting.Store(false)

	if w := s.Will(); w != nil {
		s.engine.SetWill(*w)
	} else {
		s.engine.ClearWill()
	}

	params := s.cfg.connectParams()
	var err error
	if reconnect {
		err = s.engine.Reconnect(params)
	} else {
		err = s.engine.Connect(params)
	}
	if err != nil {
		s.state.set(StateDisconnected)
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	s.timer.start()

	if logger := s.getLogger(); logger != nil {
		logger.Debug("connect initiated",
			"client_id", s.cfg.ClientID,
			"host", s.cfg.Host,
			"port", s.cfg.Port,
			"reconnect", reconnect,
		)
	}
	return nil
}

// Disconnect requests a graceful close.
//
// The session stays in its current state until the engine confirms with
// DidDisconnect. Calling Disconnect while Disconnected does nothing and
// produces no event.
func (s *Session) Disconnect() error {
	if s.closed.Load() {
		return ErrClosed
	}
	if s.state.get() == StateDisconnected {
		return nil
	}

	s.disconnecting.Store(true)
	if err := s.engine.Disconnect(); err != nil {
		s.disconnecting.Store(false)
		return fmt.Errorf("%w: disconnect: %w", ErrConnection, err)
	}
	return nil
}

// Close tears the session down: the RetryTimer is stopped (an in-progress
// tick is allowed to finish, none follows), an open connection is dropped
// and the engine handle is released. No Observer callback runs after Close
// returns. Close is idempotent.
//
// Close must not be called from an Observer callback.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.timer.stop()

	if s.state.swap(StateDisconnected) != StateDisconnected {
		if err := s.engine.Disconnect(); err != nil {
			if logger := s.getLogger(); logger != nil {
				logger.Warn("disconnect during close failed", "client_id", s.cfg.ClientID, "error", err)
			}
		}
	}
	s.disconnecting.Store(false)

	if err := s.engine.Close(); err != nil {
		return fmt.Errorf("closing engine: %w", err)
	}
	return nil
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
