package session

import (
	"fmt"

	"github.com/nerrad567/mqtt-session/internal/engine"
)

// requireConnected gates every messaging call. It is checked before any
// argument so a disconnected session never reaches the engine.
func (s *Session) requireConnected() error {
	if s.closed.Load() {
		return ErrClosed
	}
	if st := s.state.get(); st != StateConnected {
		return fmt.Errorf("%w: session is %s", ErrNotConnected, st)
	}
	return nil
}

// Publish sends payload to topic and returns the engine-assigned message ID.
//
// For QoS 1 and 2 the same ID is later reported by Observer.DidPublish once
// the broker acknowledges the message. QoS 0 messages report DidPublish as
// soon as they are written.
//
// Returns:
//   - ErrNotConnected unless the session is Connected
//   - ErrInvalidArgument for an empty topic or QoS outside 0..2
//   - ErrPublishFailed if the engine refuses the message
func (s *Session) Publish(topic string, payload []byte, qos byte, retain bool) (uint16, error) {
	if err := s.requireConnected(); err != nil {
		return 0, err
	}
	if topic == "" {
		return 0, fmt.Errorf("%w: topic cannot be empty", ErrInvalidArgument)
	}
	if !engine.ValidQoS(qos) {
		return 0, fmt.Errorf("%w: QoS %d (must be 0, 1, or 2)", ErrInvalidArgument, qos)
	}

	id, err := s.engine.Publish(topic, payload, qos, retain)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return id, nil
}
