package session

import (
	"fmt"

	"github.com/nerrad567/mqtt-session/internal/engine"
)

// Subscribe requests messages matching topic. qos defaults to 0 when omitted;
// only the first value is used.
//
// Topic filters may contain MQTT wildcards, matched by the broker:
//   - + (single-level): "sensors/+/temperature"
//   - # (multi-level): "sensors/#"
//
// The returned ID correlates with the later Observer.DidSubscribe.
func (s *Session) Subscribe(topic string, qos ...byte) (uint16, error) {
	var q byte
	if len(qos) > 0 {
		q = qos[0]
	}
	return s.SubscribeMultiple(Filter{Topic: topic, QoS: q})
}

// SubscribeMultiple subscribes to several filters with one request.
//
// Observer.DidSubscribe for the returned ID carries one granted QoS per
// filter, in the order given here. The broker may grant a lower QoS than
// requested.
func (s *Session) SubscribeMultiple(filters ...Filter) (uint16, error) {
	if err := s.requireConnected(); err != nil {
		return 0, err
	}
	if len(filters) == 0 {
		return 0, fmt.Errorf("%w: at least one topic filter is required", ErrInvalidArgument)
	}
	for _, f := range filters {
		if f.Topic == "" {
			return 0, fmt.Errorf("%w: topic cannot be empty", ErrInvalidArgument)
		}
		if !engine.ValidQoS(f.QoS) {
			return 0, fmt.Errorf("%w: QoS %d for %q (must be 0, 1, or 2)", ErrInvalidArgument, f.QoS, f.Topic)
		}
	}

	id, err := s.engine.Subscribe(filters...)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return id, nil
}

// Unsubscribe removes a subscription. Unsubscribing from a filter that was
// never subscribed is left to the broker to ignore.
func (s *Session) Unsubscribe(topic string) (uint16, error) {
	if err := s.requireConnected(); err != nil {
		return 0, err
	}
	if topic == "" {
		return 0, fmt.Errorf("%w: topic cannot be empty", ErrInvalidArgument)
	}

	id, err := s.engine.Unsubscribe(topic)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return id, nil
}
