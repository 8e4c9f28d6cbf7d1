package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/mqtt-session/internal/engine"
)

func TestMessagingRequiresConnected(t *testing.T) {
	calls := map[string]func(s *Session) error{
		"publish": func(s *Session) error {
			_, err := s.Publish("topic/x", []byte("hello"), 1, false)
			return err
		},
		"subscribe": func(s *Session) error {
			_, err := s.Subscribe("a/b", 1)
			return err
		},
		"subscribe multiple": func(s *Session) error {
			_, err := s.SubscribeMultiple(Filter{Topic: "a/b"}, Filter{Topic: "c/#"})
			return err
		},
		"unsubscribe": func(s *Session) error {
			_, err := s.Unsubscribe("a/b")
			return err
		},
		// State is checked before arguments.
		"publish with bad args": func(s *Session) error {
			_, err := s.Publish("", nil, 9, false)
			return err
		},
	}

	for name, call := range calls {
		t.Run(name+" while disconnected", func(t *testing.T) {
			s, eng, _ := newTestSession(t)
			assert.ErrorIs(t, call(s), ErrNotConnected)
			assert.Zero(t, eng.RequestCount())
		})
		t.Run(name+" while connecting", func(t *testing.T) {
			s, eng, _ := newTestSession(t)
			require.NoError(t, s.Connect())
			assert.ErrorIs(t, call(s), ErrNotConnected)
			assert.Zero(t, eng.RequestCount())
		})
	}
}

func TestPublish(t *testing.T) {
	s, eng, rec := connected(t)

	_, err := s.Publish("", []byte("x"), 0, false)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = s.Publish("t", []byte("x"), 3, false)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Zero(t, eng.RequestCount())

	id, err := s.Publish("sensors/1/temp", []byte("21.5"), 2, true)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), id)

	pubs := eng.Publishes()
	require.Len(t, pubs, 1)
	assert.Equal(t, "sensors/1/temp", pubs[0].Topic)
	assert.Equal(t, []byte("21.5"), pubs[0].Payload)
	assert.Equal(t, byte(2), pubs[0].QoS)
	assert.True(t, pubs[0].Retain)

	eng.QueuePublishAck(id)
	s.poll()
	assert.Equal(t, []string{"connect 0", "publish 1"}, rec.Events())
}

func TestPublish_EngineFailure(t *testing.T) {
	s, eng, _ := connected(t)
	require.NoError(t, eng.Close())

	_, err := s.Publish("t", nil, 0, false)
	assert.ErrorIs(t, err, ErrPublishFailed)

	_, err = s.Subscribe("t")
	assert.ErrorIs(t, err, ErrSubscribeFailed)

	_, err = s.Unsubscribe("t")
	assert.ErrorIs(t, err, ErrUnsubscribeFailed)
}

func TestSubscribe(t *testing.T) {
	t.Run("default qos", func(t *testing.T) {
		s, eng, _ := connected(t)

		_, err := s.Subscribe("a/b")
		require.NoError(t, err)
		subs := eng.Subscribes()
		require.Len(t, subs, 1)
		assert.Equal(t, []engine.Filter{{Topic: "a/b", QoS: 0}}, subs[0].Filters)
	})

	t.Run("invalid arguments", func(t *testing.T) {
		s, eng, _ := connected(t)

		_, err := s.Subscribe("")
		assert.ErrorIs(t, err, ErrInvalidArgument)
		_, err = s.Subscribe("a/b", 3)
		assert.ErrorIs(t, err, ErrInvalidArgument)
		_, err = s.SubscribeMultiple()
		assert.ErrorIs(t, err, ErrInvalidArgument)
		_, err = s.SubscribeMultiple(Filter{Topic: "a"}, Filter{Topic: ""})
		assert.ErrorIs(t, err, ErrInvalidArgument)
		assert.Zero(t, eng.RequestCount())
	})

	t.Run("granted qos in filter order", func(t *testing.T) {
		s, eng, rec := connected(t)

		id, err := s.SubscribeMultiple(Filter{Topic: "a/b", QoS: 1}, Filter{Topic: "c/#", QoS: 2})
		require.NoError(t, err)

		eng.QueueSubAck(id, 1, 2)
		s.poll()
		assert.Equal(t, []string{"connect 0", "subscribe 1 [1 2]"}, rec.Events())
	})

	t.Run("wildcards are passed through", func(t *testing.T) {
		s, eng, _ := connected(t)

		_, err := s.Subscribe("sensors/+/#", 1)
		require.NoError(t, err)
		assert.Equal(t, "sensors/+/#", eng.Subscribes()[0].Filters[0].Topic)
	})
}

func TestUnsubscribe(t *testing.T) {
	s, eng, rec := connected(t)

	_, err := s.Unsubscribe("")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	id, err := s.Unsubscribe("a/b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b"}, eng.Unsubscribes()[0].Topics)

	eng.QueueUnsubAck(id)
	s.poll()
	assert.Equal(t, []string{"connect 0", "unsubscribe 1"}, rec.Events())
}

func TestMessagesDeliveredInOrder(t *testing.T) {
	s, eng, rec := connected(t)

	for _, topic := range []string{"a", "b", "c"} {
		eng.QueueMessage(engine.Message{Topic: topic, Payload: []byte(topic), QoS: 1})
	}
	s.poll()

	assert.Equal(t, []string{"connect 0", "message a", "message b", "message c"}, rec.Events())
	require.Len(t, rec.msgs, 3)
	assert.Equal(t, []byte("b"), rec.msgs[1].Payload)
}

// The end-to-end scenario: build, connect, publish, disconnect.
func TestPublishScenario(t *testing.T) {
	s, eng, rec := newTestSession(t)

	require.NoError(t, s.Connect())
	eng.QueueConnAck(0)
	s.poll()
	require.Equal(t, StateConnected, s.State())

	id, err := s.Publish("topic/x", []byte("hello"), 1, false)
	require.NoError(t, err)
	require.Equal(t, uint16(1), id)

	eng.QueuePublishAck(1)
	s.poll()

	require.NoError(t, s.Disconnect())
	s.poll()

	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, []string{"connect 0", "publish 1", "disconnect"}, rec.Events())
}

func TestErrorsAreDistinct(t *testing.T) {
	all := []error{
		ErrInvalidConfig, ErrInvalidArgument, ErrNotConnected, ErrInvalidState,
		ErrConnection, ErrTLSConfig, ErrPublishFailed, ErrSubscribeFailed,
		ErrUnsubscribeFailed, ErrClosed,
	}
	for i, a := range all {
		for j, b := range all {
			if i != j && errors.Is(a, b) {
				t.Errorf("%v matches %v", a, b)
			}
		}
	}
}
