package supervisor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/nerrad567/mqtt-session/internal/engine/enginetest"
	"github.com/nerrad567/mqtt-session/internal/session"
)

type fakeSession struct {
	mu          sync.Mutex
	state       session.State
	err         error
	calls       int
	disconnects int
}

func (f *fakeSession) ClientID() string { return "dev1" }

func (f *fakeSession) State() session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) Reconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeSession) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeSession) reconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func immediately(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func never(time.Duration) <-chan time.Time {
	return make(chan time.Time)
}

func fastConfig() Config {
	return Config{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     40 * time.Millisecond,
		Limit:        rate.Inf,
	}
}

// =============================================================================
// Backoff
// =============================================================================

func TestBackoff(t *testing.T) {
	s := New(&fakeSession{}, Config{InitialDelay: time.Second, MaxDelay: 5 * time.Second}, nil)
	defer s.Stop()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{20, 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt %d", tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.want, s.backoff(tt.attempt))
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	s := New(&fakeSession{}, Config{MaxDelay: time.Millisecond}, nil)
	defer s.Stop()

	assert.Equal(t, time.Second, s.cfg.InitialDelay)
	assert.Equal(t, time.Second, s.cfg.MaxDelay, "max delay is raised to the initial delay")
	assert.Equal(t, rate.Every(time.Second), s.limiter.Limit())
	assert.Equal(t, 1, s.limiter.Burst())
}

// =============================================================================
// Scheduling
// =============================================================================

func TestUnexpectedDisconnectReconnects(t *testing.T) {
	fake := &fakeSession{state: session.StateDisconnected}
	var attempts []int
	var mu sync.Mutex
	cfg := fastConfig()
	cfg.OnAttempt = func(attempt int, err error) {
		mu.Lock()
		attempts = append(attempts, attempt)
		mu.Unlock()
	}

	s := New(fake, cfg, nil)
	s.after = immediately
	defer s.Stop()

	s.DidDisconnect()

	require.Eventually(t, func() bool { return fake.reconnects() == 1 }, time.Second, time.Millisecond)
	mu.Lock()
	assert.Equal(t, []int{1}, attempts)
	mu.Unlock()
	assert.Equal(t, 1, s.Attempts())

	s.DidConnect(0)
	assert.Equal(t, 0, s.Attempts(), "successful connect resets the attempt count")
}

func TestRefusedConnectReconnects(t *testing.T) {
	fake := &fakeSession{}
	s := New(fake, fastConfig(), nil)
	s.after = immediately
	defer s.Stop()

	s.DidConnect(byte(5))

	require.Eventually(t, func() bool { return fake.reconnects() == 1 }, time.Second, time.Millisecond)
}

func TestExpectedDisconnectDoesNotReconnect(t *testing.T) {
	fake := &fakeSession{state: session.StateConnected}
	s := New(fake, fastConfig(), nil)
	s.after = immediately
	defer s.Stop()

	require.NoError(t, s.Disconnect())
	assert.Equal(t, 1, fake.disconnects)

	s.DidDisconnect()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, fake.reconnects())

	// The flag is consumed; the next loss is unexpected again.
	s.DidDisconnect()
	require.Eventually(t, func() bool { return fake.reconnects() == 1 }, time.Second, time.Millisecond)
}

func TestDisconnectWhileDisconnectedDoesNotMaskNextLoss(t *testing.T) {
	fake := &fakeSession{state: session.StateDisconnected}
	s := New(fake, fastConfig(), nil)
	s.after = immediately
	defer s.Stop()

	require.NoError(t, s.Disconnect())
	s.DidDisconnect()

	require.Eventually(t, func() bool { return fake.reconnects() == 1 }, time.Second, time.Millisecond)
}

func TestMaxAttempts(t *testing.T) {
	fake := &fakeSession{err: errors.New("dial tcp: connection refused")}
	cfg := fastConfig()
	cfg.MaxAttempts = 3

	s := New(fake, cfg, nil)
	s.after = immediately
	defer s.Stop()

	s.DidDisconnect()

	require.Eventually(t, func() bool { return fake.reconnects() == 3 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, fake.reconnects(), "no attempts beyond MaxAttempts")
}

func TestInvalidStateIsNotRetried(t *testing.T) {
	fake := &fakeSession{err: fmt.Errorf("%w: reconnect while connecting", session.ErrInvalidState)}
	s := New(fake, fastConfig(), nil)
	s.after = immediately
	defer s.Stop()

	s.DidDisconnect()

	require.Eventually(t, func() bool { return fake.reconnects() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, fake.reconnects())
}

func TestStopCancelsPendingAttempt(t *testing.T) {
	fake := &fakeSession{}
	s := New(fake, fastConfig(), nil)
	s.after = never

	s.DidDisconnect()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() did not return")
	}
	assert.Equal(t, 0, fake.reconnects())

	// Nothing is scheduled after Stop.
	s.DidDisconnect()
	assert.Equal(t, 0, fake.reconnects())
}

// =============================================================================
// Forwarding
// =============================================================================

func TestForwardsEveryCallback(t *testing.T) {
	var got []string
	next := session.ObserverFuncs{
		OnConnect:     func(code byte) { got = append(got, fmt.Sprintf("connect %d", code)) },
		OnDisconnect:  func() { got = append(got, "disconnect") },
		OnPublish:     func(id uint16) { got = append(got, fmt.Sprintf("publish %d", id)) },
		OnMessage:     func(m *session.Message) { got = append(got, "message "+m.Topic) },
		OnSubscribe:   func(id uint16, g []byte) { got = append(got, fmt.Sprintf("subscribe %d %v", id, g)) },
		OnUnsubscribe: func(id uint16) { got = append(got, fmt.Sprintf("unsubscribe %d", id)) },
	}

	s := New(&fakeSession{}, fastConfig(), next)
	s.after = never
	defer s.Stop()

	s.DidConnect(0)
	s.DidPublish(1)
	s.DidReceiveMessage(&session.Message{Topic: "a/b"})
	s.DidSubscribe(2, []byte{1, 2})
	s.DidUnsubscribe(3)
	s.DidDisconnect()

	assert.Equal(t, []string{
		"connect 0",
		"publish 1",
		"message a/b",
		"subscribe 2 [1 2]",
		"unsubscribe 3",
		"disconnect",
	}, got)
}

// =============================================================================
// With a real session
// =============================================================================

func TestSessionConnectionLossIsRecovered(t *testing.T) {
	eng := enginetest.New("dev1", true)
	cfg := session.DefaultConfig("dev1")
	cfg.LoopInterval = 5 * time.Millisecond

	sess, err := session.New(cfg, enginetest.Factory(eng))
	require.NoError(t, err)
	defer sess.Close() //nolint:errcheck // Test cleanup

	var disconnects atomic.Int32
	sup := New(sess, fastConfig(), session.ObserverFuncs{
		OnDisconnect: func() { disconnects.Add(1) },
	})
	defer sup.Stop()
	sess.SetObserver(sup)

	require.NoError(t, sess.Connect())
	eng.QueueConnAck(0)
	require.Eventually(t, func() bool { return sess.State() == session.StateConnected }, time.Second, time.Millisecond)

	eng.QueueConnectionLost()
	require.Eventually(t, func() bool { return len(eng.Connects()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), disconnects.Load(), "observer still sees the loss")

	eng.QueueConnAck(0)
	require.Eventually(t, func() bool { return sess.State() == session.StateConnected }, time.Second, time.Millisecond)
	assert.Equal(t, 0, sup.Attempts())

	// A requested disconnect stays down.
	require.NoError(t, sup.Disconnect())
	require.Eventually(t, func() bool { return sess.State() == session.StateDisconnected }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, eng.Connects(), 2)
}
