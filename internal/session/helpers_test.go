package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/mqtt-session/internal/engine/enginetest"
)

// manualLoop keeps the RetryTimer from firing during a test; tests drive
// the engine with s.poll() instead.
const manualLoop = time.Hour

// recorder is an Observer that records every callback as a string.
type recorder struct {
	mu     sync.Mutex
	events []string
	msgs   []*Message
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func (r *recorder) DidConnect(code byte)     { r.add("connect %d", code) }
func (r *recorder) DidDisconnect()           { r.add("disconnect") }
func (r *recorder) DidPublish(id uint16)     { r.add("publish %d", id) }
func (r *recorder) DidUnsubscribe(id uint16) { r.add("unsubscribe %d", id) }

func (r *recorder) DidReceiveMessage(msg *Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	r.add("message %s", msg.Topic)
}

func (r *recorder) DidSubscribe(id uint16, granted []byte) {
	r.add("subscribe %d %v", id, granted)
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// newTestSession builds a session on a fake engine with a manual loop.
func newTestSession(t *testing.T, mutate ...func(*Config)) (*Session, *enginetest.Engine, *recorder) {
	t.Helper()

	cfg := DefaultConfig("dev1")
	cfg.LoopInterval = manualLoop
	for _, m := range mutate {
		m(&cfg)
	}

	eng := enginetest.New(cfg.ClientID, cfg.CleanSession)
	s, err := New(cfg, enginetest.Factory(eng))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	rec := &recorder{}
	s.SetObserver(rec)
	return s, eng, rec
}

// connected returns a session that has completed its handshake.
func connected(t *testing.T) (*Session, *enginetest.Engine, *recorder) {
	t.Helper()
	s, eng, rec := newTestSession(t)
	require.NoError(t, s.Connect())
	eng.QueueConnAck(0)
	s.poll()
	require.Equal(t, StateConnected, s.State())
	return s, eng, rec
}
