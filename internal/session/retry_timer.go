package session

import (
	"context"
	"sync"
	"time"
)

// retryTimer periodically drives the engine's network loop and message
// retries on a goroutine it owns.
//
// Once stopped it never fires again; start after stop is a no-op.
type retryTimer struct {
	interval time.Duration
	tick     func()

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

func newRetryTimer(interval time.Duration, tick func()) *retryTimer {
	return &retryTimer{
		interval: interval,
		tick:     tick,
	}
}

// start launches the timer goroutine if it is not already running.
func (t *retryTimer) start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped || t.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.run(ctx, t.done)
}

func (t *retryTimer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A tick racing with cancellation must not run.
			if ctx.Err() != nil {
				return
			}
			t.tick()
		}
	}
}

// stop cancels the timer and waits for an in-progress tick to finish.
// Calling stop from inside tick would deadlock; the session never does.
func (t *retryTimer) stop() {
	t.mu.Lock()
	t.stopped = true
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// running reports whether the timer goroutine is active.
func (t *retryTimer) running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}
