// Package supervisor reconnects a session after connections it did not ask
// to close.
//
// A Supervisor sits between a session and its real observer. It forwards
// every callback unchanged and, when a DidDisconnect arrives that was not
// preceded by Supervisor.Disconnect (or a DidConnect reports a refusal),
// schedules Reconnect with exponential backoff. Attempts are additionally
// paced by a token-bucket limiter so a flapping broker cannot drive a
// reconnect storm.
package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/mqtt-session/internal/session"
)

// Reconnector is the part of *session.Session the supervisor drives.
type Reconnector interface {
	ClientID() string
	State() session.State
	Reconnect() error
	Disconnect() error
}

// Logger interface for optional logging support.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config is the reconnection policy.
type Config struct {
	// InitialDelay is the wait before the first attempt; it doubles on every
	// failed attempt up to MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// MaxAttempts bounds consecutive failed attempts. 0 means unlimited.
	MaxAttempts int

	// Limit and Burst configure the attempt limiter. A zero Limit allows one
	// attempt per InitialDelay.
	Limit rate.Limit
	Burst int

	// OnAttempt, if set, is called after every Reconnect call.
	OnAttempt func(attempt int, err error)
}

// Supervisor is a session.Observer that reconnects on unexpected loss.
//
// Thread Safety:
//   - Observer methods run on the session loop goroutine; Disconnect and
//     Stop may be called from any goroutine.
type Supervisor struct {
	sess    Reconnector
	cfg     Config
	limiter *rate.Limiter
	after   func(time.Duration) <-chan time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	next     session.Observer
	logger   Logger
	attempts int
	pending  bool
	expected bool
	stopped  bool
}

var _ session.Observer = (*Supervisor)(nil)

// New creates a supervisor for sess forwarding to next (which may be nil).
// Install it with sess.SetObserver.
func New(sess Reconnector, cfg Config, next session.Observer) *Supervisor {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	limit := cfg.Limit
	if limit == 0 {
		limit = rate.Every(cfg.InitialDelay)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		sess:    sess,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		after:   time.After,
		ctx:     ctx,
		cancel:  cancel,
		next:    next,
	}
}

// SetLogger sets a logger for reconnect scheduling.
func (s *Supervisor) SetLogger(logger Logger) {
	s.mu.Lock()
	s.logger = logger
	s.mu.Unlock()
}

// SetNext replaces the wrapped observer.
func (s *Supervisor) SetNext(o session.Observer) {
	s.mu.Lock()
	s.next = o
	s.mu.Unlock()
}

// Disconnect closes the session on purpose; the resulting DidDisconnect
// does not trigger a reconnect.
func (s *Supervisor) Disconnect() error {
	s.mu.Lock()
	if s.sess.State() != session.StateDisconnected {
		s.expected = true
	}
	s.mu.Unlock()
	return s.sess.Disconnect()
}

// Stop cancels any scheduled attempt and waits for an in-progress one.
// Callbacks keep being forwarded after Stop.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// Attempts returns the number of consecutive failed reconnect attempts.
func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Supervisor) observer() session.Observer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// DidConnect implements session.Observer.
func (s *Supervisor) DidConnect(code byte) {
	s.mu.Lock()
	if code == 0 {
		s.attempts = 0
	} else if !s.expected {
		s.scheduleLocked("connection refused")
	}
	s.mu.Unlock()

	if o := s.observer(); o != nil {
		o.DidConnect(code)
	}
}

// DidDisconnect implements session.Observer.
func (s *Supervisor) DidDisconnect() {
	s.mu.Lock()
	if s.expected {
		s.expected = false
	} else {
		s.scheduleLocked("connection lost")
	}
	s.mu.Unlock()

	if o := s.observer(); o != nil {
		o.DidDisconnect()
	}
}

// DidPublish implements session.Observer.
func (s *Supervisor) DidPublish(messageID uint16) {
	if o := s.observer(); o != nil {
		o.DidPublish(messageID)
	}
}

// DidReceiveMessage implements session.Observer.
func (s *Supervisor) DidReceiveMessage(msg *session.Message) {
	if o := s.observer(); o != nil {
		o.DidReceiveMessage(msg)
	}
}

// DidSubscribe implements session.Observer.
func (s *Supervisor) DidSubscribe(messageID uint16, granted []byte) {
	if o := s.observer(); o != nil {
		o.DidSubscribe(messageID, granted)
	}
}

// DidUnsubscribe implements session.Observer.
func (s *Supervisor) DidUnsubscribe(messageID uint16) {
	if o := s.observer(); o != nil {
		o.DidUnsubscribe(messageID)
	}
}

// backoff returns the delay before the given attempt (1-based).
func (s *Supervisor) backoff(attempt int) time.Duration {
	d := s.cfg.InitialDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.cfg.MaxDelay {
			return s.cfg.MaxDelay
		}
	}
	return d
}

func (s *Supervisor) scheduleLocked(reason string) {
	if s.stopped || s.pending {
		return
	}

	s.attempts++
	if s.cfg.MaxAttempts > 0 && s.attempts > s.cfg.MaxAttempts {
		if s.logger != nil {
			s.logger.Error("reconnect attempts exhausted",
				"client_id", s.sess.ClientID(),
				"attempts", s.cfg.MaxAttempts,
			)
		}
		return
	}

	delay := s.backoff(s.attempts)
	attempt := s.attempts
	s.pending = true

	if s.logger != nil {
		s.logger.Info("reconnect scheduled",
			"client_id", s.sess.ClientID(),
			"reason", reason,
			"attempt", attempt,
			"delay", delay,
		)
	}

	s.wg.Add(1)
	go s.reconnectAfter(delay, attempt)
}

func (s *Supervisor) reconnectAfter(delay time.Duration, attempt int) {
	defer s.wg.Done()

	select {
	case <-s.ctx.Done():
		return
	case <-s.after(delay):
	}
	if err := s.limiter.Wait(s.ctx); err != nil {
		return
	}

	s.mu.Lock()
	s.pending = false
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}

	err := s.sess.Reconnect()
	if s.cfg.OnAttempt != nil {
		s.cfg.OnAttempt(attempt, err)
	}
	if err == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logger != nil {
		s.logger.Warn("reconnect failed",
			"client_id", s.sess.ClientID(),
			"attempt", attempt,
			"error", err,
		)
	}
	switch {
	case errors.Is(err, session.ErrInvalidState):
		// Someone else already started a connect; its outcome drives us.
	case errors.Is(err, session.ErrClosed):
		s.stopped = true
	default:
		s.scheduleLocked("reconnect failed")
	}
}
