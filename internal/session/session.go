package session

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/mqtt-session/internal/engine"
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Session is a single MQTT client session bound to one engine handle.
//
// Thread Safety:
//   - Lifecycle and messaging calls must be serialised by the caller.
//   - State, SetObserver and SetLogger are safe from any goroutine.
//   - Observer callbacks run on the RetryTimer goroutine.
type Session struct {
	cfg    Config
	engine engine.Engine
	state  *stateManager
	timer  *retryTimer

	// will is pushed into the engine at every connect.
	will   *engine.Will
	willMu sync.Mutex

	// disconnecting is set between Disconnect and the engine's confirmation.
	disconnecting atomic.Bool
	closed        atomic.Bool

	observer   Observer
	observerMu sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Build creates a session for clientID with DefaultConfig settings.
//
// Returns ErrInvalidConfig if clientID is empty or longer than
// engine.MaxClientIDLength.
func Build(clientID string, newEngine engine.Factory) (*Session, error) {
	return New(DefaultConfig(clientID), newEngine)
}

// New validates cfg and acquires an engine handle from newEngine.
//
// The returned session is Disconnected. The engine handle belongs to the
// session until Close.
func New(cfg Config, newEngine engine.Factory) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if newEngine == nil {
		return nil, fmt.Errorf("%w: engine factory is required", ErrInvalidConfig)
	}

	eng, err := newEngine(cfg.ClientID, cfg.CleanSession)
	if err != nil {
		return nil, fmt.Errorf("%w: creating engine: %w", ErrInvalidConfig, err)
	}

	s := &Session{
		cfg:    cfg,
		engine: eng,
		state:  newStateManager(),
	}
	s.timer = newRetryTimer(cfg.loopInterval(), s.poll)
	eng.SetHandler(&eventHandler{s: s})

	return s, nil
}

// Config returns the session configuration.
func (s *Session) Config() Config {
	return s.cfg
}

// ClientID returns the client identifier.
func (s *Session) ClientID() string {
	return s.cfg.ClientID
}

// State returns the current connection state.
func (s *Session) State() State {
	return s.state.get()
}

// SetObserver registers the observer for session events, replacing any
// previous one. A nil observer makes the session drop events.
func (s *Session) SetObserver(o Observer) {
	s.observerMu.Lock()
	s.observer = o
	s.observerMu.Unlock()
}

// SetLogger sets a logger for state transitions and observer panics.
// If not set, nothing is logged.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (s *Session) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

func (s *Session) getObserver() Observer {
	s.observerMu.RLock()
	defer s.observerMu.RUnlock()
	return s.observer
}

// SetWill stores a last-will message for the next connect attempt.
// An established connection keeps the will it was opened with.
func (s *Session) SetWill(topic string, payload []byte, qos byte, retain bool) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if topic == "" {
		return fmt.Errorf("%w: will topic cannot be empty", ErrInvalidArgument)
	}
	if !engine.ValidQoS(qos) {
		return fmt.Errorf("%w: will QoS %d (must be 0, 1, or 2)", ErrInvalidArgument, qos)
	}

	w := &engine.Will{
		Topic:   topic,
		Payload: append([]byte(nil), payload...),
		QoS:     qos,
		Retain:  retain,
	}

	s.willMu.Lock()
	s.will = w
	s.willMu.Unlock()
	return nil
}

// ClearWill removes any stored will. It is safe to call repeatedly.
func (s *Session) ClearWill() {
	s.willMu.Lock()
	s.will = nil
	s.willMu.Unlock()
}

// Will returns a copy of the stored will, or nil.
func (s *Session) Will() *engine.Will {
	s.willMu.Lock()
	defer s.willMu.Unlock()
	if s.will == nil {
		return nil
	}
	w := *s.will
	return &w
}

// SetMessageRetry sets how long the engine waits for the acknowledgement of
// a QoS>0 message before re-sending it.
func (s *Session) SetMessageRetry(seconds int) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if seconds <= 0 {
		return fmt.Errorf("%w: message retry must be positive, got %d", ErrInvalidArgument, seconds)
	}
	s.engine.SetMessageRetry(secondsToDuration(seconds))
	return nil
}

// poll is the RetryTimer tick: deliver queued events, then retry overdue messages.
func (s *Session) poll() {
	if err := s.engine.Loop(); err != nil {
		if logger := s.getLogger(); logger != nil {
			logger.Warn("engine loop failed", "client_id", s.cfg.ClientID, "error", err)
		}
	}
	s.engine.RetryStep()
}
