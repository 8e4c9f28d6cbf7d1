package session

import "errors"

// Domain-specific errors for session operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidConfig is returned by New and Build for bad construction parameters.
	ErrInvalidConfig = errors.New("session: invalid configuration")

	// ErrInvalidArgument is returned for bad per-call parameters such as an
	// empty topic or a QoS outside 0..2.
	ErrInvalidArgument = errors.New("session: invalid argument")

	// ErrNotConnected is returned when an operation requires the Connected state.
	ErrNotConnected = errors.New("session: not connected")

	// ErrInvalidState is returned when a lifecycle call is not allowed from
	// the current state, e.g. Connect while already Connecting.
	ErrInvalidState = errors.New("session: invalid state for operation")

	// ErrConnection is returned when the engine rejects connect parameters
	// synchronously, before any network outcome is known.
	ErrConnection = errors.New("session: connection error")

	// ErrTLSConfig is returned when TLS material cannot be loaded or the
	// protocol version is not recognised.
	ErrTLSConfig = errors.New("session: TLS configuration error")

	// ErrPublishFailed is returned when the engine refuses a publish.
	ErrPublishFailed = errors.New("session: publish failed")

	// ErrSubscribeFailed is returned when the engine refuses a subscribe.
	ErrSubscribeFailed = errors.New("session: subscribe failed")

	// ErrUnsubscribeFailed is returned when the engine refuses an unsubscribe.
	ErrUnsubscribeFailed = errors.New("session: unsubscribe failed")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("session: closed")
)
