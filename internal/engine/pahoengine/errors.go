package pahoengine

import "errors"

// Domain-specific errors for the paho engine.
var (
	// ErrNotConnected is returned when a request is made with no client.
	ErrNotConnected = errors.New("pahoengine: no active connection")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("pahoengine: engine closed")
)
