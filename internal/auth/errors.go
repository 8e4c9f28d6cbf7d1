package auth

import "errors"

// Domain errors.
var (
	// ErrTokenInvalid is returned for a token that fails signature, expiry or
	// claim checks.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrInvalidScope is returned when a token is requested for an unknown scope.
	ErrInvalidScope = errors.New("auth: invalid scope")

	// ErrInsufficientScope is returned when a valid token lacks the scope an
	// operation needs.
	ErrInsufficientScope = errors.New("auth: insufficient scope")
)
