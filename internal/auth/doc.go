// Package auth issues and verifies the bearer tokens that guard the HTTP
// control API.
//
// Tokens are HS256 JWTs carrying a scope:
//   - ScopeRead may query session state and stream events
//   - ScopeControl may additionally publish, subscribe and unsubscribe
//
// There are no user accounts; whoever holds the configured secret mints
// tokens with "mqttsession token".
package auth
