// Package api provides the HTTP control API and WebSocket event stream for a
// running session.
//
// Endpoints (under /api/v1):
//
//	GET    /health                 liveness, session state and dependency checks
//	GET    /session                client ID and state (read scope)
//	POST   /session/publish        publish a message (control scope)
//	POST   /session/subscriptions  subscribe one or more filters (control scope)
//	DELETE /session/subscriptions  unsubscribe a topic filter (control scope)
//	GET    /ws                     session event stream (read scope)
//	GET    /audit                  audited control requests (read scope, when configured)
//
// Requests carry an HS256 bearer token (see package auth). WebSocket clients
// may pass it as the token query parameter instead.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// The Hub is also a session.Observer; install it (usually through
// session.MultiObserver) so session events reach WebSocket clients.
package api
