// Package server implements the connection acceptor of the executor gateway.
//
// A Server binds its listen address once with Listen. A bind failure is
// returned as a *BindError and there is no retry. Serve then runs the accept
// loop: every request to / or /ws is upgraded to a WebSocket, wrapped in a
// transport.SocketTransport and handed to a new session in the pool. The
// handler never waits for the session.
//
// A failed upgrade only affects its own connection. It is logged as a
// *HandshakeError, reported as a connection.rejected event, and the loop goes
// on. A failure of the listener itself ends Serve with an *AcceptError.
//
// # API Endpoints
//
//   - GET / and GET /ws: WebSocket upgrade, one JSON packet per text frame
//   - GET /healthz: provider, model, live session count and uptime
//   - GET /sessions: snapshots of the live sessions
//
// # Origin checks
//
// With an empty server.allowedOrigins list every origin is accepted. Otherwise
// the Origin header, or its host part, must match one of the doublestar
// patterns, for example "https://*.example.com" or "localhost:*". Requests
// without an Origin header are not browsers and are always accepted.
package server
