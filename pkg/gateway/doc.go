// Package gateway is the public entrypoint of the executor.
//
// Launch serves one in-process session and returns the caller's end of the
// packet pipe. ListenAndServe and LaunchWebSocket serve WebSocket clients on
// the configured address, one session per connection.
//
// In every mode the execution context is built first. If that fails nothing
// is started: no session for Launch, no port for the WebSocket entrypoints.
//
// # Readiness
//
// Once the listener is bound, ListenAndServe sends a single Connected event on
// the channel it was given. The send never blocks, so the channel should be
// buffered with room for one event: a slow observer then still finds the
// event when it gets round to reading. On an unbuffered channel the event is
// only delivered if a receiver is already waiting. A lost event is logged as
// an *EventDeliveryError and otherwise ignored.
package gateway
