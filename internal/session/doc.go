// Package session runs the request loop for one gateway connection.
//
// A Session owns exactly one transport and a handle on the shared execution
// context. It moves between three states:
//
//	Idle ──receive──▶ Handling ──dispatch ok──▶ Idle
//	  │                  │
//	  └──────failure─────┴──────────────────────▶ Closed
//
// Requests from one connection are handled strictly in arrival order. A
// failed receive, a failed send or a failed dispatch ends the session and
// releases its transport; there is no retry. The peer closing the
// connection while the session is idle is a normal end and Run returns nil.
//
// The Dispatcher decides what a request means. It may send any number of
// responses through its Emitter before it returns.
//
// Pool supervises running sessions, counts them and reports their start and
// end on the event bus.
package session
