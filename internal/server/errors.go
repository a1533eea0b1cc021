package server

import "fmt"

// BindError reports that the listen address could not be bound. It is fatal:
// there is no retry and no fallback port.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// HandshakeError reports a failed WebSocket upgrade. Only the offending
// connection is dropped.
type HandshakeError struct {
	Remote string
	Err    error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake with %s: %v", e.Remote, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// AcceptError reports that the listener stopped accepting connections. The
// acceptor terminates when it sees one.
type AcceptError struct {
	Addr string
	Err  error
}

func (e *AcceptError) Error() string {
	return fmt.Sprintf("accept on %s: %v", e.Addr, e.Err)
}

func (e *AcceptError) Unwrap() error { return e.Err }
