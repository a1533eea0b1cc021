package session

import (
	"context"

	"github.com/opencode-ai/executor/internal/executor"
	"github.com/opencode-ai/executor/pkg/protocol"
)

// Emitter sends one response to the session's peer. Packets reach the peer
// in the order Emitter is called. It is safe to call from several
// goroutines, but only until Dispatch returns.
type Emitter func(ctx context.Context, p *protocol.ServerPacket) error

// Dispatcher interprets one request and produces zero or more responses
// through emit. A returned error ends the session; request-level failures
// the peer should see belong in an error packet instead.
type Dispatcher interface {
	Dispatch(ctx context.Context, exec executor.Executor, req *protocol.ClientPacket, emit Emitter) error
}

// DispatchFunc adapts a function to the Dispatcher interface.
type DispatchFunc func(ctx context.Context, exec executor.Executor, req *protocol.ClientPacket, emit Emitter) error

// Dispatch calls f.
func (f DispatchFunc) Dispatch(ctx context.Context, exec executor.Executor, req *protocol.ClientPacket, emit Emitter) error {
	return f(ctx, exec, req, emit)
}
