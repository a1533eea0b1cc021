// Package transport moves protocol packets between the gateway and a peer.
//
// Two adapters satisfy the same Transport contract: SocketTransport over an
// upgraded WebSocket connection and ChannelTransport over an in-process
// queue pair. A session cannot tell them apart.
package transport

import (
	"context"
	"errors"

	"github.com/opencode-ai/executor/pkg/protocol"
)

// ErrClosed is the cause reported when the other side ended the
// conversation in an orderly way, or when the transport was closed locally.
var ErrClosed = errors.New("transport closed")

// Transport is a bidirectional, ordered packet stream bound to one peer.
//
// Packets are delivered in the order they were sent, in both directions.
// Receive blocks until a packet arrives, the peer closes, or ctx is done.
// Send and Receive may be called from different goroutines, but each
// direction has a single caller at a time. Close is idempotent.
type Transport interface {
	Send(ctx context.Context, p *protocol.ServerPacket) error
	Receive(ctx context.Context) (*protocol.ClientPacket, error)
	Close() error
	RemoteAddr() string
}

// Error is the transport failure reported by Send and Receive.
type Error struct {
	Op  string // "send", "submit", "receive" or "decode"
	Err error
}

func (e *Error) Error() string {
	return "transport " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// IsClosed reports whether err means the peer went away gracefully.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}
