package transport

import (
	"context"
	"fmt"

	"github.com/opencode-ai/executor/pkg/protocol"
)

// ChannelTransport is the gateway side of an in-process packet pipe.
// Both directions are unbounded, so Send never blocks on a slow peer.
type ChannelTransport struct {
	requests  *unboundedQueue[*protocol.ClientPacket]
	responses *unboundedQueue[*protocol.ServerPacket]
}

// Peer is the embedding program's side of an in-process packet pipe.
type Peer struct {
	requests  *unboundedQueue[*protocol.ClientPacket]
	responses *unboundedQueue[*protocol.ServerPacket]
}

// NewPipe returns the two connected ends of an in-process transport.
func NewPipe() (*ChannelTransport, *Peer) {
	req := newUnboundedQueue[*protocol.ClientPacket]()
	resp := newUnboundedQueue[*protocol.ServerPacket]()
	return &ChannelTransport{requests: req, responses: resp},
		&Peer{requests: req, responses: resp}
}

// Send queues p for the peer. It fails with ErrClosed once the peer has
// stopped receiving or the transport was closed, and with
// protocol.ErrMalformed for a nil packet.
func (t *ChannelTransport) Send(_ context.Context, p *protocol.ServerPacket) error {
	if p == nil {
		return &Error{Op: "send", Err: fmt.Errorf("%w: nil server packet", protocol.ErrMalformed)}
	}
	if err := t.responses.push(p); err != nil {
		return &Error{Op: "send", Err: err}
	}
	return nil
}

// Receive waits for the next request. Requests submitted before the peer
// closed its sending side are still delivered before ErrClosed.
func (t *ChannelTransport) Receive(ctx context.Context) (*protocol.ClientPacket, error) {
	p, err := t.requests.pop(ctx)
	if err != nil {
		return nil, &Error{Op: "receive", Err: err}
	}
	return p, nil
}

// Close stops both directions. The peer sees its remaining responses and
// then ErrClosed; its further submissions fail.
func (t *ChannelTransport) Close() error {
	t.requests.drop()
	t.responses.closeProducer()
	return nil
}

// RemoteAddr identifies the in-process peer.
func (t *ChannelTransport) RemoteAddr() string { return "pipe" }

// Submit queues a request for the gateway. A nil request is rejected with
// protocol.ErrMalformed.
func (p *Peer) Submit(req *protocol.ClientPacket) error {
	if req == nil {
		return &Error{Op: "submit", Err: fmt.Errorf("%w: nil client packet", protocol.ErrMalformed)}
	}
	return p.requests.push(req)
}

// Recv waits for the next response from the gateway.
func (p *Peer) Recv(ctx context.Context) (*protocol.ServerPacket, error) {
	return p.responses.pop(ctx)
}

// Pending returns the number of responses not yet received.
func (p *Peer) Pending() int {
	return p.responses.size()
}

// CloseSender signals that no more requests will be submitted. The session
// finishes the queued requests and then ends.
func (p *Peer) CloseSender() {
	p.requests.closeProducer()
}

// CloseReceiver signals that responses are no longer wanted. The session's
// next send fails.
func (p *Peer) CloseReceiver() {
	p.responses.drop()
}

// Close drops both ends of the peer.
func (p *Peer) Close() error {
	p.CloseSender()
	p.CloseReceiver()
	return nil
}
