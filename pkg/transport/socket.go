package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opencode-ai/executor/pkg/protocol"
)

const closeGracePeriod = time.Second

// SocketOptions tunes a SocketTransport.
type SocketOptions struct {
	// WriteTimeout bounds each frame write. Zero disables the deadline.
	WriteTimeout time.Duration
	// ReadLimit caps the size of an incoming frame. Zero keeps the
	// websocket default.
	ReadLimit int64
}

// SocketTransport carries packets as JSON text frames over a WebSocket
// connection.
type SocketTransport struct {
	conn *websocket.Conn
	opts SocketOptions

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewSocket wraps an upgraded connection. The transport owns conn from
// here on.
func NewSocket(conn *websocket.Conn, opts SocketOptions) *SocketTransport {
	if opts.ReadLimit > 0 {
		conn.SetReadLimit(opts.ReadLimit)
	}
	return &SocketTransport{conn: conn, opts: opts}
}

// Send writes p as one text frame.
func (s *SocketTransport) Send(ctx context.Context, p *protocol.ServerPacket) error {
	if s.closed.Load() {
		return &Error{Op: "send", Err: ErrClosed}
	}
	if err := ctx.Err(); err != nil {
		return &Error{Op: "send", Err: err}
	}

	data, err := protocol.EncodeServer(p)
	if err != nil {
		return &Error{Op: "send", Err: err}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.opts.WriteTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
			s.closed.Store(true)
			return &Error{Op: "send", Err: ErrClosed}
		}
		return &Error{Op: "send", Err: err}
	}
	return nil
}

// Receive reads the next frame and decodes it. A normal close frame from the
// peer is reported as ErrClosed; a dropped connection is reported as the
// underlying I/O error.
func (s *SocketTransport) Receive(ctx context.Context) (*protocol.ClientPacket, error) {
	if s.closed.Load() {
		return nil, &Error{Op: "receive", Err: ErrClosed}
	}

	// Unblock the read when ctx ends. The connection is not reusable after
	// that, which is fine: a cancelled session closes it anyway.
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, s.readError(ctx, err)
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}

		p, err := protocol.DecodeClient(data)
		if err != nil {
			return nil, &Error{Op: "decode", Err: err}
		}
		return p, nil
	}
}

func (s *SocketTransport) readError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &Error{Op: "receive", Err: ctxErr}
	}
	if s.closed.Load() || errors.Is(err, net.ErrClosed) {
		return &Error{Op: "receive", Err: ErrClosed}
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		s.closed.Store(true)
		return &Error{Op: "receive", Err: fmt.Errorf("%w: %v", ErrClosed, err)}
	}
	return &Error{Op: "receive", Err: err}
}

// Close sends a normal close frame and releases the connection.
func (s *SocketTransport) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		s.closeErr = s.conn.Close()
		if errors.Is(s.closeErr, net.ErrClosed) {
			s.closeErr = nil
		}
	})
	return s.closeErr
}

// RemoteAddr returns the peer's network address.
func (s *SocketTransport) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}
