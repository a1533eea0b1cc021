package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/executor/pkg/protocol"
)

// remote is the far end of a transport under test.
type remote interface {
	Submit(req *protocol.ClientPacket) error
	Recv(ctx context.Context) (*protocol.ServerPacket, error)
	Close() error
}

type pairFactory func(t *testing.T) (Transport, remote)

func pipePair(t *testing.T) (Transport, remote) {
	local, peer := NewPipe()
	t.Cleanup(func() {
		local.Close()
		peer.Close()
	})
	return local, peer
}

// wsRemote drives the client side of a real websocket connection.
type wsRemote struct {
	conn *websocket.Conn
}

func (r *wsRemote) Submit(req *protocol.ClientPacket) error {
	data, err := protocol.EncodeClient(req)
	if err != nil {
		return err
	}
	return r.conn.WriteMessage(websocket.TextMessage, data)
}

func (r *wsRemote) Recv(ctx context.Context) (*protocol.ServerPacket, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = r.conn.SetReadDeadline(deadline)
	}
	_, data, err := r.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return protocol.DecodeServer(data)
}

func (r *wsRemote) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	_ = r.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return r.conn.Close()
}

func socketPair(t *testing.T) (Transport, remote) {
	local, client := socketConns(t)
	return local, &wsRemote{conn: client}
}

// socketConns upgrades one connection through an httptest server and
// returns the server-side transport and the raw client connection.
func socketConns(t *testing.T) (*SocketTransport, *websocket.Conn) {
	t.Helper()

	accepted := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	var serverConn *websocket.Conn
	select {
	case serverConn = <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for upgrade")
	}

	local := NewSocket(serverConn, SocketOptions{WriteTimeout: 5 * time.Second})
	t.Cleanup(func() { local.Close() })
	return local, client
}

func TestTransportContract(t *testing.T) {
	adapters := map[string]pairFactory{
		"channel": pipePair,
		"socket":  socketPair,
	}

	for name, newPair := range adapters {
		t.Run(name, func(t *testing.T) {
			t.Run("requests arrive in order", func(t *testing.T) {
				local, peer := newPair(t)
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()

				for i := 0; i < 50; i++ {
					require.NoError(t, peer.Submit(&protocol.ClientPacket{ID: fmt.Sprint(i), Type: protocol.TypePing}))
				}
				for i := 0; i < 50; i++ {
					p, err := local.Receive(ctx)
					require.NoError(t, err)
					assert.Equal(t, fmt.Sprint(i), p.ID)
				}
			})

			t.Run("responses arrive in order", func(t *testing.T) {
				local, peer := newPair(t)
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()

				for i := 0; i < 50; i++ {
					require.NoError(t, local.Send(ctx, protocol.Delta("r", fmt.Sprint(i))))
				}
				for i := 0; i < 50; i++ {
					p, err := peer.Recv(ctx)
					require.NoError(t, err)
					assert.Equal(t, fmt.Sprint(i), p.Data)
				}
			})

			t.Run("receive waits for data", func(t *testing.T) {
				local, peer := newPair(t)
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()

				got := make(chan *protocol.ClientPacket, 1)
				go func() {
					p, err := local.Receive(ctx)
					if err == nil {
						got <- p
					}
				}()

				select {
				case <-got:
					t.Fatal("receive returned before anything was sent")
				case <-time.After(50 * time.Millisecond):
				}

				require.NoError(t, peer.Submit(&protocol.ClientPacket{ID: "late", Type: protocol.TypePing}))
				select {
				case p := <-got:
					assert.Equal(t, "late", p.ID)
				case <-time.After(5 * time.Second):
					t.Fatal("receive did not wake up")
				}
			})

			t.Run("peer close drains then reports closed", func(t *testing.T) {
				local, peer := newPair(t)
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()

				require.NoError(t, peer.Submit(&protocol.ClientPacket{ID: "a", Type: protocol.TypePing}))
				require.NoError(t, peer.Submit(&protocol.ClientPacket{ID: "b", Type: protocol.TypePing}))
				require.NoError(t, peer.Close())

				for _, id := range []string{"a", "b"} {
					p, err := local.Receive(ctx)
					require.NoError(t, err)
					assert.Equal(t, id, p.ID)
				}

				_, err := local.Receive(ctx)
				require.Error(t, err)
				assert.True(t, IsClosed(err), "want ErrClosed, got %v", err)

				var terr *Error
				assert.True(t, errors.As(err, &terr))
			})

			t.Run("send after peer close fails", func(t *testing.T) {
				local, peer := newPair(t)
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()

				require.NoError(t, peer.Close())
				_, err := local.Receive(ctx)
				require.True(t, IsClosed(err))

				err = local.Send(ctx, protocol.Pong("x"))
				require.Error(t, err)
				var terr *Error
				require.True(t, errors.As(err, &terr))
				assert.Equal(t, "send", terr.Op)
			})

			t.Run("close is idempotent and ends receive", func(t *testing.T) {
				local, _ := newPair(t)
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()

				require.NoError(t, local.Close())
				require.NoError(t, local.Close())

				_, err := local.Receive(ctx)
				assert.True(t, IsClosed(err))
				err = local.Send(ctx, protocol.Pong("x"))
				assert.True(t, IsClosed(err))
			})

			t.Run("local close ends peer stream", func(t *testing.T) {
				local, peer := newPair(t)
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()

				require.NoError(t, local.Send(ctx, protocol.Pong("last")))
				require.NoError(t, local.Close())

				p, err := peer.Recv(ctx)
				require.NoError(t, err)
				assert.Equal(t, "last", p.ID)

				_, err = peer.Recv(ctx)
				assert.Error(t, err)
			})

			t.Run("nil packets are rejected", func(t *testing.T) {
				local, peer := newPair(t)
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()

				assert.ErrorIs(t, peer.Submit(nil), protocol.ErrMalformed)

				err := local.Send(ctx, nil)
				var terr *Error
				require.True(t, errors.As(err, &terr))
				assert.Equal(t, "send", terr.Op)
				assert.ErrorIs(t, err, protocol.ErrMalformed)

				// The pair still works afterwards.
				require.NoError(t, peer.Submit(&protocol.ClientPacket{ID: "ok", Type: protocol.TypePing}))
				p, err := local.Receive(ctx)
				require.NoError(t, err)
				assert.Equal(t, "ok", p.ID)
			})
		})
	}
}

func TestSocketAbruptDisconnect(t *testing.T) {
	local, client := socketConns(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, client.UnderlyingConn().Close())

	_, err := local.Receive(ctx)
	require.Error(t, err)
	assert.False(t, IsClosed(err), "an abrupt drop is not a graceful close: %v", err)

	var terr *Error
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "receive", terr.Op)
}

func TestSocketMalformedFrame(t *testing.T) {
	local, client := socketConns(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("{not json")))

	_, err := local.Receive(ctx)
	var terr *Error
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "decode", terr.Op)
	assert.ErrorIs(t, err, protocol.ErrMalformed)
}

func TestReceiveHonoursContext(t *testing.T) {
	for name, newPair := range map[string]pairFactory{"channel": pipePair, "socket": socketPair} {
		t.Run(name, func(t *testing.T) {
			local, _ := newPair(t)
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			_, err := local.Receive(ctx)
			require.Error(t, err)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
		})
	}
}

func TestPeerAfterCloseReceiver(t *testing.T) {
	local, peer := NewPipe()
	peer.CloseReceiver()

	err := local.Send(context.Background(), protocol.Pong("1"))
	assert.True(t, IsClosed(err))

	// The request side is still open.
	require.NoError(t, peer.Submit(&protocol.ClientPacket{ID: "2", Type: protocol.TypePing}))
	p, err := local.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2", p.ID)
}

func TestPeerSubmitAfterLocalClose(t *testing.T) {
	local, peer := NewPipe()
	require.NoError(t, local.Close())
	assert.ErrorIs(t, peer.Submit(&protocol.ClientPacket{Type: protocol.TypePing}), ErrClosed)
	assert.Equal(t, 0, peer.Pending())
}
