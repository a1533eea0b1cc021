package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/executor/pkg/protocol"
)

var connectTimeout time.Duration

var connectCmd = &cobra.Command{
	Use:   "connect [url]",
	Short: "Connect to a running gateway",
	Long: `Open a WebSocket connection to a running gateway and send it requests
typed on standard input. The URL defaults to ws://127.0.0.1:8080/ws.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConnect,
}

func init() {
	connectCmd.Flags().DurationVar(&connectTimeout, "timeout", 10*time.Second, "Handshake timeout")
}

// socketEndpoint talks to a remote session over a WebSocket.
type socketEndpoint struct {
	conn *websocket.Conn
}

func (e socketEndpoint) Send(_ context.Context, p *protocol.ClientPacket) error {
	data, err := protocol.EncodeClient(p)
	if err != nil {
		return err
	}
	return e.conn.WriteMessage(websocket.TextMessage, data)
}

func (e socketEndpoint) Recv(ctx context.Context) (*protocol.ServerPacket, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = e.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := e.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return protocol.DecodeServer(data)
}

func runConnect(cmd *cobra.Command, args []string) error {
	url := "ws://127.0.0.1:8080/ws"
	if len(args) == 1 {
		url = args[0]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: connectTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", url, err)
	}
	defer func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "connected to %s\n", url)
	return converse(ctx, socketEndpoint{conn: conn}, cmd.InOrStdin(), cmd.OutOrStdout(), "> ")
}
