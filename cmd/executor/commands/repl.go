package commands

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/executor/pkg/gateway"
	"github.com/opencode-ai/executor/pkg/protocol"
	"github.com/opencode-ai/executor/pkg/transport"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Run an in-process session on the terminal",
	Long: `Start a single session inside this process, without opening a port,
and send it requests typed on standard input. Type 'help' for the request
syntax.`,
	RunE: runRepl,
}

// peerEndpoint talks to an in-process session.
type peerEndpoint struct {
	peer *transport.Peer
}

func (e peerEndpoint) Send(_ context.Context, p *protocol.ClientPacket) error {
	return e.peer.Submit(p)
}

func (e peerEndpoint) Recv(ctx context.Context) (*protocol.ServerPacket, error) {
	return e.peer.Recv(ctx)
}

func runRepl(cmd *cobra.Command, args []string) error {
	cfg, dir, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	peer, err := gateway.Launch(ctx, cfg, gateway.WithWorkDir(dir))
	if err != nil {
		return err
	}
	defer peer.Close()

	return converse(ctx, peerEndpoint{peer: peer}, cmd.InOrStdin(), cmd.OutOrStdout(), "> ")
}
