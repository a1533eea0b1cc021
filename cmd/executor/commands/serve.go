package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/executor/internal/logging"
	"github.com/opencode-ai/executor/pkg/gateway"
)

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the WebSocket gateway",
	Long: `Start the gateway on the configured address (default 127.0.0.1:8080).

Every WebSocket connection to / or /ws gets its own session. The AI client
is built before the port is opened; if no provider is configured the
command fails without listening.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, dir, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info().
		Str("version", Version).
		Str("dir", dir).
		Str("model", cfg.Model).
		Msg("starting executor")

	events := make(chan gateway.Event, 1)
	go func() {
		for ev := range events {
			if ev.Kind == gateway.Connected {
				color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "listening on ws://%s/ws\n", ev.Addr)
			}
		}
	}()
	defer close(events)

	if err := gateway.ListenAndServe(ctx, cfg, events, gateway.WithWorkDir(dir)); err != nil {
		return err
	}
	logging.Info().Msg("executor stopped")
	return nil
}
