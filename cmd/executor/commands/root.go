// Package commands provides the CLI commands for the executor.
package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/executor/internal/config"
	"github.com/opencode-ai/executor/internal/logging"
	"github.com/opencode-ai/executor/pkg/types"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	logLevel  string
	logPretty bool
	workDir   string
)

var rootCmd = &cobra.Command{
	Use:   "executor",
	Short: "Executor - network gateway for shell, AI and HTTP requests",
	Long: `Executor accepts WebSocket connections and runs one session per
connection. Each session receives JSON request packets, executes them
against a shared AI client and HTTP client, and streams responses back.

Run 'executor serve' to start the gateway, 'executor repl' for an
in-process session, or 'executor connect' to talk to a running gateway.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "pretty", false, "Human-readable log output")
	rootCmd.PersistentFlags().StringVarP(&workDir, "dir", "d", "", "Working directory")

	rootCmd.SetVersionTemplate(fmt.Sprintf("executor %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(replCmd)
	rootCmd.AddCommand(connectCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// setup loads .env and configures the logger from flags. Settings from the
// configuration file are applied later by loadConfig.
func setup(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	logging.Init(logging.FromSettings(types.LogConfig{Level: logLevel, Pretty: logPretty}))
	return nil
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}

// loadConfig loads the configuration for the working directory and lets
// command-line log flags win over the file.
func loadConfig(cmd *cobra.Command) (*types.Config, string, error) {
	dir, err := GetWorkDir(workDir)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if cmd.Flags().Changed("pretty") {
		cfg.Log.Pretty = logPretty
	}
	logging.Init(logging.FromSettings(cfg.Log))
	return cfg, dir, nil
}
