package testutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/opencode-ai/executor/internal/event"
	"github.com/opencode-ai/executor/internal/session"
	"github.com/opencode-ai/executor/pkg/gateway"
	"github.com/opencode-ai/executor/pkg/types"
)

// TestGateway runs a WebSocket gateway for testing.
type TestGateway struct {
	Addr    string
	URL     string
	BaseURL string
	Config  *types.Config
	Bus     *event.Bus
	Pool    *session.Pool
	WorkDir string

	cancel  context.CancelFunc
	done    chan error
	tempDir string
}

// TestGatewayOption configures TestGateway
type TestGatewayOption func(*testGatewayConfig)

type testGatewayConfig struct {
	workDir string
	envFile string
	config  *types.Config
	llm     *MockLLMServer
}

// WithWorkDir sets the working directory
func WithWorkDir(dir string) TestGatewayOption {
	return func(c *testGatewayConfig) {
		c.workDir = dir
	}
}

// WithEnvFile sets the .env file to load
func WithEnvFile(path string) TestGatewayOption {
	return func(c *testGatewayConfig) {
		c.envFile = path
	}
}

// WithConfig replaces the generated configuration. The listen address is
// still chosen by the harness.
func WithConfig(cfg *types.Config) TestGatewayOption {
	return func(c *testGatewayConfig) {
		c.config = cfg
	}
}

// WithMockLLM points the openai provider at m.
func WithMockLLM(m *MockLLMServer) TestGatewayOption {
	return func(c *testGatewayConfig) {
		c.llm = m
	}
}

// StartTestGateway starts a gateway on a free local port and waits for its
// Connected event.
func StartTestGateway(opts ...TestGatewayOption) (*TestGateway, error) {
	cfg := &testGatewayConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.envFile != "" {
		_ = godotenv.Load(cfg.envFile)
	} else {
		_ = godotenv.Load("../../.env")
		_ = godotenv.Load("../.env")
		_ = godotenv.Load(".env")
	}

	tempDir, err := os.MkdirTemp("", "executor-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	workDir := cfg.workDir
	if workDir == "" {
		workDir = tempDir
	}

	appConfig := cfg.config
	if appConfig == nil {
		appConfig = buildTestConfig(cfg.llm)
	}
	// Port 0 means the default port, so pick a free one.
	appConfig.Server.Host = "127.0.0.1"
	appConfig.Server.Port, err = findAvailablePort()
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("failed to find available port: %w", err)
	}

	bus := event.NewBus()
	pool := session.NewPool(bus)

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan gateway.Event, 1)
	done := make(chan error, 1)
	go func() {
		done <- gateway.ListenAndServe(ctx, appConfig, events,
			gateway.WithWorkDir(workDir),
			gateway.WithBus(bus),
			gateway.WithPool(pool))
	}()

	var ev gateway.Event
	select {
	case ev = <-events:
	case err := <-done:
		cancel()
		bus.Close()
		os.RemoveAll(tempDir)
		if err == nil {
			err = errors.New("gateway stopped before it was ready")
		}
		return nil, err
	case <-time.After(10 * time.Second):
		cancel()
		bus.Close()
		os.RemoveAll(tempDir)
		return nil, errors.New("gateway not ready after 10s")
	}

	addr := ev.Addr.String()
	return &TestGateway{
		Addr:    addr,
		URL:     "ws://" + addr + "/ws",
		BaseURL: "http://" + addr,
		Config:  appConfig,
		Bus:     bus,
		Pool:    pool,
		WorkDir: workDir,
		cancel:  cancel,
		done:    done,
		tempDir: tempDir,
	}, nil
}

// Stop shuts the gateway down, waits for its sessions and cleans up.
func (tg *TestGateway) Stop() error {
	tg.cancel()
	var err error
	select {
	case err = <-tg.done:
	case <-time.After(10 * time.Second):
		err = errors.New("gateway did not stop")
	}
	tg.Bus.Close()
	if tg.tempDir != "" {
		os.RemoveAll(tg.tempDir)
	}
	return err
}

// Dial opens a WebSocket client on the gateway.
func (tg *TestGateway) Dial() (*WSClient, error) {
	return Dial(tg.URL)
}

// HTTP returns a client for the JSON endpoints.
func (tg *TestGateway) HTTP() *TestClient {
	return NewTestClient(tg.BaseURL)
}

// buildTestConfig creates a configuration using the mock LLM when given,
// or the ARK provider from the environment otherwise.
func buildTestConfig(llm *MockLLMServer) *types.Config {
	if llm != nil {
		return &types.Config{
			Model: "openai/mock-gpt-4",
			Provider: map[string]types.ProviderConfig{
				"openai": {
					APIKey:  "test-key",
					BaseURL: llm.URL(),
				},
			},
		}
	}

	modelID := os.Getenv("ARK_MODEL_ID")
	return &types.Config{
		Model: fmt.Sprintf("ark/%s", modelID),
		Provider: map[string]types.ProviderConfig{
			"ark": {
				APIKey:  os.Getenv("ARK_API_KEY"),
				BaseURL: os.Getenv("ARK_BASE_URL"),
				Model:   modelID,
			},
		},
	}
}

// findAvailablePort finds an available TCP port
func findAvailablePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}
