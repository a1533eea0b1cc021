package types

import (
	"net"
	"strconv"
	"time"
)

// Default listen address of the gateway.
const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8080
)

// Config represents the executor configuration.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty"`

	// Model selection, "provider/model" (e.g. "anthropic/claude-sonnet-4-20250514")
	Model string `json:"model,omitempty"`

	// Listener settings
	Server ServerConfig `json:"server,omitempty"`

	// Provider configs
	Provider map[string]ProviderConfig `json:"provider,omitempty"`

	// Named prompt templates
	Command map[string]CommandConfig `json:"command,omitempty"`

	// Outbound HTTP client used by fetch requests
	HTTP HTTPConfig `json:"http,omitempty"`

	// Shell used by exec requests
	Shell ShellConfig `json:"shell,omitempty"`

	Log LogConfig `json:"log,omitempty"`
}

// ServerConfig holds listener and WebSocket settings.
type ServerConfig struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	// Origins allowed to open a WebSocket, as glob patterns matched against
	// the Origin host ("*.example.com", "localhost:*"). Empty allows all.
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`

	ReadBufferSize   int   `json:"readBufferSize,omitempty"`
	WriteBufferSize  int   `json:"writeBufferSize,omitempty"`
	MaxMessageSize   int64 `json:"maxMessageSize,omitempty"`
	HandshakeTimeout int   `json:"handshakeTimeout,omitempty"` // ms
	WriteTimeout     int   `json:"writeTimeout,omitempty"`     // ms
}

// Addr returns host:port with defaults applied.
func (c ServerConfig) Addr() string {
	host := c.Host
	if host == "" {
		host = DefaultHost
	}
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// HandshakeTimeoutDuration returns the upgrade timeout, zero meaning none.
func (c ServerConfig) HandshakeTimeoutDuration() time.Duration {
	return time.Duration(c.HandshakeTimeout) * time.Millisecond
}

// WriteTimeoutDuration returns the per-frame write deadline, zero meaning none.
func (c ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(c.WriteTimeout) * time.Millisecond
}

// ProviderConfig holds configuration for a specific provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseURL,omitempty"`

	// Model/Endpoint ID (for providers like ARK that address models by endpoint)
	Model string `json:"model,omitempty"`

	MaxTokens int `json:"maxTokens,omitempty"`

	// Nested options (opencode style)
	Options *ProviderOptions `json:"options,omitempty"`

	// Disable provider
	Disable bool `json:"disable,omitempty"`
}

// ProviderOptions holds nested provider options.
type ProviderOptions struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseURL,omitempty"`
}

// CommandConfig holds a named prompt template.
type CommandConfig struct {
	Template    string `json:"template"`
	Description string `json:"description,omitempty"`
	System      string `json:"system,omitempty"`
	Model       string `json:"model,omitempty"`
}

// HTTPConfig configures the shared outbound HTTP client.
type HTTPConfig struct {
	Timeout   int    `json:"timeout,omitempty"` // ms
	UserAgent string `json:"userAgent,omitempty"`
	// MaxIdleConns per host; zero keeps the net/http default.
	MaxIdleConns int `json:"maxIdleConns,omitempty"`
}

// ShellConfig configures exec requests.
type ShellConfig struct {
	Dir     string            `json:"dir,omitempty"`
	Timeout int               `json:"timeout,omitempty"` // seconds, default for requests without one
	Env     map[string]string `json:"env,omitempty"`

	// Policy maps command patterns ("rm *", "git push *", "*") to "allow"
	// or "deny". Commands matching no pattern are allowed.
	Policy map[string]string `json:"policy,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level,omitempty"`
	Pretty bool   `json:"pretty,omitempty"`
}
