// Package executor holds the execution context shared by every session: an
// AI completion client and an outbound HTTP client.
//
// The context is built once, before the gateway opens any port, and never
// changes afterwards. Executor is a small value; copying it hands out
// another reference to the same clients.
package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/opencode-ai/executor/internal/provider"
	"github.com/opencode-ai/executor/pkg/types"
)

// ErrNoAIClient is returned when an Executor is built without an AI client.
var ErrNoAIClient = errors.New("executor: AI client is required")

const defaultUserAgent = "opencode-executor/0.1"

// Executor is a handle on the shared execution context.
type Executor struct {
	ctx *shared
}

type shared struct {
	ai      provider.Provider
	http    *http.Client
	created time.Time
}

// New builds the execution context from configuration. It fails if no AI
// provider can be constructed; callers must not start serving in that case.
func New(ctx context.Context, cfg *types.Config) (Executor, error) {
	ai, err := provider.FromConfig(ctx, cfg)
	if err != nil {
		return Executor{}, fmt.Errorf("build AI client: %w", err)
	}

	var httpCfg types.HTTPConfig
	if cfg != nil {
		httpCfg = cfg.HTTP
	}
	return NewWithClients(ai, NewHTTPClient(httpCfg))
}

// NewWithClients builds an execution context around existing clients. A nil
// HTTP client gets the defaults of NewHTTPClient.
func NewWithClients(ai provider.Provider, httpClient *http.Client) (Executor, error) {
	if ai == nil {
		return Executor{}, ErrNoAIClient
	}
	if httpClient == nil {
		httpClient = NewHTTPClient(types.HTTPConfig{})
	}
	return Executor{ctx: &shared{
		ai:      ai,
		http:    httpClient,
		created: time.Now(),
	}}, nil
}

// Handle returns another reference to the same context.
func (e Executor) Handle() Executor { return e }

// Valid reports whether e was produced by New or NewWithClients.
func (e Executor) Valid() bool { return e.ctx != nil }

// AI returns the shared completion client.
func (e Executor) AI() provider.Provider { return e.ctx.ai }

// HTTP returns the shared outbound HTTP client.
func (e Executor) HTTP() *http.Client { return e.ctx.http }

// CreatedAt returns when the context was built.
func (e Executor) CreatedAt() time.Time { return e.ctx.created }

// Same reports whether two handles refer to the same context.
func (e Executor) Same(other Executor) bool { return e.ctx == other.ctx }

// NewHTTPClient builds the outbound client. Requests carry their own
// deadlines, so Timeout only bounds the whole exchange when configured.
func NewHTTPClient(cfg types.HTTPConfig) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.MaxIdleConns > 0 {
		base.MaxIdleConnsPerHost = cfg.MaxIdleConns
	}

	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	return &http.Client{
		Timeout:   time.Duration(cfg.Timeout) * time.Millisecond,
		Transport: &userAgentTransport{base: base, userAgent: ua},
	}
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(req)
}
