package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/opencode-ai/executor/pkg/types"
)

// ErrNoProvider is returned when no configured provider can be built.
var ErrNoProvider = errors.New("no AI provider configured")

// fallbackOrder is tried when the config names no model.
var fallbackOrder = []string{"anthropic", "openai", "ark"}

// ParseModelString parses "provider/model" format.
func ParseModelString(s string) (providerID, modelID string) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", s
}

// FromConfig builds the provider selected by config.Model. Without an
// explicit provider prefix the first usable provider in fallback order is
// used. Any failure to build the selected provider is returned.
func FromConfig(ctx context.Context, config *types.Config) (Provider, error) {
	var providerID, modelID string
	if config != nil && config.Model != "" {
		providerID, modelID = ParseModelString(config.Model)
	}

	if providerID == "" {
		providerID = firstUsable(config)
		if providerID == "" {
			return nil, ErrNoProvider
		}
	}

	var pc types.ProviderConfig
	if config != nil {
		pc = config.Provider[providerID]
	}
	if pc.Disable {
		return nil, fmt.Errorf("provider %s is disabled", providerID)
	}
	if modelID == "" {
		modelID = pc.Model
	}

	p, err := New(ctx, providerID, modelID, pc)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", providerID, err)
	}
	return p, nil
}

// New builds a single provider by ID. Unknown IDs with a base URL are
// treated as OpenAI-compatible endpoints.
func New(ctx context.Context, providerID, modelID string, pc types.ProviderConfig) (Provider, error) {
	switch providerID {
	case "anthropic":
		return NewAnthropicProvider(ctx, &AnthropicConfig{
			APIKey:    pc.APIKey,
			BaseURL:   pc.BaseURL,
			Model:     modelID,
			MaxTokens: pc.MaxTokens,
		})
	case "bedrock":
		return NewAnthropicProvider(ctx, &AnthropicConfig{
			ID:         "bedrock",
			Model:      strings.TrimPrefix(modelID, "anthropic."),
			MaxTokens:  pc.MaxTokens,
			UseBedrock: true,
		})
	case "openai":
		return NewOpenAIProvider(ctx, &OpenAIConfig{
			APIKey:    pc.APIKey,
			BaseURL:   pc.BaseURL,
			Model:     modelID,
			MaxTokens: pc.MaxTokens,
		})
	case "azure":
		return NewOpenAIProvider(ctx, &OpenAIConfig{
			ID:        "azure",
			APIKey:    pc.APIKey,
			BaseURL:   pc.BaseURL,
			Model:     modelID,
			MaxTokens: pc.MaxTokens,
			UseAzure:  true,
		})
	case "ark":
		return NewArkProvider(ctx, &ArkConfig{
			APIKey:    pc.APIKey,
			BaseURL:   pc.BaseURL,
			Model:     modelID,
			MaxTokens: pc.MaxTokens,
		})
	default:
		if pc.BaseURL == "" {
			return nil, fmt.Errorf("unknown provider %q", providerID)
		}
		return NewOpenAIProvider(ctx, &OpenAIConfig{
			ID:        providerID,
			APIKey:    pc.APIKey,
			BaseURL:   pc.BaseURL,
			Model:     modelID,
			MaxTokens: pc.MaxTokens,
		})
	}
}

func firstUsable(config *types.Config) string {
	if config == nil {
		return ""
	}
	for _, id := range fallbackOrder {
		if pc, ok := config.Provider[id]; ok && pc.APIKey != "" && !pc.Disable {
			return id
		}
	}
	return ""
}
