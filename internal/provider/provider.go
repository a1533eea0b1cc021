// Package provider provides LLM provider abstraction using Eino framework.
package provider

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Provider is an AI completion client. Implementations are safe for
// concurrent use.
type Provider interface {
	// ID returns the provider identifier.
	ID() string

	// Model returns the model the provider was built for.
	Model() string

	// CreateCompletion creates a streaming completion.
	CreateCompletion(ctx context.Context, req *CompletionRequest) (*CompletionStream, error)
}

// CompletionRequest represents a request to generate a completion.
type CompletionRequest struct {
	Messages    []*schema.Message `json:"messages"`
	MaxTokens   int               `json:"maxTokens,omitempty"`
	Temperature float64           `json:"temperature,omitempty"`
}

// NewPrompt builds a request from an optional system prompt and a user prompt.
func NewPrompt(system, user string) *CompletionRequest {
	var msgs []*schema.Message
	if system != "" {
		msgs = append(msgs, schema.SystemMessage(system))
	}
	msgs = append(msgs, schema.UserMessage(user))
	return &CompletionRequest{Messages: msgs}
}

// CompletionStream wraps an Eino stream reader.
type CompletionStream struct {
	reader *schema.StreamReader[*schema.Message]
}

// NewCompletionStream creates a new completion stream.
func NewCompletionStream(reader *schema.StreamReader[*schema.Message]) *CompletionStream {
	return &CompletionStream{reader: reader}
}

// Recv receives the next message chunk from the stream.
func (s *CompletionStream) Recv() (*schema.Message, error) {
	return s.reader.Recv()
}

// Close closes the stream.
func (s *CompletionStream) Close() {
	s.reader.Close()
}

// Each calls fn with every non-empty content chunk and returns the full
// text. It closes the stream. An error from fn stops the stream early.
func (s *CompletionStream) Each(fn func(delta string) error) (string, error) {
	defer s.Close()

	var full strings.Builder
	for {
		msg, err := s.reader.Recv()
		if errors.Is(err, io.EOF) {
			return full.String(), nil
		}
		if err != nil {
			return full.String(), err
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		full.WriteString(msg.Content)
		if fn != nil {
			if err := fn(msg.Content); err != nil {
				return full.String(), err
			}
		}
	}
}
