package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockLLMServer provides an HTTP server that mimics the OpenAI chat
// completions API for testing.
type MockLLMServer struct {
	server *httptest.Server

	mu        sync.Mutex
	requests  []MockRequest
	responses map[string]string
	failNext  int
}

// MockRequest records incoming requests for verification.
type MockRequest struct {
	Timestamp time.Time
	Method    string
	Path      string
	Prompt    string
	System    string
	Stream    bool
}

// NewMockLLMServer creates a new mock LLM server with predefined responses.
func NewMockLLMServer() *MockLLMServer {
	m := &MockLLMServer{
		responses: make(map[string]string),
	}

	mux := http.NewServeMux()

	// OpenAI-compatible endpoint
	mux.HandleFunc("/v1/chat/completions", m.handleChatCompletions)
	mux.HandleFunc("/chat/completions", m.handleChatCompletions)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	m.server = httptest.NewServer(mux)
	return m
}

// URL returns the mock server's base URL, suitable as an OpenAI base URL.
func (m *MockLLMServer) URL() string {
	return m.server.URL + "/v1"
}

// Close shuts down the mock server.
func (m *MockLLMServer) Close() {
	m.server.Close()
}

// Respond makes prompts containing substr answer with content.
func (m *MockLLMServer) Respond(substr, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[strings.ToLower(substr)] = content
}

// FailNext makes the next n requests fail with 503.
func (m *MockLLMServer) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

// GetRequests returns all recorded requests.
func (m *MockLLMServer) GetRequests() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockRequest(nil), m.requests...)
}

type chatRequest struct {
	Stream   bool `json:"stream"`
	Messages []struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	} `json:"messages"`
}

// handleChatCompletions handles OpenAI-compatible chat completions.
func (m *MockLLMServer) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	var prompt, system string
	for _, msg := range req.Messages {
		text, _ := msg.Content.(string)
		switch msg.Role {
		case "user":
			prompt = text
		case "system":
			system = text
		}
	}

	m.mu.Lock()
	m.requests = append(m.requests, MockRequest{
		Timestamp: time.Now(),
		Method:    r.Method,
		Path:      r.URL.Path,
		Prompt:    prompt,
		System:    system,
		Stream:    req.Stream,
	})
	fail := m.failNext > 0
	if fail {
		m.failNext--
	}
	content := m.generateResponse(prompt)
	m.mu.Unlock()

	if fail {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
		return
	}

	if req.Stream {
		m.writeStreamingResponse(w, content)
	} else {
		m.writeResponse(w, content)
	}
}

// generateResponse picks the configured answer for prompt. Caller holds mu.
func (m *MockLLMServer) generateResponse(prompt string) string {
	promptLower := strings.ToLower(prompt)
	for substr, content := range m.responses {
		if strings.Contains(promptLower, substr) {
			return content
		}
	}

	switch {
	case strings.Contains(promptLower, "2+2") || strings.Contains(promptLower, "2 + 2"):
		return "4"
	case strings.Contains(promptLower, "hello"):
		return "Hello! How can I help you today?"
	default:
		return "I understand your request. Let me help you with that."
	}
}

func chunk(delta map[string]any, finish any) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-mockllm",
		"object":  "chat.completion.chunk",
		"created": time.Now().Unix(),
		"model":   "mock-gpt-4",
		"choices": []map[string]any{
			{"index": 0, "delta": delta, "finish_reason": finish},
		},
	}
}

// writeResponse writes a non-streaming OpenAI response.
func (m *MockLLMServer) writeResponse(w http.ResponseWriter, content string) {
	response := map[string]any{
		"id":      "chatcmpl-mockllm",
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   "mock-gpt-4",
		"choices": []map[string]any{
			{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     100,
			"completion_tokens": 50,
			"total_tokens":      150,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// writeStreamingResponse streams content word by word as SSE chunks.
func (m *MockLLMServer) writeStreamingResponse(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	write := func(v map[string]any) {
		data, _ := json.Marshal(v)
		w.Write([]byte("data: " + string(data) + "\n\n"))
		flusher.Flush()
	}

	write(chunk(map[string]any{"role": "assistant"}, nil))

	words := strings.Fields(content)
	for i, word := range words {
		if i < len(words)-1 {
			word += " "
		}
		write(chunk(map[string]any{"content": word}, nil))
	}

	write(chunk(map[string]any{}, "stop"))
	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}
