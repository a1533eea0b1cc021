package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/opencode-ai/executor/pkg/protocol"
)

// TestClient provides HTTP client utilities for testing
type TestClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewTestClient creates a new test HTTP client
func NewTestClient(baseURL string) *TestClient {
	return &TestClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Response wraps HTTP response with helpers
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// JSON unmarshals response body into v
func (r *Response) JSON(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// String returns response body as string
func (r *Response) String() string {
	return string(r.Body)
}

// IsSuccess returns true if status code is 2xx
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Get performs HTTP GET request
func (c *TestClient) Get(ctx context.Context, path string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: body}, nil
}

// WSClient is a packet-level WebSocket client for a gateway.
type WSClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Dial connects to a gateway WebSocket URL.
func Dial(url string) (*WSClient, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &WSClient{conn: conn}, nil
}

// Send writes one request. An empty ID is replaced by a fresh one, which
// is returned.
func (c *WSClient) Send(p *protocol.ClientPacket) (string, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	data, err := protocol.EncodeClient(p)
	if err != nil {
		return "", err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return p.ID, c.conn.WriteMessage(websocket.TextMessage, data)
}

// SendRaw writes a text frame as is.
func (c *WSClient) SendRaw(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Recv reads the next response, waiting at most timeout.
func (c *WSClient) Recv(timeout time.Duration) (*protocol.ServerPacket, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return protocol.DecodeServer(data)
}

// Collect reads responses until the terminal packet of id.
func (c *WSClient) Collect(id string, timeout time.Duration) ([]*protocol.ServerPacket, error) {
	deadline := time.Now().Add(timeout)
	var packets []*protocol.ServerPacket
	for {
		p, err := c.Recv(time.Until(deadline))
		if err != nil {
			return packets, err
		}
		packets = append(packets, p)
		if p.ID == id && p.Type.Terminal() {
			return packets, nil
		}
	}
}

// Do sends p and collects its responses.
func (c *WSClient) Do(p *protocol.ClientPacket, timeout time.Duration) ([]*protocol.ServerPacket, error) {
	id, err := c.Send(p)
	if err != nil {
		return nil, err
	}
	return c.Collect(id, timeout)
}

// Close sends a normal close frame and closes the connection.
func (c *WSClient) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// Drop closes the connection without a close frame.
func (c *WSClient) Drop() error {
	return c.conn.Close()
}
