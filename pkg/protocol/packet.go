// Package protocol defines the packets exchanged between a client and the
// executor gateway and the JSON frame codec used on the wire.
package protocol

import "time"

// ClientPacketType identifies what a client is asking for.
type ClientPacketType string

const (
	TypePing    ClientPacketType = "ping"
	TypeExec    ClientPacketType = "exec"
	TypePrompt  ClientPacketType = "prompt"
	TypeSuggest ClientPacketType = "suggest"
	TypeFetch   ClientPacketType = "fetch"
	TypeCommand ClientPacketType = "command"
)

// ClientTypes lists every request type the gateway understands.
var ClientTypes = []ClientPacketType{
	TypePing, TypeExec, TypePrompt, TypeSuggest, TypeFetch, TypeCommand,
}

// ServerPacketType identifies the kind of response packet.
type ServerPacketType string

const (
	TypePong   ServerPacketType = "pong"
	TypeOutput ServerPacketType = "output"
	TypeDelta  ServerPacketType = "delta"
	TypeResult ServerPacketType = "result"
	TypeExit   ServerPacketType = "exit"
	TypeError  ServerPacketType = "error"
)

// Terminal reports whether t ends the response sequence for a request.
func (t ServerPacketType) Terminal() bool {
	switch t {
	case TypePong, TypeResult, TypeExit, TypeError:
		return true
	}
	return false
}

// Output streams.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// Fetch formats.
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
	FormatJSON     = "json"
)

// ClientPacket is a request received from a peer.
type ClientPacket struct {
	ID   string           `json:"id,omitempty"`
	Type ClientPacketType `json:"type"`

	// exec
	Command string   `json:"command,omitempty"` // shell script, or template name for "command"
	Args    []string `json:"args,omitempty"`

	// prompt, suggest, command
	Prompt string `json:"prompt,omitempty"`
	System string `json:"system,omitempty"`

	// fetch
	URL    string `json:"url,omitempty"`
	Format string `json:"format,omitempty"`
	Filter string `json:"filter,omitempty"` // jq expression applied to JSON bodies

	// Timeout in seconds for exec and fetch; zero means the handler default.
	Timeout int `json:"timeout,omitempty"`
}

// TimeoutDuration converts Timeout to a duration clamped to [def, max].
// A zero or negative Timeout yields def.
func (p *ClientPacket) TimeoutDuration(def, max time.Duration) time.Duration {
	if p.Timeout <= 0 {
		return def
	}
	d := time.Duration(p.Timeout) * time.Second
	if d > max {
		return max
	}
	return d
}

// ServerPacket is a response sent to a peer.
type ServerPacket struct {
	ID     string           `json:"id,omitempty"`
	Type   ServerPacketType `json:"type"`
	Stream string           `json:"stream,omitempty"`
	Data   string           `json:"data,omitempty"`
	Code   *int             `json:"code,omitempty"`
	Error  string           `json:"error,omitempty"`
	Meta   map[string]any   `json:"meta,omitempty"`
}

// Pong answers a ping.
func Pong(id string) *ServerPacket {
	return &ServerPacket{ID: id, Type: TypePong}
}

// Output carries one line of process output.
func Output(id, stream, data string) *ServerPacket {
	return &ServerPacket{ID: id, Type: TypeOutput, Stream: stream, Data: data}
}

// Delta carries an incremental chunk of AI output.
func Delta(id, data string) *ServerPacket {
	return &ServerPacket{ID: id, Type: TypeDelta, Data: data}
}

// Result carries the final payload of a request.
func Result(id, data string, meta map[string]any) *ServerPacket {
	return &ServerPacket{ID: id, Type: TypeResult, Data: data, Meta: meta}
}

// Exit reports the exit status of an exec request.
func Exit(id string, code int) *ServerPacket {
	return &ServerPacket{ID: id, Type: TypeExit, Code: &code}
}

// Errorf reports a request-level failure.
func Errorf(id string, err error) *ServerPacket {
	return &ServerPacket{ID: id, Type: TypeError, Error: err.Error()}
}
