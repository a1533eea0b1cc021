package testutil

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opencode-ai/executor/pkg/protocol"
)

// RandomString generates a random string of n characters
func RandomString(n int) string {
	bytes := make([]byte, n/2+1)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)[:n]
}

// TempDir is a scratch working directory for a gateway under test.
type TempDir struct {
	Path string
}

// NewTempDir creates a temp directory
func NewTempDir() (*TempDir, error) {
	path, err := os.MkdirTemp("", "executor-test-*")
	if err != nil {
		return nil, err
	}
	return &TempDir{Path: path}, nil
}

// CreateFile writes a file below the temp directory, creating parent
// directories as needed, and returns its path.
func (d *TempDir) CreateFile(name, content string) (string, error) {
	path := filepath.Join(d.Path, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", err
	}
	return path, nil
}

// CreateCommand writes a command template under .executor/command.
func (d *TempDir) CreateCommand(name, content string) (string, error) {
	return d.CreateFile(filepath.Join(".executor", "command", name+".md"), content)
}

// Cleanup removes the temp directory and all contents
func (d *TempDir) Cleanup() {
	os.RemoveAll(d.Path)
}

// ---- Packet matching ----

// PacketMatcher helps assert on the responses to one request.
type PacketMatcher struct {
	packets []*protocol.ServerPacket
}

// NewPacketMatcher wraps packets.
func NewPacketMatcher(packets []*protocol.ServerPacket) *PacketMatcher {
	return &PacketMatcher{packets: packets}
}

// HasType checks whether a packet of type t is present.
func (m *PacketMatcher) HasType(t protocol.ServerPacketType) bool {
	return m.CountType(t) > 0
}

// CountType counts packets of type t.
func (m *PacketMatcher) CountType(t protocol.ServerPacketType) int {
	count := 0
	for _, p := range m.packets {
		if p.Type == t {
			count++
		}
	}
	return count
}

// FilterType returns the packets of type t in order.
func (m *PacketMatcher) FilterType(t protocol.ServerPacketType) []*protocol.ServerPacket {
	var filtered []*protocol.ServerPacket
	for _, p := range m.packets {
		if p.Type == t {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

// Last returns the terminal packet.
func (m *PacketMatcher) Last() *protocol.ServerPacket {
	if len(m.packets) == 0 {
		return nil
	}
	return m.packets[len(m.packets)-1]
}

// Text joins the data of every packet of type t.
func (m *PacketMatcher) Text(t protocol.ServerPacketType) string {
	var s string
	for _, p := range m.FilterType(t) {
		s += p.Data
	}
	return s
}

// ---- Environment Helpers ----

// RequireEnv checks if required env vars are set
func RequireEnv(vars ...string) error {
	var missing []string
	for _, v := range vars {
		if os.Getenv(v) == "" {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}
	return nil
}

// SkipIfMissingEnv returns true if any env var is missing
func SkipIfMissingEnv(vars ...string) bool {
	return RequireEnv(vars...) != nil
}
