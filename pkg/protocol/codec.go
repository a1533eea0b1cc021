package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed is returned when a frame cannot be decoded into a packet.
var ErrMalformed = errors.New("malformed packet")

// EncodeServer serializes a server packet into a single frame.
func EncodeServer(p *ServerPacket) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil server packet", ErrMalformed)
	}
	return json.Marshal(p)
}

// EncodeClient serializes a client packet into a single frame.
func EncodeClient(p *ClientPacket) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil client packet", ErrMalformed)
	}
	return json.Marshal(p)
}

// DecodeClient parses a frame into a client packet. A frame without a type
// is malformed.
func DecodeClient(data []byte) (*ClientPacket, error) {
	var p ClientPacket
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return &p, nil
}

// DecodeServer parses a frame into a server packet.
func DecodeServer(data []byte) (*ServerPacket, error) {
	var p ServerPacket
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return &p, nil
}
