package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeClient(t *testing.T) {
	p, err := DecodeClient([]byte(`{"id":"1","type":"exec","command":"echo hi","timeout":5}`))
	require.NoError(t, err)
	assert.Equal(t, "1", p.ID)
	assert.Equal(t, TypeExec, p.Type)
	assert.Equal(t, "echo hi", p.Command)
	assert.Equal(t, 5, p.Timeout)
}

func TestDecodeClientMalformed(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"not json", `hello`},
		{"missing type", `{"id":"1"}`},
		{"wrong field type", `{"type":"exec","timeout":"soon"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeClient([]byte(tt.frame))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed))
		})
	}
}

func TestEncodeServerOmitsEmptyFields(t *testing.T) {
	data, err := EncodeServer(Pong("7"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"7","type":"pong"}`, string(data))

	data, err = EncodeServer(Exit("8", 0))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"8","type":"exit","code":0}`, string(data))
}

func TestEncodeNil(t *testing.T) {
	_, err := EncodeServer(nil)
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = EncodeClient(nil)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestTerminal(t *testing.T) {
	assert.True(t, TypePong.Terminal())
	assert.True(t, TypeExit.Terminal())
	assert.True(t, TypeResult.Terminal())
	assert.True(t, TypeError.Terminal())
	assert.False(t, TypeOutput.Terminal())
	assert.False(t, TypeDelta.Terminal())
}

func TestTimeoutDuration(t *testing.T) {
	def, max := 30*time.Second, 120*time.Second

	assert.Equal(t, def, (&ClientPacket{}).TimeoutDuration(def, max))
	assert.Equal(t, def, (&ClientPacket{Timeout: -1}).TimeoutDuration(def, max))
	assert.Equal(t, 10*time.Second, (&ClientPacket{Timeout: 10}).TimeoutDuration(def, max))
	assert.Equal(t, max, (&ClientPacket{Timeout: 900}).TimeoutDuration(def, max))
}
