package session

import (
	"errors"
	"fmt"

	"github.com/opencode-ai/executor/pkg/protocol"
)

// ErrEmitAfterReturn is returned by an Emitter used after its Dispatch call
// finished.
var ErrEmitAfterReturn = errors.New("emit after dispatch returned")

// DispatchError reports a dispatcher failure. It ends the session that
// produced it and nothing else.
type DispatchError struct {
	SessionID string
	RequestID string
	Type      protocol.ClientPacketType
	Panic     bool
	Err       error
}

func (e *DispatchError) Error() string {
	what := "failed"
	if e.Panic {
		what = "panicked"
	}
	return fmt.Sprintf("session %s: dispatch %s (request %q) %s: %v", e.SessionID, e.Type, e.RequestID, what, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
