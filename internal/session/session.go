package session

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/executor/internal/executor"
	"github.com/opencode-ai/executor/internal/logging"
	"github.com/opencode-ai/executor/pkg/protocol"
	"github.com/opencode-ai/executor/pkg/transport"
)

// State is the position of a session in its request loop.
type State int32

const (
	// Idle waits for the next request.
	Idle State = iota
	// Handling has a request in the dispatcher.
	Handling
	// Closed is terminal. The transport has been released.
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Handling:
		return "handling"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Info is a snapshot of a session.
type Info struct {
	ID      string    `json:"id"`
	Remote  string    `json:"remote"`
	State   string    `json:"state"`
	Created time.Time `json:"created"`
	Handled int64     `json:"handled"`
}

// Session runs the request loop for one connection. It owns its transport
// and closes it on every exit path.
type Session struct {
	id         string
	transport  transport.Transport
	exec       executor.Executor
	dispatcher Dispatcher
	log        zerolog.Logger
	created    time.Time

	state   atomic.Int32
	handled atomic.Int64
	release sync.Once
}

// New creates an idle session. The session takes ownership of t.
func New(t transport.Transport, exec executor.Executor, d Dispatcher) *Session {
	id := ulid.Make().String()
	return &Session{
		id:         id,
		transport:  t,
		exec:       exec,
		dispatcher: d,
		created:    time.Now(),
		log: logging.Component("session").With().
			Str("session", id).
			Str("remote", t.RemoteAddr()).
			Logger(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State { return State(s.state.Load()) }

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	return Info{
		ID:      s.id,
		Remote:  s.transport.RemoteAddr(),
		State:   s.State().String(),
		Created: s.created,
		Handled: s.handled.Load(),
	}
}

// Run receives requests and hands them to the dispatcher one at a time
// until the transport or the dispatcher fails. It returns nil when the peer
// closes the connection while the session is idle. Failures are a
// *transport.Error or a *DispatchError. Run must be called once.
func (s *Session) Run(ctx context.Context) error {
	defer s.close()

	s.log.Debug().Msg("session started")
	for {
		s.state.Store(int32(Idle))

		req, err := s.transport.Receive(ctx)
		if err != nil {
			if transport.IsClosed(err) {
				s.log.Debug().Int64("handled", s.handled.Load()).Msg("peer closed")
				return nil
			}
			return err
		}
		if req == nil {
			return &transport.Error{Op: "decode", Err: protocol.ErrMalformed}
		}

		s.state.Store(int32(Handling))
		if err := s.handle(ctx, req); err != nil {
			return err
		}
		s.handled.Add(1)
	}
}

func (s *Session) close() {
	s.release.Do(func() {
		s.state.Store(int32(Closed))
		if err := s.transport.Close(); err != nil {
			s.log.Debug().Err(err).Msg("close transport")
		}
	})
}

// handle runs one dispatch. The emitter serialises sends, remembers the
// first transport failure and refuses to send once dispatch has returned.
func (s *Session) handle(ctx context.Context, req *protocol.ClientPacket) (err error) {
	var (
		mu      sync.Mutex
		done    bool
		sendErr error
	)
	emit := func(ctx context.Context, p *protocol.ServerPacket) error {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case done:
			return ErrEmitAfterReturn
		case sendErr != nil:
			return sendErr
		case p == nil:
			return nil
		}
		if err := s.transport.Send(ctx, p); err != nil {
			sendErr = err
			return err
		}
		return nil
	}

	defer func() {
		r := recover()

		mu.Lock()
		done = true
		failed := sendErr
		mu.Unlock()

		switch {
		case r != nil:
			s.log.Error().Str("stack", string(debug.Stack())).Interface("panic", r).Msg("dispatcher panicked")
			err = s.dispatchError(req, fmt.Errorf("%v", r), true)
		case failed != nil:
			// A failed send ends the session as a transport failure whatever
			// the dispatcher made of it.
			err = failed
		case err != nil:
			var te *transport.Error
			if !errors.As(err, &te) {
				err = s.dispatchError(req, err, false)
			}
		}
	}()

	s.log.Debug().Str("request", req.ID).Str("type", string(req.Type)).Msg("dispatch")
	return s.dispatcher.Dispatch(ctx, s.exec.Handle(), req, emit)
}

func (s *Session) dispatchError(req *protocol.ClientPacket, err error, panicked bool) *DispatchError {
	derr := &DispatchError{SessionID: s.id, Panic: panicked, Err: err}
	if req != nil {
		derr.RequestID = req.ID
		derr.Type = req.Type
	}
	return derr
}
