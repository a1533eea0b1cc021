package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/executor/internal/event"
	"github.com/opencode-ai/executor/internal/logging"
)

// Pool tracks live sessions. Each session runs on its own goroutine; the
// pool only records it, so a slow session never holds up another.
type Pool struct {
	bus *event.Bus
	log zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closing  bool
	wg       sync.WaitGroup
}

// ErrPoolClosed is the result of a session handed to a pool after Close.
var ErrPoolClosed = errors.New("session pool closed")

// NewPool creates a pool. bus may be nil.
func NewPool(bus *event.Bus) *Pool {
	return &Pool{
		bus:      bus,
		log:      logging.Component("pool"),
		sessions: make(map[string]*Session),
	}
}

// Go starts s and returns at once. The returned channel receives the
// session's result and is then closed. After Close the session is not run:
// its transport is released and the result is ErrPoolClosed.
func (p *Pool) Go(ctx context.Context, s *Session) <-chan error {
	result := make(chan error, 1)

	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		s.close()
		s.log.Debug().Msg("pool closed, session refused")
		result <- ErrPoolClosed
		close(result)
		return result
	}
	p.sessions[s.ID()] = s
	p.wg.Add(1)
	p.mu.Unlock()

	p.publish(event.SessionOpened, event.SessionOpenedData{
		SessionID: s.ID(),
		Remote:    s.transport.RemoteAddr(),
	})

	go func() {
		defer p.wg.Done()
		defer close(result)

		err := s.Run(ctx)

		p.mu.Lock()
		delete(p.sessions, s.ID())
		p.mu.Unlock()

		info := s.Info()
		data := event.SessionClosedData{
			SessionID:  info.ID,
			Remote:     info.Remote,
			Handled:    info.Handled,
			DurationMS: time.Since(info.Created).Milliseconds(),
		}
		if err != nil {
			data.Error = err.Error()
			s.log.Warn().Err(err).Int64("handled", info.Handled).Msg("session ended")
		} else {
			s.log.Info().Int64("handled", info.Handled).Msg("session ended")
		}
		p.publish(event.SessionClosed, data)

		result <- err
	}()

	return result
}

func (p *Pool) publish(t event.EventType, data any) {
	if p.bus == nil {
		return
	}
	if err := p.bus.Publish(t, data); err != nil {
		p.log.Debug().Err(err).Str("event", string(t)).Msg("publish")
	}
}

// Active returns the number of running sessions.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// List returns snapshots of the running sessions, oldest first.
func (p *Pool) List() []Info {
	p.mu.Lock()
	infos := make([]Info, 0, len(p.sessions))
	for _, s := range p.sessions {
		infos = append(infos, s.Info())
	}
	p.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Close stops the pool from taking new sessions. Running sessions are left
// alone; use Wait to block until they end.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closing = true
	p.mu.Unlock()
}

// Wait blocks until every session started so far has ended.
func (p *Pool) Wait() {
	p.wg.Wait()
}
