package gateway

import (
	"context"
	"errors"
	"os"

	"github.com/opencode-ai/executor/internal/dispatch"
	"github.com/opencode-ai/executor/internal/executor"
	"github.com/opencode-ai/executor/internal/logging"
	"github.com/opencode-ai/executor/internal/server"
	"github.com/opencode-ai/executor/internal/session"
	"github.com/opencode-ai/executor/pkg/transport"
	"github.com/opencode-ai/executor/pkg/types"
)

var (
	// ErrNotReady is the cause of an EventDeliveryError when the receiver
	// was not waiting for the event.
	ErrNotReady = errors.New("receiver not ready")
	// ErrReceiverGone is the cause of an EventDeliveryError when there is
	// no receiver at all.
	ErrReceiverGone = errors.New("receiver gone")
)

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *options) executor(ctx context.Context, cfg *types.Config) (executor.Executor, error) {
	if o.exec != nil {
		return o.exec.Handle(), nil
	}
	return executor.New(ctx, cfg)
}

func (o *options) dispatcherFor(cfg *types.Config) session.Dispatcher {
	if o.dispatcher != nil {
		return o.dispatcher
	}
	dir := o.workDir
	if dir == "" {
		dir, _ = os.Getwd()
	}
	return dispatch.FromConfig(cfg, dir)
}

// Launch builds the execution context, starts one session on an in-process
// pipe and returns the caller's end. If the context cannot be built no
// session is started. The session ends when ctx is done or the peer closes
// its sending side.
func Launch(ctx context.Context, cfg *types.Config, opts ...Option) (*transport.Peer, error) {
	if cfg == nil {
		cfg = &types.Config{}
	}
	o := newOptions(opts)

	exec, err := o.executor(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pool := o.pool
	if pool == nil {
		pool = session.NewPool(o.bus)
	}

	t, peer := transport.NewPipe()
	s := session.New(t, exec.Handle(), o.dispatcherFor(cfg))
	pool.Go(ctx, s)

	log := logging.Component("gateway")
	log.Debug().Str("session", s.ID()).Msg("in-process session started")
	return peer, nil
}

// ListenAndServe builds the execution context, binds the configured address,
// sends Connected on events and serves until ctx is done or the listener
// fails. A failure to build the context or to bind is returned before any
// event is sent. Delivery of Connected never blocks and its failure is
// logged, not returned. events should have a buffer of at least one;
// on an unbuffered channel the event is dropped unless a receiver is
// already waiting.
func ListenAndServe(ctx context.Context, cfg *types.Config, events chan<- Event, opts ...Option) error {
	if cfg == nil {
		cfg = &types.Config{}
	}
	o := newOptions(opts)
	log := logging.Component("gateway")

	exec, err := o.executor(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("execution context")
		return err
	}

	srvOpts := []server.Option{server.WithBus(o.bus), server.WithPool(o.pool)}
	srvOpts = append(srvOpts, o.serverOpts...)
	srv := server.New(cfg.Server, exec, o.dispatcherFor(cfg), srvOpts...)

	if err := srv.Listen(); err != nil {
		log.Error().Err(err).Msg("bind")
		return err
	}

	ev := Event{Kind: Connected, Addr: srv.Addr()}
	if err := deliver(events, ev); err != nil {
		log.Warn().Err(err).Msg("readiness event dropped")
	}

	return srv.Serve(ctx)
}

// LaunchWebSocket runs ListenAndServe in the background and returns the
// channel Connected is sent on. The channel is closed when serving stops;
// a channel closed without an event means startup failed.
func LaunchWebSocket(ctx context.Context, cfg *types.Config, opts ...Option) <-chan Event {
	events := make(chan Event, 1)
	go func() {
		defer close(events)
		if err := ListenAndServe(ctx, cfg, events, opts...); err != nil {
			log := logging.Component("gateway")
			log.Error().Err(err).Msg("gateway stopped")
		}
	}()
	return events
}

// deliver sends ev without blocking.
func deliver(events chan<- Event, ev Event) (err error) {
	if events == nil {
		return &EventDeliveryError{Event: ev, Err: ErrReceiverGone}
	}
	defer func() {
		// Sending on a channel the receiver has closed.
		if recover() != nil {
			err = &EventDeliveryError{Event: ev, Err: ErrReceiverGone}
		}
	}()
	select {
	case events <- ev:
		return nil
	default:
		return &EventDeliveryError{Event: ev, Err: ErrNotReady}
	}
}
