package gateway

import (
	"github.com/opencode-ai/executor/internal/event"
	"github.com/opencode-ai/executor/internal/executor"
	"github.com/opencode-ai/executor/internal/server"
	"github.com/opencode-ai/executor/internal/session"
)

type options struct {
	dispatcher session.Dispatcher
	exec       *executor.Executor
	bus        *event.Bus
	pool       *session.Pool
	workDir    string
	serverOpts []server.Option
}

// Option configures an entrypoint.
type Option func(*options)

// WithDispatcher replaces the default dispatcher.
func WithDispatcher(d session.Dispatcher) Option {
	return func(o *options) {
		o.dispatcher = d
	}
}

// WithExecutor uses an already built execution context instead of building
// one from the configuration.
func WithExecutor(exec executor.Executor) Option {
	return func(o *options) {
		o.exec = &exec
	}
}

// WithBus publishes lifecycle events on bus.
func WithBus(bus *event.Bus) Option {
	return func(o *options) {
		o.bus = bus
	}
}

// WithPool runs sessions in pool, letting the caller observe them.
func WithPool(pool *session.Pool) Option {
	return func(o *options) {
		o.pool = pool
	}
}

// WithWorkDir sets the directory command templates are loaded from. It
// defaults to the process working directory.
func WithWorkDir(dir string) Option {
	return func(o *options) {
		o.workDir = dir
	}
}

// WithServerOptions passes options through to the connection acceptor.
func WithServerOptions(opts ...server.Option) Option {
	return func(o *options) {
		o.serverOpts = append(o.serverOpts, opts...)
	}
}
