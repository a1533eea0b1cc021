// Package dispatch is the default request dispatcher of the gateway.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/opencode-ai/executor/internal/command"
	"github.com/opencode-ai/executor/internal/executor"
	"github.com/opencode-ai/executor/internal/logging"
	"github.com/opencode-ai/executor/internal/session"
	"github.com/opencode-ai/executor/pkg/protocol"
	"github.com/opencode-ai/executor/pkg/types"
)

const (
	// MaxRetries is the maximum number of retries when a completion stream
	// cannot be opened.
	MaxRetries = 3
	// RetryInitialInterval is the initial interval for exponential backoff.
	RetryInitialInterval = time.Second
	// RetryMaxInterval is the maximum interval for exponential backoff.
	RetryMaxInterval = 30 * time.Second
	// RetryMaxElapsedTime is the maximum total time for retries.
	RetryMaxElapsedTime = 2 * time.Minute
)

// newRetryBackoff creates an exponential backoff with jitter for AI retries.
func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = RetryInitialInterval
	b.MaxInterval = RetryMaxInterval
	b.MaxElapsedTime = RetryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, MaxRetries), ctx)
}

type handler func(ctx context.Context, exec executor.Executor, req *protocol.ClientPacket, emit session.Emitter) error

// Dispatcher handles every request type of the packet protocol.
//
// Problems with a request are reported to the peer as an error packet and
// the session goes on. Only a failed emit is returned, which ends the
// session.
type Dispatcher struct {
	shell      types.ShellConfig
	commands   *command.Registry
	newBackoff func(context.Context) backoff.BackOff
	log        zerolog.Logger

	handlers map[protocol.ClientPacketType]handler
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithShell sets the working directory, environment and default timeout of
// exec requests.
func WithShell(cfg types.ShellConfig) Option {
	return func(d *Dispatcher) {
		d.shell = cfg
	}
}

// WithCommands sets the template registry used by command requests.
func WithCommands(r *command.Registry) Option {
	return func(d *Dispatcher) {
		d.commands = r
	}
}

// WithBackoff replaces the retry policy for opening completion streams.
func WithBackoff(fn func(context.Context) backoff.BackOff) Option {
	return func(d *Dispatcher) {
		d.newBackoff = fn
	}
}

// New creates a dispatcher. Without WithCommands only the built-in
// templates are available.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		newBackoff: newRetryBackoff,
		log:        logging.Component("dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.commands == nil {
		d.commands = command.NewRegistry(afero.NewMemMapFs(), "", nil)
	}
	if denied := policyPatterns(d.shell.Policy, policyDeny); len(denied) > 0 {
		d.log.Debug().Strs("deny", denied).Msg("exec policy")
	}

	d.handlers = map[protocol.ClientPacketType]handler{
		protocol.TypePing:    d.handlePing,
		protocol.TypeExec:    d.handleExec,
		protocol.TypePrompt:  d.handlePrompt,
		protocol.TypeSuggest: d.handleSuggest,
		protocol.TypeFetch:   d.handleFetch,
		protocol.TypeCommand: d.handleCommand,
	}
	return d
}

// FromConfig creates a dispatcher for cfg, loading command templates from
// the filesystem under workDir. Scripts run in workDir unless the shell
// configuration names another directory; a relative one is taken from
// workDir.
func FromConfig(cfg *types.Config, workDir string) *Dispatcher {
	if cfg == nil {
		cfg = &types.Config{}
	}
	shell := cfg.Shell
	switch {
	case shell.Dir == "":
		shell.Dir = workDir
	case !filepath.IsAbs(shell.Dir) && workDir != "":
		shell.Dir = filepath.Join(workDir, shell.Dir)
	}
	return New(
		WithShell(shell),
		WithCommands(command.NewRegistry(afero.NewOsFs(), workDir, cfg)),
	)
}

// Commands returns the template registry.
func (d *Dispatcher) Commands() *command.Registry {
	return d.commands
}

// Dispatch implements session.Dispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, exec executor.Executor, req *protocol.ClientPacket, emit session.Emitter) error {
	sink := func(ctx context.Context, p *protocol.ServerPacket) error {
		if err := emit(ctx, p); err != nil {
			return &emitError{err: err}
		}
		return nil
	}

	h, ok := d.handlers[req.Type]
	if !ok {
		return unwrapEmit(sink(ctx, protocol.Errorf(req.ID, unknownType(req.Type))))
	}

	err := h(ctx, exec, req, sink)
	if err == nil {
		return nil
	}
	var ee *emitError
	if errors.As(err, &ee) {
		return ee.err
	}

	d.log.Debug().Err(err).Str("request", req.ID).Str("type", string(req.Type)).Msg("request failed")
	return unwrapEmit(sink(ctx, protocol.Errorf(req.ID, err)))
}

func (d *Dispatcher) handlePing(ctx context.Context, _ executor.Executor, req *protocol.ClientPacket, emit session.Emitter) error {
	return emit(ctx, protocol.Pong(req.ID))
}

// emitError marks a failure to reach the peer, as opposed to a failure of
// the request itself.
type emitError struct {
	err error
}

func (e *emitError) Error() string { return e.err.Error() }
func (e *emitError) Unwrap() error { return e.err }

func unwrapEmit(err error) error {
	var ee *emitError
	if errors.As(err, &ee) {
		return ee.err
	}
	return err
}

func missingField(name string) error {
	return fmt.Errorf("missing %s", name)
}
