package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/opencode-ai/executor/internal/executor"
	"github.com/opencode-ai/executor/internal/session"
	"github.com/opencode-ai/executor/pkg/protocol"
)

const (
	DefaultExecTimeout = 2 * time.Minute
	MaxExecTimeout     = 10 * time.Minute
	// MaxLineLength splits longer output lines into several packets.
	MaxLineLength = 64 * 1024
	// TimeoutExitCode is reported when a script runs out of time.
	TimeoutExitCode = 124
)

func (d *Dispatcher) handleExec(ctx context.Context, _ executor.Executor, req *protocol.ClientPacket, emit session.Emitter) error {
	if strings.TrimSpace(req.Command) == "" {
		return missingField("command")
	}

	parser := syntax.NewParser(syntax.Variant(syntax.LangBash))
	prog, err := parser.Parse(strings.NewReader(req.Command), "")
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if err := checkPolicy(prog, d.shell.Policy); err != nil {
		return err
	}

	timeout := req.TimeoutDuration(d.execTimeout(), MaxExecTimeout)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout := newLineWriter(func(line string) error {
		return emit(ctx, protocol.Output(req.ID, protocol.StreamStdout, line))
	})
	stderr := newLineWriter(func(line string) error {
		return emit(ctx, protocol.Output(req.ID, protocol.StreamStderr, line))
	})

	opts := []interp.RunnerOption{
		interp.StdIO(nil, stdout, stderr),
		interp.Env(expand.ListEnviron(d.environ()...)),
		interp.Params(append([]string{"--"}, req.Args...)...),
	}
	if d.shell.Dir != "" {
		opts = append(opts, interp.Dir(d.shell.Dir))
	}
	runner, err := interp.New(opts...)
	if err != nil {
		return fmt.Errorf("shell: %w", err)
	}

	started := time.Now()
	runErr := runner.Run(runCtx, prog)

	for _, w := range []*lineWriter{stdout, stderr} {
		if err := w.Flush(); err != nil {
			return err
		}
	}

	code := 0
	var status interp.ExitStatus
	switch {
	case runErr == nil:
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		code = TimeoutExitCode
		msg := fmt.Sprintf("command timed out after %s", timeout)
		if err := emit(ctx, protocol.Output(req.ID, protocol.StreamStderr, msg)); err != nil {
			return err
		}
	case errors.As(runErr, &status):
		code = int(status)
	default:
		return fmt.Errorf("exec: %w", runErr)
	}

	d.log.Debug().
		Str("request", req.ID).
		Int("code", code).
		Dur("elapsed", time.Since(started)).
		Msg("exec finished")
	return emit(ctx, protocol.Exit(req.ID, code))
}

func (d *Dispatcher) execTimeout() time.Duration {
	if d.shell.Timeout > 0 {
		return time.Duration(d.shell.Timeout) * time.Second
	}
	return DefaultExecTimeout
}

// environ returns the process environment with the configured overrides.
func (d *Dispatcher) environ() []string {
	env := os.Environ()
	keys := make([]string, 0, len(d.shell.Env))
	for k := range d.shell.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+d.shell.Env[k])
	}
	return env
}

// lineWriter turns a byte stream into one callback per line. A failed
// callback is remembered and every later write fails with it.
type lineWriter struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	emit func(line string) error
	err  error
}

func newLineWriter(emit func(line string) error) *lineWriter {
	return &lineWriter{emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.err != nil {
		return 0, w.err
	}
	w.buf.Write(p)

	for {
		data := w.buf.Bytes()
		i := bytes.IndexByte(data, '\n')
		switch {
		case i >= 0:
			line := strings.TrimSuffix(string(data[:i]), "\r")
			w.buf.Next(i + 1)
			if err := w.send(line); err != nil {
				return len(p), err
			}
		case len(data) >= MaxLineLength:
			line := string(data[:MaxLineLength])
			w.buf.Next(MaxLineLength)
			if err := w.send(line); err != nil {
				return len(p), err
			}
		default:
			return len(p), nil
		}
	}
}

// Flush sends any trailing partial line and reports the first send failure.
func (w *lineWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.err == nil && w.buf.Len() > 0 {
		line := w.buf.String()
		w.buf.Reset()
		_ = w.send(line)
	}
	return w.err
}

func (w *lineWriter) send(line string) error {
	if err := w.emit(line); err != nil {
		w.err = err
		return err
	}
	return nil
}
