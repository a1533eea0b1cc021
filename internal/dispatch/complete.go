package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"mvdan.cc/sh/v3/syntax"

	"github.com/opencode-ai/executor/internal/executor"
	"github.com/opencode-ai/executor/internal/provider"
	"github.com/opencode-ai/executor/internal/session"
	"github.com/opencode-ai/executor/pkg/protocol"
)

const suggestSystemPrompt = `You translate a request into exactly one POSIX shell command.
Reply with the command only: no explanation, no markdown, no code fences.
If several commands are needed, join them with && or a pipeline.`

func (d *Dispatcher) handlePrompt(ctx context.Context, exec executor.Executor, req *protocol.ClientPacket, emit session.Emitter) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return missingField("prompt")
	}
	return d.streamCompletion(ctx, exec, req.ID, provider.NewPrompt(req.System, req.Prompt), nil, emit)
}

func (d *Dispatcher) handleCommand(ctx context.Context, exec executor.Executor, req *protocol.ClientPacket, emit session.Emitter) error {
	if req.Command == "" {
		return missingField("command")
	}
	exp, err := d.commands.Expand(req.Command, req.Args)
	if err != nil {
		return err
	}

	system := exp.System
	if req.System != "" {
		system = req.System
	}
	if exp.Model != "" && exp.Model != exec.AI().ID()+"/"+exec.AI().Model() {
		d.log.Debug().Str("command", exp.Name).Str("model", exp.Model).Msg("template model ignored, using shared client")
	}

	meta := map[string]any{"command": exp.Name}
	return d.streamCompletion(ctx, exec, req.ID, provider.NewPrompt(system, exp.Prompt), meta, emit)
}

// streamCompletion sends each chunk as a delta packet, then the whole text
// as a result.
func (d *Dispatcher) streamCompletion(ctx context.Context, exec executor.Executor, id string, creq *provider.CompletionRequest, meta map[string]any, emit session.Emitter) error {
	ai := exec.AI()
	stream, err := d.openStream(ctx, ai, creq)
	if err != nil {
		return err
	}

	text, err := stream.Each(func(delta string) error {
		return emit(ctx, protocol.Delta(id, delta))
	})
	if err != nil {
		return err
	}

	if meta == nil {
		meta = map[string]any{}
	}
	meta["provider"] = ai.ID()
	meta["model"] = ai.Model()
	return emit(ctx, protocol.Result(id, text, meta))
}

func (d *Dispatcher) handleSuggest(ctx context.Context, exec executor.Executor, req *protocol.ClientPacket, emit session.Emitter) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return missingField("prompt")
	}

	system := suggestSystemPrompt
	if req.System != "" {
		system += "\n\n" + req.System
	}

	stream, err := d.openStream(ctx, exec.AI(), provider.NewPrompt(system, req.Prompt))
	if err != nil {
		return err
	}
	text, err := stream.Each(nil)
	if err != nil {
		return fmt.Errorf("completion: %w", err)
	}

	cmd := cleanSuggestion(text)
	if cmd == "" {
		return fmt.Errorf("no command suggested")
	}
	_, perr := syntax.NewParser(syntax.Variant(syntax.LangBash)).Parse(strings.NewReader(cmd), "")

	return emit(ctx, protocol.Result(req.ID, cmd, map[string]any{
		"provider": exec.AI().ID(),
		"model":    exec.AI().Model(),
		"valid":    perr == nil,
	}))
}

// openStream opens a completion stream, retrying with backoff. Once the
// stream is open nothing is retried, so no delta is ever sent twice.
func (d *Dispatcher) openStream(ctx context.Context, ai provider.Provider, creq *provider.CompletionRequest) (*provider.CompletionStream, error) {
	b := d.newBackoff(ctx)
	for {
		stream, err := ai.CreateCompletion(ctx, creq)
		if err == nil {
			return stream, nil
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return nil, fmt.Errorf("completion: %w", err)
		}
		d.log.Warn().Err(err).Dur("retry_in", wait).Str("provider", ai.ID()).Msg("completion failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// cleanSuggestion strips the decoration models like to add around a
// command: code fences, a leading prompt sign and surrounding blank lines.
func cleanSuggestion(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[i+1:]
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	text = strings.Trim(strings.TrimSpace(text), "`")
	text = strings.TrimPrefix(text, "$ ")
	return strings.TrimSpace(text)
}
