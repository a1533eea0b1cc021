package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/opencode-ai/executor/internal/config"
	"github.com/opencode-ai/executor/pkg/protocol"
)

// endpoint is one side of a conversation with a session.
type endpoint interface {
	Send(ctx context.Context, p *protocol.ClientPacket) error
	Recv(ctx context.Context) (*protocol.ServerPacket, error)
}

// printer renders response packets for a terminal.
type printer struct {
	out      io.Writer
	inDelta  bool
	streamed bool

	ok     *color.Color
	fail   *color.Color
	stderr *color.Color
	faint  *color.Color
}

func newPrinter(out io.Writer) *printer {
	return &printer{
		out:    out,
		ok:     color.New(color.FgGreen),
		fail:   color.New(color.FgRed, color.Bold),
		stderr: color.New(color.FgRed),
		faint:  color.New(color.Faint),
	}
}

func (pr *printer) print(p *protocol.ServerPacket) {
	if p.Type != protocol.TypeDelta && pr.inDelta {
		fmt.Fprintln(pr.out)
		pr.inDelta = false
	}

	switch p.Type {
	case protocol.TypePong:
		pr.ok.Fprintln(pr.out, "pong")
	case protocol.TypeDelta:
		fmt.Fprint(pr.out, p.Data)
		pr.inDelta = true
		pr.streamed = true
	case protocol.TypeOutput:
		if p.Stream == protocol.StreamStderr {
			pr.stderr.Fprintln(pr.out, p.Data)
		} else {
			fmt.Fprintln(pr.out, p.Data)
		}
	case protocol.TypeResult:
		// Streamed results were already printed delta by delta.
		if !pr.streamed {
			fmt.Fprintln(pr.out, p.Data)
		}
		if len(p.Meta) > 0 {
			pr.faint.Fprintln(pr.out, formatMeta(p.Meta))
		}
	case protocol.TypeExit:
		code := 0
		if p.Code != nil {
			code = *p.Code
		}
		if code == 0 {
			pr.faint.Fprintf(pr.out, "exit %d\n", code)
		} else {
			pr.fail.Fprintf(pr.out, "exit %d\n", code)
		}
	case protocol.TypeError:
		pr.fail.Fprintf(pr.out, "error: %s\n", p.Error)
	default:
		pr.faint.Fprintf(pr.out, "%s %s\n", p.Type, p.Data)
	}
	if p.Type.Terminal() {
		pr.streamed = false
	}
}

func formatMeta(meta map[string]any) string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, meta[k]))
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// converse reads requests from in, one per line, sends them and prints
// responses until the terminal packet of each request arrives.
func converse(ctx context.Context, ep endpoint, in io.Reader, out io.Writer, prompt string) error {
	pr := newPrinter(out)
	history := openHistory()
	if history != nil {
		defer history.Close()
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, prompt)
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := scanner.Text()

		switch strings.TrimSpace(line) {
		case "exit", "quit":
			return nil
		case "help":
			fmt.Fprintln(out, replHelp)
			continue
		}

		req, err := parseLine(line)
		if errors.Is(err, errEmptyLine) {
			continue
		}
		if err != nil {
			pr.fail.Fprintln(out, err)
			continue
		}
		if history != nil {
			fmt.Fprintln(history, line)
		}

		if err := ep.Send(ctx, req); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		if err := await(ctx, ep, req.ID, pr); err != nil {
			return err
		}
	}
}

// await prints responses until the terminal packet for id.
func await(ctx context.Context, ep endpoint, id string, pr *printer) error {
	for {
		p, err := ep.Recv(ctx)
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}
		pr.print(p)
		if p.ID == id && p.Type.Terminal() {
			return nil
		}
	}
}

func openHistory() *os.File {
	path := config.GetPaths().HistoryPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil
	}
	return f
}
