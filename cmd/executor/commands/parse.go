package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/opencode-ai/executor/pkg/protocol"
)

var errEmptyLine = errors.New("empty line")

const replHelp = `Requests:
  ping                          check the session
  !<script>  or  exec <script>  run a shell script
  ?<text>    or  suggest <text> suggest a shell command
  fetch <url> [format] [filter] fetch a URL (markdown, text, html, json)
  /<name> [args...]             expand and run a command template
  <text>     or  prompt <text>  ask the AI
  help                          show this help
  exit                          leave`

// parseLine turns one line of user input into a request with a fresh id.
func parseLine(line string) (*protocol.ClientPacket, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, errEmptyLine
	}

	p := &protocol.ClientPacket{ID: uuid.NewString()}
	switch {
	case line == "ping":
		p.Type = protocol.TypePing
	case strings.HasPrefix(line, "!"):
		p.Type = protocol.TypeExec
		p.Command = strings.TrimSpace(line[1:])
	case strings.HasPrefix(line, "?"):
		p.Type = protocol.TypeSuggest
		p.Prompt = strings.TrimSpace(line[1:])
	case strings.HasPrefix(line, "/"):
		fields := strings.Fields(line[1:])
		if len(fields) == 0 {
			return nil, errors.New("command name required")
		}
		p.Type = protocol.TypeCommand
		p.Command = fields[0]
		p.Args = fields[1:]
	default:
		verb, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)
		switch verb {
		case "exec":
			p.Type = protocol.TypeExec
			p.Command = rest
		case "suggest":
			p.Type = protocol.TypeSuggest
			p.Prompt = rest
		case "prompt":
			p.Type = protocol.TypePrompt
			p.Prompt = rest
		case "fetch":
			fields := strings.Fields(rest)
			if len(fields) == 0 {
				return nil, errors.New("usage: fetch <url> [format] [filter]")
			}
			p.Type = protocol.TypeFetch
			p.URL = fields[0]
			if len(fields) > 1 {
				p.Format = fields[1]
			}
			if len(fields) > 2 {
				p.Filter = strings.Join(fields[2:], " ")
			}
		default:
			p.Type = protocol.TypePrompt
			p.Prompt = line
		}
	}

	if p.Type != protocol.TypePing && p.Command == "" && p.Prompt == "" && p.URL == "" {
		return nil, fmt.Errorf("%s: nothing to send", p.Type)
	}
	return p, nil
}
