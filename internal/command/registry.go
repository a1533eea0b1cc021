package command

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"text/template"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/opencode-ai/executor/pkg/types"
)

// ErrNotFound is returned when a template name is unknown.
var ErrNotFound = errors.New("command not found")

// Command is a named prompt template.
type Command struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Template    string `json:"template"`
	System      string `json:"system,omitempty"`
	Model       string `json:"model,omitempty"`
	Source      string `json:"source,omitempty"` // "builtin", "config" or "file"
}

// Expansion is a command ready to be sent to the AI client.
type Expansion struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Model  string `json:"model,omitempty"`
}

// frontmatter is the YAML header of a markdown command file.
type frontmatter struct {
	Description string `yaml:"description"`
	System      string `yaml:"system"`
	Model       string `yaml:"model"`
}

var (
	bracedVar  = regexp.MustCompile(`\$\{(\w+)\}`)
	simpleVar  = regexp.MustCompile(`\$(\w+)`)
	namedArg   = regexp.MustCompile(`^--(\w+)(?:=(.*))?$`)
	commandDir = filepath.Join(".executor", "command")
)

// Registry holds the command templates available to sessions. It is safe
// for concurrent use.
type Registry struct {
	fs      afero.Fs
	workDir string
	config  *types.Config

	mu       sync.RWMutex
	commands map[string]*Command
}

// NewRegistry loads templates from the built-in set, cfg.Command and
// markdown files under workDir/.executor/command, later sources winning.
func NewRegistry(fs afero.Fs, workDir string, cfg *types.Config) *Registry {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	r := &Registry{fs: fs, workDir: workDir, config: cfg}
	r.Reload()
	return r
}

// Reload rereads every source.
func (r *Registry) Reload() {
	commands := make(map[string]*Command)
	for _, cmd := range BuiltinCommands() {
		commands[cmd.Name] = cmd
	}
	r.loadFromConfig(commands)
	r.loadFromFiles(commands)

	r.mu.Lock()
	r.commands = commands
	r.mu.Unlock()
}

func (r *Registry) loadFromConfig(commands map[string]*Command) {
	if r.config == nil {
		return
	}
	for name, cfg := range r.config.Command {
		commands[name] = &Command{
			Name:        name,
			Description: cfg.Description,
			Template:    cfg.Template,
			System:      cfg.System,
			Model:       cfg.Model,
			Source:      "config",
		}
	}
}

func (r *Registry) loadFromFiles(commands map[string]*Command) {
	dir := filepath.Join(r.workDir, commandDir)
	if ok, _ := afero.DirExists(r.fs, dir); !ok {
		return
	}

	_ = afero.Walk(r.fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		content, err := afero.ReadFile(r.fs, path)
		if err != nil {
			return nil
		}
		cmd, err := parseMarkdown(content)
		if err != nil {
			return nil
		}

		rel, _ := filepath.Rel(dir, path)
		cmd.Name = strings.ReplaceAll(strings.TrimSuffix(rel, ".md"), string(filepath.Separator), ":")
		cmd.Source = "file"
		commands[cmd.Name] = cmd
		return nil
	})
}

// parseMarkdown splits an optional YAML frontmatter block from the template
// body.
func parseMarkdown(content []byte) (*Command, error) {
	text := strings.ReplaceAll(string(content), "\r\n", "\n")
	if !strings.HasPrefix(text, "---\n") {
		return &Command{Template: text}, nil
	}

	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return &Command{Template: text}, nil
	}

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return nil, fmt.Errorf("frontmatter: %w", err)
	}

	body := rest[end+len("\n---"):]
	return &Command{
		Description: fm.Description,
		System:      fm.System,
		Model:       fm.Model,
		Template:    strings.TrimSpace(body),
	}, nil
}

// List returns all commands sorted by name.
func (r *Registry) List() []*Command {
	r.mu.RLock()
	commands := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		commands = append(commands, cmd)
	}
	r.mu.RUnlock()

	sort.Slice(commands, func(i, j int) bool { return commands[i].Name < commands[j].Name })
	return commands
}

// Names returns the sorted command names.
func (r *Registry) Names() []string {
	list := r.List()
	names := make([]string, len(list))
	for i, cmd := range list {
		names[i] = cmd.Name
	}
	return names
}

// Get returns a command by name.
func (r *Registry) Get(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	return cmd, ok
}

// Expand fills the named template with args.
//
// Positional args are available as $1..$n, all of them joined by spaces as
// $ARGUMENTS (or $input), and --name=value args as ${name}. Go template
// syntax is applied after the simple substitution.
func (r *Registry) Expand(name string, args []string) (*Expansion, error) {
	cmd, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	vars := parseArguments(args)
	prompt, err := executeTemplate(cmd.Template, vars)
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", name, err)
	}

	return &Expansion{
		Name:   cmd.Name,
		Prompt: prompt,
		System: cmd.System,
		Model:  cmd.Model,
	}, nil
}

// parseArguments maps argument names to values.
func parseArguments(args []string) map[string]string {
	vars := make(map[string]string)

	var positional []string
	for _, arg := range args {
		if m := namedArg.FindStringSubmatch(arg); m != nil {
			value := m[2]
			if value == "" {
				value = "true"
			}
			vars[m[1]] = value
			continue
		}
		positional = append(positional, arg)
	}

	for i, arg := range positional {
		vars[strconv.Itoa(i+1)] = arg
	}
	input := strings.TrimSpace(strings.Join(positional, " "))
	vars["ARGUMENTS"] = input
	vars["input"] = input
	return vars
}

// executeTemplate runs the Go template before the $ substitutions, so
// argument values only ever reach the template as data and are never parsed
// as template actions.
func executeTemplate(tmplStr string, vars map[string]string) (string, error) {
	if !strings.Contains(tmplStr, "{{") {
		return expandSimpleVariables(tmplStr, vars), nil
	}

	tmpl, err := template.New("command").Funcs(templateFuncs()).Parse(tmplStr)
	if err != nil {
		return "", err
	}

	data := map[string]any{"args": vars}
	for k, v := range vars {
		data[k] = v
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return expandSimpleVariables(buf.String(), vars), nil
}

// expandSimpleVariables replaces ${name} and $name. Unknown names are left
// in place so shell snippets inside templates survive.
func expandSimpleVariables(s string, vars map[string]string) string {
	lookup := func(match, name string) string {
		if val, ok := vars[name]; ok {
			return val
		}
		return match
	}
	s = bracedVar.ReplaceAllStringFunc(s, func(match string) string {
		return lookup(match, match[2:len(match)-1])
	})
	return simpleVar.ReplaceAllStringFunc(s, func(match string) string {
		return lookup(match, match[1:])
	})
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"env": os.Getenv,
		"default": func(defaultVal, val string) string {
			if val == "" {
				return defaultVal
			}
			return val
		},
		"trim":    strings.TrimSpace,
		"upper":   strings.ToUpper,
		"lower":   strings.ToLower,
		"replace": strings.ReplaceAll,
		"split":   strings.Split,
		"join":    strings.Join,
	}
}

// BuiltinCommands returns the templates available without configuration.
func BuiltinCommands() []*Command {
	return []*Command{
		{
			Name:        "explain",
			Description: "Explain what a shell command does",
			System:      "You are a concise Unix expert. Answer in plain prose.",
			Template:    "Explain what the following shell command does, step by step:\n\n$ARGUMENTS",
			Source:      "builtin",
		},
		{
			Name:        "fix",
			Description: "Suggest a fix for a failing command",
			System:      "You are a concise Unix expert.",
			Template:    "The command `${cmd}` failed with:\n\n$ARGUMENTS\n\nWhat is wrong and how do I fix it?",
			Source:      "builtin",
		},
		{
			Name:        "summarize",
			Description: "Summarize text",
			Template:    "Summarize the following in a few sentences:\n\n$ARGUMENTS",
			Source:      "builtin",
		},
	}
}
