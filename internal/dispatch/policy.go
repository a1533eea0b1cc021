package dispatch

import (
	"fmt"
	"sort"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

const (
	policyAllow = "allow"
	policyDeny  = "deny"
)

// shellCommand is one simple command found in a script.
type shellCommand struct {
	Name       string
	Args       []string
	Subcommand string // first non-flag argument, e.g. "commit" in "git commit"
}

func (c shellCommand) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// PolicyError reports a script rejected by the exec policy.
type PolicyError struct {
	Command string
	Pattern string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("command %q denied by policy %q", e.Command, e.Pattern)
}

// listCommands returns every simple command in prog, including those in
// pipelines, subshells and command substitutions.
func listCommands(prog *syntax.File) []shellCommand {
	var commands []shellCommand
	syntax.Walk(prog, func(node syntax.Node) bool {
		if call, ok := node.(*syntax.CallExpr); ok {
			if cmd, ok := extractCommand(call); ok {
				commands = append(commands, cmd)
			}
		}
		return true
	})
	return commands
}

func extractCommand(call *syntax.CallExpr) (shellCommand, bool) {
	if len(call.Args) == 0 {
		return shellCommand{}, false
	}
	cmd := shellCommand{Name: wordToString(call.Args[0])}
	if cmd.Name == "" {
		return shellCommand{}, false
	}
	for _, arg := range call.Args[1:] {
		s := wordToString(arg)
		cmd.Args = append(cmd.Args, s)
		if cmd.Subcommand == "" && !strings.HasPrefix(s, "-") {
			cmd.Subcommand = s
		}
	}
	return cmd, true
}

// wordToString renders the literal parts of word. Expansions are kept as
// placeholders since their values are only known at run time.
func wordToString(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				if lit, ok := qp.(*syntax.Lit); ok {
					sb.WriteString(lit.Value)
				}
			}
		case *syntax.ParamExp:
			sb.WriteString("$" + p.Param.Value)
		case *syntax.CmdSubst:
			sb.WriteString("$()")
		}
	}
	return sb.String()
}

// policyAction finds the action for cmd, trying the most specific pattern
// first: "git commit *", "git *", "git", then "*". Commands matching no
// pattern are allowed. The matching pattern is returned with the action.
func policyAction(cmd shellCommand, policy map[string]string) (action, pattern string) {
	var candidates []string
	if cmd.Subcommand != "" {
		candidates = append(candidates, cmd.Name+" "+cmd.Subcommand+" *")
	}
	candidates = append(candidates, cmd.Name+" *", cmd.Name, "*")

	for _, c := range candidates {
		if a, ok := policy[c]; ok {
			return strings.ToLower(a), c
		}
	}
	return policyAllow, ""
}

// checkPolicy rejects prog if any of its commands is denied.
func checkPolicy(prog *syntax.File, policy map[string]string) error {
	if len(policy) == 0 {
		return nil
	}
	for _, cmd := range listCommands(prog) {
		if action, pattern := policyAction(cmd, policy); action == policyDeny {
			return &PolicyError{Command: cmd.String(), Pattern: pattern}
		}
	}
	return nil
}

// policyPatterns returns the patterns of policy with the given action,
// sorted. Used for logging the effective policy.
func policyPatterns(policy map[string]string, action string) []string {
	var out []string
	for p, a := range policy {
		if strings.EqualFold(a, action) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
