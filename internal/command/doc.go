// Package command provides named prompt templates for the "command" request
// type.
//
// # Command Sources
//
// Templates are loaded from three sources, later ones replacing earlier ones
// with the same name:
//
//  1. Built-in templates (explain, fix, summarize)
//  2. The "command" section of the configuration
//  3. Markdown files under .executor/command/ in the working directory
//
// A markdown file may start with a YAML frontmatter block:
//
//	---
//	description: Review a diff
//	system: You are a careful reviewer.
//	model: anthropic/claude-sonnet-4-20250514
//	---
//	Review this change: $ARGUMENTS
//
// Files in subdirectories are named with ":" separators, so
// git/review.md becomes "git:review".
//
// # Template System
//
//   - $ARGUMENTS or $input: all positional arguments joined by spaces
//   - $1, $2, ...: positional arguments
//   - ${name}: the value of a --name=value argument (a bare --name is "true")
//   - {{ ... }}: Go template syntax with env, default, trim, upper, lower,
//     replace, split and join
//
// Unknown $names are left untouched. The Go template runs first and the $
// substitutions are applied to its output, so argument text is never
// evaluated as a template; inside {{ }} the arguments are available as
// .input, .args and the named values.
package command
