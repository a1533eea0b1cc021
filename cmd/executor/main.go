// Package main provides the entry point for the executor gateway.
package main

import (
	"fmt"
	"os"

	"github.com/opencode-ai/executor/cmd/executor/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
