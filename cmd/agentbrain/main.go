// Package main is the entry point for the agentbrain CLI.
package main

import (
	"os"

	"github.com/agentbrain/agentbrain/cmd/agentbrain/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
