// Package main provides the entry point for the sessionlog CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/sessionlog-ai/sessionlog/cmd/sessionlog/commands"
)

func main() {
	// Best effort: local .env can hold provider keys and overrides.
	_ = godotenv.Load()

	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
