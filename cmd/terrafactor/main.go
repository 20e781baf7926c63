package main

import (
	"os"

	"github.com/quantagrify/terrafactor/cmd/terrafactor/commands"
)

// main is the entry point for the terrafactor CLI:
// go run ./cmd/terrafactor [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
