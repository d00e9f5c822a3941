// Command nim-memory runs a chat agent with long-term memory, either as an
// interactive terminal session or as a WebSocket server.
//
// All settings come from NIM_MEMORY_* environment variables; see the config
// package.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := buildRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
