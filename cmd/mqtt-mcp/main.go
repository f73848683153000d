// mqtt-mcp - MQTT tools for the Model Context Protocol
//
// This is the main entry point for the mqtt-mcp server and CLI.
// It exposes MQTT publish and receive to MCP clients over stdio or
// streamable HTTP, and offers the same operations as one-shot commands:
//
//	mqtt-mcp serve --transport stdio
//	mqtt-mcp publish --topic devices/foo --data '{"foo":"bar"}'
//	mqtt-mcp receive --topic devices/foo --timeout 30s
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	// Cancel on Ctrl+C and SIGTERM so open broker connections are closed
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1) //nolint:gocritic // cancel called above
	}
}
