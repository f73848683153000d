// Package logging provides structured logging for mqtt-mcp.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stderr"   # stderr, stdout, discard
//
// Logs default to stderr because the stdio MCP transport writes protocol
// frames to stdout.
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting server", "transport", "http", "port", 8000)
//	logger.Error("publish failed", "error", err)
//
// # Security
//
// Never log broker passwords, bearer tokens or the auth secret.
package logging
