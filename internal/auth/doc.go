// Package auth verifies bearer tokens for the HTTP transport.
//
// Tokens are HS256-signed JWTs sharing one secret with the server
// (auth.secret in config.yaml). A token must carry a subject and must
// not be expired. There is no user store: whoever holds the secret can
// mint tokens with GenerateToken, typically via "mqtt-mcp token".
package auth
