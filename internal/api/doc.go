// Package api serves the MCP tools over streamable HTTP.
//
// Routes:
//   - GET /health: liveness, never authenticated
//   - GET /metrics: Prometheus exposition, when metrics are enabled
//   - /mcp (server.path): the MCP streamable HTTP endpoint
//   - GET /api/v1/status: runtime statistics
//   - GET /api/v1/audit: paginated audit log of tool calls
//
// When auth.enabled is set, /mcp and /api/v1 require an
// "Authorization: Bearer <jwt>" header signed with auth.secret.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
