package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Health check (no auth required)
	r.Get("/health", s.handleHealth)

	if s.metrics.Enabled {
		r.Handle(s.metricsPath(), promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	mcpHandler := server.NewStreamableHTTPServer(s.mcp,
		server.WithEndpointPath(s.mcpPath()),
	)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Handle(s.mcpPath(), mcpHandler)

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Get("/audit", s.handleListAuditLogs)
		})
	})

	return r
}

func (s *Server) mcpPath() string {
	if s.cfg.Path == "" {
		return "/mcp"
	}
	return s.cfg.Path
}

func (s *Server) metricsPath() string {
	if s.metrics.Path == "" {
		return "/metrics"
	}
	return s.metrics.Path
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}
