package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/mqtt-mcp/internal/audit"
	"github.com/nerrad567/mqtt-mcp/internal/auth"
	"github.com/nerrad567/mqtt-mcp/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-mcp/internal/infrastructure/logging"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// fakeAudit returns canned entries and records the last filter.
type fakeAudit struct {
	last    audit.Filter
	entries []audit.Entry
	err     error
}

func (f *fakeAudit) Record(context.Context, *audit.Entry) error { return nil }

func (f *fakeAudit) List(_ context.Context, filter audit.Filter) (*audit.ListResult, error) {
	f.last = filter
	if f.err != nil {
		return nil, f.err
	}
	return &audit.ListResult{Entries: f.entries, Total: len(f.entries), Limit: filter.Limit, Offset: filter.Offset}, nil
}

type serverOption func(*Deps)

func withAuth() serverOption {
	return func(d *Deps) { d.Auth = config.AuthConfig{Enabled: true, Secret: testSecret} }
}

func withAudit(repo audit.Repository) serverOption {
	return func(d *Deps) { d.Audit = repo }
}

// testServer creates a Server around a bare MCP server.
func testServer(t *testing.T, opts ...serverOption) *Server {
	t.Helper()

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "discard"}, "test")

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_mcp_test_total",
		Help: "Test counter.",
	}))

	deps := Deps{
		Config: config.ServerConfig{
			Host: "127.0.0.1",
			Port: 0,
			Path: "/mcp",
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		Metrics:  config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Logger:   log,
		MCP:      server.NewMCPServer("mqtt-mcp", "test", server.WithToolCapabilities(true)),
		Gatherer: reg,
		Version:  "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

const initializeRequest = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{` +
	`"protocolVersion":"2025-03-26","capabilities":{},` +
	`"clientInfo":{"name":"test-client","version":"1.0.0"}}}`

func mcpRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(initializeRequest))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

// ─── Construction Tests ────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	log := logging.Default()
	mcpServer := server.NewMCPServer("mqtt-mcp", "test")

	tests := []struct {
		name string
		deps Deps
	}{
		{"missing logger", Deps{MCP: mcpServer}},
		{"missing mcp server", Deps{Logger: log}},
		{"auth without secret", Deps{Logger: log, MCP: mcpServer, Auth: config.AuthConfig{Enabled: true}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() expected error, got nil")
			}
		})
	}
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv := testServer(t, withAuth())

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
}

func TestMetrics(t *testing.T) {
	srv := testServer(t)

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "mqtt_mcp_test_total") {
		t.Errorf("metrics body does not contain the registered counter:\n%s", w.Body.String())
	}
}

func TestMetrics_Disabled(t *testing.T) {
	srv := testServer(t, func(d *Deps) { d.Metrics.Enabled = false })

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("metrics status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv := testServer(t)

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := serve(srv, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestRecovery(t *testing.T) {
	srv := testServer(t)

	handler := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestNotFound(t *testing.T) {
	srv := testServer(t)

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/nonexistent", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Auth Tests ────────────────────────────────────────────────────

func TestAuth(t *testing.T) {
	valid, err := auth.GenerateToken("agent-1", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	forged, err := auth.GenerateToken("agent-1", "some-other-secret-of-sufficient-length", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"forged token", "Bearer " + forged, http.StatusUnauthorized},
		{"valid token", "Bearer " + valid, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, withAuth())

			req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := serve(srv, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
				t.Error("401 without WWW-Authenticate header")
			}
		})
	}
}

func TestAuth_DisabledPassesThrough(t *testing.T) {
	srv := testServer(t)

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

// ─── MCP Endpoint Tests ────────────────────────────────────────────

func TestMCP_Initialize(t *testing.T) {
	srv := testServer(t)

	w := serve(srv, mcpRequest(""))

	if w.Code != http.StatusOK {
		t.Fatalf("initialize status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"mqtt-mcp"`) {
		t.Errorf("initialize response does not name the server: %s", w.Body.String())
	}
}

func TestMCP_RequiresToken(t *testing.T) {
	srv := testServer(t, withAuth())

	if w := serve(srv, mcpRequest("")); w.Code != http.StatusUnauthorized {
		t.Errorf("initialize without token status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	token, err := auth.GenerateToken("agent-1", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if w := serve(srv, mcpRequest(token)); w.Code != http.StatusOK {
		t.Errorf("initialize with token status = %d, want %d", w.Code, http.StatusOK)
	}
}

// ─── Status and Audit Tests ────────────────────────────────────────

func TestStatus(t *testing.T) {
	srv := testServer(t, withAudit(&fakeAudit{}))

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	var status Status
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if status.Version != "test" || !status.Audit || status.Auth {
		t.Errorf("status = %+v", status)
	}
	if status.Runtime.Goroutines == 0 {
		t.Error("runtime goroutines = 0")
	}
}

func TestListAuditLogs(t *testing.T) {
	repo := &fakeAudit{entries: []audit.Entry{{ID: "aud-00000001", Action: audit.ActionPublish, Topic: "devices/foo"}}}
	srv := testServer(t, withAudit(repo))

	w := serve(srv, httptest.NewRequest(http.MethodGet,
		"/api/v1/audit?action=publish&topic=devices/foo&outcome=ok&limit=10&offset=5", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	want := audit.Filter{Action: "publish", Topic: "devices/foo", Outcome: "ok", Limit: 10, Offset: 5}
	if repo.last != want {
		t.Errorf("filter = %+v, want %+v", repo.last, want)
	}

	var result audit.ListResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.Total != 1 || result.Entries[0].ID != "aud-00000001" {
		t.Errorf("result = %+v", result)
	}
}

func TestListAuditLogs_Errors(t *testing.T) {
	tests := []struct {
		name string
		repo audit.Repository
		url  string
		want int
	}{
		{"not configured", nil, "/api/v1/audit", http.StatusServiceUnavailable},
		{"bad limit", &fakeAudit{}, "/api/v1/audit?limit=ten", http.StatusBadRequest},
		{"repository error", &fakeAudit{err: errors.New("disk I/O error")}, "/api/v1/audit", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, withAudit(tt.repo))

			w := serve(srv, httptest.NewRequest(http.MethodGet, tt.url, nil))

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

// ─── Lifecycle Tests ───────────────────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	srv := testServer(t)

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start() should fail")
	}

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	addr := srv.Addr()
	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("health check status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}

	if _, err := http.Get("http://" + addr + "/health"); err == nil {
		t.Error("server still responding after Close()")
	}
}

func TestServer_CloseBeforeStart(t *testing.T) {
	srv := testServer(t)
	if err := srv.Close(); err != nil {
		t.Errorf("Close() before Start() error = %v", err)
	}
	if srv.Addr() != "" {
		t.Errorf("Addr() before Start() = %q, want empty", srv.Addr())
	}
}
