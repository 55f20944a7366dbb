package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mariia-hub/apiguard/internal/core"
	"github.com/mariia-hub/apiguard/internal/engine"
)

func newTestServer(t *testing.T, mutate func(*core.Config)) *Server {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.Alerts.EnableConsole = false
	if mutate != nil {
		mutate(cfg)
	}
	e, err := engine.New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("engine.New() error: %v", err)
	}
	return NewServer(e)
}

func doRequest(t *testing.T, s *Server, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "198.51.100.7:45678"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

// ─── Endpoints ──────────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	rec := doRequest(t, s, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestStatus(t *testing.T) {
	s := newTestServer(t, nil)
	rec := doRequest(t, s, http.MethodGet, "/api/v1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["score"] != float64(100) {
		t.Errorf("score = %v, want 100 for a fresh engine", body["score"])
	}
}

func TestDashboard(t *testing.T) {
	s := newTestServer(t, nil)
	s.engine.ProcessRequest(core.RequestDescriptor{Method: "GET", Path: "/x", ClientIP: "1.1.1.1"})

	rec := doRequest(t, s, http.MethodGet, "/api/v1/dashboard", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	for _, want := range []string{"monitor", "audit", "open_alerts"} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Errorf("dashboard missing %q", want)
		}
	}
}

func TestAlertsLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	s.engine.Monitor.RecordSecurityViolation("sql_injection", core.SeverityCritical, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/alerts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var listing struct {
		Alerts []*core.Alert `json:"alerts"`
		Total  int           `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if listing.Total != 1 {
		t.Fatalf("total = %d, want 1", listing.Total)
	}
	id := listing.Alerts[0].ID

	rec = doRequest(t, s, http.MethodGet, "/api/v1/alerts/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get alert status = %d, want 200", rec.Code)
	}

	rec = doRequest(t, s, http.MethodPost, "/api/v1/alerts/"+id+"/resolve", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("resolve status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"score": 100`) && !strings.Contains(rec.Body.String(), `"score":100`) {
		t.Errorf("resolve should report the recovered score: %s", rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/alerts/no-such-id", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown alert status = %d, want 404", rec.Code)
	}
}

func TestEventsAndExport(t *testing.T) {
	s := newTestServer(t, nil)
	s.engine.RecordAuthAttempt("admin@test.com", "1.1.1.1", false)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/events?type=authentication_event", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "admin@test.com") {
		t.Errorf("events missing actor: %s", rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/export?format=table", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "EventType") {
		t.Errorf("table export missing header: %s", rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/export?format=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bogus format status = %d, want 400", rec.Code)
	}
}

func TestConfigRedactsKeys(t *testing.T) {
	s := newTestServer(t, func(cfg *core.Config) {
		cfg.Server.APIKeys = []string{"super-secret-key"}
	})
	rec := doRequest(t, s, http.MethodGet, "/api/v1/config", map[string]string{"X-API-Key": "super-secret-key"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "super-secret-key") {
		t.Error("config response must not leak API keys")
	}
}

func TestReset(t *testing.T) {
	s := newTestServer(t, nil)
	s.engine.Monitor.RecordSecurityViolation("xss", core.SeverityCritical, nil)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if s.engine.Monitor.SecurityScore() != 100 {
		t.Error("reset should restore the posture score")
	}
}

// ─── Auth middleware ────────────────────────────────────────────────────────

func TestAuth_Required(t *testing.T) {
	s := newTestServer(t, func(cfg *core.Config) {
		cfg.Server.APIKeys = []string{"valid-key"}
	})

	if rec := doRequest(t, s, http.MethodGet, "/api/v1/status", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no key status = %d, want 401", rec.Code)
	}
	if rec := doRequest(t, s, http.MethodGet, "/api/v1/status", map[string]string{"X-API-Key": "wrong"}); rec.Code != http.StatusForbidden {
		t.Errorf("wrong key status = %d, want 403", rec.Code)
	}
	if rec := doRequest(t, s, http.MethodGet, "/api/v1/status", map[string]string{"X-API-Key": "valid-key"}); rec.Code != http.StatusOK {
		t.Errorf("valid key status = %d, want 200", rec.Code)
	}
	if rec := doRequest(t, s, http.MethodGet, "/api/v1/status", map[string]string{"Authorization": "Bearer valid-key"}); rec.Code != http.StatusOK {
		t.Errorf("bearer key status = %d, want 200", rec.Code)
	}
	// Health stays open.
	if rec := doRequest(t, s, http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200 without auth", rec.Code)
	}
}

// ─── Security headers ───────────────────────────────────────────────────────

func TestSecurityHeadersAttached(t *testing.T) {
	s := newTestServer(t, nil)
	rec := doRequest(t, s, http.MethodGet, "/api/v1/status", nil)
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("response missing X-Content-Type-Options")
	}
	if rec.Header().Get("Content-Security-Policy") == "" {
		t.Error("response missing Content-Security-Policy")
	}
}

// ─── CORS ───────────────────────────────────────────────────────────────────

func TestCORS_AllowedOrigin(t *testing.T) {
	s := newTestServer(t, func(cfg *core.Config) {
		cfg.Server.CORSOrigins = []string{"https://booking.example.com"}
	})
	rec := doRequest(t, s, http.MethodGet, "/health", map[string]string{"Origin": "https://booking.example.com"})
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://booking.example.com" {
		t.Errorf("allow-origin = %q", got)
	}

	rec = doRequest(t, s, http.MethodGet, "/health", map[string]string{"Origin": "https://evil.example.com"})
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("disallowed origin got allow-origin %q, want none", got)
	}
}
