package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vango-go/voicebridge/pkg/gateway/config"
)

func testServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := config.Config{
		AuthMode:           config.AuthModeDisabled,
		APIKeys:            map[string]struct{}{},
		CORSAllowedOrigins: map[string]struct{}{},

		UpstreamURL: "ws://unreachable.invalid",
		AppID:       "app-test",
		AccessKey:   "ak-test",

		InitialReconnectDelay: 10 * time.Millisecond,
		MaxReconnectDelay:     20 * time.Millisecond,
		MaxReconnectAttempts:  1,

		MaxSessions:        4,
		SessionIdleTimeout: time.Minute,
		SweepInterval:      time.Minute,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	s := New(cfg, logger)
	t.Cleanup(s.Registry().CloseAll)
	return s
}

func TestServer_UnknownRoute_ReturnsJSON404(t *testing.T) {
	s := testServer(t, nil)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%q", ct)
	}
	if !strings.Contains(rr.Body.String(), `"type":"not_found_error"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}

func TestServer_HealthRoute(t *testing.T) {
	s := testServer(t, nil)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestServer_SessionLifecycleOverHTTP(t *testing.T) {
	s := testServer(t, nil)
	h := s.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/voice/sessions", nil))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%q", rr.Code, rr.Body.String())
	}
	var snap map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	id, _ := snap["sessionId"].(string)
	if id == "" {
		t.Fatal("expected sessionId")
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/voice/sessions/"+id, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("get status=%d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/voice/status", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"activeSessions":1`) {
		t.Fatalf("status body=%q", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/v1/voice/sessions/"+id, nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", rr.Code)
	}
	if s.Registry().Count() != 0 {
		t.Fatalf("count=%d after delete", s.Registry().Count())
	}
}

func TestServer_MetricsRoute(t *testing.T) {
	s := testServer(t, nil)
	h := s.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/voice/sessions", nil))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "voicebridge_sessions_active 1") {
		t.Fatalf("expected sessions_active metric, got:\n%s", body)
	}
	if !strings.Contains(body, "voicebridge_sessions_created_total 1") {
		t.Fatalf("expected sessions_created_total metric")
	}
}

func TestServer_AuthRequired(t *testing.T) {
	s := testServer(t, func(cfg *config.Config) {
		cfg.AuthMode = config.AuthModeRequired
		cfg.APIKeys = map[string]struct{}{"sk-test": {}}
	})
	h := s.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/voice/status", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rr.Code)
	}

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/voice/status", nil)
	req.Header.Set("Authorization", "Bearer sk-test")
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rr.Code)
	}
}
