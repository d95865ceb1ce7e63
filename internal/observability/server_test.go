package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz_AlwaysOK(t *testing.T) {
	s := NewServer(":0", func() bool { return false })

	rec := get(t, s, "/healthz")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 from /healthz, got %d", rec.Code)
	}
}

func TestReadyz_ReflectsSessionState(t *testing.T) {
	connected := false
	s := NewServer(":0", func() bool { return connected })

	rec := get(t, s, "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 from /readyz while disconnected, got %d", rec.Code)
	}

	connected = true
	rec = get(t, s, "/readyz")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 from /readyz once connected, got %d", rec.Code)
	}
}

func TestReadyz_NilHookAlwaysReady(t *testing.T) {
	s := NewServer(":0", nil)

	rec := get(t, s, "/readyz")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 from /readyz with nil hook, got %d", rec.Code)
	}
}

func TestMetricsEndpointServes(t *testing.T) {
	s := NewServer(":0", nil)

	rec := get(t, s, "/metrics")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 from /metrics, got %d", rec.Code)
	}
}
