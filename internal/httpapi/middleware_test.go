package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRateLimitExceeded(t *testing.T) {
	api := New(ReadyProbe{}, "test", nil, nil, nil, WithRateLimit(1, 1))
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, req.Clone(req.Context()))
	if rr1.Code != http.StatusOK {
		t.Fatalf("expected first call 200, got %d", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req.Clone(req.Context()))
	if rr2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr2.Code)
	}
	if rr2.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	if !strings.Contains(rr2.Body.String(), `"request_id"`) {
		t.Fatalf("expected request_id in body: %s", rr2.Body.String())
	}

	other := req.Clone(req.Context())
	other.RemoteAddr = "10.0.0.2:1234"
	rr3 := httptest.NewRecorder()
	handler.ServeHTTP(rr3, other)
	if rr3.Code != http.StatusOK {
		t.Fatalf("expected other client 200, got %d", rr3.Code)
	}
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	api := New(ReadyProbe{}, "test", nil, nil, nil)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	for _, h := range []string{"X-Content-Type-Options", "X-Frame-Options", "Content-Security-Policy", "X-Request-ID"} {
		if rr.Header().Get(h) == "" {
			t.Fatalf("expected %s header", h)
		}
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("expected propagated request id, got %q", got)
	}
}

func TestMaxBodyBytes(t *testing.T) {
	api := New(ReadyProbe{}, "test", nil, nil, nil, WithMaxBodyBytes(16))
	req := httptest.NewRequest(http.MethodPost, "/api/verify",
		strings.NewReader(`{"phoneNumber":"010-0000-0000-0000-0000"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	api := New(ReadyProbe{}, "test", nil, nil, nil, WithCORSOrigins([]string{"https://app.example.com"}))
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/logout", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("unexpected allow origin %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/logout", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unexpected allow origin for foreign site")
	}
}

func TestIsPublicPath(t *testing.T) {
	cases := map[string]bool{
		"/api/building":             true,
		"/api/login":                true,
		"/api/chat/12/kickRequest":  true,
		"/api/logout":               false,
		"/api/notify/fcm-token":     false,
		"/ws/chat":                  false,
		"/metrics":                  true,
		"/api/chat/12/kickRequests": false,
	}
	for path, want := range cases {
		if got := isPublicPath(path); got != want {
			t.Errorf("isPublicPath(%q) = %v, want %v", path, got, want)
		}
	}
}
