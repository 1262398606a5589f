package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"facegate/internal/manager"
	"facegate/pkg/types"
)

func TestRateLimit_AppliesToPipelineRoutesOnly(t *testing.T) {
	SetRateLimit(0.001, 2)
	defer SetRateLimit(0, 0)

	svc := &mockService{outcome: manager.Outcome{Kind: manager.OutcomeSuccess, Payload: types.RegisterResponse{Success: true}}}
	h := NewMux(svc)
	send := func(method, path, ip string) int {
		req := httptest.NewRequest(method, path, strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Real-IP", ip)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}
	for i := 0; i < 2; i++ {
		if code := send(http.MethodPost, "/register", "203.0.113.7"); code != http.StatusOK {
			t.Fatalf("request %d: status=%d", i, code)
		}
	}
	if code := send(http.MethodPost, "/register", "203.0.113.7"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := send(http.MethodPost, "/register", "203.0.113.8"); code != http.StatusOK {
		t.Fatalf("other client limited: %d", code)
	}
	if code := send(http.MethodGet, "/healthz", "203.0.113.7"); code != http.StatusOK {
		t.Fatalf("ops routes must not be limited: %d", code)
	}
	if svc.calls != 3 {
		t.Fatalf("service calls=%d", svc.calls)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	store := newLimiterStore(0.001, 2)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := rateLimitMiddleware(store)(ok)

	do := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/verify", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}
	for i := 0; i < 2; i++ {
		if w := do("10.0.0.1:1234"); w.Code != http.StatusOK {
			t.Fatalf("request %d within burst: status=%d", i, w.Code)
		}
	}
	w := do("10.0.0.1:5555")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
	if w := do("10.0.0.2:1234"); w.Code != http.StatusOK {
		t.Fatalf("other client should not be limited, got %d", w.Code)
	}
}

func TestLimiterStore_CleanupDropsIdleKeys(t *testing.T) {
	store := newLimiterStore(1, 1)
	now := time.Now()
	store.now = func() time.Time { return now }
	store.get("a")
	now = now.Add(10 * time.Minute)
	store.get("b")
	now = now.Add(10 * time.Minute)
	store.cleanup()
	if n := store.len(); n != 1 {
		t.Fatalf("expected only the recent key to survive, got %d", n)
	}
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:8080"
	if got := clientKey(req); got != "192.0.2.1" {
		t.Fatalf("clientKey=%q", got)
	}
	req.RemoteAddr = "192.0.2.1"
	if got := clientKey(req); got != "192.0.2.1" {
		t.Fatalf("clientKey without port=%q", got)
	}
}
