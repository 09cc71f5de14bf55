package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxprep/voxprep/pkg/gateway/config"
)

func corsConfig(origins ...string) config.Config {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return config.Config{CORSAllowedOrigins: allowed}
}

func TestCORS_PreflightAllowed(t *testing.T) {
	h := CORS(corsConfig("https://app.example"), noop204())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/v1/interview", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "GET")
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status=%d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("allow-origin=%q", got)
	}
	if rr.Header().Get("Access-Control-Allow-Headers") == "" {
		t.Fatal("missing Access-Control-Allow-Headers")
	}
}

func TestCORS_PreflightDeniedForUnknownOrigin(t *testing.T) {
	h := CORS(corsConfig("https://app.example"), noop204())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/v1/interview", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", "GET")
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestCORS_PreflightDeniedWhenDisabled(t *testing.T) {
	h := CORS(corsConfig(), noop204())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/v1/interview", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "GET")
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestCORS_SimpleRequestGetsHeadersWhenAllowlisted(t *testing.T) {
	h := CORS(corsConfig("https://app.example"), noop204())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://app.example")
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status=%d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("allow-origin=%q", got)
	}
}

func TestCORS_SimpleRequestNoHeadersForUnknownOrigin(t *testing.T) {
	h := CORS(corsConfig("https://app.example"), noop204())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://other.example")
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status=%d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("allow-origin=%q, want empty", got)
	}
}
