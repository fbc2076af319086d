package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestWrapAttachesClaims(t *testing.T) {
	cfg := Config{Secret: "test-secret", Issuer: "i5e.identity"}
	signed := signToken(t, cfg.Secret, jwt.MapClaims{
		"sub":    "user-1",
		"iss":    cfg.Issuer,
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": []string{"challenges:read"},
	})

	var got *Claims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/challenges", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rr := httptest.NewRecorder()
	NewMiddleware(cfg, nil).Wrap(next).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	if got == nil || got.Subject != "user-1" {
		t.Fatalf("expected claims for user-1, got %+v", got)
	}
	if !got.HasScope(ScopeChallengesRead) {
		t.Fatalf("missing scope: %+v", got.Scopes)
	}
}

func TestWrapRejectsMissingToken(t *testing.T) {
	cfg := Config{Secret: "test-secret", Issuer: "i5e.identity"}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a token")
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/challenges", nil)
	rr := httptest.NewRecorder()
	NewMiddleware(cfg, nil).Wrap(next).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected JSON error body, got content type %q", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if body["type"] != "unauthorized" || body["detail"] == "" {
		t.Fatalf("unexpected error body %+v", body)
	}
}

func TestWrapRejectsNonBearerScheme(t *testing.T) {
	cfg := Config{Secret: "test-secret", Issuer: "i5e.identity"}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run with a basic credential")
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/challenges", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rr := httptest.NewRecorder()
	NewMiddleware(cfg, nil).Wrap(next).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "invalid bearer token") {
		t.Fatalf("unexpected error body %s", rr.Body.String())
	}
}

func TestWrapSkipsExemptRoutes(t *testing.T) {
	cfg := Config{Secret: "test-secret", Issuer: "i5e.identity"}
	skipper := func(r *http.Request) bool { return r.URL.Path == "/healthz" }

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	NewMiddleware(cfg, skipper).Wrap(next).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK || !called {
		t.Fatalf("expected exempt request to pass through, got %d called=%v", rr.Code, called)
	}
}
