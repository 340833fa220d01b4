package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorzero/curator/internal/model"
	"github.com/tensorzero/curator/internal/ratelimit"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRateLimitMiddleware(t *testing.T) {
	// rate=1 token/sec and burst=2 allows the first 2 rapid requests then
	// rejects until tokens refill.
	limiter := ratelimit.NewMemoryLimiter(1, 2)
	defer func() { _ = limiter.Close() }()

	handler := rateLimitMiddleware(limiter, quietLogger(), false, okHandler)

	for i := range 3 {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/some-path", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		handler.ServeHTTP(rec, req)

		if i < 2 {
			assert.Equal(t, http.StatusOK, rec.Code, "request %d within burst", i+1)
			continue
		}
		assert.Equal(t, http.StatusTooManyRequests, rec.Code, "request %d after burst", i+1)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))

		var body model.APIError
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, model.ErrCodeRateLimited, body.Error.Code)
	}
}

func TestRateLimitMiddleware_DifferentIPs(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(1, 1)
	defer func() { _ = limiter.Close() }()

	handler := rateLimitMiddleware(limiter, quietLogger(), false, okHandler)
	do := func(addr string) int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/path", nil)
		req.RemoteAddr = addr
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1:1000"))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:1001"), "same IP, different port")
	assert.Equal(t, http.StatusOK, do("10.0.0.2:1000"))
}

func TestRateLimitMiddleware_ExemptsProbes(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(1, 1)
	defer func() { _ = limiter.Close() }()

	handler := rateLimitMiddleware(limiter, quietLogger(), false, okHandler)
	for range 5 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) { return false, errors.New("boom") }
func (brokenLimiter) Close() error                                { return nil }

func TestRateLimitMiddleware_LimiterError(t *testing.T) {
	rec := httptest.NewRecorder()
	rateLimitMiddleware(brokenLimiter{}, quietLogger(), false, okHandler).
		ServeHTTP(rec, httptest.NewRequest("GET", "/v1/x", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "fails open")

	rec = httptest.NewRecorder()
	rateLimitMiddleware(brokenLimiter{}, quietLogger(), true, okHandler).
		ServeHTTP(rec, httptest.NewRequest("GET", "/v1/x", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "fails closed")
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", 500))
	handler.ServeHTTP(rec, req)
	assert.Len(t, seen, 36, "oversized ids are replaced with a fresh UUID")
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := recoveryMiddleware(quietLogger(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body model.APIError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, model.ErrCodeInternalError, body.Error.Code)
	assert.NotContains(t, rec.Body.String(), "kaboom")
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	rec := httptest.NewRecorder()
	securityHeadersMiddleware(okHandler).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestCORSMiddleware(t *testing.T) {
	assert.NotNil(t, corsMiddleware(nil, okHandler))

	handler := corsMiddleware([]string{"https://app.example"}, okHandler)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/x", nil)
	req.Header.Set("Origin", "https://app.example")
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/v1/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Name string `json:"name"`
	}
	tests := []struct {
		name       string
		payload    string
		maxBytes   int64
		wantStatus int
	}{
		{"valid", `{"name":"x"}`, 1024, 0},
		{"unknown field", `{"nom":"x"}`, 1024, http.StatusBadRequest},
		{"trailing data", `{"name":"x"}{"name":"y"}`, 1024, http.StatusBadRequest},
		{"too large", `{"name":"` + strings.Repeat("x", 100) + `"}`, 16, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/", strings.NewReader(tt.payload))
			var b body
			err := decodeJSON(rec, req, &b, tt.maxBytes)
			if tt.wantStatus == 0 {
				require.NoError(t, err)
				assert.Equal(t, "x", b.Name)
				return
			}
			require.Error(t, err)
			handleDecodeError(rec, req, err)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}
