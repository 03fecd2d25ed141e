package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthRequiresToken(t *testing.T) {
	h := Auth("secret")(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/portfolio", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/portfolio", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/portfolio", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// TestAuthExemptPaths verifies the health probe and metrics scrape stay
// reachable without credentials even when an API key is configured.
func TestAuthExemptPaths(t *testing.T) {
	h := Auth("secret", "/api/health", "/metrics")(okHandler())

	for _, path := range []string{"/api/health", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	// Everything else still needs the key.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/engine/status", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthDisabledWhenNoKey(t *testing.T) {
	h := Auth("")(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/portfolio", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

// TestLoggingLevels verifies probe successes log at Debug, normal requests at
// Info, and failed requests at Warn.
func TestLoggingLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	status := http.StatusOK
	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))

	cases := []struct {
		name   string
		path   string
		status int
		level  string
	}{
		{"probe at debug", "/api/health", http.StatusOK, "level=DEBUG"},
		{"scrape at debug", "/metrics", http.StatusOK, "level=DEBUG"},
		{"api request at info", "/api/portfolio", http.StatusOK, "level=INFO"},
		{"failure at warn", "/api/health", http.StatusServiceUnavailable, "level=WARN"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf.Reset()
			status = tc.status
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tc.path, nil))

			line := buf.String()
			require.NotEmpty(t, line)
			assert.Contains(t, line, tc.level)
			assert.Contains(t, line, "path="+tc.path)
		})
	}
}

// TestCORSPreflight verifies preflights short-circuit with 204 and allowed
// origins get the CORS headers.
func TestCORSPreflight(t *testing.T) {
	h := CORS([]string{"https://ui.example.com"})(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/portfolio", nil)
	req.Header.Set("Origin", "https://ui.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://ui.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	// Unlisted origins get no CORS headers.
	req = httptest.NewRequest(http.MethodGet, "/api/portfolio", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
