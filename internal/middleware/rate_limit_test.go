package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/gatekeeper/internal/metrics"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitByIP_EnforcesLimit(t *testing.T) {
	handler := RateLimitByIP(RateLimitConfig{Requests: 3})(okHandler())

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest("POST", "/auth/login", nil)
		req.RemoteAddr = "192.0.2.50:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{200, 200, 200, 429}, codes)
}

func TestRateLimitByIP_SeparateClients(t *testing.T) {
	handler := RateLimitByIP(RateLimitConfig{Requests: 1})(okHandler())

	for _, addr := range []string{"192.0.2.1:1", "192.0.2.2:1"} {
		req := httptest.NewRequest("POST", "/auth/login", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, addr)
	}
}

func TestRateLimitByIP_JSONBody(t *testing.T) {
	handler := RateLimitByIP(RateLimitConfig{Requests: 1})(okHandler())

	var last *httptest.ResponseRecorder
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/auth/login", nil)
		req.RemoteAddr = "192.0.2.99:1"
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, req)
	}

	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.Equal(t, "application/json", last.Header().Get("Content-Type"))
	assert.Contains(t, last.Body.String(), `"rate_limit_exceeded"`)
}

// recordingCounter is an in-memory httprate.LimitCounter that remembers
// the window it was configured with and the keys it counted.
type recordingCounter struct {
	mu     sync.Mutex
	window time.Duration
	counts map[string]int
}

func (c *recordingCounter) Config(requestLimit int, windowLength time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.window = windowLength
	c.counts = make(map[string]int)
}

func (c *recordingCounter) Increment(key string, currentWindow time.Time) error {
	return c.IncrementBy(key, currentWindow, 1)
}

func (c *recordingCounter) IncrementBy(key string, currentWindow time.Time, amount int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key] += amount
	return nil
}

func (c *recordingCounter) Get(key string, currentWindow, previousWindow time.Time) (int, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key], 0, nil
}

func (c *recordingCounter) keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.counts))
	for k := range c.counts {
		keys = append(keys, k)
	}
	return keys
}

func TestRateLimitByIP_UsesConfiguredWindow(t *testing.T) {
	counter := &recordingCounter{}
	RateLimitByIP(RateLimitConfig{Requests: 10, Window: 15 * time.Minute, Counter: counter})

	assert.Equal(t, 15*time.Minute, counter.window)

	RateLimitByIP(RateLimitConfig{Requests: 10, Counter: counter})
	assert.Equal(t, time.Minute, counter.window)
}

func TestRateLimitByIP_IgnoresSpoofedForwardingHeaders(t *testing.T) {
	ipConfig, err := pkghttp.NewIPConfig([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	handler := RateLimitByIP(RateLimitConfig{Requests: 1, IPConfig: ipConfig})(okHandler())

	codes := make([]int, 0, 3)
	for _, spoofed := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"} {
		req := httptest.NewRequest("POST", "/auth/login", nil)
		req.RemoteAddr = "203.0.113.40:5555"
		req.Header.Set("X-Forwarded-For", spoofed)
		req.Header.Set("X-Real-IP", spoofed)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{200, 429, 429}, codes)
}

func TestRateLimitByIP_KeysOnForwardedClientBehindTrustedProxy(t *testing.T) {
	ipConfig, err := pkghttp.NewIPConfig([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	counter := &recordingCounter{}
	handler := RateLimitByIP(RateLimitConfig{Requests: 1, IPConfig: ipConfig, Counter: counter})(okHandler())

	for _, client := range []string{"198.51.100.1", "198.51.100.2"} {
		req := httptest.NewRequest("POST", "/auth/login", nil)
		req.RemoteAddr = "10.0.0.5:443"
		req.Header.Set("X-Forwarded-For", client)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, client)
	}

	assert.ElementsMatch(t, []string{"198.51.100.1:", "198.51.100.2:"}, counter.keys())
}

func TestSecureLogger_RedactsAndRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	m := metrics.New("test")

	r := chi.NewRouter()
	r.Use(SecureLogger(logger, m))
	r.Get("/admin/users/{id}/audit", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/admin/users/abc/audit?token=secret", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	require.Contains(t, out, "http_request")
	assert.NotContains(t, out, "secret")
	assert.Contains(t, out, "[REDACTED]")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/admin/users/{id}/audit", "200")))
}
