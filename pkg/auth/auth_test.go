package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func testHandler(cfg SecConfig) http.Handler {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return Middleware(cfg)(ok)
}

func TestMiddlewareRejectsMissingKey(t *testing.T) {
	h := testHandler(SecConfig{BackendKeys: []string{"bk"}})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/queue", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestMiddlewareAcceptsKnownKeys(t *testing.T) {
	h := testHandler(SecConfig{BackendKeys: []string{"bk"}, AdminKeys: []string{"ak"}})

	req := httptest.NewRequest(http.MethodGet, "/v1/queue", nil)
	req.Header.Set("X-API-Key", "bk")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "backend", req.Header.Get("X-Role-Name"))

	req = httptest.NewRequest(http.MethodGet, "/v1/queue", nil)
	req.Header.Set("Authorization", "Bearer ak")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "admin", req.Header.Get("X-Role-Name"))
}

func TestMiddlewareOpenPaths(t *testing.T) {
	h := testHandler(SecConfig{BackendKeys: []string{"bk"}})

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rr.Code, path)
	}

	// the continuation endpoint carries its own nonce check
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/internal/feeds/continue?nonce=x", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestMiddlewareRateLimit(t *testing.T) {
	h := testHandler(SecConfig{BackendKeys: []string{"bk"}, RPS: 1, Burst: 2})

	codes := map[int]int{}
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/queue", nil)
		req.Header.Set("X-API-Key", "bk")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		codes[rr.Code]++
	}
	require.Equal(t, 2, codes[http.StatusOK])
	require.Equal(t, 3, codes[http.StatusTooManyRequests])
}

func TestMiddlewareCORSPreflight(t *testing.T) {
	h := testHandler(SecConfig{AllowedOrigins: []string{"https://ui.test"}})

	req := httptest.NewRequest(http.MethodOptions, "/v1/queue", nil)
	req.Header.Set("Origin", "https://ui.test")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, "https://ui.test", rr.Header().Get("Access-Control-Allow-Origin"))
}
