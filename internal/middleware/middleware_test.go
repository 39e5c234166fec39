package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cassiomorais/paygate/internal/infrastructure/observability"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func TestMetrics_RecordsRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("test", reg)

	r := chi.NewRouter()
	r.Use(Metrics(metrics))
	r.Post("/webhooks/{gateway}", okHandler)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/paystack", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("POST", "/webhooks/{gateway}", "200")))
}

func TestMetrics_StatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"200 OK", http.StatusOK},
		{"400 Bad Request", http.StatusBadRequest},
		{"401 Unauthorized", http.StatusUnauthorized},
		{"503 Service Unavailable", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := observability.NewMetrics("test", prometheus.NewRegistry())
			r := chi.NewRouter()
			r.Use(Metrics(metrics))
			r.Get("/test", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(tt.statusCode) })

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

			assert.Equal(t, tt.statusCode, w.Code)
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/test", strconv.Itoa(tt.statusCode))))
		})
	}
}

func TestMetrics_NilMetricsPassesThrough(t *testing.T) {
	w := httptest.NewRecorder()
	Metrics(nil)(http.HandlerFunc(okHandler)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetrics_UnmatchedRoute(t *testing.T) {
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	w := httptest.NewRecorder()

	Metrics(metrics)(http.HandlerFunc(okHandler)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/unknown", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "200")))
}

func TestStatusWriter_WriteHeader(t *testing.T) {
	w := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

	sw.WriteHeader(http.StatusCreated)

	assert.Equal(t, http.StatusCreated, sw.statusCode)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestTracing_WithChiRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Tracing())
	r.Get("/api/v1/payments/{reference}/verify", okHandler)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/payments/ORD-1/verify", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestTracing_WithoutRouter(t *testing.T) {
	w := httptest.NewRecorder()
	Tracing()(http.HandlerFunc(okHandler)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/unknown", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func signToken(t *testing.T, secret string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Scope: "payments",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "checkout",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestRequireAuth(t *testing.T) {
	const secret = "0123456789abcdef0123456789abcdef"
	var caller string
	h := RequireAuth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, _ = GetCaller(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad signature", "Bearer " + signToken(t, "another-secret-another-secret-xx", time.Now().Add(time.Hour)), http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, secret, time.Now().Add(-time.Minute)), http.StatusUnauthorized},
		{"valid", "Bearer " + signToken(t, secret, time.Now().Add(time.Hour)), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
	assert.Equal(t, "checkout", caller)
}

func TestSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SecurityHeaders()(http.HandlerFunc(okHandler)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
}

func TestMaxBody_RejectsOversizedBody(t *testing.T) {
	var readErr error
	h := MaxBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 64)
		_, readErr = r.Body.Read(buf)
		for readErr == nil {
			_, readErr = r.Body.Read(buf)
		}
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64))))

	var maxErr *http.MaxBytesError
	assert.ErrorAs(t, readErr, &maxErr)
}

func TestRateLimit_PerEndpoint(t *testing.T) {
	h := RateLimit(1)(http.HandlerFunc(okHandler))
	do := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = "10.0.0.1:4000"
		h.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, do("/webhooks/paystack").Code)
	limited := do("/webhooks/paystack")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Contains(t, limited.Body.String(), "rate_limited")
	assert.Equal(t, http.StatusOK, do("/webhooks/opay").Code)
}

func TestRateLimit_DisabledWhenNonPositive(t *testing.T) {
	h := RateLimit(0)(http.HandlerFunc(okHandler))
	for range 5 {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

type memoryIdempotencyStore struct {
	mu    sync.Mutex
	data  map[string]*StoredResponse
	locks map[string]string
}

func newMemoryIdempotencyStore() *memoryIdempotencyStore {
	return &memoryIdempotencyStore{data: map[string]*StoredResponse{}, locks: map[string]string{}}
}

func (s *memoryIdempotencyStore) Get(_ context.Context, key string) (*StoredResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *memoryIdempotencyStore) Set(_ context.Context, key string, resp *StoredResponse, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		s.data[key] = resp
	}
	return nil
}

func (s *memoryIdempotencyStore) Lock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.locks[key]; held {
		return "", false, nil
	}
	token := key + "-token"
	s.locks[key] = token
	return token, true, nil
}

func (s *memoryIdempotencyStore) Unlock(_ context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[key] == token {
		delete(s.locks, key)
	}
	return nil
}

func idempotentRequest(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(body))
	req.Header.Set("Idempotency-Key", key)
	return req
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	store := newMemoryIdempotencyStore()
	calls := 0
	h := Idempotency(store)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"gateway_id":"paystack"}`))
	}))

	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", nil)
		req.Header.Set("Idempotency-Key", "idem-1")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.JSONEq(t, `{"gateway_id":"paystack"}`, w.Body.String())
	}

	assert.Equal(t, 1, calls)
}

func TestIdempotency_DoesNotStoreServerErrors(t *testing.T) {
	store := newMemoryIdempotencyStore()
	h := Idempotency(store)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", nil)
	req.Header.Set("Idempotency-Key", "idem-2")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Empty(t, store.data)
}

func TestIdempotency_NoKeyPassesThrough(t *testing.T) {
	store := newMemoryIdempotencyStore()
	w := httptest.NewRecorder()

	Idempotency(store)(http.HandlerFunc(okHandler)).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, store.data)
}

func TestIdempotency_LargeBodyNotStored(t *testing.T) {
	store := newMemoryIdempotencyStore()
	large := bytes.Repeat([]byte("x"), maxIdempotencyBodySize+100)
	h := Idempotency(store)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(large)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Idempotency-Key", "idem-3")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, len(large), w.Body.Len(), "client still receives the full body")
	assert.Empty(t, store.data)
}

func TestIdempotency_ConcurrentRetryRunsHandlerOnce(t *testing.T) {
	store := newMemoryIdempotencyStore()
	var calls atomic.Int32
	h := Idempotency(store)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"gateway_id":"paystack"}`))
	}))

	var wg sync.WaitGroup
	codes := make([]int, 8)
	for i := range codes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			h.ServeHTTP(w, idempotentRequest("idem-race", `{"reference":"ORD-1"}`))
			codes[i] = w.Code
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, code := range codes {
		assert.Contains(t, []int{http.StatusCreated, http.StatusConflict}, code)
	}
	assert.Contains(t, codes, http.StatusCreated)
}

func TestIdempotency_InFlightRequestGetsConflict(t *testing.T) {
	store := newMemoryIdempotencyStore()
	started := make(chan struct{})
	release := make(chan struct{})
	h := Idempotency(store)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"gateway_id":"opay"}`))
	}))

	first := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		h.ServeHTTP(first, idempotentRequest("idem-flight", `{}`))
		close(done)
	}()
	<-started

	second := httptest.NewRecorder()
	h.ServeHTTP(second, idempotentRequest("idem-flight", `{}`))
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Contains(t, second.Body.String(), "idempotency_in_progress")

	close(release)
	<-done
	assert.Equal(t, http.StatusCreated, first.Code)

	third := httptest.NewRecorder()
	h.ServeHTTP(third, idempotentRequest("idem-flight", `{}`))
	assert.Equal(t, http.StatusCreated, third.Code)
	assert.Equal(t, "true", third.Header().Get("X-Idempotency-Replayed"))
}

func TestIdempotency_KeyReusedWithDifferentBody(t *testing.T) {
	store := newMemoryIdempotencyStore()
	calls := 0
	h := Idempotency(store)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, idempotentRequest("idem-reuse", `{"reference":"ORD-1"}`))
	require.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, idempotentRequest("idem-reuse", `{"reference":"ORD-2"}`))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "idempotency_key_reused")
	assert.Equal(t, 1, calls)
}

func TestIdempotency_HandlerSeesOriginalBody(t *testing.T) {
	var got string
	h := Idempotency(newMemoryIdempotencyStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got = string(b)
		w.WriteHeader(http.StatusCreated)
	}))

	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest("idem-body", `{"reference":"ORD-9"}`))

	assert.Equal(t, `{"reference":"ORD-9"}`, got)
}

func TestIdempotency_ServerErrorReleasesLock(t *testing.T) {
	store := newMemoryIdempotencyStore()
	status := http.StatusServiceUnavailable
	calls := 0
	h := Idempotency(store)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(status)
	}))

	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest("idem-retry", `{}`))
	status = http.StatusCreated
	w := httptest.NewRecorder()
	h.ServeHTTP(w, idempotentRequest("idem-retry", `{}`))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 2, calls)
	assert.Empty(t, store.locks)
}
