package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/BaSui01/longtask/api/handlers"
	"github.com/BaSui01/longtask/config"
	"github.com/BaSui01/longtask/internal/metrics"
	"github.com/BaSui01/longtask/types"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) handlers.Response {
	t.Helper()
	var resp handlers.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(okHandler())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "default-src 'none'", w.Header().Get("Content-Security-Policy"))
}

func TestRequestID(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = types.RequestID(r.Context())
	})
	handler := Chain(inner, SecurityHeaders(), RequestID())

	t.Run("generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		assert.Equal(t, w.Header().Get("X-Request-ID"), seen)
		assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	})

	t.Run("propagated", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Request-ID", "abc-123")
		handler.ServeHTTP(w, r)
		assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
		assert.Equal(t, "abc-123", seen)
	})
}

func TestRecovery(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	handler := Recovery(zap.NewNop())(panicking)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decodeEnvelope(t, w)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrInternalError), resp.Error.Code)
}

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestJWTAuth(t *testing.T) {
	cfg := config.JWTConfig{Secret: "s3cret", Issuer: "longtask"}

	var tenant, user, locale string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, _ = types.TenantID(r.Context())
		user, _ = types.UserID(r.Context())
		locale, _ = types.Locale(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := JWTAuth(cfg, publicPaths, zap.NewNop())(inner)

	tests := []struct {
		name       string
		path       string
		authHeader string
		wantStatus int
	}{
		{"public path skips auth", "/health", "", http.StatusOK},
		{"missing header", "/api/v1/tasks", "", http.StatusUnauthorized},
		{"not bearer", "/api/v1/tasks", "Basic Zm9vOmJhcg==", http.StatusUnauthorized},
		{"garbage token", "/api/v1/tasks", "Bearer not-a-jwt", http.StatusUnauthorized},
		{
			"wrong secret", "/api/v1/tasks",
			"Bearer " + signHS256(t, "other", jwt.MapClaims{"iss": "longtask", "sub": "u1"}),
			http.StatusUnauthorized,
		},
		{
			"wrong issuer", "/api/v1/tasks",
			"Bearer " + signHS256(t, "s3cret", jwt.MapClaims{"iss": "someone-else", "sub": "u1"}),
			http.StatusUnauthorized,
		},
		{
			"expired", "/api/v1/tasks",
			"Bearer " + signHS256(t, "s3cret", jwt.MapClaims{
				"iss": "longtask", "sub": "u1", "exp": time.Now().Add(-time.Hour).Unix(),
			}),
			http.StatusUnauthorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.authHeader != "" {
				r.Header.Set("Authorization", tt.authHeader)
			}
			handler.ServeHTTP(w, r)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				resp := decodeEnvelope(t, w)
				require.NotNil(t, resp.Error)
				assert.Equal(t, string(types.ErrUnauthorized), resp.Error.Code)
			}
		})
	}

	t.Run("valid token populates context", func(t *testing.T) {
		token := signHS256(t, "s3cret", jwt.MapClaims{
			"iss":       "longtask",
			"sub":       "subject-1",
			"tenant_id": "acme",
			"locale":    "de-DE",
			"exp":       time.Now().Add(time.Hour).Unix(),
		})
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "acme", tenant)
		assert.Equal(t, "subject-1", user)
		assert.Equal(t, "de-DE", locale)
	})
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := RateLimiter(ctx, 1, 2, publicPaths)(okHandler())

	send := func(path string) int {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, path, nil)
		r.RemoteAddr = "10.0.0.1:1234"
		handler.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("/api/v1/tasks"))
	assert.Equal(t, http.StatusOK, send("/api/v1/tasks"))
	assert.Equal(t, http.StatusTooManyRequests, send("/api/v1/tasks"))
	// 健康检查不受限
	assert.Equal(t, http.StatusOK, send("/health"))

	t.Run("tenants have separate buckets", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		r = r.WithContext(types.WithTenantID(r.Context(), "acme"))
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("disabled", func(t *testing.T) {
		h := RateLimiter(ctx, 0, 0, nil)(okHandler())
		for i := 0; i < 10; i++ {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil))
			assert.Equal(t, http.StatusOK, w.Code)
		}
	})
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/health", "/health"},
		{"/metrics", "/metrics"},
		{"/api/v1/tasks", "/api/v1/tasks"},
		{"/api/v1/definitions", "/api/v1/definitions"},
		{"/api/v1/tasks/8f14e45f-ceea-467f-a8d6-0a4b5c7e1b2a", "/api/v1/tasks/:id"},
		{"/api/v1/tasks/abc/abort", "/api/v1/tasks/:id/abort"},
		{"/api/v1/models/article/delete", "/api/v1/models/:id/delete"},
		{"/api/v1/unknown/x", "/other"},
		{"/api/v2/tasks", "/other"},
		{"/favicon.ico", "/other"},
		{"/api/v1/tasks/a/b/c/d", "/other"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizePath(tt.in))
		})
	}
}

func TestVisitorSet_Sweep(t *testing.T) {
	set := &visitorSet{rps: 1, burst: 1, visitors: make(map[string]*visitor)}
	now := time.Now()

	assert.True(t, set.allow("ip:1", now))
	assert.False(t, set.allow("ip:1", now))
	assert.True(t, set.allow("ip:2", now.Add(2*time.Minute)))

	assert.Equal(t, 1, set.sweep(now.Add(visitorTTL+time.Second)))
	assert.Len(t, set.visitors, 1)
	// 回收后重新获得完整 burst
	assert.True(t, set.allow("ip:1", now.Add(visitorTTL+time.Second)))
}

func TestClaimsContext_SubjectFallback(t *testing.T) {
	ctx := claimsContext(context.Background(), jwt.MapClaims{"sub": "s1", "user_id": 42})
	user, ok := types.UserID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "s1", user)
	_, ok = types.TenantID(ctx)
	assert.False(t, ok)
}

func TestObserve(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	collector := metrics.NewCollector("observe_test", nil)
	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/tasks/x" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}), RequestID(), Observe(zap.New(core), collector))

	for _, path := range []string{"/api/v1/tasks", "/api/v1/tasks/x"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.Equal(t, 2, logs.Len())
	first, second := logs.All()[0], logs.All()[1]
	assert.Equal(t, zapcore.InfoLevel, first.Level)
	assert.Equal(t, zapcore.WarnLevel, second.Level)
	assert.Equal(t, "/api/v1/tasks/:id", second.ContextMap()["route"])
	assert.Contains(t, first.ContextMap(), "request_id")

	n, err := promtestutil.GatherAndCount(collector.Registry(), "observe_test_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
