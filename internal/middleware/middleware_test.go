package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"

	"github.com/atproject/projectone/internal/app/auth"
	"github.com/atproject/projectone/internal/app/metrics"
	"github.com/atproject/projectone/internal/config"
	"github.com/atproject/projectone/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *logger.Logger {
	return logger.New(logger.LoggingConfig{Level: "error", Output: "stderr"}).Named("test")
}

func principalEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.PrincipalFrom(r.Context())
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("X-Subject", p.Subject)
		w.Header().Set("X-Role", p.Role)
		w.WriteHeader(http.StatusOK)
	})
}

func newAuth(t *testing.T, cfg config.AuthConfig) *AuthMiddleware {
	t.Helper()
	mgr, err := auth.NewManager(cfg)
	require.NoError(t, err)
	return NewAuthMiddleware(mgr, testLogger(), []string{"/healthz", "/auth/login"})
}

func serve(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthDisabledIsAnonymousAdmin(t *testing.T) {
	h := newAuth(t, config.AuthConfig{}).Handler(principalEcho())

	rec := serve(h, http.MethodPost, "/accounts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", rec.Header().Get("X-Subject"))
	assert.Equal(t, auth.RoleAdmin, rec.Header().Get("X-Role"))
}

func TestAuthTokens(t *testing.T) {
	m := newAuth(t, config.AuthConfig{Tokens: "root-token,write-token:writer,view-token:viewer"})
	h := m.Handler(principalEcho())

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		header string
		status int
		role   string
	}{
		{name: "health skips auth", method: http.MethodGet, path: "/healthz", status: http.StatusNoContent},
		{name: "login skips auth", method: http.MethodPost, path: "/auth/login", status: http.StatusNoContent},
		{name: "missing header", method: http.MethodGet, path: "/accounts", status: http.StatusUnauthorized},
		{name: "wrong scheme", method: http.MethodGet, path: "/accounts", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "unknown token", method: http.MethodGet, path: "/accounts", token: "nope", status: http.StatusUnauthorized},
		{name: "admin write", method: http.MethodPost, path: "/accounts", token: "root-token", status: http.StatusOK, role: auth.RoleAdmin},
		{name: "writer write", method: http.MethodDelete, path: "/accounts/a1", token: "write-token", status: http.StatusOK, role: auth.RoleWriter},
		{name: "viewer read", method: http.MethodGet, path: "/accounts", token: "view-token", status: http.StatusOK, role: auth.RoleViewer},
		{name: "viewer write", method: http.MethodPost, path: "/accounts", token: "view-token", status: http.StatusForbidden},
		{name: "preflight", method: http.MethodOptions, path: "/accounts", status: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			switch {
			case tt.header != "":
				req.Header.Set("Authorization", tt.header)
			case tt.token != "":
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
			if tt.role != "" {
				assert.Equal(t, tt.role, rec.Header().Get("X-Role"))
			}
			if tt.status == http.StatusUnauthorized {
				assert.Contains(t, rec.Body.String(), `"code":"UNAUTHORIZED"`)
			}
			if tt.status == http.StatusForbidden {
				assert.Contains(t, rec.Body.String(), `"code":"FORBIDDEN"`)
			}
		})
	}
}

func TestAuthJWT(t *testing.T) {
	mgr, err := auth.NewManager(config.AuthConfig{JWTSecret: "s3cret", Users: "carol:pw:viewer"})
	require.NoError(t, err)
	m := NewAuthMiddleware(mgr, testLogger(), nil)
	h := m.Handler(principalEcho())

	token, _, err := mgr.Login("carol", "pw")
	require.NoError(t, err)

	rec := serve(h, http.MethodGet, "/accounts", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "carol", rec.Header().Get("X-Subject"))

	rec = serve(h, http.MethodPut, "/accounts/a/items/b", token)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(h, http.MethodGet, "/accounts", token+"x")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAdmin(t *testing.T) {
	m := newAuth(t, config.AuthConfig{Tokens: "root-token,write-token:writer"})
	h := m.Handler(m.RequireAdmin(principalEcho()))

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/audit", "root-token").Code)
	assert.Equal(t, http.StatusForbidden, serve(h, http.MethodGet, "/audit", "write-token").Code)

	// without the auth handler in front there is no principal
	bare := m.RequireAdmin(principalEcho())
	assert.Equal(t, http.StatusUnauthorized, serve(bare, http.MethodGet, "/audit", "").Code)
}

func TestRateLimiterRejectsAfterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 2, testLogger())
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/accounts", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			assert.Equal(t, "1", rec.Header().Get("Retry-After"))
			assert.Contains(t, rec.Body.String(), `"code":"RATE_LIMITED"`)
		}
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// another client has its own bucket
	req := httptest.NewRequest(http.MethodGet, "/accounts", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, rl.Size())
}

func TestRateLimiterKeysByPrincipal(t *testing.T) {
	rl := NewRateLimiter(1, 1, testLogger())
	inner := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	call := func(subject, addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/accounts", nil)
		req.RemoteAddr = addr
		req = req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{Subject: subject, Role: auth.RoleAdmin}))
		rec := httptest.NewRecorder()
		inner.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call("token-1", "10.0.0.1:1"))
	assert.Equal(t, http.StatusTooManyRequests, call("token-1", "10.0.0.9:1"), "same principal from a different address")
	assert.Equal(t, http.StatusOK, call("token-2", "10.0.0.1:1"))
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, 0, testLogger())
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/", "").Code)
	}
	assert.Zero(t, rl.Size())
}

func TestRateLimiterCleanupAndLifecycle(t *testing.T) {
	rl := NewRateLimiter(10, 10, testLogger())
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.getLimiter("old")
	now = now.Add(20 * time.Minute)
	rl.getLimiter("fresh")

	assert.Equal(t, 1, rl.Cleanup(10*time.Minute))
	assert.Equal(t, 1, rl.Size())

	ctx := context.Background()
	require.NoError(t, rl.Start(ctx))
	require.NoError(t, rl.Start(ctx), "second start is a no-op")
	require.NoError(t, rl.Stop(ctx))
	require.NoError(t, rl.Stop(ctx), "second stop is a no-op")
	assert.Equal(t, "rate-limiter", rl.Name())
}

var hexTraceID = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestTracingUsesSpanTraceID(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	var seen string
	h := NewTracingMiddleware(tp, testLogger()).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.TraceID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := serve(h, http.MethodGet, "/accounts", "")
	header := rec.Header().Get(TraceHeader)
	assert.Regexp(t, hexTraceID, header)
	assert.Equal(t, header, seen)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, header, spans[0].SpanContext().TraceID().String())
	assert.Equal(t, "GET /accounts", spans[0].Name())
}

func TestTracingWithoutProvider(t *testing.T) {
	h := NewTracingMiddleware(nil, testLogger()).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := serve(h, http.MethodGet, "/healthz", "")
	_, err := uuid.Parse(rec.Header().Get(TraceHeader))
	assert.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(TraceHeader, "client-supplied")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "client-supplied", rec.Header().Get(TraceHeader))
}

func TestMetricsMiddlewareUsesRouteTemplate(t *testing.T) {
	router := mux.NewRouter()
	router.Use(MetricsMiddleware)
	router.HandleFunc("/accounts/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}).Methods(http.MethodGet)

	rec := serve(router, http.MethodGet, "/accounts/abc-123", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	families, err := metrics.Registry.Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range families {
		if mf.GetName() != "projectone_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["path"] == "/accounts/{id}" && labels["status"] == "202" {
				found = true
			}
			assert.NotEqual(t, "/accounts/abc-123", labels["path"])
		}
	}
	assert.True(t, found, "request counter with route template not found")
}

func TestCORSPreflight(t *testing.T) {
	h := CORSMiddleware([]string{"https://app.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("preflight must not reach the handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/accounts", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)

	req = httptest.NewRequest(http.MethodOptions, "/accounts", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWrappedWriterSupportsWebsocketUpgrade(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte("hello"))
		conn.Close()
	})
	h := NewTracingMiddleware(nil, testLogger()).Handler(MetricsMiddleware(ws))

	server := httptest.NewServer(h)
	defer server.Close()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+server.URL[len("http"):], nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(msg))
}
