package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-rbac/internal/app"
	"github.com/odyssey-erp/odyssey-rbac/internal/observability"
	"github.com/odyssey-erp/odyssey-rbac/internal/rbac"
	_ "github.com/odyssey-erp/odyssey-rbac/testing"
)

func testConfig() *app.Config {
	return &app.Config{
		AppEnv:             "test",
		AppRequestTimeout:  5 * time.Second,
		JWTSecret:          "router-test-secret-0123456789",
		JWTAccessTTL:       time.Minute,
		JWTRefreshTTL:      time.Hour,
		PermissionCacheTTL: time.Minute,
	}
}

type stack struct {
	handler http.Handler
	metrics *observability.Metrics
}

func newStack(t *testing.T, checks map[string]app.HealthCheck) stack {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := testConfig()
	metrics := observability.NewMetrics()
	services := app.NewServices(app.ServicesParams{
		Repo:    rbac.NewMemoryRepository(),
		Redis:   client,
		Config:  cfg,
		Metrics: metrics,
	})
	_, err := services.RBAC.Seed(context.Background(), rbac.SeedOptions{
		AdminUsername: "admin", AdminEmail: "admin@example.com", AdminPassword: "admin12345",
	})
	require.NoError(t, err)

	return stack{
		handler: app.NewRouter(app.RouterParams{Config: cfg, Services: services, Metrics: metrics, Checks: checks}),
		metrics: metrics,
	}
}

func (s stack) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s stack) login(t *testing.T) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/users/login", "", `{"username":"admin","password":"admin12345"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out.Access)
	require.NotEmpty(t, out.Refresh)
	return out.Access
}

func TestHealthz(t *testing.T) {
	s := newStack(t, map[string]app.HealthCheck{
		"postgres": func(context.Context) error { return nil },
	})
	rec := s.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"postgres":"ok"}}`, rec.Body.String())

	degraded := newStack(t, map[string]app.HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	rec = degraded.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","checks":{"redis":"unavailable"}}`, rec.Body.String())
}

func TestAPIRequiresBearerToken(t *testing.T) {
	s := newStack(t, nil)
	for _, path := range []string{"/api/v1/roles/", "/api/v1/permissions/", "/api/v1/users/", "/api/v1/user-roles/", "/api/v1/role-permissions/"} {
		rec := s.do(t, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.Contains(t, rec.Body.String(), `"detail"`, path)
	}
}

func TestLoginThenList(t *testing.T) {
	s := newStack(t, nil)
	token := s.login(t)

	rec := s.do(t, http.MethodGet, "/api/v1/permissions/?page_size=5", token, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page struct {
		Count    int               `json:"count"`
		Next     *string           `json:"next"`
		Previous *string           `json:"previous"`
		Results  []rbac.Permission `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Greater(t, page.Count, 5)
	assert.Len(t, page.Results, 5)
	require.NotNil(t, page.Next)
	assert.Contains(t, *page.Next, "page=2")
	assert.Nil(t, page.Previous)

	rec = s.do(t, http.MethodGet, "/api/v1/roles/", token, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), rbac.RoleAdministrator)
}

func TestSecurityHeadersAndNotFound(t *testing.T) {
	s := newStack(t, nil)
	rec := s.do(t, http.MethodGet, "/api/v1/nowhere", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Contains(t, rec.Body.String(), "Not found.")
}

func TestMetricsExposeDecisions(t *testing.T) {
	s := newStack(t, nil)
	token := s.login(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/roles/", token, "").Code)

	rec := s.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `odyssey_rbac_decisions_total{codename="role_view",decision="allow"} 1`)
	assert.Contains(t, rec.Body.String(), `odyssey_http_requests_total`)
}
