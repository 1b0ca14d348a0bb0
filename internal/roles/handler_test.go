package roles_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-rbac/internal/rbac"
	"github.com/odyssey-erp/odyssey-rbac/internal/roles"
	"github.com/odyssey-erp/odyssey-rbac/internal/shared"
	_ "github.com/odyssey-erp/odyssey-rbac/testing"
)

type fixture struct {
	repo      *rbac.MemoryRepository
	evaluator *rbac.Evaluator
	router    http.Handler
	adminID   int64
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := rbac.NewRedisPermissionCache(client, time.Minute)

	repo := rbac.NewMemoryRepository()
	svc := rbac.NewService(repo, cache, nil)
	report, err := svc.Seed(context.Background(), rbac.SeedOptions{AdminUsername: "admin", AdminEmail: "admin@example.com", AdminPassword: "admin12345"})
	require.NoError(t, err)

	ev := rbac.NewEvaluator(repo, cache, nil, nil)
	h := roles.NewHandler(nil, svc, rbac.NewReconciler(repo, cache, nil), rbac.Middleware{Evaluator: ev})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := shared.Principal{UserID: report.AdminID, IsStaff: true}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), p)))
		})
	})
	r.Route("/roles", h.MountRoutes)
	return fixture{repo: repo, evaluator: ev, router: r, adminID: report.AdminID}
}

func (f fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

func TestRoleCRUD(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/roles", `{"name":"editor","description":"Edits posts"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := int64(decode(t, rec)["id"].(float64))
	path := "/roles/" + itoa(id)

	rec = f.do(t, http.MethodPost, "/roles", `{"name":"editor"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "role with this name already exists", decode(t, rec)["detail"])

	rec = f.do(t, http.MethodPatch, path, `{"description":"Writes posts"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "editor", decode(t, rec)["name"])

	rec = f.do(t, http.MethodPut, path, `{"description":"missing name"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPatch, path, `{"name":"`+rbac.RoleMember+`"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/roles", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, decode(t, rec)["count"])

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, path, "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, path, "").Code)
}

func TestReconcileRolePermissionsInvalidatesHolders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	role, err := f.repo.CreateRole(ctx, rbac.Role{Name: "editor"})
	require.NoError(t, err)
	edit, err := f.repo.CreatePermission(ctx, rbac.Permission{Name: "Edit posts", Codename: "posts.edit"})
	require.NoError(t, err)
	view, err := f.repo.CreatePermission(ctx, rbac.Permission{Name: "View posts", Codename: "posts.view"})
	require.NoError(t, err)
	_, _, err = f.repo.Grant(ctx, f.adminID, role.ID)
	require.NoError(t, err)

	// prime the cache before the set changes
	allowed, err := f.evaluator.HasPermission(ctx, f.adminID, "posts.edit")
	require.NoError(t, err)
	require.False(t, allowed)

	base := "/roles/" + itoa(role.ID) + "/permissions"
	rec := f.do(t, http.MethodPut, base, `{"permissions":[`+itoa(edit.ID)+`,`+itoa(view.ID)+`]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	allowed, err = f.evaluator.HasPermission(ctx, f.adminID, "posts.edit")
	require.NoError(t, err)
	assert.True(t, allowed)

	rec = f.do(t, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{float64(edit.ID), float64(view.ID)}, decode(t, rec)["permissions"])

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, base+"/"+itoa(edit.ID), "").Code)
	allowed, err = f.evaluator.HasPermission(ctx, f.adminID, "posts.edit")
	require.NoError(t, err)
	assert.False(t, allowed)

	rec = f.do(t, http.MethodGet, "/roles/999/permissions", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
