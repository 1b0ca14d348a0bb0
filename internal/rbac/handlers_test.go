package rbac_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-rbac/internal/rbac"
	"github.com/odyssey-erp/odyssey-rbac/internal/shared"
)

type apiFixture struct {
	repo    *rbac.MemoryRepository
	service *rbac.Service
	router  http.Handler
	adminID int64
	guestID int64
}

func newAPIFixture(t *testing.T) apiFixture {
	t.Helper()
	ctx := context.Background()
	repo := rbac.NewMemoryRepository()
	svc := rbac.NewService(repo, nil, nil)
	report, err := svc.Seed(ctx, rbac.SeedOptions{AdminUsername: "admin", AdminEmail: "admin@example.com", AdminPassword: "admin12345"})
	require.NoError(t, err)
	guest := newUser(t, repo, "guest", true)

	ev := rbac.NewEvaluator(repo, nil, nil, nil)
	mw := rbac.Middleware{Evaluator: ev}
	perms := rbac.NewPermissionsHandler(nil, svc, ev, mw)
	assoc := rbac.NewAssociationsHandler(nil, svc, mw)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := r.Header.Get("X-Test-User"); id != "" {
				p := shared.Principal{UserID: guest.ID}
				if id == "admin" {
					p = shared.Principal{UserID: report.AdminID, IsStaff: true}
				}
				r = r.WithContext(shared.ContextWithPrincipal(r.Context(), p))
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Route("/permissions", perms.MountRoutes)
	r.Route("/authz", perms.MountCheck)
	r.Route("/user-roles", assoc.MountUserRoles)
	r.Route("/role-permissions", assoc.MountRolePermissions)
	return apiFixture{repo: repo, service: svc, router: r, adminID: report.AdminID, guestID: guest.ID}
}

func (f apiFixture) do(t *testing.T, as, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if as != "" {
		req.Header.Set("X-Test-User", as)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestPermissionRoutesRequireAuthentication(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, "", http.MethodGet, "/permissions", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Authentication credentials were not provided.", decodeBody(t, rec)["detail"])

	rec = f.do(t, "guest", http.MethodGet, "/permissions", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["detail"], "permission_view")
}

func TestPermissionListEnvelope(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, "admin", http.MethodGet, "/permissions?page_size=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, len(shared.CoreScopes()), body["count"])
	assert.Nil(t, body["previous"])
	assert.Equal(t, "http://example.com/permissions?page=2&page_size=5", body["next"])
	assert.Len(t, body["results"], 5)

	rec = f.do(t, "admin", http.MethodGet, "/permissions?page=99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Invalid page.", decodeBody(t, rec)["detail"])
}

func TestPermissionCRUD(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, "admin", http.MethodPost, "/permissions", `{"name":"Edit posts","codename":"posts.edit"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := int64(decodeBody(t, rec)["id"].(float64))

	rec = f.do(t, "admin", http.MethodPost, "/permissions", `{"name":"Other","codename":"posts.edit"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, "admin", http.MethodPost, "/permissions", `{"codename":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["errors"], "name")

	path := "/permissions/" + itoa(id)
	rec = f.do(t, "admin", http.MethodPatch, path, `{"description":"changed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "posts.edit", decodeBody(t, rec)["codename"])

	rec = f.do(t, "admin", http.MethodPut, path, `{"name":"Write posts","codename":"posts.write"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "posts.write", decodeBody(t, rec)["codename"])

	rec = f.do(t, "admin", http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, "admin", http.MethodGet, path, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, "admin", http.MethodGet, "/permissions/abc", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUserRoleResourceIsIdempotent(t *testing.T) {
	f := newAPIFixture(t)
	role := newRole(t, f.repo, "editor")
	body := `{"user":` + itoa(f.guestID) + `,"role":` + itoa(role.ID) + `}`

	rec := f.do(t, "admin", http.MethodPost, "/user-roles", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decodeBody(t, rec)
	assert.Equal(t, "guest", first["username"])
	assert.Equal(t, "editor", first["role_name"])

	rec = f.do(t, "admin", http.MethodPost, "/user-roles", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first["id"], decodeBody(t, rec)["id"])

	rec = f.do(t, "admin", http.MethodGet, "/user-roles?user="+itoa(f.guestID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["count"])

	rec = f.do(t, "admin", http.MethodPost, "/user-roles", `{"user":`+itoa(f.guestID)+`,"role":999}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	id := itoa(int64(first["id"].(float64)))
	assert.Equal(t, http.StatusNoContent, f.do(t, "admin", http.MethodDelete, "/user-roles/"+id, "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, "admin", http.MethodGet, "/user-roles/"+id, "").Code)
}

func TestRolePermissionResource(t *testing.T) {
	f := newAPIFixture(t)
	role := newRole(t, f.repo, "editor")
	perm := newPermission(t, f.repo, "posts.edit")

	rec := f.do(t, "admin", http.MethodPost, "/role-permissions", `{"role":`+itoa(role.ID)+`,"permission":`+itoa(perm.ID)+`}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "Can posts.edit", decodeBody(t, rec)["permission_name"])

	rec = f.do(t, "admin", http.MethodPost, "/role-permissions", `{"role":`+itoa(role.ID)+`}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "admin", http.MethodGet, "/role-permissions?role=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthzCheck(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, "admin", http.MethodGet, "/authz/check?user="+itoa(f.adminID)+"&codename="+shared.PermRoleDelete, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["allowed"])

	rec = f.do(t, "admin", http.MethodGet, "/authz/check?user="+itoa(f.guestID)+"&codename="+shared.PermRoleDelete, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["allowed"])

	rec = f.do(t, "admin", http.MethodGet, "/authz/check", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequireSelfOrStaff(t *testing.T) {
	mw := rbac.Middleware{}
	r := chi.NewRouter()
	r.With(mw.RequireSelfOrStaff("id")).Get("/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	call := func(p *shared.Principal, path string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if p != nil {
			req = req.WithContext(shared.ContextWithPrincipal(req.Context(), *p))
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, call(nil, "/users/1"))
	assert.Equal(t, http.StatusOK, call(&shared.Principal{UserID: 1}, "/users/1"))
	assert.Equal(t, http.StatusForbidden, call(&shared.Principal{UserID: 2}, "/users/1"))
	assert.Equal(t, http.StatusOK, call(&shared.Principal{UserID: 2, IsStaff: true}, "/users/1"))
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
