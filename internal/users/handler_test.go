package users_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-rbac/internal/rbac"
	"github.com/odyssey-erp/odyssey-rbac/internal/shared"
	"github.com/odyssey-erp/odyssey-rbac/internal/users"
	_ "github.com/odyssey-erp/odyssey-rbac/testing"
)

type fixture struct {
	repo    *rbac.MemoryRepository
	router  http.Handler
	adminID int64
	member  rbac.User
	other   rbac.User
}

// newFixture seeds the catalogue and two plain users. Requests pick their
// caller with the X-Test-User header instead of a bearer token.
func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	repo := rbac.NewMemoryRepository()
	svc := rbac.NewService(repo, nil, nil)
	report, err := svc.Seed(ctx, rbac.SeedOptions{AdminUsername: "admin", AdminEmail: "admin@example.com", AdminPassword: "admin12345"})
	require.NoError(t, err)

	member, err := svc.CreateUser(ctx, rbac.UserInput{Username: "member", Email: "member@example.com", Password: "password123"})
	require.NoError(t, err)
	other, err := svc.CreateUser(ctx, rbac.UserInput{Username: "other", Email: "other@example.com", Password: "password123"})
	require.NoError(t, err)

	roles, _, err := svc.ListRoles(ctx, rbac.ListParams{})
	require.NoError(t, err)
	for _, role := range roles {
		if role.Name == rbac.RoleMember {
			_, _, err := svc.Grant(ctx, member.ID, role.ID)
			require.NoError(t, err)
		}
	}
	// members may update and change passwords, but only for themselves
	for _, codename := range []string{shared.PermUserUpdate, shared.PermUserChangePassword} {
		perm, err := repo.GetPermissionByCodename(ctx, codename)
		require.NoError(t, err)
		for _, role := range roles {
			if role.Name == rbac.RoleMember {
				_, _, err := svc.Attach(ctx, role.ID, perm.ID)
				require.NoError(t, err)
			}
		}
	}

	ev := rbac.NewEvaluator(repo, nil, nil, nil)
	principals := map[string]shared.Principal{
		"admin":  {UserID: report.AdminID, Username: "admin", IsStaff: true},
		"member": {UserID: member.ID, Username: "member"},
	}
	h := users.NewHandler(users.Options{
		Service:    svc,
		Evaluator:  ev,
		Reconciler: rbac.NewReconciler(repo, nil, nil),
		RBAC:       rbac.Middleware{Evaluator: ev},
		Authenticate: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if p, ok := principals[r.Header.Get("X-Test-User")]; ok {
					r = r.WithContext(shared.ContextWithPrincipal(r.Context(), p))
				}
				next.ServeHTTP(w, r)
			})
		},
	})
	r := chi.NewRouter()
	r.Route("/users", h.MountRoutes)
	return fixture{repo: repo, router: r, adminID: report.AdminID, member: member, other: other}
}

func (f fixture) do(t *testing.T, as, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", as)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func body(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func id(v int64) string { return strconv.FormatInt(v, 10) }

func TestCreateAndListUsers(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "admin", http.MethodPost, "/users", `{"username":"carol","email":"carol@example.com","password":"password123","is_staff":true}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := body(t, rec)
	assert.Equal(t, "carol", created["username"])
	assert.Equal(t, false, created["is_staff"])
	assert.NotContains(t, rec.Body.String(), "password")

	rec = f.do(t, "admin", http.MethodPost, "/users", `{"username":"carol","email":"c2@example.com","password":"password123"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, "member", http.MethodPost, "/users", `{"username":"dave","email":"dave@example.com","password":"password123"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, "member", http.MethodGet, "/users?page_size=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := body(t, rec)
	assert.EqualValues(t, 4, page["count"])
	assert.NotNil(t, page["next"])

	rec = f.do(t, "", http.MethodGet, "/users", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUpdateIsSelfOrStaff(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "member", http.MethodPatch, "/users/"+id(f.member.ID), `{"first_name":"Mem"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Mem", body(t, rec)["first_name"])

	rec = f.do(t, "member", http.MethodPatch, "/users/"+id(f.other.ID), `{"first_name":"Nope"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, "member", http.MethodPatch, "/users/"+id(f.member.ID), `{"is_active":false}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, "admin", http.MethodPut, "/users/"+id(f.other.ID), `{"first_name":"Only"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "admin", http.MethodPut, "/users/"+id(f.other.ID), `{"username":"other2","email":"other2@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "other2", body(t, rec)["username"])
}

func TestChangePasswordEndpoint(t *testing.T) {
	f := newFixture(t)
	path := "/users/" + id(f.member.ID) + "/change_password"

	rec := f.do(t, "member", http.MethodPost, path, `{"old_password":"bad-password","new_password":"newpassword1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body(t, rec)["errors"], "old_password")

	rec = f.do(t, "member", http.MethodPost, path, `{"old_password":"password123","new_password":"newpassword1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, "member", http.MethodPost, "/users/"+id(f.other.ID)+"/change_password", `{"old_password":"password123","new_password":"newpassword1"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUserRoleSetEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.repo.CreateRole(ctx, rbac.Role{Name: "a"})
	require.NoError(t, err)
	b, err := f.repo.CreateRole(ctx, rbac.Role{Name: "b"})
	require.NoError(t, err)
	base := "/users/" + id(f.other.ID) + "/roles"

	rec := f.do(t, "admin", http.MethodPut, base, `{"roles":[`+id(a.ID)+`,`+id(b.ID)+`]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, body(t, rec)["added"], 2)

	rec = f.do(t, "admin", http.MethodPut, base, `{"roles":[`+id(b.ID)+`,999]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, body(t, rec)["detail"], "999")

	rec = f.do(t, "admin", http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{float64(a.ID), float64(b.ID)}, body(t, rec)["roles"])

	rec = f.do(t, "admin", http.MethodDelete, base+"/"+id(a.ID), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, "admin", http.MethodDelete, base+"/"+id(a.ID), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, "admin", http.MethodPut, base, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "member", http.MethodPut, base, `{"roles":[]}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestEffectivePermissionsEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "member", http.MethodGet, "/users/"+id(f.member.ID)+"/permissions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	perms := body(t, rec)["permissions"]
	assert.Contains(t, perms, shared.PermUserView)
	assert.NotContains(t, perms, shared.PermUserDelete)

	rec = f.do(t, "member", http.MethodGet, "/users/"+id(f.adminID)+"/permissions", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeleteUser(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "admin", http.MethodDelete, "/users/"+id(f.other.ID), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, "admin", http.MethodGet, "/users/"+id(f.other.ID), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
