package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-rbac/internal/rbac"
	_ "github.com/odyssey-erp/odyssey-rbac/testing"
)

func memoryEnv(t *testing.T) (*env, *rbac.Service) {
	t.Helper()
	repo := rbac.NewMemoryRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := rbac.NewService(repo, nil, logger)
	e := &env{logger: logger}
	e.open = func(context.Context) (*stack, error) {
		return &stack{
			repo:       repo,
			service:    svc,
			evaluator:  rbac.NewEvaluator(repo, nil, nil, logger),
			reconciler: rbac.NewReconciler(repo, nil, logger),
			close:      func() {},
		}, nil
	}
	return e, svc
}

func run(t *testing.T, e *env, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(e)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSeedIsRepeatable(t *testing.T) {
	e, _ := memoryEnv(t)

	out, err := run(t, e, "seed", "--admin-password", "admin12345")
	require.NoError(t, err)
	assert.Contains(t, out, "roles created: 2")
	assert.Contains(t, out, `admin "admin"`)
	assert.Contains(t, out, "created=true")

	out, err = run(t, e, "seed", "--admin-password", "admin12345")
	require.NoError(t, err)
	assert.Contains(t, out, "permissions created: 0")
	assert.Contains(t, out, "roles created: 0")
	assert.Contains(t, out, "created=false")
}

func TestSeedRequiresPassword(t *testing.T) {
	t.Setenv("RBAC_ADMIN_PASSWORD", "")
	e, _ := memoryEnv(t)
	_, err := run(t, e, "seed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "admin password required")
}

func TestCheck(t *testing.T) {
	e, svc := memoryEnv(t)
	_, err := run(t, e, "seed", "--admin-password", "admin12345")
	require.NoError(t, err)
	plain, err := svc.CreateUser(context.Background(), rbac.UserInput{Username: "plain", Email: "plain@example.com", Password: "password123"})
	require.NoError(t, err)

	out, err := run(t, e, "check", "admin", "role_delete")
	require.NoError(t, err)
	assert.Contains(t, out, "allowed: admin has role_delete")

	out, err = run(t, e, "check", "plain", "role_delete")
	assert.ErrorIs(t, err, errDenied)
	assert.Contains(t, out, "denied: plain lacks role_delete")

	out, err = run(t, e, "check", "admin", "  ")
	assert.ErrorIs(t, err, errDenied)
	assert.NotContains(t, out, "allowed")

	_, err = run(t, e, "check", "ghost", "role_delete")
	assert.ErrorIs(t, err, rbac.ErrNotFound)

	_, err = run(t, e, "check", itoa(plain.ID))
	assert.Error(t, err)
}

func TestReconcileCommands(t *testing.T) {
	ctx := context.Background()
	e, svc := memoryEnv(t)
	user, err := svc.CreateUser(ctx, rbac.UserInput{Username: "dana", Email: "dana@example.com", Password: "password123"})
	require.NoError(t, err)
	a, err := svc.CreateRole(ctx, rbac.RoleInput{Name: "A"})
	require.NoError(t, err)
	b, err := svc.CreateRole(ctx, rbac.RoleInput{Name: "B"})
	require.NoError(t, err)
	perm, err := svc.CreatePermission(ctx, rbac.PermissionInput{Name: "Do", Codename: "thing_do"})
	require.NoError(t, err)

	out, err := run(t, e, "reconcile", "user", "dana", itoa(a.ID)+","+itoa(b.ID))
	require.NoError(t, err)
	assert.Contains(t, out, "added=["+itoa(a.ID)+" "+itoa(b.ID)+"]")

	roles, err := svc.RolesOfUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID, b.ID}, roles)

	_, err = run(t, e, "reconcile", "user", "dana")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--empty")

	out, err = run(t, e, "reconcile", "user", itoa(user.ID), "--empty")
	require.NoError(t, err)
	assert.Contains(t, out, "current=[]")

	_, err = run(t, e, "reconcile", "role", itoa(a.ID), itoa(perm.ID))
	require.NoError(t, err)
	perms, err := svc.PermissionsOfRole(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{perm.ID}, perms)

	_, err = run(t, e, "reconcile", "role", "abc", itoa(perm.ID))
	assert.Error(t, err)
	_, err = run(t, e, "reconcile", "role", itoa(a.ID), "x1")
	assert.Error(t, err)
}

func TestIntegrityCommand(t *testing.T) {
	e, svc := memoryEnv(t)
	_, err := svc.CreateRole(context.Background(), rbac.RoleInput{Name: "Unused"})
	require.NoError(t, err)

	out, err := run(t, e, "integrity")
	require.NoError(t, err)
	var report rbac.IntegrityReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Len(t, report.RolesWithoutPermissions, 1)
	assert.Empty(t, report.ActiveUsersWithoutRoles)
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs([]string{"3,1", " 2 ", ""})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2}, ids)

	_, err = parseIDs([]string{"0"})
	assert.Error(t, err)
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
