package rbac_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-rbac/internal/rbac"
	"github.com/odyssey-erp/odyssey-rbac/internal/shared"
)

func TestCreateUserValidatesAndNormalises(t *testing.T) {
	ctx := context.Background()
	svc := rbac.NewService(rbac.NewMemoryRepository(), nil, nil)

	_, err := svc.CreateUser(ctx, rbac.UserInput{Username: "bad name!", Email: "nope", Password: "short"})
	var verr *rbac.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "username")
	assert.Contains(t, verr.Fields, "email")
	assert.Contains(t, verr.Fields, "password")

	u, err := svc.CreateUser(ctx, rbac.UserInput{Username: "  ｊｏｈｎ ", Email: "John@Example.COM", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, "john", u.Username)
	assert.Equal(t, "John@example.com", u.Email)
	assert.True(t, u.IsActive)
	assert.False(t, u.IsStaff)

	_, err = svc.CreateUser(ctx, rbac.UserInput{Username: "john", Email: "other@example.com", Password: "password123"})
	assert.ErrorIs(t, err, rbac.ErrDuplicateKey)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	repo := rbac.NewMemoryRepository()
	svc := rbac.NewService(repo, nil, nil)
	u, err := svc.CreateUser(ctx, rbac.UserInput{Username: "alice", Email: "alice@example.com", Password: "password123"})
	require.NoError(t, err)

	err = svc.ChangePassword(ctx, u.ID, rbac.PasswordChange{OldPassword: "wrong-password", NewPassword: "newpassword"})
	var verr *rbac.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "old_password")

	err = svc.ChangePassword(ctx, u.ID, rbac.PasswordChange{OldPassword: "password123", NewPassword: "short"})
	assert.ErrorIs(t, err, rbac.ErrValidation)

	require.NoError(t, svc.ChangePassword(ctx, u.ID, rbac.PasswordChange{OldPassword: "password123", NewPassword: "newpassword"}))
	hash, err := repo.GetPasswordHash(ctx, u.ID)
	require.NoError(t, err)
	ok, err := rbac.CheckPassword(hash, "newpassword")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUpdateUserPatch(t *testing.T) {
	ctx := context.Background()
	svc := rbac.NewService(rbac.NewMemoryRepository(), nil, nil)
	u, err := svc.CreateUser(ctx, rbac.UserInput{Username: "alice", Email: "alice@example.com", Password: "password123", FirstName: "Alice"})
	require.NoError(t, err)

	updated, err := svc.UpdateUser(ctx, u.ID, rbac.UserPatch{LastName: ptr(" Liddell "), IsActive: ptr(false)})
	require.NoError(t, err)
	assert.Equal(t, "Alice", updated.FirstName)
	assert.Equal(t, "Liddell", updated.LastName)
	assert.False(t, updated.IsActive)

	_, err = svc.UpdateUser(ctx, 99, rbac.UserPatch{})
	assert.ErrorIs(t, err, rbac.ErrNotFound)

	assert.ErrorIs(t, rbac.UserPatch{Username: ptr("x")}.Complete(), rbac.ErrValidation)
}

func TestServiceOwnerLookups(t *testing.T) {
	ctx := context.Background()
	repo := rbac.NewMemoryRepository()
	svc := rbac.NewService(repo, nil, nil)

	_, err := svc.RolesOfUser(ctx, 5)
	assert.ErrorIs(t, err, rbac.ErrNotFound)
	_, err = svc.PermissionsOfRole(ctx, 5)
	assert.ErrorIs(t, err, rbac.ErrNotFound)

	u := newUser(t, repo, "alice", true)
	roles, err := svc.RolesOfUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, roles)
}

func TestDeleteAssociationRecords(t *testing.T) {
	ctx := context.Background()
	repo := rbac.NewMemoryRepository()
	svc := rbac.NewService(repo, nil, nil)
	u := newUser(t, repo, "alice", true)
	r := newRole(t, repo, "editor")
	p := newPermission(t, repo, "posts.edit")

	ur, created, err := svc.Grant(ctx, u.ID, r.ID)
	require.NoError(t, err)
	assert.True(t, created)
	rp, _, err := svc.Attach(ctx, r.ID, p.ID)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteUserRole(ctx, ur.ID))
	assert.ErrorIs(t, svc.DeleteUserRole(ctx, ur.ID), rbac.ErrNotFound)
	require.NoError(t, svc.DeleteRolePermission(ctx, rp.ID))
	_, err = svc.GetRolePermission(ctx, rp.ID)
	assert.ErrorIs(t, err, rbac.ErrNotFound)
}

func TestSeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := rbac.NewMemoryRepository()
	svc := rbac.NewService(repo, nil, nil)
	ev := rbac.NewEvaluator(repo, nil, nil, nil)
	opts := rbac.SeedOptions{AdminUsername: "admin", AdminEmail: "admin@example.com", AdminPassword: "admin12345"}

	report, err := svc.Seed(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, len(shared.CoreScopes()), report.PermissionsCreated)
	assert.Equal(t, 2, report.RolesCreated)
	assert.True(t, report.AdminCreated)

	again, err := svc.Seed(ctx, opts)
	require.NoError(t, err)
	assert.Zero(t, again.PermissionsCreated)
	assert.Zero(t, again.RolesCreated)
	assert.False(t, again.AdminCreated)
	assert.Equal(t, report.AdminID, again.AdminID)

	perms, err := ev.EffectivePermissions(ctx, report.AdminID)
	require.NoError(t, err)
	assert.Len(t, perms, len(shared.CoreScopes()))

	links, total, err := repo.ListUserRoles(ctx, rbac.AssociationFilter{UserID: report.AdminID})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, rbac.RoleAdministrator, links[0].RoleName)

	admin, err := repo.GetUser(ctx, report.AdminID)
	require.NoError(t, err)
	assert.True(t, admin.IsStaff)
}
