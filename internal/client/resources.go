package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/odyssey-erp/odyssey-rbac/internal/rbac"
	"github.com/odyssey-erp/odyssey-rbac/internal/shared"
)

// PageOptions selects a page of a collection. Zero values use server defaults.
type PageOptions struct {
	Page     int
	PageSize int
}

func (o PageOptions) values() url.Values {
	v := url.Values{}
	if o.Page > 0 {
		v.Set("page", strconv.Itoa(o.Page))
	}
	if o.PageSize > 0 {
		v.Set("page_size", strconv.Itoa(o.PageSize))
	}
	return v
}

// AssociationQuery filters association listings.
type AssociationQuery struct {
	PageOptions
	User       int64
	Role       int64
	Permission int64
}

func (q AssociationQuery) values() url.Values {
	v := q.PageOptions.values()
	if q.User > 0 {
		v.Set("user", strconv.FormatInt(q.User, 10))
	}
	if q.Role > 0 {
		v.Set("role", strconv.FormatInt(q.Role, 10))
	}
	if q.Permission > 0 {
		v.Set("permission", strconv.FormatInt(q.Permission, 10))
	}
	return v
}

func withQuery(path string, v url.Values) string {
	if len(v) == 0 {
		return path
	}
	return path + "?" + v.Encode()
}

func idPath(format string, ids ...int64) string {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return fmt.Sprintf(format, args...)
}

// Users

func (c *Client) ListUsers(ctx context.Context, opts PageOptions) (shared.Page[rbac.User], error) {
	var page shared.Page[rbac.User]
	err := c.call(ctx, http.MethodGet, withQuery("/users", opts.values()), nil, &page)
	return page, err
}

func (c *Client) GetUser(ctx context.Context, id int64) (rbac.User, error) {
	var user rbac.User
	err := c.call(ctx, http.MethodGet, idPath("/users/%d", id), nil, &user)
	return user, err
}

func (c *Client) CreateUser(ctx context.Context, in rbac.UserInput) (rbac.User, error) {
	var user rbac.User
	err := c.call(ctx, http.MethodPost, "/users", in, &user)
	return user, err
}

// UpdateUser applies a partial update.
func (c *Client) UpdateUser(ctx context.Context, id int64, patch rbac.UserPatch) (rbac.User, error) {
	var user rbac.User
	err := c.call(ctx, http.MethodPatch, idPath("/users/%d", id), patch, &user)
	return user, err
}

func (c *Client) DeleteUser(ctx context.Context, id int64) error {
	return c.call(ctx, http.MethodDelete, idPath("/users/%d", id), nil, nil)
}

func (c *Client) ChangePassword(ctx context.Context, id int64, oldPassword, newPassword string) error {
	body := rbac.PasswordChange{OldPassword: oldPassword, NewPassword: newPassword}
	return c.call(ctx, http.MethodPost, idPath("/users/%d/change_password", id), body, nil)
}

// EffectivePermissions returns the codenames the user currently holds.
func (c *Client) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	var out struct {
		Permissions []string `json:"permissions"`
	}
	err := c.call(ctx, http.MethodGet, idPath("/users/%d/permissions", userID), nil, &out)
	return out.Permissions, err
}

// Roles

func (c *Client) ListRoles(ctx context.Context, opts PageOptions) (shared.Page[rbac.Role], error) {
	var page shared.Page[rbac.Role]
	err := c.call(ctx, http.MethodGet, withQuery("/roles", opts.values()), nil, &page)
	return page, err
}

func (c *Client) GetRole(ctx context.Context, id int64) (rbac.Role, error) {
	var role rbac.Role
	err := c.call(ctx, http.MethodGet, idPath("/roles/%d", id), nil, &role)
	return role, err
}

func (c *Client) CreateRole(ctx context.Context, in rbac.RoleInput) (rbac.Role, error) {
	var role rbac.Role
	err := c.call(ctx, http.MethodPost, "/roles", in, &role)
	return role, err
}

func (c *Client) UpdateRole(ctx context.Context, id int64, patch rbac.RolePatch) (rbac.Role, error) {
	var role rbac.Role
	err := c.call(ctx, http.MethodPatch, idPath("/roles/%d", id), patch, &role)
	return role, err
}

func (c *Client) DeleteRole(ctx context.Context, id int64) error {
	return c.call(ctx, http.MethodDelete, idPath("/roles/%d", id), nil, nil)
}

// Permissions

func (c *Client) ListPermissions(ctx context.Context, opts PageOptions) (shared.Page[rbac.Permission], error) {
	var page shared.Page[rbac.Permission]
	err := c.call(ctx, http.MethodGet, withQuery("/permissions", opts.values()), nil, &page)
	return page, err
}

func (c *Client) GetPermission(ctx context.Context, id int64) (rbac.Permission, error) {
	var perm rbac.Permission
	err := c.call(ctx, http.MethodGet, idPath("/permissions/%d", id), nil, &perm)
	return perm, err
}

func (c *Client) CreatePermission(ctx context.Context, in rbac.PermissionInput) (rbac.Permission, error) {
	var perm rbac.Permission
	err := c.call(ctx, http.MethodPost, "/permissions", in, &perm)
	return perm, err
}

func (c *Client) UpdatePermission(ctx context.Context, id int64, patch rbac.PermissionPatch) (rbac.Permission, error) {
	var perm rbac.Permission
	err := c.call(ctx, http.MethodPatch, idPath("/permissions/%d", id), patch, &perm)
	return perm, err
}

func (c *Client) DeletePermission(ctx context.Context, id int64) error {
	return c.call(ctx, http.MethodDelete, idPath("/permissions/%d", id), nil, nil)
}

// Check asks whether the user holds the permission codename.
func (c *Client) Check(ctx context.Context, userID int64, codename string) (bool, error) {
	v := url.Values{}
	v.Set("user", strconv.FormatInt(userID, 10))
	v.Set("codename", codename)
	var out struct {
		Allowed bool `json:"allowed"`
	}
	err := c.call(ctx, http.MethodGet, withQuery("/authz/check", v), nil, &out)
	return out.Allowed, err
}

// Associations

// Grant links a user to a role. Granting an existing link succeeds.
func (c *Client) Grant(ctx context.Context, userID, roleID int64) (rbac.UserRole, error) {
	var link rbac.UserRole
	body := map[string]int64{"user": userID, "role": roleID}
	err := c.call(ctx, http.MethodPost, "/user-roles", body, &link)
	return link, err
}

// Revoke removes a user-role link. Revoking an absent link succeeds.
func (c *Client) Revoke(ctx context.Context, userID, roleID int64) error {
	return c.call(ctx, http.MethodDelete, idPath("/users/%d/roles/%d", userID, roleID), nil, nil)
}

// Attach links a role to a permission. Attaching an existing link succeeds.
func (c *Client) Attach(ctx context.Context, roleID, permissionID int64) (rbac.RolePermission, error) {
	var link rbac.RolePermission
	body := map[string]int64{"role": roleID, "permission": permissionID}
	err := c.call(ctx, http.MethodPost, "/role-permissions", body, &link)
	return link, err
}

// Detach removes a role-permission link. Detaching an absent link succeeds.
func (c *Client) Detach(ctx context.Context, roleID, permissionID int64) error {
	return c.call(ctx, http.MethodDelete, idPath("/roles/%d/permissions/%d", roleID, permissionID), nil, nil)
}

func (c *Client) ListUserRoles(ctx context.Context, q AssociationQuery) (shared.Page[rbac.UserRole], error) {
	var page shared.Page[rbac.UserRole]
	err := c.call(ctx, http.MethodGet, withQuery("/user-roles", q.values()), nil, &page)
	return page, err
}

func (c *Client) ListRolePermissions(ctx context.Context, q AssociationQuery) (shared.Page[rbac.RolePermission], error) {
	var page shared.Page[rbac.RolePermission]
	err := c.call(ctx, http.MethodGet, withQuery("/role-permissions", q.values()), nil, &page)
	return page, err
}

// UserRoleIDs returns the ids of the roles currently granted to the user.
func (c *Client) UserRoleIDs(ctx context.Context, userID int64) ([]int64, error) {
	var out struct {
		Roles []int64 `json:"roles"`
	}
	err := c.call(ctx, http.MethodGet, idPath("/users/%d/roles", userID), nil, &out)
	return out.Roles, err
}

// RolePermissionIDs returns the ids of the permissions attached to the role.
func (c *Client) RolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error) {
	var out struct {
		Permissions []int64 `json:"permissions"`
	}
	err := c.call(ctx, http.MethodGet, idPath("/roles/%d/permissions", roleID), nil, &out)
	return out.Permissions, err
}

// ReconcileUserRoles replaces the user's roles in one server-side transaction.
func (c *Client) ReconcileUserRoles(ctx context.Context, userID int64, roleIDs []int64) (rbac.ReconcileResult, error) {
	var res rbac.ReconcileResult
	body := map[string][]int64{"roles": nonNil(roleIDs)}
	err := c.call(ctx, http.MethodPut, idPath("/users/%d/roles", userID), body, &res)
	return res, err
}

// ReconcileRolePermissions replaces the role's permissions in one server-side
// transaction.
func (c *Client) ReconcileRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) (rbac.ReconcileResult, error) {
	var res rbac.ReconcileResult
	body := map[string][]int64{"permissions": nonNil(permissionIDs)}
	err := c.call(ctx, http.MethodPut, idPath("/roles/%d/permissions", roleID), body, &res)
	return res, err
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
