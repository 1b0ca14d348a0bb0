package shared

import "strings"

// Codenames guarding the administration API.
const (
	PermUserView           = "user_view"
	PermUserCreate         = "user_create"
	PermUserUpdate         = "user_update"
	PermUserDelete         = "user_delete"
	PermUserChangePassword = "user_change_password"

	PermRoleView   = "role_view"
	PermRoleCreate = "role_create"
	PermRoleUpdate = "role_update"
	PermRoleDelete = "role_delete"

	PermPermissionView   = "permission_view"
	PermPermissionCreate = "permission_create"
	PermPermissionUpdate = "permission_update"
	PermPermissionDelete = "permission_delete"

	PermRolePermissionView   = "role_permission_view"
	PermRolePermissionCreate = "role_permission_create"
	PermRolePermissionUpdate = "role_permission_update"
	PermRolePermissionDelete = "role_permission_delete"

	PermUserRoleView   = "user_role_view"
	PermUserRoleCreate = "user_role_create"
	PermUserRoleUpdate = "user_role_update"
	PermUserRoleDelete = "user_role_delete"
)

// PermissionSpec describes a seeded permission.
type PermissionSpec struct {
	Codename    string
	Name        string
	Description string
}

// CoreScopes lists every permission the administration API checks, in seed order.
func CoreScopes() []PermissionSpec {
	return []PermissionSpec{
		{PermUserView, "View users", "List and read users"},
		{PermUserCreate, "Create users", "Create new users"},
		{PermUserUpdate, "Update users", "Update user details"},
		{PermUserDelete, "Delete users", "Delete users"},
		{PermUserChangePassword, "Change user password", "Change a user's password"},

		{PermRoleView, "View roles", "List and read roles"},
		{PermRoleCreate, "Create roles", "Create new roles"},
		{PermRoleUpdate, "Update roles", "Update role details"},
		{PermRoleDelete, "Delete roles", "Delete roles"},

		{PermPermissionView, "View permissions", "List and read permissions"},
		{PermPermissionCreate, "Create permissions", "Create new permissions"},
		{PermPermissionUpdate, "Update permissions", "Update permission details"},
		{PermPermissionDelete, "Delete permissions", "Delete permissions"},

		{PermRolePermissionView, "View role permissions", "Read role to permission links"},
		{PermRolePermissionCreate, "Create role permissions", "Attach permissions to roles"},
		{PermRolePermissionUpdate, "Update role permissions", "Replace the permission set of a role"},
		{PermRolePermissionDelete, "Delete role permissions", "Detach permissions from roles"},

		{PermUserRoleView, "View user roles", "Read user to role links"},
		{PermUserRoleCreate, "Create user roles", "Grant roles to users"},
		{PermUserRoleUpdate, "Update user roles", "Replace the role set of a user"},
		{PermUserRoleDelete, "Delete user roles", "Revoke roles from users"},
	}
}

// ReadOnlyScopes returns the *_view subset of CoreScopes.
func ReadOnlyScopes() []PermissionSpec {
	var out []PermissionSpec
	for _, spec := range CoreScopes() {
		if strings.HasSuffix(spec.Codename, "_view") {
			out = append(out, spec)
		}
	}
	return out
}
