package rbac

import "time"

// User is an account that can be granted roles.
type User struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	IsActive   bool      `json:"is_active"`
	IsStaff    bool      `json:"is_staff"`
	DateJoined time.Time `json:"date_joined"`
}

// Role represents a named bundle of permissions.
type Role struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Permission represents an atomic capability identified by its codename.
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Codename    string `json:"codename"`
	Description string `json:"description"`
}

// UserRole links a user to a role. Username and RoleName are read through
// joins and never stored on the link.
type UserRole struct {
	ID       int64  `json:"id"`
	User     int64  `json:"user"`
	Username string `json:"username"`
	Role     int64  `json:"role"`
	RoleName string `json:"role_name"`
}

// RolePermission links a role to a permission.
type RolePermission struct {
	ID             int64  `json:"id"`
	Role           int64  `json:"role"`
	RoleName       string `json:"role_name"`
	Permission     int64  `json:"permission"`
	PermissionName string `json:"permission_name"`
}

// ListParams selects a window of an id-ordered listing.
type ListParams struct {
	Limit  int
	Offset int
}

// AssociationFilter narrows association listings. Zero ids match everything.
type AssociationFilter struct {
	UserID       int64
	RoleID       int64
	PermissionID int64
	ListParams
}
