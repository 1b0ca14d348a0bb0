package rbac

import "strings"

// UserInput creates a user. IsStaff is never bound from requests.
type UserInput struct {
	Username  string `json:"username" validate:"required,max=50,username"`
	Email     string `json:"email" validate:"required,max=100,email"`
	Password  string `json:"password" validate:"required,min=8,max=128"`
	FirstName string `json:"first_name" validate:"max=30"`
	LastName  string `json:"last_name" validate:"max=30"`
	IsActive  *bool  `json:"is_active"`
	IsStaff   bool   `json:"-"`
}

// UserPatch updates a user. Nil fields are left unchanged.
type UserPatch struct {
	Username  *string `json:"username" validate:"omitempty,max=50,username"`
	Email     *string `json:"email" validate:"omitempty,max=100,email"`
	FirstName *string `json:"first_name" validate:"omitempty,max=30"`
	LastName  *string `json:"last_name" validate:"omitempty,max=30"`
	IsActive  *bool   `json:"is_active"`
}

// Complete enforces the fields a full replacement must carry.
func (p UserPatch) Complete() error {
	fields := map[string]string{}
	if p.Username == nil || strings.TrimSpace(*p.Username) == "" {
		fields["username"] = "This field is required."
	}
	if p.Email == nil || strings.TrimSpace(*p.Email) == "" {
		fields["email"] = "This field is required."
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// PasswordChange is the body of a change-password request.
type PasswordChange struct {
	OldPassword string `json:"old_password" validate:"required,max=128"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=128"`
}

// RoleInput creates or fully replaces a role.
type RoleInput struct {
	Name        string `json:"name" validate:"required,max=50"`
	Description string `json:"description" validate:"max=200"`
}

// RolePatch updates a role partially.
type RolePatch struct {
	Name        *string `json:"name" validate:"omitempty,max=50"`
	Description *string `json:"description" validate:"omitempty,max=200"`
}

// PermissionInput creates or fully replaces a permission.
type PermissionInput struct {
	Name        string `json:"name" validate:"required,max=50"`
	Codename    string `json:"codename" validate:"required,max=50,codename"`
	Description string `json:"description" validate:"max=200"`
}

// PermissionPatch updates a permission partially.
type PermissionPatch struct {
	Name        *string `json:"name" validate:"omitempty,max=50"`
	Codename    *string `json:"codename" validate:"omitempty,max=50,codename"`
	Description *string `json:"description" validate:"omitempty,max=200"`
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
