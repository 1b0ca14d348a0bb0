package rbac

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/odyssey-rbac/internal/shared"
)

// Seeded role names.
const (
	RoleAdministrator = "Administrator"
	RoleMember        = "Member"
)

// SeedOptions configures the bootstrap account. An empty AdminUsername skips it.
type SeedOptions struct {
	AdminUsername string
	AdminEmail    string
	AdminPassword string
}

// SeedReport summarises what Seed created.
type SeedReport struct {
	PermissionsCreated int   `json:"permissions_created"`
	RolesCreated       int   `json:"roles_created"`
	AdminCreated       bool  `json:"admin_created"`
	AdminID            int64 `json:"admin_id,omitempty"`
}

// Seed installs the core permission catalogue, the Administrator role holding
// all of it, the Member role holding the read-only subset and optionally an
// administrator account. Running it again only adds what is missing.
func (s *Service) Seed(ctx context.Context, opts SeedOptions) (SeedReport, error) {
	var report SeedReport
	byCodename := map[string]int64{}
	for _, scope := range shared.CoreScopes() {
		perm, created, err := s.EnsurePermission(ctx, PermissionInput{
			Name:        scope.Name,
			Codename:    scope.Codename,
			Description: scope.Description,
		})
		if err != nil {
			return report, fmt.Errorf("rbac: seed permission %s: %w", scope.Codename, err)
		}
		if created {
			report.PermissionsCreated++
		}
		byCodename[perm.Codename] = perm.ID
	}

	grants := map[string][]shared.PermissionSpec{
		RoleAdministrator: shared.CoreScopes(),
		RoleMember:        shared.ReadOnlyScopes(),
	}
	roleIDs := map[string]int64{}
	for _, name := range []string{RoleAdministrator, RoleMember} {
		role, created, err := s.ensureRole(ctx, name)
		if err != nil {
			return report, fmt.Errorf("rbac: seed role %s: %w", name, err)
		}
		if created {
			report.RolesCreated++
		}
		roleIDs[name] = role.ID
		for _, scope := range grants[name] {
			if _, _, err := s.Attach(ctx, role.ID, byCodename[scope.Codename]); err != nil {
				return report, fmt.Errorf("rbac: seed attach %s to %s: %w", scope.Codename, name, err)
			}
		}
	}

	if opts.AdminUsername == "" {
		return report, nil
	}
	admin, _, err := s.repo.GetCredentials(ctx, NormalizeUsername(opts.AdminUsername))
	switch {
	case IsNotFound(err):
		admin, err = s.CreateUser(ctx, UserInput{
			Username: opts.AdminUsername,
			Email:    opts.AdminEmail,
			Password: opts.AdminPassword,
			IsStaff:  true,
		})
		if err != nil {
			return report, fmt.Errorf("rbac: seed admin: %w", err)
		}
		report.AdminCreated = true
	case err != nil:
		return report, fmt.Errorf("rbac: seed admin: %w", err)
	}
	report.AdminID = admin.ID
	if _, _, err := s.Grant(ctx, admin.ID, roleIDs[RoleAdministrator]); err != nil {
		return report, fmt.Errorf("rbac: seed admin role: %w", err)
	}
	return report, nil
}

func (s *Service) ensureRole(ctx context.Context, name string) (Role, bool, error) {
	roles, _, err := s.repo.ListRoles(ctx, ListParams{})
	if err != nil {
		return Role{}, false, err
	}
	for _, role := range roles {
		if role.Name == name {
			return role, false, nil
		}
	}
	role, err := s.CreateRole(ctx, RoleInput{Name: name, Description: name + " role"})
	if err != nil {
		return Role{}, false, err
	}
	return role, true, nil
}
