package rbac

import (
	"context"
	"fmt"
)

// Integrity finding kinds.
const (
	FindingActiveUsersWithoutRoles = "active_users_without_roles"
	FindingRolesWithoutPermissions = "roles_without_permissions"
	FindingDanglingUserRoles       = "dangling_user_roles"
	FindingDanglingRolePermissions = "dangling_role_permissions"
)

// IntegrityReport lists data that is consistent but probably unintended.
type IntegrityReport struct {
	ActiveUsersWithoutRoles []int64 `json:"active_users_without_roles"`
	RolesWithoutPermissions []int64 `json:"roles_without_permissions"`
	DanglingUserRoles       int     `json:"dangling_user_roles"`
	DanglingRolePermissions int     `json:"dangling_role_permissions"`
}

// Findings returns the count per finding kind.
func (r IntegrityReport) Findings() map[string]int {
	return map[string]int{
		FindingActiveUsersWithoutRoles: len(r.ActiveUsersWithoutRoles),
		FindingRolesWithoutPermissions: len(r.RolesWithoutPermissions),
		FindingDanglingUserRoles:       r.DanglingUserRoles,
		FindingDanglingRolePermissions: r.DanglingRolePermissions,
	}
}

// Total sums all findings.
func (r IntegrityReport) Total() int {
	total := 0
	for _, n := range r.Findings() {
		total += n
	}
	return total
}

// Integrity scans the store from one consistent snapshot. Link rows whose
// user, role or permission no longer resolves are counted as dangling: they
// are part of the raw count but missing from the joined listing.
func (s *Service) Integrity(ctx context.Context) (IntegrityReport, error) {
	report := IntegrityReport{ActiveUsersWithoutRoles: []int64{}, RolesWithoutPermissions: []int64{}}
	err := s.repo.WithReadTx(ctx, func(ctx context.Context, repo Repository) error {
		users, _, err := repo.ListUsers(ctx, ListParams{})
		if err != nil {
			return fmt.Errorf("rbac: integrity users: %w", err)
		}
		for _, u := range users {
			if !u.IsActive {
				continue
			}
			roles, err := repo.RolesOfUser(ctx, u.ID)
			if err != nil {
				return fmt.Errorf("rbac: integrity roles of user %d: %w", u.ID, err)
			}
			if len(roles) == 0 {
				report.ActiveUsersWithoutRoles = append(report.ActiveUsersWithoutRoles, u.ID)
			}
		}

		roles, _, err := repo.ListRoles(ctx, ListParams{})
		if err != nil {
			return fmt.Errorf("rbac: integrity roles: %w", err)
		}
		for _, role := range roles {
			perms, err := repo.PermissionsOfRole(ctx, role.ID)
			if err != nil {
				return fmt.Errorf("rbac: integrity permissions of role %d: %w", role.ID, err)
			}
			if len(perms) == 0 {
				report.RolesWithoutPermissions = append(report.RolesWithoutPermissions, role.ID)
			}
		}

		userRoles, total, err := repo.ListUserRoles(ctx, AssociationFilter{})
		if err != nil {
			return fmt.Errorf("rbac: integrity user roles: %w", err)
		}
		report.DanglingUserRoles = total - len(userRoles)

		rolePerms, total, err := repo.ListRolePermissions(ctx, AssociationFilter{})
		if err != nil {
			return fmt.Errorf("rbac: integrity role permissions: %w", err)
		}
		report.DanglingRolePermissions = total - len(rolePerms)
		return nil
	})
	if err != nil {
		return IntegrityReport{}, err
	}
	return report, nil
}
