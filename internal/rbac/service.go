package rbac

import (
	"context"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Service orchestrates entity and association management and keeps the
// permission cache in step with every change that can alter a user's
// effective permissions.
type Service struct {
	repo     Repository
	cache    PermissionCache
	logger   *slog.Logger
	validate *validator.Validate
}

// NewService constructs a Service. cache may be nil.
func NewService(repo Repository, cache PermissionCache, logger *slog.Logger) *Service {
	if cache == nil {
		cache = noCache{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger, validate: newValidator()}
}

func (s *Service) invalidate(ctx context.Context, userIDs ...int64) {
	if len(userIDs) == 0 {
		return
	}
	if err := s.cache.Invalidate(ctx, userIDs...); err != nil {
		s.logger.Error("invalidate permission cache", slog.Any("user_ids", userIDs), slog.Any("error", err))
	}
}

func (s *Service) invalidateAll(ctx context.Context) {
	if err := s.cache.InvalidateAll(ctx); err != nil {
		s.logger.Error("invalidate permission cache", slog.Any("error", err))
	}
}

// CreateUser validates, normalises and stores a new user.
func (s *Service) CreateUser(ctx context.Context, in UserInput) (User, error) {
	in.Username = NormalizeUsername(in.Username)
	in.Email = NormalizeEmail(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if err := validateStruct(s.validate, in); err != nil {
		return User{}, err
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return User{}, err
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	return s.repo.CreateUser(ctx, User{
		Username:  in.Username,
		Email:     in.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		IsActive:  active,
		IsStaff:   in.IsStaff,
	}, hash)
}

// GetUser fetches a user by id.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	return s.repo.GetUser(ctx, id)
}

// UpdateUser applies patch to the user.
func (s *Service) UpdateUser(ctx context.Context, id int64, patch UserPatch) (User, error) {
	if patch.Username != nil {
		v := NormalizeUsername(*patch.Username)
		patch.Username = &v
	}
	if patch.Email != nil {
		v := NormalizeEmail(*patch.Email)
		patch.Email = &v
	}
	patch.FirstName = trimmed(patch.FirstName)
	patch.LastName = trimmed(patch.LastName)
	if err := validateStruct(s.validate, patch); err != nil {
		return User{}, err
	}

	var updated User
	var activeChanged bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		u, err := tx.GetUser(ctx, id)
		if err != nil {
			return err
		}
		if patch.Username != nil {
			u.Username = *patch.Username
		}
		if patch.Email != nil {
			u.Email = *patch.Email
		}
		if patch.FirstName != nil {
			u.FirstName = *patch.FirstName
		}
		if patch.LastName != nil {
			u.LastName = *patch.LastName
		}
		if patch.IsActive != nil && *patch.IsActive != u.IsActive {
			u.IsActive = *patch.IsActive
			activeChanged = true
		}
		updated, err = tx.UpdateUser(ctx, u)
		return err
	})
	if err != nil {
		return User{}, err
	}
	if activeChanged {
		s.invalidate(ctx, id)
	}
	return updated, nil
}

// ChangePassword replaces the password after verifying the old one.
func (s *Service) ChangePassword(ctx context.Context, id int64, in PasswordChange) error {
	if err := validateStruct(s.validate, in); err != nil {
		return err
	}
	hash, err := s.repo.GetPasswordHash(ctx, id)
	if err != nil {
		return err
	}
	ok, err := CheckPassword(hash, in.OldPassword)
	if err != nil {
		return err
	}
	if !ok {
		return invalidField("old_password", "Old password is incorrect.")
	}
	newHash, err := HashPassword(in.NewPassword)
	if err != nil {
		return err
	}
	return s.repo.SetPasswordHash(ctx, id, newHash)
}

// DeleteUser removes the user and its role grants.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	if err := s.repo.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

// ListUsers returns a window of users ordered by id plus the total count.
func (s *Service) ListUsers(ctx context.Context, p ListParams) ([]User, int, error) {
	return s.repo.ListUsers(ctx, p)
}

// CreateRole inserts a new role.
func (s *Service) CreateRole(ctx context.Context, in RoleInput) (Role, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if err := validateStruct(s.validate, in); err != nil {
		return Role{}, err
	}
	return s.repo.CreateRole(ctx, Role{Name: in.Name, Description: in.Description})
}

// GetRole fetches a role by id.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// UpdateRole applies patch to the role.
func (s *Service) UpdateRole(ctx context.Context, id int64, patch RolePatch) (Role, error) {
	patch.Name = trimmed(patch.Name)
	patch.Description = trimmed(patch.Description)
	if patch.Name != nil && *patch.Name == "" {
		return Role{}, invalidField("name", "This field may not be blank.")
	}
	if err := validateStruct(s.validate, patch); err != nil {
		return Role{}, err
	}
	var updated Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		role, err := tx.GetRole(ctx, id)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			role.Name = *patch.Name
		}
		if patch.Description != nil {
			role.Description = *patch.Description
		}
		updated, err = tx.UpdateRole(ctx, role)
		return err
	})
	return updated, err
}

// DeleteRole removes the role together with its grants and attachments.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	var holders []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		if holders, err = tx.UsersOfRole(ctx, id); err != nil {
			return err
		}
		return tx.DeleteRole(ctx, id)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, holders...)
	return nil
}

// ListRoles returns a window of roles ordered by id plus the total count.
func (s *Service) ListRoles(ctx context.Context, p ListParams) ([]Role, int, error) {
	return s.repo.ListRoles(ctx, p)
}

func normalizePermissionInput(in PermissionInput) PermissionInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Codename = strings.TrimSpace(in.Codename)
	in.Description = strings.TrimSpace(in.Description)
	return in
}

// CreatePermission inserts a new permission.
func (s *Service) CreatePermission(ctx context.Context, in PermissionInput) (Permission, error) {
	in = normalizePermissionInput(in)
	if err := validateStruct(s.validate, in); err != nil {
		return Permission{}, err
	}
	return s.repo.CreatePermission(ctx, Permission{Name: in.Name, Codename: in.Codename, Description: in.Description})
}

// GetPermission fetches a permission by id.
func (s *Service) GetPermission(ctx context.Context, id int64) (Permission, error) {
	return s.repo.GetPermission(ctx, id)
}

// UpdatePermission applies patch. Renaming a codename changes what every
// holder of the permission is allowed, so the whole cache is dropped.
func (s *Service) UpdatePermission(ctx context.Context, id int64, patch PermissionPatch) (Permission, error) {
	patch.Name = trimmed(patch.Name)
	patch.Codename = trimmed(patch.Codename)
	patch.Description = trimmed(patch.Description)
	if patch.Name != nil && *patch.Name == "" {
		return Permission{}, invalidField("name", "This field may not be blank.")
	}
	if patch.Codename != nil && *patch.Codename == "" {
		return Permission{}, invalidField("codename", "This field may not be blank.")
	}
	if err := validateStruct(s.validate, patch); err != nil {
		return Permission{}, err
	}
	var updated Permission
	var codenameChanged bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		p, err := tx.GetPermission(ctx, id)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			p.Name = *patch.Name
		}
		if patch.Codename != nil && *patch.Codename != p.Codename {
			p.Codename = *patch.Codename
			codenameChanged = true
		}
		if patch.Description != nil {
			p.Description = *patch.Description
		}
		updated, err = tx.UpdatePermission(ctx, p)
		return err
	})
	if err != nil {
		return Permission{}, err
	}
	if codenameChanged {
		s.invalidateAll(ctx)
	}
	return updated, nil
}

// DeletePermission removes the permission and detaches it from every role.
func (s *Service) DeletePermission(ctx context.Context, id int64) error {
	if err := s.repo.DeletePermission(ctx, id); err != nil {
		return err
	}
	s.invalidateAll(ctx)
	return nil
}

// ListPermissions returns a window of permissions ordered by id plus the total count.
func (s *Service) ListPermissions(ctx context.Context, p ListParams) ([]Permission, int, error) {
	return s.repo.ListPermissions(ctx, p)
}

// EnsurePermission creates the permission or refreshes the description of an
// existing one with the same codename. The name is only changed when it does
// not collide with another permission.
func (s *Service) EnsurePermission(ctx context.Context, in PermissionInput) (Permission, bool, error) {
	in = normalizePermissionInput(in)
	if err := validateStruct(s.validate, in); err != nil {
		return Permission{}, false, err
	}
	var out Permission
	var created bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		existing, err := tx.GetPermissionByCodename(ctx, in.Codename)
		if err != nil && !IsNotFound(err) {
			return err
		}
		if err == nil {
			existing.Description = in.Description
			out, err = tx.UpdatePermission(ctx, existing)
			if err != nil {
				return err
			}
			if existing.Name != in.Name {
				renamed := out
				renamed.Name = in.Name
				if r, err := tx.UpdatePermission(ctx, renamed); err == nil {
					out = r
				} else if !IsDuplicateKey(err) {
					return err
				}
			}
			return nil
		}
		out, err = tx.CreatePermission(ctx, Permission{Name: in.Name, Codename: in.Codename, Description: in.Description})
		created = err == nil
		return err
	})
	return out, created, err
}

// Grant gives userID the role. Granting an existing pair is a no-op that
// returns the existing link with created=false.
func (s *Service) Grant(ctx context.Context, userID, roleID int64) (UserRole, bool, error) {
	ur, created, err := s.repo.Grant(ctx, userID, roleID)
	if err != nil {
		return UserRole{}, false, err
	}
	if created {
		s.invalidate(ctx, userID)
	}
	return ur, created, nil
}

// Revoke removes the role from userID. Revoking a missing pair is a no-op.
func (s *Service) Revoke(ctx context.Context, userID, roleID int64) error {
	if err := s.repo.Revoke(ctx, userID, roleID); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

// Attach links the permission to roleID. Attaching an existing pair is a no-op.
func (s *Service) Attach(ctx context.Context, roleID, permissionID int64) (RolePermission, bool, error) {
	var rp RolePermission
	var created bool
	var holders []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		rp, created, err = tx.Attach(ctx, roleID, permissionID)
		if err != nil || !created {
			return err
		}
		holders, err = tx.UsersOfRole(ctx, roleID)
		return err
	})
	if err != nil {
		return RolePermission{}, false, err
	}
	s.invalidate(ctx, holders...)
	return rp, created, nil
}

// Detach unlinks the permission from roleID. Detaching a missing pair is a no-op.
func (s *Service) Detach(ctx context.Context, roleID, permissionID int64) error {
	var holders []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.Detach(ctx, roleID, permissionID); err != nil {
			return err
		}
		var err error
		holders, err = tx.UsersOfRole(ctx, roleID)
		return err
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, holders...)
	return nil
}

// RolesOfUser returns the role ids granted to an existing user.
func (s *Service) RolesOfUser(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := s.repo.WithReadTx(ctx, func(ctx context.Context, tx Repository) error {
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return err
		}
		var err error
		ids, err = tx.RolesOfUser(ctx, userID)
		return err
	})
	return ids, err
}

// PermissionsOfRole returns the permission ids attached to an existing role.
func (s *Service) PermissionsOfRole(ctx context.Context, roleID int64) ([]int64, error) {
	var ids []int64
	err := s.repo.WithReadTx(ctx, func(ctx context.Context, tx Repository) error {
		if _, err := tx.GetRole(ctx, roleID); err != nil {
			return err
		}
		var err error
		ids, err = tx.PermissionsOfRole(ctx, roleID)
		return err
	})
	return ids, err
}

// GetUserRole fetches a user role link by id.
func (s *Service) GetUserRole(ctx context.Context, id int64) (UserRole, error) {
	return s.repo.GetUserRole(ctx, id)
}

// DeleteUserRole removes a user role link by id.
func (s *Service) DeleteUserRole(ctx context.Context, id int64) error {
	ur, err := s.repo.DeleteUserRole(ctx, id)
	if err != nil {
		return err
	}
	s.invalidate(ctx, ur.User)
	return nil
}

// ListUserRoles lists user role links ordered by id.
func (s *Service) ListUserRoles(ctx context.Context, f AssociationFilter) ([]UserRole, int, error) {
	return s.repo.ListUserRoles(ctx, f)
}

// GetRolePermission fetches a role permission link by id.
func (s *Service) GetRolePermission(ctx context.Context, id int64) (RolePermission, error) {
	return s.repo.GetRolePermission(ctx, id)
}

// DeleteRolePermission removes a role permission link by id.
func (s *Service) DeleteRolePermission(ctx context.Context, id int64) error {
	var holders []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		rp, err := tx.DeleteRolePermission(ctx, id)
		if err != nil {
			return err
		}
		holders, err = tx.UsersOfRole(ctx, rp.Role)
		return err
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, holders...)
	return nil
}

// ListRolePermissions lists role permission links ordered by id.
func (s *Service) ListRolePermissions(ctx context.Context, f AssociationFilter) ([]RolePermission, int, error) {
	return s.repo.ListRolePermissions(ctx, f)
}
