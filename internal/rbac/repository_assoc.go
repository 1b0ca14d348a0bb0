package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	platformdb "github.com/odyssey-erp/odyssey-rbac/internal/platform/db"
)

var foreignKeyTargets = map[string]string{
	"user_roles_user_id_fkey":             "user",
	"user_roles_role_id_fkey":             "role",
	"role_permissions_role_id_fkey":       "role",
	"role_permissions_permission_id_fkey": "permission",
}

// translateForeignKey maps a missing referenced row to NotFound naming the
// offending id; ids is keyed by the target kind.
func translateForeignKey(err error, ids map[string]int64) error {
	constraint, ok := platformdb.ForeignKeyViolation(err)
	if !ok {
		return err
	}
	kind := foreignKeyTargets[constraint]
	if kind == "" {
		kind = "referenced row"
	}
	return notFound(kind, ids[kind])
}

const userRoleSelect = `SELECT ur.id, ur.user_id, u.username, ur.role_id, r.name
FROM user_roles ur
JOIN users u ON u.id = ur.user_id
JOIN roles r ON r.id = ur.role_id`

const rolePermissionSelect = `SELECT rp.id, rp.role_id, r.name, rp.permission_id, p.name
FROM role_permissions rp
JOIN roles r ON r.id = rp.role_id
JOIN permissions p ON p.id = rp.permission_id`

func scanUserRole(row pgx.Row) (UserRole, error) {
	var ur UserRole
	err := row.Scan(&ur.ID, &ur.User, &ur.Username, &ur.Role, &ur.RoleName)
	return ur, err
}

func scanRolePermission(row pgx.Row) (RolePermission, error) {
	var rp RolePermission
	err := row.Scan(&rp.ID, &rp.Role, &rp.RoleName, &rp.Permission, &rp.PermissionName)
	return rp, err
}

func (r *PostgresRepository) Grant(ctx context.Context, userID, roleID int64) (UserRole, bool, error) {
	id, created, err := r.insertLink(ctx,
		`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT (user_id, role_id) DO NOTHING RETURNING id`,
		`SELECT id FROM user_roles WHERE user_id = $1 AND role_id = $2`,
		userID, roleID)
	if err != nil {
		return UserRole{}, false, translateForeignKey(err, map[string]int64{"user": userID, "role": roleID})
	}
	ur, err := r.GetUserRole(ctx, id)
	return ur, created, err
}

func (r *PostgresRepository) Revoke(ctx context.Context, userID, roleID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	return err
}

func (r *PostgresRepository) Attach(ctx context.Context, roleID, permissionID int64) (RolePermission, bool, error) {
	id, created, err := r.insertLink(ctx,
		`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2) ON CONFLICT (role_id, permission_id) DO NOTHING RETURNING id`,
		`SELECT id FROM role_permissions WHERE role_id = $1 AND permission_id = $2`,
		roleID, permissionID)
	if err != nil {
		return RolePermission{}, false, translateForeignKey(err, map[string]int64{"role": roleID, "permission": permissionID})
	}
	rp, err := r.GetRolePermission(ctx, id)
	return rp, created, err
}

func (r *PostgresRepository) Detach(ctx context.Context, roleID, permissionID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	return err
}

// insertLink inserts a link row or, when the pair already exists, returns the
// id of the existing row. A row deleted between the insert and the lookup
// sends the insert round again.
func (r *PostgresRepository) insertLink(ctx context.Context, insert, lookup string, a, b int64) (int64, bool, error) {
	const attempts = 3
	for i := 0; i < attempts; i++ {
		id, created, err := r.tryInsertLink(ctx, insert, lookup, a, b)
		if !errors.Is(err, pgx.ErrNoRows) {
			return id, created, err
		}
	}
	return 0, false, fmt.Errorf("rbac: link (%d, %d) changed concurrently, gave up after %d attempts", a, b, attempts)
}

func (r *PostgresRepository) tryInsertLink(ctx context.Context, insert, lookup string, a, b int64) (int64, bool, error) {
	var id int64
	err := r.db.QueryRow(ctx, insert, a, b).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, err
	}
	if err := r.db.QueryRow(ctx, lookup, a, b).Scan(&id); err != nil {
		return 0, false, err
	}
	return id, false, nil
}

func (r *PostgresRepository) RolesOfUser(ctx context.Context, userID int64) ([]int64, error) {
	return r.collectIDs(ctx, `SELECT role_id FROM user_roles WHERE user_id = $1 ORDER BY role_id`, userID)
}

func (r *PostgresRepository) PermissionsOfRole(ctx context.Context, roleID int64) ([]int64, error) {
	return r.collectIDs(ctx, `SELECT permission_id FROM role_permissions WHERE role_id = $1 ORDER BY permission_id`, roleID)
}

func (r *PostgresRepository) UsersOfRole(ctx context.Context, roleID int64) ([]int64, error) {
	return r.collectIDs(ctx, `SELECT user_id FROM user_roles WHERE role_id = $1 ORDER BY user_id`, roleID)
}

func (r *PostgresRepository) collectIDs(ctx context.Context, query string, arg int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (r *PostgresRepository) GetUserRole(ctx context.Context, id int64) (UserRole, error) {
	ur, err := scanUserRole(r.db.QueryRow(ctx, userRoleSelect+` WHERE ur.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return UserRole{}, notFound("user role", id)
	}
	return ur, err
}

func (r *PostgresRepository) DeleteUserRole(ctx context.Context, id int64) (UserRole, error) {
	ur, err := r.GetUserRole(ctx, id)
	if err != nil {
		return UserRole{}, err
	}
	if err := r.deleteByID(ctx, `DELETE FROM user_roles WHERE id = $1`, "user role", id); err != nil {
		return UserRole{}, err
	}
	return ur, nil
}

func (r *PostgresRepository) ListUserRoles(ctx context.Context, f AssociationFilter) ([]UserRole, int, error) {
	const where = ` WHERE ($1::bigint = 0 OR ur.user_id = $1) AND ($2::bigint = 0 OR ur.role_id = $2)`
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM user_roles ur`+where, f.UserID, f.RoleID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx, userRoleSelect+where+` ORDER BY ur.id LIMIT $3 OFFSET $4`,
		f.UserID, f.RoleID, limitArg(f.ListParams), f.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []UserRole
	for rows.Next() {
		ur, err := scanUserRole(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, ur)
	}
	return out, total, rows.Err()
}

func (r *PostgresRepository) GetRolePermission(ctx context.Context, id int64) (RolePermission, error) {
	rp, err := scanRolePermission(r.db.QueryRow(ctx, rolePermissionSelect+` WHERE rp.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return RolePermission{}, notFound("role permission", id)
	}
	return rp, err
}

func (r *PostgresRepository) DeleteRolePermission(ctx context.Context, id int64) (RolePermission, error) {
	rp, err := r.GetRolePermission(ctx, id)
	if err != nil {
		return RolePermission{}, err
	}
	if err := r.deleteByID(ctx, `DELETE FROM role_permissions WHERE id = $1`, "role permission", id); err != nil {
		return RolePermission{}, err
	}
	return rp, nil
}

func (r *PostgresRepository) ListRolePermissions(ctx context.Context, f AssociationFilter) ([]RolePermission, int, error) {
	const where = ` WHERE ($1::bigint = 0 OR rp.role_id = $1) AND ($2::bigint = 0 OR rp.permission_id = $2)`
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM role_permissions rp`+where, f.RoleID, f.PermissionID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx, rolePermissionSelect+where+` ORDER BY rp.id LIMIT $3 OFFSET $4`,
		f.RoleID, f.PermissionID, limitArg(f.ListParams), f.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []RolePermission
	for rows.Next() {
		rp, err := scanRolePermission(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rp)
	}
	return out, total, rows.Err()
}
