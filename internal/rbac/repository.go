package rbac

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	platformdb "github.com/odyssey-erp/odyssey-rbac/internal/platform/db"
	"github.com/odyssey-erp/odyssey-rbac/internal/platform/httpx"
)

// EntityStore persists users, roles and permissions.
type EntityStore interface {
	CreateUser(ctx context.Context, u User, passwordHash string) (User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	GetCredentials(ctx context.Context, username string) (User, string, error)
	GetPasswordHash(ctx context.Context, id int64) (string, error)
	UpdateUser(ctx context.Context, u User) (User, error)
	SetPasswordHash(ctx context.Context, id int64, hash string) error
	DeleteUser(ctx context.Context, id int64) error
	ListUsers(ctx context.Context, p ListParams) ([]User, int, error)
	LockUser(ctx context.Context, id int64) error

	CreateRole(ctx context.Context, r Role) (Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	UpdateRole(ctx context.Context, r Role) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	ListRoles(ctx context.Context, p ListParams) ([]Role, int, error)
	LockRole(ctx context.Context, id int64) error

	CreatePermission(ctx context.Context, p Permission) (Permission, error)
	GetPermission(ctx context.Context, id int64) (Permission, error)
	GetPermissionByCodename(ctx context.Context, codename string) (Permission, error)
	UpdatePermission(ctx context.Context, p Permission) (Permission, error)
	DeletePermission(ctx context.Context, id int64) error
	ListPermissions(ctx context.Context, p ListParams) ([]Permission, int, error)
	PermissionsByIDs(ctx context.Context, ids []int64) ([]Permission, error)
}

// AssociationStore persists the user→role and role→permission links.
// Grant and Attach report whether a new link was created.
type AssociationStore interface {
	Grant(ctx context.Context, userID, roleID int64) (UserRole, bool, error)
	Revoke(ctx context.Context, userID, roleID int64) error
	Attach(ctx context.Context, roleID, permissionID int64) (RolePermission, bool, error)
	Detach(ctx context.Context, roleID, permissionID int64) error

	RolesOfUser(ctx context.Context, userID int64) ([]int64, error)
	PermissionsOfRole(ctx context.Context, roleID int64) ([]int64, error)
	UsersOfRole(ctx context.Context, roleID int64) ([]int64, error)

	GetUserRole(ctx context.Context, id int64) (UserRole, error)
	DeleteUserRole(ctx context.Context, id int64) (UserRole, error)
	ListUserRoles(ctx context.Context, f AssociationFilter) ([]UserRole, int, error)

	GetRolePermission(ctx context.Context, id int64) (RolePermission, error)
	DeleteRolePermission(ctx context.Context, id int64) (RolePermission, error)
	ListRolePermissions(ctx context.Context, f AssociationFilter) ([]RolePermission, int, error)
}

// Repository is the full store. WithTx runs fn in a read-write transaction,
// WithReadTx in a read-only snapshot. Calls nested inside a transaction join it.
type Repository interface {
	EntityStore
	AssociationStore
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	WithReadTx(ctx context.Context, fn func(context.Context, Repository) error) error
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PostgresRepository implements Repository on pgx.
type PostgresRepository struct {
	db   dbtx
	pool *pgxpool.Pool
	inTx bool
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository constructs a repository bound to pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: pool, pool: pool}
}

func (r *PostgresRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return r.withTx(ctx, platformdb.ReadWrite, fn)
}

func (r *PostgresRepository) WithReadTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return r.withTx(ctx, platformdb.ReadOnly, fn)
}

func (r *PostgresRepository) withTx(ctx context.Context, opts pgx.TxOptions, fn func(context.Context, Repository) error) error {
	if r.inTx {
		return fn(ctx, r)
	}
	return platformdb.WithTx(ctx, r.pool, opts, func(tx pgx.Tx) error {
		return fn(ctx, &PostgresRepository{db: tx, pool: r.pool, inTx: true})
	})
}

type uniqueField struct {
	kind  string
	field string
}

var uniqueConstraints = map[string]uniqueField{
	"users_username_key":       {"user", "username"},
	"users_email_key":          {"user", "email"},
	"roles_name_key":           {"role", "name"},
	"permissions_name_key":     {"permission", "name"},
	"permissions_codename_key": {"permission", "codename"},
}

func translateUnique(err error) error {
	constraint, ok := platformdb.UniqueViolation(err)
	if !ok {
		return err
	}
	if f, known := uniqueConstraints[constraint]; known {
		return duplicate(f.kind, f.field)
	}
	return httpx.NewError(ErrDuplicateKey, "duplicate key (%s)", constraint)
}

func limitArg(p ListParams) any {
	if p.Limit <= 0 {
		return nil
	}
	return p.Limit
}

const userColumns = `id, username, email, first_name, last_name, is_active, is_staff, date_joined`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.IsActive, &u.IsStaff, &u.DateJoined)
	return u, err
}

func (r *PostgresRepository) CreateUser(ctx context.Context, u User, passwordHash string) (User, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO users (username, email, password_hash, first_name, last_name, is_active, is_staff)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING `+userColumns,
		u.Username, u.Email, passwordHash, u.FirstName, u.LastName, u.IsActive, u.IsStaff)
	created, err := scanUser(row)
	if err != nil {
		return User{}, translateUnique(err)
	}
	return created, nil
}

func (r *PostgresRepository) GetUser(ctx context.Context, id int64) (User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, notFound("user", id)
	}
	return u, err
}

func (r *PostgresRepository) GetCredentials(ctx context.Context, username string) (User, string, error) {
	var u User
	var hash string
	err := r.db.QueryRow(ctx, `SELECT `+userColumns+`, password_hash FROM users WHERE username = $1`, username).
		Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.IsActive, &u.IsStaff, &u.DateJoined, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, "", httpx.NewError(ErrNotFound, "user %q not found", username)
	}
	return u, hash, err
}

func (r *PostgresRepository) GetPasswordHash(ctx context.Context, id int64) (string, error) {
	var hash string
	err := r.db.QueryRow(ctx, `SELECT password_hash FROM users WHERE id = $1`, id).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", notFound("user", id)
	}
	return hash, err
}

func (r *PostgresRepository) UpdateUser(ctx context.Context, u User) (User, error) {
	row := r.db.QueryRow(ctx, `UPDATE users SET username = $2, email = $3, first_name = $4, last_name = $5, is_active = $6, is_staff = $7
WHERE id = $1 RETURNING `+userColumns,
		u.ID, u.Username, u.Email, u.FirstName, u.LastName, u.IsActive, u.IsStaff)
	updated, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, notFound("user", u.ID)
	}
	if err != nil {
		return User{}, translateUnique(err)
	}
	return updated, nil
}

func (r *PostgresRepository) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound("user", id)
	}
	return nil
}

func (r *PostgresRepository) DeleteUser(ctx context.Context, id int64) error {
	return r.deleteByID(ctx, `DELETE FROM users WHERE id = $1`, "user", id)
}

func (r *PostgresRepository) ListUsers(ctx context.Context, p ListParams) ([]User, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id LIMIT $1 OFFSET $2`, limitArg(p), p.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

func (r *PostgresRepository) LockUser(ctx context.Context, id int64) error {
	return r.lockRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, "user", id)
}

func (r *PostgresRepository) CreateRole(ctx context.Context, role Role) (Role, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO roles (name, description) VALUES ($1, $2) RETURNING id`,
		role.Name, role.Description).Scan(&role.ID)
	if err != nil {
		return Role{}, translateUnique(err)
	}
	return role, nil
}

func (r *PostgresRepository) GetRole(ctx context.Context, id int64) (Role, error) {
	var role Role
	err := r.db.QueryRow(ctx, `SELECT id, name, description FROM roles WHERE id = $1`, id).
		Scan(&role.ID, &role.Name, &role.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, notFound("role", id)
	}
	return role, err
}

func (r *PostgresRepository) UpdateRole(ctx context.Context, role Role) (Role, error) {
	tag, err := r.db.Exec(ctx, `UPDATE roles SET name = $2, description = $3 WHERE id = $1`, role.ID, role.Name, role.Description)
	if err != nil {
		return Role{}, translateUnique(err)
	}
	if tag.RowsAffected() == 0 {
		return Role{}, notFound("role", role.ID)
	}
	return role, nil
}

func (r *PostgresRepository) DeleteRole(ctx context.Context, id int64) error {
	return r.deleteByID(ctx, `DELETE FROM roles WHERE id = $1`, "role", id)
}

func (r *PostgresRepository) ListRoles(ctx context.Context, p ListParams) ([]Role, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM roles`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx, `SELECT id, name, description FROM roles ORDER BY id LIMIT $1 OFFSET $2`, limitArg(p), p.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description); err != nil {
			return nil, 0, err
		}
		roles = append(roles, role)
	}
	return roles, total, rows.Err()
}

func (r *PostgresRepository) LockRole(ctx context.Context, id int64) error {
	return r.lockRow(ctx, `SELECT id FROM roles WHERE id = $1 FOR UPDATE`, "role", id)
}

const permissionColumns = `id, name, codename, description`

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	err := row.Scan(&p.ID, &p.Name, &p.Codename, &p.Description)
	return p, err
}

func (r *PostgresRepository) CreatePermission(ctx context.Context, p Permission) (Permission, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO permissions (name, codename, description) VALUES ($1, $2, $3) RETURNING id`,
		p.Name, p.Codename, p.Description).Scan(&p.ID)
	if err != nil {
		return Permission{}, translateUnique(err)
	}
	return p, nil
}

func (r *PostgresRepository) GetPermission(ctx context.Context, id int64) (Permission, error) {
	p, err := scanPermission(r.db.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, notFound("permission", id)
	}
	return p, err
}

func (r *PostgresRepository) GetPermissionByCodename(ctx context.Context, codename string) (Permission, error) {
	p, err := scanPermission(r.db.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE codename = $1`, codename))
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, httpx.NewError(ErrNotFound, "permission %q not found", codename)
	}
	return p, err
}

func (r *PostgresRepository) UpdatePermission(ctx context.Context, p Permission) (Permission, error) {
	tag, err := r.db.Exec(ctx, `UPDATE permissions SET name = $2, codename = $3, description = $4 WHERE id = $1`,
		p.ID, p.Name, p.Codename, p.Description)
	if err != nil {
		return Permission{}, translateUnique(err)
	}
	if tag.RowsAffected() == 0 {
		return Permission{}, notFound("permission", p.ID)
	}
	return p, nil
}

func (r *PostgresRepository) DeletePermission(ctx context.Context, id int64) error {
	return r.deleteByID(ctx, `DELETE FROM permissions WHERE id = $1`, "permission", id)
}

func (r *PostgresRepository) ListPermissions(ctx context.Context, p ListParams) ([]Permission, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM permissions`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY id LIMIT $1 OFFSET $2`, limitArg(p), p.Offset)
	if err != nil {
		return nil, 0, err
	}
	return collectPermissions(rows, total)
}

func (r *PostgresRepository) PermissionsByIDs(ctx context.Context, ids []int64) ([]Permission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	perms, _, err := collectPermissions(rows, 0)
	return perms, err
}

func collectPermissions(rows pgx.Rows, total int) ([]Permission, int, error) {
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, 0, err
		}
		perms = append(perms, p)
	}
	return perms, total, rows.Err()
}

func (r *PostgresRepository) deleteByID(ctx context.Context, query, kind string, id int64) error {
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(kind, id)
	}
	return nil
}

func (r *PostgresRepository) lockRow(ctx context.Context, query, kind string, id int64) error {
	var locked int64
	err := r.db.QueryRow(ctx, query, id).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(kind, id)
	}
	return err
}
