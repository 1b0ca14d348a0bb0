package rbac

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-rbac/internal/platform/httpx"
)

// MemoryRepository is an in-process Repository. Transactions take the store
// lock for their whole duration and restore a snapshot on error, so
// reconciliations are atomic and serialised here too.
type MemoryRepository struct {
	db *memoryDB
	tx bool
}

var _ Repository = (*MemoryRepository)(nil)

type memoryDB struct {
	mu    sync.RWMutex
	state *memoryState
	now   func() time.Time
}

type storedUser struct {
	User
	hash string
}

type link struct {
	ID int64
	A  int64
	B  int64
}

type memoryState struct {
	users     map[int64]storedUser
	roles     map[int64]Role
	perms     map[int64]Permission
	userRoles map[int64]link
	rolePerms map[int64]link
	seq       map[string]int64
}

func (s *memoryState) clone() *memoryState {
	return &memoryState{
		users:     maps.Clone(s.users),
		roles:     maps.Clone(s.roles),
		perms:     maps.Clone(s.perms),
		userRoles: maps.Clone(s.userRoles),
		rolePerms: maps.Clone(s.rolePerms),
		seq:       maps.Clone(s.seq),
	}
}

func (s *memoryState) next(table string) int64 {
	s.seq[table]++
	return s.seq[table]
}

// NewMemoryRepository constructs an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{db: &memoryDB{
		state: &memoryState{
			users:     map[int64]storedUser{},
			roles:     map[int64]Role{},
			perms:     map[int64]Permission{},
			userRoles: map[int64]link{},
			rolePerms: map[int64]link{},
			seq:       map[string]int64{},
		},
		now: func() time.Time { return time.Now().UTC() },
	}}
}

func (r *MemoryRepository) read() (*memoryState, func()) {
	if r.tx {
		return r.db.state, func() {}
	}
	r.db.mu.RLock()
	return r.db.state, r.db.mu.RUnlock
}

func (r *MemoryRepository) write() (*memoryState, func()) {
	if r.tx {
		return r.db.state, func() {}
	}
	r.db.mu.Lock()
	return r.db.state, r.db.mu.Unlock
}

func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if r.tx {
		return fn(ctx, r)
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	snapshot := r.db.state.clone()
	if err := fn(ctx, &MemoryRepository{db: r.db, tx: true}); err != nil {
		r.db.state = snapshot
		return err
	}
	return nil
}

func (r *MemoryRepository) WithReadTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if r.tx {
		return fn(ctx, r)
	}
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	return fn(ctx, &MemoryRepository{db: r.db, tx: true})
}

func window[T any](items []T, p ListParams) []T {
	if p.Offset >= len(items) {
		return nil
	}
	items = items[p.Offset:]
	if p.Limit > 0 && p.Limit < len(items) {
		items = items[:p.Limit]
	}
	return items
}

func sortedValues[V any](m map[int64]V) []V {
	ids := slices.Sorted(maps.Keys(m))
	out := make([]V, 0, len(ids))
	for _, id := range ids {
		out = append(out, m[id])
	}
	return out
}

func (s *memoryState) userConflict(u User) error {
	for _, other := range s.users {
		if other.ID == u.ID {
			continue
		}
		if other.Username == u.Username {
			return duplicate("user", "username")
		}
		if other.Email == u.Email {
			return duplicate("user", "email")
		}
	}
	return nil
}

func (r *MemoryRepository) CreateUser(_ context.Context, u User, passwordHash string) (User, error) {
	s, unlock := r.write()
	defer unlock()
	u.ID = 0
	if err := s.userConflict(u); err != nil {
		return User{}, err
	}
	u.ID = s.next("users")
	u.DateJoined = r.db.now()
	s.users[u.ID] = storedUser{User: u, hash: passwordHash}
	return u, nil
}

func (r *MemoryRepository) GetUser(_ context.Context, id int64) (User, error) {
	s, unlock := r.read()
	defer unlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, notFound("user", id)
	}
	return u.User, nil
}

func (r *MemoryRepository) GetCredentials(_ context.Context, username string) (User, string, error) {
	s, unlock := r.read()
	defer unlock()
	for _, u := range s.users {
		if u.Username == username {
			return u.User, u.hash, nil
		}
	}
	return User{}, "", httpx.NewError(ErrNotFound, "user %q not found", username)
}

func (r *MemoryRepository) GetPasswordHash(_ context.Context, id int64) (string, error) {
	s, unlock := r.read()
	defer unlock()
	u, ok := s.users[id]
	if !ok {
		return "", notFound("user", id)
	}
	return u.hash, nil
}

func (r *MemoryRepository) UpdateUser(_ context.Context, u User) (User, error) {
	s, unlock := r.write()
	defer unlock()
	existing, ok := s.users[u.ID]
	if !ok {
		return User{}, notFound("user", u.ID)
	}
	if err := s.userConflict(u); err != nil {
		return User{}, err
	}
	u.DateJoined = existing.DateJoined
	s.users[u.ID] = storedUser{User: u, hash: existing.hash}
	return u, nil
}

func (r *MemoryRepository) SetPasswordHash(_ context.Context, id int64, hash string) error {
	s, unlock := r.write()
	defer unlock()
	u, ok := s.users[id]
	if !ok {
		return notFound("user", id)
	}
	u.hash = hash
	s.users[id] = u
	return nil
}

func (r *MemoryRepository) DeleteUser(_ context.Context, id int64) error {
	s, unlock := r.write()
	defer unlock()
	if _, ok := s.users[id]; !ok {
		return notFound("user", id)
	}
	delete(s.users, id)
	maps.DeleteFunc(s.userRoles, func(_ int64, l link) bool { return l.A == id })
	return nil
}

func (r *MemoryRepository) ListUsers(_ context.Context, p ListParams) ([]User, int, error) {
	s, unlock := r.read()
	defer unlock()
	stored := sortedValues(s.users)
	users := make([]User, 0, len(stored))
	for _, u := range stored {
		users = append(users, u.User)
	}
	return window(users, p), len(users), nil
}

func (r *MemoryRepository) LockUser(ctx context.Context, id int64) error {
	_, err := r.GetUser(ctx, id)
	return err
}

func (s *memoryState) roleConflict(role Role) error {
	for _, other := range s.roles {
		if other.ID != role.ID && other.Name == role.Name {
			return duplicate("role", "name")
		}
	}
	return nil
}

func (r *MemoryRepository) CreateRole(_ context.Context, role Role) (Role, error) {
	s, unlock := r.write()
	defer unlock()
	role.ID = 0
	if err := s.roleConflict(role); err != nil {
		return Role{}, err
	}
	role.ID = s.next("roles")
	s.roles[role.ID] = role
	return role, nil
}

func (r *MemoryRepository) GetRole(_ context.Context, id int64) (Role, error) {
	s, unlock := r.read()
	defer unlock()
	role, ok := s.roles[id]
	if !ok {
		return Role{}, notFound("role", id)
	}
	return role, nil
}

func (r *MemoryRepository) UpdateRole(_ context.Context, role Role) (Role, error) {
	s, unlock := r.write()
	defer unlock()
	if _, ok := s.roles[role.ID]; !ok {
		return Role{}, notFound("role", role.ID)
	}
	if err := s.roleConflict(role); err != nil {
		return Role{}, err
	}
	s.roles[role.ID] = role
	return role, nil
}

func (r *MemoryRepository) DeleteRole(_ context.Context, id int64) error {
	s, unlock := r.write()
	defer unlock()
	if _, ok := s.roles[id]; !ok {
		return notFound("role", id)
	}
	delete(s.roles, id)
	maps.DeleteFunc(s.userRoles, func(_ int64, l link) bool { return l.B == id })
	maps.DeleteFunc(s.rolePerms, func(_ int64, l link) bool { return l.A == id })
	return nil
}

func (r *MemoryRepository) ListRoles(_ context.Context, p ListParams) ([]Role, int, error) {
	s, unlock := r.read()
	defer unlock()
	roles := sortedValues(s.roles)
	return window(roles, p), len(roles), nil
}

func (r *MemoryRepository) LockRole(ctx context.Context, id int64) error {
	_, err := r.GetRole(ctx, id)
	return err
}

func (s *memoryState) permissionConflict(p Permission) error {
	for _, other := range s.perms {
		if other.ID == p.ID {
			continue
		}
		if other.Codename == p.Codename {
			return duplicate("permission", "codename")
		}
		if other.Name == p.Name {
			return duplicate("permission", "name")
		}
	}
	return nil
}

func (r *MemoryRepository) CreatePermission(_ context.Context, p Permission) (Permission, error) {
	s, unlock := r.write()
	defer unlock()
	p.ID = 0
	if err := s.permissionConflict(p); err != nil {
		return Permission{}, err
	}
	p.ID = s.next("permissions")
	s.perms[p.ID] = p
	return p, nil
}

func (r *MemoryRepository) GetPermission(_ context.Context, id int64) (Permission, error) {
	s, unlock := r.read()
	defer unlock()
	p, ok := s.perms[id]
	if !ok {
		return Permission{}, notFound("permission", id)
	}
	return p, nil
}

func (r *MemoryRepository) GetPermissionByCodename(_ context.Context, codename string) (Permission, error) {
	s, unlock := r.read()
	defer unlock()
	for _, p := range s.perms {
		if p.Codename == codename {
			return p, nil
		}
	}
	return Permission{}, httpx.NewError(ErrNotFound, "permission %q not found", codename)
}

func (r *MemoryRepository) UpdatePermission(_ context.Context, p Permission) (Permission, error) {
	s, unlock := r.write()
	defer unlock()
	if _, ok := s.perms[p.ID]; !ok {
		return Permission{}, notFound("permission", p.ID)
	}
	if err := s.permissionConflict(p); err != nil {
		return Permission{}, err
	}
	s.perms[p.ID] = p
	return p, nil
}

func (r *MemoryRepository) DeletePermission(_ context.Context, id int64) error {
	s, unlock := r.write()
	defer unlock()
	if _, ok := s.perms[id]; !ok {
		return notFound("permission", id)
	}
	delete(s.perms, id)
	maps.DeleteFunc(s.rolePerms, func(_ int64, l link) bool { return l.B == id })
	return nil
}

func (r *MemoryRepository) ListPermissions(_ context.Context, p ListParams) ([]Permission, int, error) {
	s, unlock := r.read()
	defer unlock()
	perms := sortedValues(s.perms)
	return window(perms, p), len(perms), nil
}

func (r *MemoryRepository) PermissionsByIDs(_ context.Context, ids []int64) ([]Permission, error) {
	s, unlock := r.read()
	defer unlock()
	var out []Permission
	for _, id := range slices.Compact(slices.Sorted(slices.Values(ids))) {
		if p, ok := s.perms[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func findLink(links map[int64]link, a, b int64) (link, bool) {
	for _, l := range links {
		if l.A == a && l.B == b {
			return l, true
		}
	}
	return link{}, false
}

func (s *memoryState) userRole(l link) UserRole {
	return UserRole{ID: l.ID, User: l.A, Username: s.users[l.A].Username, Role: l.B, RoleName: s.roles[l.B].Name}
}

func (s *memoryState) rolePermission(l link) RolePermission {
	return RolePermission{ID: l.ID, Role: l.A, RoleName: s.roles[l.A].Name, Permission: l.B, PermissionName: s.perms[l.B].Name}
}

func (r *MemoryRepository) Grant(_ context.Context, userID, roleID int64) (UserRole, bool, error) {
	s, unlock := r.write()
	defer unlock()
	if _, ok := s.users[userID]; !ok {
		return UserRole{}, false, notFound("user", userID)
	}
	if _, ok := s.roles[roleID]; !ok {
		return UserRole{}, false, notFound("role", roleID)
	}
	if l, ok := findLink(s.userRoles, userID, roleID); ok {
		return s.userRole(l), false, nil
	}
	l := link{ID: s.next("user_roles"), A: userID, B: roleID}
	s.userRoles[l.ID] = l
	return s.userRole(l), true, nil
}

func (r *MemoryRepository) Revoke(_ context.Context, userID, roleID int64) error {
	s, unlock := r.write()
	defer unlock()
	maps.DeleteFunc(s.userRoles, func(_ int64, l link) bool { return l.A == userID && l.B == roleID })
	return nil
}

func (r *MemoryRepository) Attach(_ context.Context, roleID, permissionID int64) (RolePermission, bool, error) {
	s, unlock := r.write()
	defer unlock()
	if _, ok := s.roles[roleID]; !ok {
		return RolePermission{}, false, notFound("role", roleID)
	}
	if _, ok := s.perms[permissionID]; !ok {
		return RolePermission{}, false, notFound("permission", permissionID)
	}
	if l, ok := findLink(s.rolePerms, roleID, permissionID); ok {
		return s.rolePermission(l), false, nil
	}
	l := link{ID: s.next("role_permissions"), A: roleID, B: permissionID}
	s.rolePerms[l.ID] = l
	return s.rolePermission(l), true, nil
}

func (r *MemoryRepository) Detach(_ context.Context, roleID, permissionID int64) error {
	s, unlock := r.write()
	defer unlock()
	maps.DeleteFunc(s.rolePerms, func(_ int64, l link) bool { return l.A == roleID && l.B == permissionID })
	return nil
}

func linkedIDs(links map[int64]link, match func(link) bool, pick func(link) int64) []int64 {
	ids := []int64{}
	for _, l := range links {
		if match(l) {
			ids = append(ids, pick(l))
		}
	}
	slices.Sort(ids)
	return ids
}

func (r *MemoryRepository) RolesOfUser(_ context.Context, userID int64) ([]int64, error) {
	s, unlock := r.read()
	defer unlock()
	return linkedIDs(s.userRoles, func(l link) bool { return l.A == userID }, func(l link) int64 { return l.B }), nil
}

func (r *MemoryRepository) PermissionsOfRole(_ context.Context, roleID int64) ([]int64, error) {
	s, unlock := r.read()
	defer unlock()
	return linkedIDs(s.rolePerms, func(l link) bool { return l.A == roleID }, func(l link) int64 { return l.B }), nil
}

func (r *MemoryRepository) UsersOfRole(_ context.Context, roleID int64) ([]int64, error) {
	s, unlock := r.read()
	defer unlock()
	return linkedIDs(s.userRoles, func(l link) bool { return l.B == roleID }, func(l link) int64 { return l.A }), nil
}

func (r *MemoryRepository) GetUserRole(_ context.Context, id int64) (UserRole, error) {
	s, unlock := r.read()
	defer unlock()
	l, ok := s.userRoles[id]
	if !ok {
		return UserRole{}, notFound("user role", id)
	}
	return s.userRole(l), nil
}

func (r *MemoryRepository) DeleteUserRole(_ context.Context, id int64) (UserRole, error) {
	s, unlock := r.write()
	defer unlock()
	l, ok := s.userRoles[id]
	if !ok {
		return UserRole{}, notFound("user role", id)
	}
	ur := s.userRole(l)
	delete(s.userRoles, id)
	return ur, nil
}

func (r *MemoryRepository) ListUserRoles(_ context.Context, f AssociationFilter) ([]UserRole, int, error) {
	s, unlock := r.read()
	defer unlock()
	var out []UserRole
	for _, l := range sortedValues(s.userRoles) {
		if (f.UserID == 0 || l.A == f.UserID) && (f.RoleID == 0 || l.B == f.RoleID) {
			out = append(out, s.userRole(l))
		}
	}
	return window(out, f.ListParams), len(out), nil
}

func (r *MemoryRepository) GetRolePermission(_ context.Context, id int64) (RolePermission, error) {
	s, unlock := r.read()
	defer unlock()
	l, ok := s.rolePerms[id]
	if !ok {
		return RolePermission{}, notFound("role permission", id)
	}
	return s.rolePermission(l), nil
}

func (r *MemoryRepository) DeleteRolePermission(_ context.Context, id int64) (RolePermission, error) {
	s, unlock := r.write()
	defer unlock()
	l, ok := s.rolePerms[id]
	if !ok {
		return RolePermission{}, notFound("role permission", id)
	}
	rp := s.rolePermission(l)
	delete(s.rolePerms, id)
	return rp, nil
}

func (r *MemoryRepository) ListRolePermissions(_ context.Context, f AssociationFilter) ([]RolePermission, int, error) {
	s, unlock := r.read()
	defer unlock()
	var out []RolePermission
	for _, l := range sortedValues(s.rolePerms) {
		if (f.RoleID == 0 || l.A == f.RoleID) && (f.PermissionID == 0 || l.B == f.PermissionID) {
			out = append(out, s.rolePermission(l))
		}
	}
	return window(out, f.ListParams), len(out), nil
}
