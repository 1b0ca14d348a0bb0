package client

import (
	"context"
	"log/slog"

	"github.com/odyssey-erp/odyssey-rbac/internal/rbac"
)

// SyncUserRoles converges the user's roles on target with one request per
// change: grants first, then revokes. It stops at the first failure and
// reports what was applied, what failed and what never ran. Applied changes
// stay applied. Prefer ReconcileUserRoles when atomicity matters.
func (c *Client) SyncUserRoles(ctx context.Context, userID int64, target []int64) (rbac.ReconcileResult, error) {
	current, err := c.UserRoleIDs(ctx, userID)
	if err != nil {
		return rbac.ReconcileResult{}, err
	}
	return c.sync(ctx, "user", userID, current, target,
		func(id int64) error { _, err := c.Grant(ctx, userID, id); return err },
		func(id int64) error { return c.Revoke(ctx, userID, id) },
		func() ([]int64, error) { return c.UserRoleIDs(ctx, userID) },
	)
}

// SyncRolePermissions is SyncUserRoles for a role's permissions.
func (c *Client) SyncRolePermissions(ctx context.Context, roleID int64, target []int64) (rbac.ReconcileResult, error) {
	current, err := c.RolePermissionIDs(ctx, roleID)
	if err != nil {
		return rbac.ReconcileResult{}, err
	}
	return c.sync(ctx, "role", roleID, current, target,
		func(id int64) error { _, err := c.Attach(ctx, roleID, id); return err },
		func(id int64) error { return c.Detach(ctx, roleID, id) },
		func() ([]int64, error) { return c.RolePermissionIDs(ctx, roleID) },
	)
}

func (c *Client) sync(
	ctx context.Context,
	kind string,
	ownerID int64,
	current, target []int64,
	add, remove func(int64) error,
	reload func() ([]int64, error),
) (rbac.ReconcileResult, error) {
	delta := rbac.Diff(current, target)
	changes := make([]rbac.Change, 0, len(delta.ToAdd)+len(delta.ToRemove))
	for _, id := range delta.ToAdd {
		changes = append(changes, rbac.Change{Op: rbac.OpAdd, ID: id})
	}
	for _, id := range delta.ToRemove {
		changes = append(changes, rbac.Change{Op: rbac.OpRemove, ID: id})
	}

	for i, ch := range changes {
		if err := ctx.Err(); err != nil {
			return rbac.ReconcileResult{}, c.partial(kind, ownerID, changes, i, err)
		}
		apply := add
		if ch.Op == rbac.OpRemove {
			apply = remove
		}
		if err := apply(ch.ID); err != nil {
			return rbac.ReconcileResult{}, c.partial(kind, ownerID, changes, i, err)
		}
	}

	final, err := reload()
	if err != nil {
		return rbac.ReconcileResult{}, err
	}
	return rbac.ReconcileResult{Added: delta.ToAdd, Removed: delta.ToRemove, Current: final}, nil
}

func (c *Client) partial(kind string, ownerID int64, changes []rbac.Change, failed int, err error) error {
	c.logger.Warn("sync stopped",
		slog.String("kind", kind),
		slog.Int64("owner_id", ownerID),
		slog.Int("applied", failed),
		slog.Int("pending", len(changes)-failed-1),
		slog.Any("error", err),
	)
	return &rbac.PartialReconciliationError{
		Kind:    kind,
		OwnerID: ownerID,
		Applied: append([]rbac.Change{}, changes[:failed]...),
		Failed:  changes[failed],
		Pending: append([]rbac.Change{}, changes[failed+1:]...),
		Err:     err,
	}
}
