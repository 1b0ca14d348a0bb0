package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
)

// Delta is the difference between a current and a target association set.
type Delta struct {
	ToAdd    []int64
	ToRemove []int64
}

// Empty reports whether applying the delta changes nothing.
func (d Delta) Empty() bool { return len(d.ToAdd) == 0 && len(d.ToRemove) == 0 }

// Diff computes target − current and current − target. Both results are
// de-duplicated and ascending.
func Diff(current, target []int64) Delta {
	cur := uniqueSorted(current)
	tgt := uniqueSorted(target)
	d := Delta{ToAdd: []int64{}, ToRemove: []int64{}}
	for _, id := range tgt {
		if _, ok := slices.BinarySearch(cur, id); !ok {
			d.ToAdd = append(d.ToAdd, id)
		}
	}
	for _, id := range cur {
		if _, ok := slices.BinarySearch(tgt, id); !ok {
			d.ToRemove = append(d.ToRemove, id)
		}
	}
	return d
}

func uniqueSorted(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// ReconcileResult reports what a reconciliation changed and the resulting set.
type ReconcileResult struct {
	Added   []int64 `json:"added"`
	Removed []int64 `json:"removed"`
	Current []int64 `json:"current"`
}

// Reconciler replaces association sets atomically. Each reconciliation runs in
// one transaction holding a row lock on the owning user or role, so concurrent
// reconciliations of the same owner apply one after the other.
type Reconciler struct {
	repo   Repository
	cache  PermissionCache
	logger *slog.Logger
}

// NewReconciler constructs a Reconciler. cache may be nil.
func NewReconciler(repo Repository, cache PermissionCache, logger *slog.Logger) *Reconciler {
	if cache == nil {
		cache = noCache{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{repo: repo, cache: cache, logger: logger}
}

type reconcilePlan struct {
	owner    string
	member   string
	lock     func(context.Context, Repository, int64) error
	current  func(context.Context, Repository, int64) ([]int64, error)
	add      func(context.Context, Repository, int64, int64) error
	remove   func(context.Context, Repository, int64, int64) error
	affected func(context.Context, Repository, int64) ([]int64, error)
}

// ReconcileRolePermissions makes the permission set of roleID equal target.
func (r *Reconciler) ReconcileRolePermissions(ctx context.Context, roleID int64, target []int64) (ReconcileResult, error) {
	return r.reconcile(ctx, reconcilePlan{
		owner:  "role",
		member: "permission",
		lock: func(ctx context.Context, tx Repository, id int64) error {
			return tx.LockRole(ctx, id)
		},
		current: func(ctx context.Context, tx Repository, id int64) ([]int64, error) {
			return tx.PermissionsOfRole(ctx, id)
		},
		add: func(ctx context.Context, tx Repository, owner, member int64) error {
			_, _, err := tx.Attach(ctx, owner, member)
			return err
		},
		remove: func(ctx context.Context, tx Repository, owner, member int64) error {
			return tx.Detach(ctx, owner, member)
		},
		affected: func(ctx context.Context, tx Repository, id int64) ([]int64, error) {
			return tx.UsersOfRole(ctx, id)
		},
	}, roleID, target)
}

// ReconcileUserRoles makes the role set of userID equal target.
func (r *Reconciler) ReconcileUserRoles(ctx context.Context, userID int64, target []int64) (ReconcileResult, error) {
	return r.reconcile(ctx, reconcilePlan{
		owner:  "user",
		member: "role",
		lock: func(ctx context.Context, tx Repository, id int64) error {
			return tx.LockUser(ctx, id)
		},
		current: func(ctx context.Context, tx Repository, id int64) ([]int64, error) {
			return tx.RolesOfUser(ctx, id)
		},
		add: func(ctx context.Context, tx Repository, owner, member int64) error {
			_, _, err := tx.Grant(ctx, owner, member)
			return err
		},
		remove: func(ctx context.Context, tx Repository, owner, member int64) error {
			return tx.Revoke(ctx, owner, member)
		},
		affected: func(_ context.Context, _ Repository, id int64) ([]int64, error) {
			return []int64{id}, nil
		},
	}, userID, target)
}

func (r *Reconciler) reconcile(ctx context.Context, plan reconcilePlan, ownerID int64, target []int64) (ReconcileResult, error) {
	for _, id := range target {
		if id <= 0 {
			return ReconcileResult{}, invalidField(plan.member+"s", fmt.Sprintf("Invalid pk \"%d\" - object does not exist.", id))
		}
	}

	var result ReconcileResult
	var affected []int64
	err := r.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := plan.lock(ctx, tx, ownerID); err != nil {
			return err
		}
		current, err := plan.current(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		delta := Diff(current, target)
		for _, id := range delta.ToAdd {
			if err := plan.add(ctx, tx, ownerID, id); err != nil {
				return fmt.Errorf("reconcile %s %d: add %s %d: %w", plan.owner, ownerID, plan.member, id, err)
			}
		}
		for _, id := range delta.ToRemove {
			if err := plan.remove(ctx, tx, ownerID, id); err != nil {
				return fmt.Errorf("reconcile %s %d: remove %s %d: %w", plan.owner, ownerID, plan.member, id, err)
			}
		}
		if !delta.Empty() {
			if affected, err = plan.affected(ctx, tx, ownerID); err != nil {
				return err
			}
		}
		result = ReconcileResult{Added: delta.ToAdd, Removed: delta.ToRemove, Current: uniqueSorted(target)}
		return nil
	})
	if err != nil {
		return ReconcileResult{}, err
	}

	if len(affected) > 0 {
		if err := r.cache.Invalidate(ctx, affected...); err != nil {
			r.logger.Error("invalidate permission cache", slog.String("owner", plan.owner), slog.Int64("owner_id", ownerID), slog.Any("error", err))
		}
	}
	r.logger.Info("association set reconciled",
		slog.String("owner", plan.owner),
		slog.Int64("owner_id", ownerID),
		slog.Int("added", len(result.Added)),
		slog.Int("removed", len(result.Removed)),
	)
	return result, nil
}
