package rbac

import (
	"context"
	"log/slog"
	"slices"
	"strconv"

	"golang.org/x/sync/singleflight"
)

// DecisionRecorder observes authorization outcomes.
type DecisionRecorder interface {
	ObserveDecision(codename string, allowed bool)
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed  bool
	Inactive bool
	Missing  []string
}

// Evaluator answers whether a user holds a permission codename through the
// roles granted to them.
type Evaluator struct {
	repo     Repository
	cache    PermissionCache
	recorder DecisionRecorder
	logger   *slog.Logger
	group    singleflight.Group
}

// NewEvaluator constructs an Evaluator. cache and recorder may be nil.
func NewEvaluator(repo Repository, cache PermissionCache, recorder DecisionRecorder, logger *slog.Logger) *Evaluator {
	if cache == nil {
		cache = noCache{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{repo: repo, cache: cache, recorder: recorder, logger: logger}
}

// HasPermission reports whether userID is active and one of its roles carries
// codename. Unknown users are denied with a NotFound error; a blank codename
// is always denied.
func (e *Evaluator) HasPermission(ctx context.Context, userID int64, codename string) (bool, error) {
	d, err := e.Decide(ctx, userID, []string{codename}, true)
	return d.Allowed, err
}

// Decide checks several codenames at once. With matchAll every codename must
// be granted, otherwise any one suffices. A set that is empty after trimming
// blanks grants nothing.
func (e *Evaluator) Decide(ctx context.Context, userID int64, required []string, matchAll bool) (Decision, error) {
	required = normalizePermissions(required)
	user, err := e.repo.GetUser(ctx, userID)
	if err != nil {
		return Decision{Missing: required}, err
	}
	if !user.IsActive {
		e.record(required, false)
		return Decision{Inactive: true, Missing: required}, nil
	}
	if len(required) == 0 {
		return Decision{}, nil
	}
	granted, err := e.effective(ctx, userID)
	if err != nil {
		return Decision{Missing: required}, err
	}

	var missing []string
	for _, codename := range required {
		if _, ok := slices.BinarySearch(granted, codename); !ok {
			missing = append(missing, codename)
		}
	}
	allowed := len(missing) == 0
	if !matchAll {
		allowed = len(missing) < len(required)
	}
	e.record(required, allowed)
	return Decision{Allowed: allowed, Missing: missing}, nil
}

// EffectivePermissions returns the sorted codenames userID holds. Inactive
// users hold none.
func (e *Evaluator) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	user, err := e.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return []string{}, nil
	}
	return e.effective(ctx, userID)
}

func (e *Evaluator) effective(ctx context.Context, userID int64) ([]string, error) {
	shared := context.WithoutCancel(ctx)
	ch := e.group.DoChan(strconv.FormatInt(userID, 10), func() (interface{}, error) {
		var loadErr error
		codenames, err := e.cache.Fetch(shared, userID, func(ctx context.Context) ([]string, error) {
			resolved, err := e.resolve(ctx, userID)
			loadErr = err
			return resolved, err
		})
		if loadErr != nil {
			return nil, loadErr
		}
		if err != nil {
			e.logger.Warn("permission cache unavailable", slog.Int64("user_id", userID), slog.Any("error", err))
			return e.resolve(shared, userID)
		}
		return codenames, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]string), nil
	}
}

// resolve walks user → roles → permissions in one snapshot and returns the
// sorted, de-duplicated codenames.
func (e *Evaluator) resolve(ctx context.Context, userID int64) ([]string, error) {
	var codenames []string
	err := e.repo.WithReadTx(ctx, func(ctx context.Context, tx Repository) error {
		roleIDs, err := tx.RolesOfUser(ctx, userID)
		if err != nil {
			return err
		}
		var permIDs []int64
		for _, roleID := range roleIDs {
			ids, err := tx.PermissionsOfRole(ctx, roleID)
			if err != nil {
				return err
			}
			permIDs = append(permIDs, ids...)
		}
		perms, err := tx.PermissionsByIDs(ctx, permIDs)
		if err != nil {
			return err
		}
		codenames = make([]string, 0, len(perms))
		for _, p := range perms {
			codenames = append(codenames, p.Codename)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(codenames)
	return slices.Compact(codenames), nil
}

func (e *Evaluator) record(codenames []string, allowed bool) {
	if e.recorder == nil {
		return
	}
	for _, c := range codenames {
		e.recorder.ObserveDecision(c, allowed)
	}
}
