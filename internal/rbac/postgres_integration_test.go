package rbac_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/odyssey-erp/odyssey-rbac/internal/platform/db"
	"github.com/odyssey-erp/odyssey-rbac/internal/platform/migrate"
	"github.com/odyssey-erp/odyssey-rbac/internal/rbac"
)

// newPostgresRepository starts a throwaway Postgres, applies the embedded
// migrations and returns a repository over it. Set INTEGRATION_TEST=1 to run.
func newPostgresRepository(t *testing.T) (*rbac.PostgresRepository, *pgxpool.Pool) {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") != "1" {
		t.Skip("set INTEGRATION_TEST=1 to run Postgres integration tests")
	}
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("rbac_test"),
		tcpostgres.WithUsername("rbac"),
		tcpostgres.WithPassword("rbac"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	m, err := migrate.New(dsn)
	require.NoError(t, err)
	require.NoError(t, m.Up())
	require.NoError(t, m.Close())

	pool, err := db.New(ctx, dsn, db.PoolOptions{MaxConns: 10})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return rbac.NewPostgresRepository(pool), pool
}

func TestPostgresRepository(t *testing.T) {
	repo, _ := newPostgresRepository(t)
	ctx := context.Background()

	alice := newUser(t, repo, "alice", true)
	editor := newRole(t, repo, "editor")
	edit := newPermission(t, repo, "posts.edit")
	view := newPermission(t, repo, "posts.view")

	t.Run("unique keys map to DuplicateKey", func(t *testing.T) {
		_, err := repo.CreateUser(ctx, rbac.User{Username: "alice", Email: "x@example.com"}, "hash")
		assert.ErrorIs(t, err, rbac.ErrDuplicateKey)
		assert.Contains(t, err.Error(), "username")

		_, err = repo.CreatePermission(ctx, rbac.Permission{Name: "dup", Codename: "posts.edit"})
		assert.ErrorIs(t, err, rbac.ErrDuplicateKey)
		assert.Contains(t, err.Error(), "codename")
	})

	t.Run("missing references map to NotFound", func(t *testing.T) {
		_, _, err := repo.Grant(ctx, alice.ID, 9999)
		assert.ErrorIs(t, err, rbac.ErrNotFound)
		_, err = repo.GetRole(ctx, 9999)
		assert.ErrorIs(t, err, rbac.ErrNotFound)
		assert.ErrorIs(t, repo.DeleteUser(ctx, 9999), rbac.ErrNotFound)
	})

	t.Run("grant and attach are idempotent", func(t *testing.T) {
		first, created, err := repo.Grant(ctx, alice.ID, editor.ID)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "alice", first.Username)
		again, created, err := repo.Grant(ctx, alice.ID, editor.ID)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, again.ID)

		_, _, err = repo.Attach(ctx, editor.ID, edit.ID)
		require.NoError(t, err)
		rp, created, err := repo.Attach(ctx, editor.ID, edit.ID)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "editor", rp.RoleName)

		require.NoError(t, repo.Detach(ctx, editor.ID, view.ID))
	})

	t.Run("evaluator resolves through postgres", func(t *testing.T) {
		ev := rbac.NewEvaluator(repo, nil, nil, nil)
		allowed, err := ev.HasPermission(ctx, alice.ID, "posts.edit")
		require.NoError(t, err)
		assert.True(t, allowed)
		allowed, err = ev.HasPermission(ctx, alice.ID, "posts.view")
		require.NoError(t, err)
		assert.False(t, allowed)
	})

	t.Run("reconcile rolls back on failure", func(t *testing.T) {
		rec := rbac.NewReconciler(repo, nil, nil)
		_, err := rec.ReconcileRolePermissions(ctx, editor.ID, []int64{view.ID, 9999})
		assert.ErrorIs(t, err, rbac.ErrNotFound)
		current, err := repo.PermissionsOfRole(ctx, editor.ID)
		require.NoError(t, err)
		assert.Equal(t, []int64{edit.ID}, current)
	})

	t.Run("concurrent reconciliations serialise", func(t *testing.T) {
		rec := rbac.NewReconciler(repo, nil, nil)
		targets := [][]int64{{edit.ID}, {view.ID}, {edit.ID, view.ID}}
		var wg sync.WaitGroup
		for i := 0; i < 12; i++ {
			wg.Add(1)
			go func(target []int64) {
				defer wg.Done()
				_, err := rec.ReconcileRolePermissions(ctx, editor.ID, target)
				assert.NoError(t, err)
			}(targets[i%len(targets)])
		}
		wg.Wait()
		current, err := repo.PermissionsOfRole(ctx, editor.ID)
		require.NoError(t, err)
		assert.Contains(t, targets, current)
	})

	t.Run("grant survives a concurrent revoke", func(t *testing.T) {
		bob := newUser(t, repo, "bob", true)
		var wg sync.WaitGroup
		for i := 0; i < 40; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, _, err := repo.Grant(ctx, bob.ID, editor.ID)
				assert.NoError(t, err)
			}()
			go func() {
				defer wg.Done()
				assert.NoError(t, repo.Revoke(ctx, bob.ID, editor.ID))
			}()
		}
		wg.Wait()
		_, _, err := repo.Grant(ctx, bob.ID, editor.ID)
		require.NoError(t, err)
		roles, err := repo.RolesOfUser(ctx, bob.ID)
		require.NoError(t, err)
		assert.Equal(t, []int64{editor.ID}, roles)
	})

	t.Run("delete cascades", func(t *testing.T) {
		require.NoError(t, repo.DeleteRole(ctx, editor.ID))
		links, total, err := repo.ListUserRoles(ctx, rbac.AssociationFilter{UserID: alice.ID})
		require.NoError(t, err)
		assert.Empty(t, links)
		assert.Zero(t, total)
		_, total, err = repo.ListRolePermissions(ctx, rbac.AssociationFilter{PermissionID: edit.ID})
		require.NoError(t, err)
		assert.Zero(t, total)
	})
}
