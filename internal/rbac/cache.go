package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// PermissionCache memoises effective permission codenames per user.
type PermissionCache interface {
	// Fetch returns the cached codenames for userID or fills the entry with load.
	Fetch(ctx context.Context, userID int64, load func(context.Context) ([]string, error)) ([]string, error)
	// Invalidate drops the entries of the given users.
	Invalidate(ctx context.Context, userIDs ...int64) error
	// InvalidateAll drops every entry.
	InvalidateAll(ctx context.Context) error
}

const (
	permCacheVersionKey = "rbac:perms:version"
	permCacheBumpTopic  = "rbac.perms.bump"
)

// RedisPermissionCache stores codenames under keys that embed a global version
// and a per-user generation. Invalidation increments a counter instead of
// deleting, so a fill computed before an invalidation lands on a key nobody
// reads again.
type RedisPermissionCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ PermissionCache = (*RedisPermissionCache)(nil)

// NewRedisPermissionCache instantiates the cache helper.
func NewRedisPermissionCache(client *redis.Client, ttl time.Duration) *RedisPermissionCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisPermissionCache{client: client, ttl: ttl}
}

func userGenerationKey(userID int64) string {
	return "rbac:perms:user:" + strconv.FormatInt(userID, 10) + ":gen"
}

// key resolves the current entry key for userID.
func (c *RedisPermissionCache) key(ctx context.Context, userID int64) (string, error) {
	pipe := c.client.Pipeline()
	verCmd := pipe.Get(ctx, permCacheVersionKey)
	genCmd := pipe.Get(ctx, userGenerationKey(userID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	ver, err := verCmd.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	gen, err := genCmd.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	return fmt.Sprintf("rbac:perms:%d:user:%d:%d", ver, userID, gen), nil
}

func (c *RedisPermissionCache) Fetch(ctx context.Context, userID int64, load func(context.Context) ([]string, error)) ([]string, error) {
	if load == nil {
		return nil, errors.New("rbac cache: loader required")
	}
	if c == nil || c.client == nil {
		return load(ctx)
	}
	key, err := c.key(ctx, userID)
	if err != nil {
		return nil, err
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var codenames []string
		if err := json.Unmarshal(payload, &codenames); err == nil {
			return codenames, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return nil, err
	}
	codenames, err := load(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(codenames)
	if err != nil {
		return nil, err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return nil, err
	}
	return codenames, nil
}

func (c *RedisPermissionCache) Invalidate(ctx context.Context, userIDs ...int64) error {
	if c == nil || c.client == nil || len(userIDs) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for _, id := range userIDs {
		pipe.Incr(ctx, userGenerationKey(id))
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisPermissionCache) InvalidateAll(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, permCacheVersionKey).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, permCacheBumpTopic, strconv.FormatInt(ver, 10)).Err()
}

// noCache always loads.
type noCache struct{}

func (noCache) Fetch(ctx context.Context, _ int64, load func(context.Context) ([]string, error)) ([]string, error) {
	return load(ctx)
}

func (noCache) Invalidate(context.Context, ...int64) error { return nil }

func (noCache) InvalidateAll(context.Context) error { return nil }
