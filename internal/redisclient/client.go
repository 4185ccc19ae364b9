package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

const catalogVersionKey = "catalog:version"

type Client struct {
	rdb           *redis.Client
	catalogTTL    time.Duration
	releaseScript *redis.Script
}

// NewClient creates a new Redis client and verifies the connection
func NewClient(addr, password string, db int, catalogTTL time.Duration) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		catalogTTL:    catalogTTL,
		releaseScript: redis.NewScript(releaseLockScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// GetJSON decodes the value at key into dest. It reports false on a miss.
func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("failed to decode cached %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores value at key as JSON
func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return c.rdb.Set(ctx, key, raw, ttl).Err()
}

// catalogVersion returns the current catalog version. Bumping it orphans
// every cached catalog view at once.
func (c *Client) catalogVersion(ctx context.Context) (int64, error) {
	version, err := c.rdb.Get(ctx, catalogVersionKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}
	return version, nil
}

func catalogKey(version int64, name string) string {
	return fmt.Sprintf("catalog:v%d:%s", version, name)
}

// GetCatalog reads a cached catalog view. It returns the catalog version the
// lookup was made against; a value rebuilt after a miss must be stored with
// SetCatalog under that same version.
func (c *Client) GetCatalog(ctx context.Context, name string, dest interface{}) (int64, bool, error) {
	version, err := c.catalogVersion(ctx)
	if err != nil {
		return 0, false, err
	}
	hit, err := c.GetJSON(ctx, catalogKey(version, name), dest)
	return version, hit, err
}

// SetCatalog caches a catalog view under version for the configured TTL. A
// view built before an invalidation lands under the old version and is never
// read again.
func (c *Client) SetCatalog(ctx context.Context, version int64, name string, value interface{}) error {
	return c.SetJSON(ctx, catalogKey(version, name), value, c.catalogTTL)
}

// InvalidateCatalog drops every cached catalog view
func (c *Client) InvalidateCatalog(ctx context.Context) error {
	return c.rdb.Incr(ctx, catalogVersionKey).Err()
}

// AcquireLock acquires a distributed lock and returns the owner token
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// ReleaseLock releases a lock if it is still held by token
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Result()
	if err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}
