// Package cache stores serialized query results keyed by the full request.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/hyperjump/docgate/internal/config"
	"github.com/redis/go-redis/v9"
)

// Cache holds opaque payloads. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// Key derives a cache key from every parameter of a request. Map keys are sorted by
// encoding/json, so equal requests give equal keys.
func Key(prefix string, request map[string]interface{}) (string, error) {
	data, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cache key: %w", err)
	}
	sum := sha256.Sum256(data)
	return prefix + ":" + hex.EncodeToString(sum[:]), nil
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Nop) Put(context.Context, string, []byte) error         { return nil }

// New creates a Cache based on cfg.Backend ("memory", "redis" or "none").
func New(ctx context.Context, cfg config.CacheConfig) (Cache, error) {
	switch cfg.Backend {
	case "memory", "":
		return NewMemory(cfg.Capacity, cfg.TTL), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:                  cfg.RedisAddr,
			DB:                    cfg.RedisDB,
			ContextTimeoutEnabled: true,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis is offline: %w", err)
		}
		return NewRedis(client, cfg.TTL), nil
	case "none":
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %q (supported: memory, redis, none)", cfg.Backend)
	}
}
