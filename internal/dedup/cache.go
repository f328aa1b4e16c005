package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SeenCache answers "was this guid already imported?" faster than a storage
// round-trip. It is advisory only: cache misses still hit the storage query,
// and the source_guid unique constraint remains the final backstop.
type SeenCache interface {
	IsSeen(ctx context.Context, guid string) (bool, error)
	MarkSeen(ctx context.Context, guid string, ttl time.Duration) error
	ClearSeen(ctx context.Context) error
	Close() error
}

// RedisSeenCache keys entries on sha-256 of the guid under a shared prefix.
type RedisSeenCache struct {
	client *redis.Client
	prefix string
}

// NewRedisSeenCache dials redis and verifies the connection.
func NewRedisSeenCache(redisURL, prefix string) (*RedisSeenCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisSeenCache{client: client, prefix: prefix}, nil
}

func (r *RedisSeenCache) Close() error {
	return r.client.Close()
}

func (r *RedisSeenCache) IsSeen(ctx context.Context, guid string) (bool, error) {
	exists, err := r.client.Exists(ctx, r.prefix+hashGuid(guid)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists error: %w", err)
	}
	return exists > 0, nil
}

func (r *RedisSeenCache) MarkSeen(ctx context.Context, guid string, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+hashGuid(guid), "1", ttl).Err()
}

// ClearSeen drops every entry under the prefix. Operator tool for forcing a
// full re-check against storage.
func (r *RedisSeenCache) ClearSeen(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("error scanning keys: %w", err)
	}
	if len(keys) > 0 {
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("error deleting keys: %w", err)
		}
	}
	return nil
}

func hashGuid(guid string) string {
	sum := sha256.Sum256([]byte(guid))
	return hex.EncodeToString(sum[:])
}

// MemorySeenCache is an in-process SeenCache for tests and environments
// without redis.
type MemorySeenCache struct {
	mu   sync.RWMutex
	data map[string]struct{}
}

func NewMemorySeenCache() *MemorySeenCache {
	return &MemorySeenCache{data: make(map[string]struct{})}
}

func (m *MemorySeenCache) Close() error { return nil }

func (m *MemorySeenCache) IsSeen(ctx context.Context, guid string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[guid]
	return ok, nil
}

func (m *MemorySeenCache) MarkSeen(ctx context.Context, guid string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[guid] = struct{}{}
	return nil
}

func (m *MemorySeenCache) ClearSeen(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]struct{})
	return nil
}
