package projstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/getpup/sigledger/tracker"
)

// Cache keeps folded projections between calls. Implementations must not
// share memory with the projections they are given or return.
type Cache interface {
	// Get returns the cached projection of streamKey, or false.
	Get(ctx context.Context, streamKey string) (*tracker.Projection, bool, error)
	Put(ctx context.Context, p *tracker.Projection) error
	Delete(ctx context.Context, streamKey string) error
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]*tracker.Projection
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]*tracker.Projection)}
}

func (c *MemoryCache) Get(_ context.Context, streamKey string) (*tracker.Projection, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.items[streamKey]
	if !ok {
		return nil, false, nil
	}
	return p.Clone(), true, nil
}

func (c *MemoryCache) Put(_ context.Context, p *tracker.Projection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[p.StreamKey] = p.Clone()
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, streamKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, streamKey)
	return nil
}

// DefaultRedisPrefix namespaces projection keys.
const DefaultRedisPrefix = "sigledger:projection:"

// RedisCache stores projections as JSON values in Redis.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache returns a cache on client. A zero ttl keeps entries until
// they are deleted or evicted.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: DefaultRedisPrefix, ttl: ttl}
}

// WithPrefix returns a copy of c that uses prefix for its keys.
func (c *RedisCache) WithPrefix(prefix string) *RedisCache {
	cp := *c
	cp.prefix = prefix
	return &cp
}

func (c *RedisCache) key(streamKey string) string {
	return c.prefix + streamKey
}

func (c *RedisCache) Get(ctx context.Context, streamKey string) (*tracker.Projection, bool, error) {
	data, err := c.client.Get(ctx, c.key(streamKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get projection: %w", err)
	}
	p, err := decodeProjection(data)
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

func (c *RedisCache) Put(ctx context.Context, p *tracker.Projection) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal projection: %w", err)
	}
	if err := c.client.Set(ctx, c.key(p.StreamKey), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store projection: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, streamKey string) error {
	if err := c.client.Del(ctx, c.key(streamKey)).Err(); err != nil {
		return fmt.Errorf("failed to delete projection: %w", err)
	}
	return nil
}

func decodeProjection(data []byte) (*tracker.Projection, error) {
	var p tracker.Projection
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal projection: %w", err)
	}
	if p.Signatures == nil {
		p.Signatures = make(map[string]*tracker.Entry)
	}
	return &p, nil
}
