package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// MemoryCache implements Cache in-process with ristretto, for deployments
// without a Redis to talk to.
type MemoryCache struct {
	cache *ristretto.Cache[string, []byte]
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache creates an in-process cache bounded to roughly maxBytes
func NewMemoryCache(maxBytes int64) (*MemoryCache, error) {
	if maxBytes <= 0 {
		maxBytes = 64 << 20 // 64 MiB
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 1e6,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}
	return &MemoryCache{cache: cache}, nil
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	value, found := c.cache.Get(key)
	if !found {
		return nil, ErrNotFound
	}
	return value, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.cache.SetWithTTL(key, value, int64(len(value)), ttl)
	// Sets are buffered; wait so a read-after-write sees the value
	c.cache.Wait()
	return nil
}

func (c *MemoryCache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (c *MemoryCache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return c.Set(ctx, key, data, ttl)
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.cache.Del(key)
	return nil
}

func (c *MemoryCache) Has(ctx context.Context, key string) bool {
	_, err := c.Get(ctx, key)
	return err == nil
}

// Close releases the cache's internal goroutines
func (c *MemoryCache) Close() {
	c.cache.Close()
}
