package cache

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DecimalsCache memoizes token decimals lookups so repeated quote and
// balance math avoids duplicate RPC calls. Entries expire after the TTL
// and the cache evicts arbitrarily once maxEntries is reached.
type DecimalsCache struct {
	mu         sync.RWMutex
	cache      map[common.Address]*cachedDecimals
	cacheTTL   time.Duration
	maxEntries int
}

// cachedDecimals represents a cached decimals value with timestamp
type cachedDecimals struct {
	decimals  uint8
	timestamp time.Time
}

// FetchFunc retrieves decimals for a token when the cache misses
type FetchFunc func(ctx context.Context, token common.Address) (uint8, error)

// NewDecimalsCache creates a new decimals cache
func NewDecimalsCache(cacheTTL time.Duration, maxEntries int) *DecimalsCache {
	return &DecimalsCache{
		cache:      make(map[common.Address]*cachedDecimals),
		cacheTTL:   cacheTTL,
		maxEntries: maxEntries,
	}
}

// Get retrieves a cached value if it's still valid
func (c *DecimalsCache) Get(token common.Address) (uint8, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, exists := c.cache[token]
	if !exists {
		return 0, false
	}

	if time.Since(cached.timestamp) > c.cacheTTL {
		return 0, false
	}

	return cached.decimals, true
}

// Set stores a value in the cache with current timestamp
func (c *DecimalsCache) Set(token common.Address, decimals uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.cache) >= c.maxEntries {
		for k := range c.cache {
			delete(c.cache, k)
			break
		}
	}

	c.cache[token] = &cachedDecimals{
		decimals:  decimals,
		timestamp: time.Now(),
	}
}

// GetOrFetch returns the cached decimals or fetches and populates on miss
func (c *DecimalsCache) GetOrFetch(ctx context.Context, token common.Address, fetch FetchFunc) (uint8, error) {
	if decimals, ok := c.Get(token); ok {
		return decimals, nil
	}

	decimals, err := fetch(ctx, token)
	if err != nil {
		return 0, err
	}

	c.Set(token, decimals)
	return decimals, nil
}

// Len returns the number of cached entries
func (c *DecimalsCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// Clear removes all cached entries
func (c *DecimalsCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[common.Address]*cachedDecimals)
}
