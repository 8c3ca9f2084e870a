package embeddings

import (
	"fmt"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is a bounded LRU of vectors keyed by exact text. It is safe for
// concurrent use; stored and returned vectors are copies.
type Cache struct {
	lru      *lru.Cache[string, []float32]
	capacity int
}

// NewCache creates a cache holding at most size vectors.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: cache size must be positive, got %d", ErrInvalidConfig, size)
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("creating lru cache: %w", err)
	}
	return &Cache{lru: c, capacity: size}, nil
}

// Get returns the vector for text and marks it most recently used.
func (c *Cache) Get(text string) ([]float32, bool) {
	v, ok := c.lru.Get(text)
	if !ok {
		return nil, false
	}
	return slices.Clone(v), true
}

// Add stores a vector and reports whether an older entry was evicted.
func (c *Cache) Add(text string, vec []float32) bool {
	return c.lru.Add(text, slices.Clone(vec))
}

// Contains reports presence without touching recency.
func (c *Cache) Contains(text string) bool {
	return c.lru.Contains(text)
}

// Len returns the number of cached vectors.
func (c *Cache) Len() int { return c.lru.Len() }

// Capacity returns the maximum number of cached vectors.
func (c *Cache) Capacity() int { return c.capacity }

// Purge empties the cache.
func (c *Cache) Purge() { c.lru.Purge() }
