package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

// ResultCache defines a generic interface for caching finished volumes.
type ResultCache interface {
	// Get retrieves a volume from the cache.
	Get(key string) (*tensor.Tensor, bool)
	// Put stores a volume in the cache.
	Put(key string, vol *tensor.Tensor)
	// Size returns the number of items in the cache.
	Size() int
}

// Key derives a cache key from the inference configuration and the raw
// input bytes. Identical input under an identical pipeline always maps to
// the same digest.
func Key(config string, input []byte) string {
	h := sha256.New()
	h.Write([]byte(config))
	h.Write(input)
	return hex.EncodeToString(h.Sum(nil))
}

// MapCache is a simple in-memory implementation of ResultCache.
type MapCache struct {
	data map[string]*tensor.Tensor
	mu   sync.RWMutex
}

func NewMapCache() *MapCache {
	return &MapCache{
		data: make(map[string]*tensor.Tensor),
	}
}

func (c *MapCache) Get(key string) (*tensor.Tensor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Return copy to avoid modification of cached value
	if v, ok := c.data[key]; ok {
		return v.Clone(), true
	}
	return nil, false
}

func (c *MapCache) Put(key string, vol *tensor.Tensor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if vol == nil {
		return
	}
	// Store copy
	c.data[key] = vol.Clone()
}

func (c *MapCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
