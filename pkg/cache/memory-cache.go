package cache

import (
	"errors"
	"fmt"
	"imagecache/pkg/images"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

var ErrEntryTooLarge = errors.New("entry exceeds memory cache byte budget")

// MemoryCache is the fast tier: a least-recently-used map of decoded images
// bounded by entry count and by total pixel bytes. Entries can disappear at
// any time; a miss is always a valid answer.
type MemoryCache struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[string, *images.Image]
	maxBytes uint64
	bytes    uint64
}

// NewMemoryCache creates a cache holding at most capacity images. maxBytes of
// zero leaves the byte budget unbounded.
func NewMemoryCache(capacity int, maxBytes uint64) (*MemoryCache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("memory cache capacity must be > 0, got %d", capacity)
	}

	c := &MemoryCache{maxBytes: maxBytes}
	lru, err := simplelru.NewLRU[string, *images.Image](capacity, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.lru = lru
	return c, nil
}

// onEvict runs under c.mu for every removal, explicit or capacity driven.
func (c *MemoryCache) onEvict(_ string, img *images.Image) {
	c.bytes -= uint64(img.Size())
}

// Set stores img under key, replacing any previous entry. An image larger than
// the whole byte budget is not stored, and the previous entry is dropped.
func (c *MemoryCache) Set(key string, img *images.Image) error {
	size := uint64(img.Size())

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxBytes > 0 && size > c.maxBytes {
		// the write still replaces whatever was cached under key
		c.lru.Remove(key)
		return fmt.Errorf("%w: %d > %d bytes", ErrEntryTooLarge, size, c.maxBytes)
	}

	c.lru.Remove(key)
	c.lru.Add(key, img)
	c.bytes += size

	for c.maxBytes > 0 && c.bytes > c.maxBytes {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
	}

	return nil
}

func (c *MemoryCache) Get(key string) (*images.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(key)
}

func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Bytes is the pixel memory currently held.
func (c *MemoryCache) Bytes() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

func (c *MemoryCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}
