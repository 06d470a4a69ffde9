package pagination

import (
	"sync"

	"github.com/Sternrassler/hn-pager/pkg/item"
)

// ListingCache holds the ordered ids of each listing. Entries are only ever
// replaced wholesale, never edited, so readers may keep a returned slice.
type ListingCache struct {
	mu  sync.RWMutex
	ids map[item.Listing][]int64
}

// NewListingCache creates an empty cache.
func NewListingCache() *ListingCache {
	return &ListingCache{ids: make(map[item.Listing][]int64)}
}

// Get returns the cached ids for kind. ok is false when nothing non-empty
// has been stored.
func (c *ListingCache) Get(kind item.Listing) (ids []int64, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids = c.ids[kind]
	return ids, len(ids) > 0
}

// Replace stores ids as the entry for kind.
func (c *ListingCache) Replace(kind item.Listing, ids []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[kind] = ids
}

// Len returns the number of cached ids for kind.
func (c *ListingCache) Len(kind item.Listing) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids[kind])
}
