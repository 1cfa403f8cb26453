package avatar

import (
	"sort"
	"sync"
	"time"

	"github.com/leighmacdonald/pfp/internal/model"
	"github.com/leighmacdonald/pfp/internal/store"
)

type Entry struct {
	Key       model.CacheKey `json:"key"`
	Identity  model.Identity `json:"identity"`
	Image     model.Image    `json:"-"`
	Source    store.Source   `json:"source"`
	UpdatedOn time.Time      `json:"updated_on"`
}

// Cache holds at most one resident image per key. Set always overwrites.
type Cache struct {
	mu      sync.RWMutex
	entries map[model.CacheKey]*Entry
}

func NewCache() *Cache {
	return &Cache{entries: map[model.CacheKey]*Entry{}}
}

func (c *Cache) Get(key model.CacheKey) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, found := c.entries[key]

	return entry, found
}

func (c *Cache) Has(key model.CacheKey) bool {
	_, found := c.Get(key)

	return found
}

func (c *Cache) Set(entry *Entry) {
	c.mu.Lock()
	c.entries[entry.Key] = entry
	c.mu.Unlock()
}

func (c *Cache) Delete(key model.CacheKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, found := c.entries[key]
	delete(c.entries, key)

	return found
}

func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = map[model.CacheKey]*Entry{}
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Keys returns the resident keys in sorted order.
func (c *Cache) Keys() []model.CacheKey {
	c.mu.RLock()
	keys := make([]model.CacheKey, 0, len(c.entries))

	for key := range c.entries {
		keys = append(keys, key)
	}
	c.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	return keys
}
