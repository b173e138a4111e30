package solver

import (
	"github.com/jellydator/ttlcache/v3"
)

// Key identifies a cached solution. Owner is the generation of the processor
// that produced it, so a processor replaced in the same slot never sees the
// previous occupant's solutions.
type Key struct {
	Owner uint64
	Hash  uint64
}

// Entry is a solution at class level. Per-inventory rates are recomputed
// from current amounts on every hit.
type Entry struct {
	Rates []float64 // per converter class
	Nets  []float64 // per inventory group
}

func (e *Entry) fits(m *model) bool {
	return len(e.Rates) == len(m.classes) && len(e.Nets) == len(m.groups)
}

// Cache is a capacity-bounded solution cache shared between processors.
// A nil *Cache is valid and never hits.
type Cache struct {
	c *ttlcache.Cache[Key, *Entry]
}

// NewCache returns a cache holding up to capacity solutions, or nil when
// capacity is zero.
func NewCache(capacity uint64) *Cache {
	if capacity == 0 {
		return nil
	}
	return &Cache{c: ttlcache.New(ttlcache.WithCapacity[Key, *Entry](capacity))}
}

// Get returns the solution stored under k.
func (c *Cache) Get(k Key) (*Entry, bool) {
	if c == nil {
		return nil, false
	}
	item := c.c.Get(k)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// Put stores a solution.
func (c *Cache) Put(k Key, e *Entry) {
	if c == nil {
		return
	}
	c.c.Set(k, e, ttlcache.DefaultTTL)
}

// Invalidate drops every solution owned by owner.
func (c *Cache) Invalidate(owner uint64) {
	if c == nil {
		return
	}
	for _, k := range c.c.Keys() {
		if k.Owner == owner {
			c.c.Delete(k)
		}
	}
}

// Len returns the number of cached solutions.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.c.Len()
}
