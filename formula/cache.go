package formula

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hupe1980/entidx/bitmap"
)

// Cache keeps results of composite sub-formulas across queries, keyed by
// structural hash. Formulas sharing a sub-tree with an earlier query get
// that sub-tree primed instead of recomputed.
//
// A Cache is bound to one committed index state: callers must Purge it (or
// use a fresh one) after a commit changes the bitmaps that feed the leaves.
type Cache struct {
	lru *lru.Cache[uint64, *bitmap.Bitmap]

	hits   atomic.Uint64
	misses atomic.Uint64
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Hits    uint64
	Misses  uint64
	Entries int
}

// NewCache creates a cache holding up to size results.
func NewCache(size int) (*Cache, error) {
	l, err := lru.New[uint64, *bitmap.Bitmap](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l}, nil
}

// Compute evaluates f, reusing and recording cached sub-results.
func (c *Cache) Compute(f *Formula) *bitmap.Bitmap {
	if c == nil {
		return f.Compute()
	}
	c.prime(f)
	bm := f.Compute()
	c.store(f)
	return bm
}

// Purge drops every cached result.
func (c *Cache) Purge() {
	if c == nil {
		return
	}
	c.lru.Purge()
}

// Stats returns hit and miss counters.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.lru.Len(),
	}
}

func cacheable(f *Formula) bool {
	switch f.kind {
	case KindAnd, KindOr, KindNot, KindDisentangle:
		return true
	default:
		return false
	}
}

func (c *Cache) prime(f *Formula) {
	if f.Computed() {
		return
	}
	if cacheable(f) {
		if bm, ok := c.lru.Get(f.Hash()); ok {
			c.hits.Add(1)
			f.prime(bm)
			return
		}
		c.misses.Add(1)
	}
	for _, child := range f.children {
		c.prime(child)
	}
}

func (c *Cache) store(f *Formula) {
	if !f.Computed() {
		return
	}
	if cacheable(f) {
		if c.lru.Contains(f.Hash()) {
			return
		}
		c.lru.Add(f.Hash(), f.Compute())
	}
	for _, child := range f.children {
		c.store(child)
	}
}
