package blobstore

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// CachingStore keeps recently read blobs in memory. Snapshot blocks are
// immutable once written, so cached content is only dropped on Put, Delete
// or eviction. CURRENT is never cached.
type CachingStore struct {
	inner  BlobStore
	cache  *lru.Cache[string, []byte]
	flight singleflight.Group

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCachingStore creates a CachingStore holding up to size blobs.
func NewCachingStore(inner BlobStore, size int) (*CachingStore, error) {
	c, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("blobstore: caching store: %w", err)
	}
	return &CachingStore{inner: inner, cache: c}, nil
}

// Open serves name from the cache, reading it through once on a miss.
// Concurrent misses for the same name share one read.
func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	if name == CurrentName {
		return s.inner.Open(ctx, name)
	}
	if data, ok := s.cache.Get(name); ok {
		s.hits.Add(1)
		return NewBytesBlob(data), nil
	}
	s.misses.Add(1)

	v, err, _ := s.flight.Do(name, func() (any, error) {
		data, err := ReadAll(ctx, s.inner, name)
		if err != nil {
			return nil, err
		}
		s.cache.Add(name, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return NewBytesBlob(v.([]byte)), nil
}

// Put invalidates name and writes through.
func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.cache.Remove(name)
	return s.inner.Put(ctx, name, data)
}

// Delete invalidates name and deletes it from the inner store.
func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.cache.Remove(name)
	return s.inner.Delete(ctx, name)
}

// List lists the inner store.
func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// Stats returns the hit and miss counters.
func (s *CachingStore) Stats() (hits, misses uint64) {
	return s.hits.Load(), s.misses.Load()
}
