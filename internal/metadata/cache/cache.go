// Package cache wraps a metadata.Backend with a write-through LRU cache
// (spec.md §4.4: "Caffeine-equivalent LRU"), including the reverse
// storageId -> hash index used to avoid a linear scan on download
// resolution (spec.md §9 Open Question 2).
//
// Grounded on hashicorp/golang-lru/v2, the pack's Caffeine-equivalent LRU
// (named in orbas1-Synnergy's indirect requires); no teacher analog exists
// since the teacher has no metadata layer at all.
package cache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/zynqcloud/nimbusfs/internal/metadata"
)

// Cache fronts a metadata.Backend. When disabled, every call passes straight
// through to the backend (spec.md §4.4: "Optional disabled mode bypasses
// cache entirely").
type Cache struct {
	backend metadata.Backend
	byHash  *lru.Cache[string, metadata.Record]
	byID    *lru.Cache[string, string] // storageId -> hash
	enabled bool
}

// New wraps backend with an LRU of the given size. size <= 0 disables the
// cache (every operation passes straight through).
func New(backend metadata.Backend, size int) (*Cache, error) {
	if size <= 0 {
		return &Cache{backend: backend, enabled: false}, nil
	}
	byHash, err := lru.New[string, metadata.Record](size)
	if err != nil {
		return nil, err
	}
	byID, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &Cache{backend: backend, byHash: byHash, byID: byID, enabled: true}, nil
}

// QueryByHash checks the cache first, falling through to the backend and
// filling both the forward and reverse cache entries on a hit.
func (c *Cache) QueryByHash(ctx context.Context, hash string) (metadata.Record, bool, error) {
	if c.enabled {
		if rec, ok := c.byHash.Get(hash); ok {
			return rec, true, nil
		}
	}
	rec, ok, err := c.backend.QueryByHash(ctx, hash)
	if err != nil || !ok {
		return rec, ok, err
	}
	if c.enabled {
		c.byHash.Add(hash, rec)
		c.byID.Add(rec.StorageID, hash)
	}
	return rec, true, nil
}

// QueryHashByStorageID checks the reverse cache before falling through.
func (c *Cache) QueryHashByStorageID(ctx context.Context, storageID string) (string, bool, error) {
	if c.enabled {
		if hash, ok := c.byID.Get(storageID); ok {
			return hash, true, nil
		}
	}
	hash, ok, err := c.backend.QueryHashByStorageID(ctx, storageID)
	if err != nil || !ok {
		return hash, ok, err
	}
	if c.enabled {
		c.byID.Add(storageID, hash)
	}
	return hash, true, nil
}

// LogAddFile writes to the backend first, then fills the cache — spec.md
// §4.4: "put(…): backend first, then cache and reverse-index."
func (c *Cache) LogAddFile(ctx context.Context, filename, hash, location, storageID string) error {
	if err := c.backend.LogAddFile(ctx, filename, hash, location, storageID); err != nil {
		return err
	}
	if c.enabled {
		c.byHash.Add(hash, metadata.Record{
			StorageID: storageID,
			Filename:  filename,
			Hash:      hash,
			Location:  location,
		})
		c.byID.Add(storageID, hash)
	}
	return nil
}

// TryAcquireUploadLock and ReleaseUploadLock pass straight through — the
// cluster lock is never cached, since caching a lock would defeat its
// purpose.
func (c *Cache) TryAcquireUploadLock(ctx context.Context, hash, nodeID string) (bool, error) {
	return c.backend.TryAcquireUploadLock(ctx, hash, nodeID)
}

func (c *Cache) ReleaseUploadLock(ctx context.Context, hash string) error {
	return c.backend.ReleaseUploadLock(ctx, hash)
}

// Recover delegates to the backend, then — for backends whose Recover
// rebuilds in-memory state (the file backend) — nothing further is needed
// here since the cache starts cold and fills lazily.
func (c *Cache) Recover(ctx context.Context) error { return c.backend.Recover(ctx) }

// Close delegates to the backend.
func (c *Cache) Close() error { return c.backend.Close() }

var _ metadata.Backend = (*Cache)(nil)
