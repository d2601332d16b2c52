package storage

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedOwnership caches OwnerOf lookups in an expiring LRU. EntitiesOf and
// Owners always go to the underlying directory.
type CachedOwnership struct {
	dir   OwnershipDirectory
	cache *expirable.LRU[string, string]
}

// NewCachedOwnership wraps dir with a cache of size entries living for ttl.
func NewCachedOwnership(dir OwnershipDirectory, size int, ttl time.Duration) *CachedOwnership {
	return &CachedOwnership{
		dir:   dir,
		cache: expirable.NewLRU[string, string](size, nil, ttl),
	}
}

// OwnerOf returns the cached owner or loads it.
func (c *CachedOwnership) OwnerOf(ctx context.Context, entityID string) (string, error) {
	if owner, ok := c.cache.Get(entityID); ok {
		return owner, nil
	}
	owner, err := c.dir.OwnerOf(ctx, entityID)
	if err != nil {
		return "", err
	}
	c.cache.Add(entityID, owner)
	return owner, nil
}

// EntitiesOf delegates to the underlying directory.
func (c *CachedOwnership) EntitiesOf(ctx context.Context, ownerID string) ([]string, error) {
	return c.dir.EntitiesOf(ctx, ownerID)
}

// Owners delegates to the underlying directory.
func (c *CachedOwnership) Owners(ctx context.Context) ([]string, error) {
	return c.dir.Owners(ctx)
}

// Invalidate drops a cached entry after ownership changes.
func (c *CachedOwnership) Invalidate(entityID string) {
	c.cache.Remove(entityID)
}

var _ OwnershipDirectory = (*CachedOwnership)(nil)
