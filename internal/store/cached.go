package store

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/casecore/internal/contract"
)

// DefaultCacheSize is the number of contracts Cached keeps by default.
const DefaultCacheSize = 256

// Cached is a Source that keeps recently loaded contracts in memory.
// Entries stay until evicted or invalidated; pair it with Watch when the
// underlying files may change.
type Cached struct {
	src    Source
	cache  *lru.Cache[string, *contract.Contract]
	logger *slog.Logger
}

// NewCached wraps src with an LRU of size entries. size <= 0 selects
// DefaultCacheSize.
func NewCached(src Source, size int, logger *slog.Logger) (*Cached, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New[string, *contract.Contract](size)
	if err != nil {
		return nil, fmt.Errorf("create contract cache: %w", err)
	}
	return &Cached{src: src, cache: cache, logger: logger}, nil
}

// Load returns the cached contract for name, reading it on a miss.
func (c *Cached) Load(ctx context.Context, name string) (*contract.Contract, error) {
	if ct, ok := c.cache.Get(name); ok {
		return ct, nil
	}
	ct, err := c.src.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	c.cache.Add(name, ct)
	c.logger.Debug("contract cached", "name", name, "hash", ct.Metadata.Hash)
	return ct, nil
}

// List passes through to the underlying source.
func (c *Cached) List(ctx context.Context) ([]string, error) {
	return c.src.List(ctx)
}

// Contains reports whether name is cached.
func (c *Cached) Contains(name string) bool {
	return c.cache.Contains(name)
}

// Invalidate drops name from the cache.
func (c *Cached) Invalidate(name string) {
	if c.cache.Remove(name) {
		c.logger.Debug("contract invalidated", "name", name)
	}
}

// Purge empties the cache.
func (c *Cached) Purge() {
	c.cache.Purge()
}

// Dir returns the directory of the underlying source, or "" if it has
// none.
func (c *Cached) Dir() string {
	if d, ok := c.src.(interface{ Dir() string }); ok {
		return d.Dir()
	}
	return ""
}
