// Package bundle memoizes the engine's expensive compilation step, keyed by
// the entry point's last-modified timestamp.
package bundle

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/animastudio/render-api/internal/engine"
)

// Cache holds at most one compiled bundle for a single entry point. The entry
// is reusable while the entry point's mtime is unchanged and the caller does
// not force a rebundle.
type Cache struct {
	engine     engine.Engine
	entryPoint string

	mu          sync.Mutex
	location    string
	sourceMtime time.Time
	cached      bool
}

// NewCache creates a cache for the given entry point.
func NewCache(eng engine.Engine, entryPoint string) *Cache {
	return &Cache{
		engine:     eng,
		entryPoint: entryPoint,
	}
}

// Location returns a bundle location for the entry point, compiling only when
// the cached entry is stale or force is set. On failure the cache keeps its
// prior valid state.
func (c *Cache) Location(ctx context.Context, force bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := os.Stat(c.entryPoint)
	if err != nil {
		return "", fmt.Errorf("stat entry point %s: %w", c.entryPoint, err)
	}
	mtime := info.ModTime()

	if !force && c.cached && c.sourceMtime.Equal(mtime) {
		return c.location, nil
	}

	location, err := c.engine.CompileBundle(ctx, c.entryPoint)
	if err != nil {
		return "", err
	}

	c.location = location
	c.sourceMtime = mtime
	c.cached = true
	return location, nil
}
