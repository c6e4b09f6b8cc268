// Package memory provides an in-process URL cache for tests and single-run
// ingests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/corpus-refinery/internal/corpus"
)

// Cache keeps rows in a map guarded by a RWMutex.
type Cache struct {
	mu   sync.RWMutex
	rows map[string]corpus.CachedURL
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{rows: make(map[string]corpus.CachedURL)}
}

// Lookup implements corpus.URLCacheReader.
func (c *Cache) Lookup(_ context.Context, url string) (corpus.CachedURL, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	row, ok := c.rows[url]
	return row, ok, nil
}

// Upsert replaces the row for row.URL.
func (c *Cache) Upsert(_ context.Context, row corpus.CachedURL) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows[row.URL] = row
	return nil
}

// Invalidate removes url.
func (c *Cache) Invalidate(_ context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rows, url)
	return nil
}

// Prune removes rows scraped before cutoff and returns how many were dropped.
func (c *Cache) Prune(_ context.Context, cutoff time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for url, row := range c.rows {
		if row.LastScraped.Before(cutoff) {
			delete(c.rows, url)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of cached rows.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rows)
}

// Close is a no-op.
func (c *Cache) Close() error {
	return nil
}
