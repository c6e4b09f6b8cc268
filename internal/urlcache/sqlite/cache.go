// Package sqlite stores URL cache rows in a SQLite database through sqlx.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver

	"github.com/JakeFAU/corpus-refinery/internal/corpus"
)

const schema = `
CREATE TABLE IF NOT EXISTS url_cache (
	url          TEXT PRIMARY KEY,
	category     TEXT NOT NULL DEFAULT '',
	last_scraped TIMESTAMP NOT NULL,
	success      BOOLEAN NOT NULL,
	status_code  INTEGER NOT NULL DEFAULT 0,
	content_hash TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_url_cache_last_scraped ON url_cache(last_scraped);
CREATE INDEX IF NOT EXISTS idx_url_cache_category ON url_cache(category);
`

// Cache is a corpus.URLCache backed by SQLite.
type Cache struct {
	db *sqlx.DB
}

// Open opens (or creates) the database at path and applies the schema. Use
// ":memory:" for a throwaway cache.
func Open(ctx context.Context, path string) (*Cache, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection keeps :memory: databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	c, err := NewWithDB(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// NewWithDB wraps an existing handle and applies the schema.
func NewWithDB(ctx context.Context, db *sqlx.DB) (*Cache, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply url cache schema: %w", err)
	}
	return &Cache{db: db}, nil
}

// Lookup implements corpus.URLCacheReader.
func (c *Cache) Lookup(ctx context.Context, url string) (corpus.CachedURL, bool, error) {
	var row corpus.CachedURL
	err := c.db.GetContext(ctx, &row, `
		SELECT url, category, last_scraped, success, status_code, content_hash
		FROM url_cache WHERE url = ?`, url)
	if errors.Is(err, sql.ErrNoRows) {
		return corpus.CachedURL{}, false, nil
	}
	if err != nil {
		return corpus.CachedURL{}, false, fmt.Errorf("select url cache row: %w", err)
	}
	row.LastScraped = row.LastScraped.UTC()
	return row, true, nil
}

// Upsert inserts or replaces the row for row.URL.
func (c *Cache) Upsert(ctx context.Context, row corpus.CachedURL) error {
	row.LastScraped = row.LastScraped.UTC()
	_, err := c.db.NamedExecContext(ctx, `
		INSERT INTO url_cache (url, category, last_scraped, success, status_code, content_hash)
		VALUES (:url, :category, :last_scraped, :success, :status_code, :content_hash)
		ON CONFLICT(url) DO UPDATE SET
			category = excluded.category,
			last_scraped = excluded.last_scraped,
			success = excluded.success,
			status_code = excluded.status_code,
			content_hash = excluded.content_hash`, row)
	if err != nil {
		return fmt.Errorf("upsert url cache row: %w", err)
	}
	return nil
}

// Invalidate deletes the row for url.
func (c *Cache) Invalidate(ctx context.Context, url string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM url_cache WHERE url = ?`, url); err != nil {
		return fmt.Errorf("delete url cache row: %w", err)
	}
	return nil
}

// InvalidateCategory deletes every row of category.
func (c *Cache) InvalidateCategory(ctx context.Context, category string) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM url_cache WHERE category = ?`, category)
	if err != nil {
		return 0, fmt.Errorf("delete url cache category: %w", err)
	}
	return res.RowsAffected()
}

// Prune deletes rows scraped before cutoff.
func (c *Cache) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM url_cache WHERE last_scraped < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune url cache: %w", err)
	}
	return res.RowsAffected()
}

// CategoryCounts returns the number of rows per category.
func (c *Cache) CategoryCounts(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		Category string `db:"category"`
		Count    int    `db:"n"`
	}
	if err := c.db.SelectContext(ctx, &rows, `SELECT category, COUNT(*) AS n FROM url_cache GROUP BY category`); err != nil {
		return nil, fmt.Errorf("count url cache categories: %w", err)
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Category] = r.Count
	}
	return out, nil
}

// Close closes the database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}
