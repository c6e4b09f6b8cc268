// Package postgres stores URL cache rows in Postgres through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/corpus-refinery/internal/corpus"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Cache is a corpus.URLCache backed by Postgres.
type Cache struct {
	pool  pool
	table string
}

// Open connects to Postgres and ensures the table exists.
func Open(ctx context.Context, cfg Config) (*Cache, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("urlcache.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	c, err := NewWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := c.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return c, nil
}

// NewWithPool wraps an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Cache, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "url_cache"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Cache{pool: p, table: table}, nil
}

// EnsureSchema creates the cache table when missing.
func (c *Cache) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	url          TEXT PRIMARY KEY,
	category     TEXT NOT NULL DEFAULT '',
	last_scraped TIMESTAMPTZ NOT NULL,
	success      BOOLEAN NOT NULL,
	status_code  INTEGER NOT NULL DEFAULT 0,
	content_hash TEXT NOT NULL DEFAULT ''
)`, c.table)
	if _, err := c.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", c.table, err)
	}
	return nil
}

// Lookup implements corpus.URLCacheReader.
func (c *Cache) Lookup(ctx context.Context, url string) (corpus.CachedURL, bool, error) {
	query := fmt.Sprintf(`
SELECT url, category, last_scraped, success, status_code, content_hash
FROM %s WHERE url = $1`, c.table)

	var row corpus.CachedURL
	err := c.pool.QueryRow(ctx, query, url).Scan(
		&row.URL,
		&row.Category,
		&row.LastScraped,
		&row.Success,
		&row.StatusCode,
		&row.ContentHash,
	)
	if errors.Is(err, pgx.ErrNoRows) {
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
	query := fmt.Sprintf(`
INSERT INTO %s (url, category, last_scraped, success, status_code, content_hash)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (url) DO UPDATE SET
	category = EXCLUDED.category,
	last_scraped = EXCLUDED.last_scraped,
	success = EXCLUDED.success,
	status_code = EXCLUDED.status_code,
	content_hash = EXCLUDED.content_hash`, c.table)

	_, err := c.pool.Exec(ctx, query,
		row.URL,
		row.Category,
		row.LastScraped.UTC(),
		row.Success,
		row.StatusCode,
		row.ContentHash,
	)
	if err != nil {
		return fmt.Errorf("upsert url cache row: %w", err)
	}
	return nil
}

// Invalidate deletes the row for url.
func (c *Cache) Invalidate(ctx context.Context, url string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE url = $1`, c.table)
	if _, err := c.pool.Exec(ctx, query, url); err != nil {
		return fmt.Errorf("delete url cache row: %w", err)
	}
	return nil
}

// Prune deletes rows scraped before cutoff.
func (c *Cache) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE last_scraped < $1`, c.table)
	tag, err := c.pool.Exec(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune url cache: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close releases the pool.
func (c *Cache) Close() error {
	if c == nil || c.pool == nil {
		return nil
	}
	c.pool.Close()
	return nil
}
