// Package urlcache decides whether a URL needs to be scraped again based on
// the age of its cached summary row. Storage backends live in the memory,
// sqlite and postgres subpackages.
package urlcache

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-refinery/internal/clock/system"
	"github.com/JakeFAU/corpus-refinery/internal/corpus"
	"github.com/JakeFAU/corpus-refinery/internal/hash/sha256"
)

// Categories with a built-in maximum age.
const (
	CategoryNews           = "news"
	CategoryEvents         = "events"
	CategoryRegulations    = "pruefungsordnungen"
	CategoryModuleHandbook = "modulhandbuch"
	CategoryFaculty        = "faculty"
	CategoryResearch       = "research"
	CategoryContact        = "contact"
	CategoryStatic         = "static"
	CategoryDefault        = "default"
)

const day = 24 * time.Hour

// DefaultMaxAges returns the built-in freshness windows per category.
func DefaultMaxAges() map[string]time.Duration {
	return map[string]time.Duration{
		CategoryNews:           1 * day,
		CategoryEvents:         1 * day,
		CategoryRegulations:    90 * day,
		CategoryModuleHandbook: 90 * day,
		CategoryFaculty:        30 * day,
		CategoryResearch:       30 * day,
		CategoryContact:        90 * day,
		CategoryStatic:         30 * day,
		CategoryDefault:        7 * day,
	}
}

// urlRules map URL substrings to a category. They take precedence over the
// category recorded for the page.
var urlRules = []struct {
	needles  []string
	category string
}{
	{needles: []string{"/news/", "/aktuelles/"}, category: CategoryNews},
	{needles: []string{"/event/", "/veranstaltung"}, category: CategoryEvents},
	{needles: []string{"pruefungsordnung", "/po-", "/po_"}, category: CategoryRegulations},
	{needles: []string{"modulhandbuch"}, category: CategoryModuleHandbook},
}

// Policy applies per-category maximum ages to cached rows.
type Policy struct {
	maxAges map[string]time.Duration
	clock   corpus.Clock
	logger  *zap.Logger
}

// NewPolicy merges overrides into the default windows. A nil clock uses the
// system clock.
func NewPolicy(overrides map[string]time.Duration, clock corpus.Clock, logger *zap.Logger) *Policy {
	maxAges := DefaultMaxAges()
	for category, age := range overrides {
		maxAges[strings.ToLower(category)] = age
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{maxAges: maxAges, clock: clock, logger: logger}
}

// Strategies returns a copy of the effective windows.
func (p *Policy) Strategies() map[string]time.Duration {
	return maps.Clone(p.maxAges)
}

// MaxAge resolves the freshness window for url. URL patterns win over the
// category; unknown categories use the default window.
func (p *Policy) MaxAge(url, category string) time.Duration {
	lower := strings.ToLower(url)
	for _, rule := range urlRules {
		for _, needle := range rule.needles {
			if strings.Contains(lower, needle) {
				return p.maxAges[rule.category]
			}
		}
	}
	if age, ok := p.maxAges[strings.ToLower(category)]; ok && category != "" {
		return age
	}
	return p.maxAges[CategoryDefault]
}

// IsFresh reports whether row is younger than its window. category overrides
// the category stored in the row when non-empty.
func (p *Policy) IsFresh(row corpus.CachedURL, category string) bool {
	if category == "" {
		category = row.Category
	}
	maxAge := p.MaxAge(row.URL, category)
	age := p.clock.Now().Sub(row.LastScraped)
	fresh := age < maxAge
	if !fresh {
		p.logger.Debug("cache entry expired",
			zap.String("url", row.URL),
			zap.Duration("age", age),
			zap.Duration("max_age", maxAge),
		)
	}
	return fresh
}

// ShouldScrape reports whether url must be fetched: always when forced, when
// it has no cached row, or when the row is stale.
func (p *Policy) ShouldScrape(ctx context.Context, cache corpus.URLCacheReader, url, category string, force bool) (bool, error) {
	if force || cache == nil {
		return true, nil
	}
	row, ok, err := cache.Lookup(ctx, url)
	if err != nil {
		return true, fmt.Errorf("lookup %s: %w", url, err)
	}
	if !ok {
		return true, nil
	}
	if p.IsFresh(row, category) {
		p.logger.Debug("skipping fresh url", zap.String("url", url))
		return false, nil
	}
	return true, nil
}

// NewRow builds the summary row stored after a scrape attempt.
func NewRow(url, category string, body []byte, success bool, statusCode int, at time.Time) corpus.CachedURL {
	return corpus.CachedURL{
		URL:         url,
		Category:    category,
		LastScraped: at.UTC(),
		Success:     success,
		StatusCode:  statusCode,
		ContentHash: sha256.Sum(body),
	}
}

// ContentChanged reports whether body differs from the cached copy. A
// missing row counts as changed.
func ContentChanged(row corpus.CachedURL, found bool, body []byte) bool {
	return !found || row.ContentHash != sha256.Sum(body)
}
