package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/corpus-refinery/internal/corpus"
)

func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := New()
	_, ok, err := c.Lookup(ctx, "https://example.org/a")
	require.NoError(t, err)
	require.False(t, ok)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, c.Upsert(ctx, corpus.CachedURL{URL: "https://example.org/a", LastScraped: now, Success: true}))
	require.NoError(t, c.Upsert(ctx, corpus.CachedURL{URL: "https://example.org/b", LastScraped: now.Add(-48 * time.Hour)}))

	row, ok, err := c.Lookup(ctx, "https://example.org/a")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, row.Success)

	removed, err := c.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.Equal(t, 1, c.Len())

	require.NoError(t, c.Invalidate(ctx, "https://example.org/a"))
	require.Zero(t, c.Len())
	require.NoError(t, c.Close())
}
