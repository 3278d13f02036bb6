package cache_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/datagen24/cowrieprocessor/internal/cache"
	"github.com/datagen24/cowrieprocessor/internal/storage"
)

func openTestL2(t *testing.T) *storage.L2Cache {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return storage.NewL2Cache(db)
}

// TestHybridCacheBackfillsFasterTiers exercises the read-down/backfill-up
// contract: an L2 hit must populate L1 so the next lookup for the same key
// never reaches L2 again.
func TestHybridCacheBackfillsFasterTiers(t *testing.T) {
	ctx := context.Background()
	l1 := cache.NewMemoryL1()
	l2 := openTestL2(t)
	l3, err := cache.NewL3(t.TempDir())
	require.NoError(t, err)

	hybrid := cache.NewHybridCache(l1, l2, l3)

	require.NoError(t, l2.Set("dshield", "198.51.100.1", []byte(`{"ip":{"attacks":3}}`), time.Hour))

	val, ok := hybrid.Get(ctx, "dshield", "198.51.100.1", time.Minute)
	require.True(t, ok)
	require.JSONEq(t, `{"ip":{"attacks":3}}`, string(val))

	l1Val, ok, err := l1.Get(ctx, "dshield:198.51.100.1")
	require.NoError(t, err)
	require.True(t, ok, "an L2 hit must backfill L1")
	require.Equal(t, val, l1Val)

	stats := hybrid.Stats()
	require.Equal(t, int64(1), stats.L1.Misses)
	require.Equal(t, int64(1), stats.L2.Hits)
}

// TestHybridCacheSetWritesThroughAllTiers checks that Set populates every
// enabled tier, isolating any one tier's failure from the others (none fail
// here, but the write-through itself is the property under test).
func TestHybridCacheSetWritesThroughAllTiers(t *testing.T) {
	ctx := context.Background()
	l1 := cache.NewMemoryL1()
	l2 := openTestL2(t)
	l3, err := cache.NewL3(t.TempDir())
	require.NoError(t, err)

	hybrid := cache.NewHybridCache(l1, l2, l3)
	hybrid.Set(ctx, "virustotal", "deadbeef", []byte(`{"malicious":true}`), time.Minute)

	_, ok, err := l1.Get(ctx, "virustotal:deadbeef")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l2.Get("virustotal", "deadbeef")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l3.Get("virustotal", "deadbeef")
	require.NoError(t, err)
	require.True(t, ok)
}

// TestHybridCacheCleanMiss confirms a lookup absent from every tier reports
// a miss rather than an error, and is recorded as a miss in every tier's
// stats.
func TestHybridCacheCleanMiss(t *testing.T) {
	ctx := context.Background()
	l1 := cache.NewMemoryL1()
	l2 := openTestL2(t)
	l3, err := cache.NewL3(t.TempDir())
	require.NoError(t, err)

	hybrid := cache.NewHybridCache(l1, l2, l3)
	_, ok := hybrid.Get(ctx, "urlhaus", "missing", time.Minute)
	require.False(t, ok)

	stats := hybrid.Stats()
	require.Equal(t, int64(1), stats.L1.Misses)
	require.Equal(t, int64(1), stats.L2.Misses)
	require.Equal(t, int64(1), stats.L3.Misses)
}
