package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/datagen24/cowrieprocessor/internal/cache"
)

func TestL1TTLForKnownAndUnknownTypes(t *testing.T) {
	require.Equal(t, time.Hour, cache.L1TTLFor("tor"))
	require.Equal(t, 24*time.Hour, cache.L1TTLFor("cloud"))
	require.Equal(t, time.Hour, cache.L1TTLFor("made_up"), "unrecognized types fall back to the default TTL")
}

func TestL2TTLForKnownAndUnknownServices(t *testing.T) {
	require.Equal(t, 90*24*time.Hour, cache.L2TTLFor("hibp"))
	require.Equal(t, 30*24*time.Hour, cache.L2TTLFor("made_up"), "unrecognized services fall back to the default TTL")
}

func TestTierStatsHitRate(t *testing.T) {
	var s cache.TierStats
	require.Zero(t, s.HitRate(), "hit rate with no reads must be zero, not NaN")
}

func TestMemoryL1RoundTripAndExpiry(t *testing.T) {
	ctx := context.Background()
	l1 := cache.NewMemoryL1()

	require.NoError(t, l1.Set(ctx, "k", []byte("v"), time.Minute))
	val, ok, err := l1.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", string(val))

	require.NoError(t, l1.Set(ctx, "expired", []byte("v"), -time.Second))
	_, ok, err = l1.Get(ctx, "expired")
	require.NoError(t, err)
	require.False(t, ok, "expired entry must be evicted as a miss")

	require.NoError(t, l1.Delete(ctx, "k"))
	_, ok, err = l1.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok, "deleted entry must be a miss")
}
