package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterDisabledNeverBlocks(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	require.False(t, l.Enabled())
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://example.com/page"))
	}
}

func TestLimiterDelaysSameHost(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	require.True(t, l.Enabled())

	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://example.com/a"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://www.example.com/b"))
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.5, DefaultBurst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://one.example/a"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://two.example/a"))
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiterHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.example/"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://slow.example/again"))
}
