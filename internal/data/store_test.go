package data_test

import (
	"testing"
	"time"

	"github.com/atlas-desktop/settlement-arbitrage/internal/data"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(t time.Time, close float64) data.MinuteBar {
	return data.MinuteBar{
		Symbol: "IC2601", Timestamp: t,
		Open: decimal.NewFromFloat(close), High: decimal.NewFromFloat(close),
		Low: decimal.NewFromFloat(close), Close: decimal.NewFromFloat(close),
	}
}

func TestSaveDayThenLoadDayRoundTripsInOrder(t *testing.T) {
	store, err := data.NewStore(t.TempDir())
	require.NoError(t, err)

	base := time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)
	bars := []data.MinuteBar{
		bar(base.Add(2*time.Minute), 4980),
		bar(base, 5000),
		bar(base.Add(time.Minute), 4990),
	}

	require.NoError(t, store.SaveDay("IC", "2026-01-05", bars))

	loaded, err := store.LoadDay("IC", "2026-01-05")
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	for i := 1; i < len(loaded); i++ {
		require.False(t, loaded[i].Timestamp.Before(loaded[i-1].Timestamp), "bars not in ascending timestamp order: %v", loaded)
	}
	assert.True(t, loaded[0].Close.Equal(decimal.NewFromFloat(5000)), "first bar close = %s, want 5000", loaded[0].Close)
}

func TestLoadDayWithNoSnapshotReturnsEmpty(t *testing.T) {
	store, err := data.NewStore(t.TempDir())
	require.NoError(t, err)
	loaded, err := store.LoadDay("IC", "2099-01-01")
	require.NoError(t, err)
	assert.Empty(t, loaded, "expected no bars for a missing snapshot")
}

func TestSaveDayOverwritesPriorSnapshot(t *testing.T) {
	store, err := data.NewStore(t.TempDir())
	require.NoError(t, err)
	base := time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)

	require.NoError(t, store.SaveDay("IC", "2026-01-05", []data.MinuteBar{bar(base, 5000)}))
	require.NoError(t, store.SaveDay("IC", "2026-01-05", []data.MinuteBar{bar(base, 5000), bar(base.Add(time.Minute), 4990)}))

	loaded, err := store.LoadDay("IC", "2026-01-05")
	require.NoError(t, err)
	assert.Len(t, loaded, 2, "expected the second snapshot to contain 2 bars")
}

func TestCleanupOlderThanRemovesStaleSnapshotsOnly(t *testing.T) {
	store, err := data.NewStore(t.TempDir())
	require.NoError(t, err)
	base := time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)

	require.NoError(t, store.SaveDay("IC", "2025-01-01", []data.MinuteBar{bar(base, 5000)}))
	require.NoError(t, store.SaveDay("IC", "2026-01-05", []data.MinuteBar{bar(base, 5000)}))

	now := time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.CleanupOlderThan(now, 30*24*time.Hour))

	old, err := store.LoadDay("IC", "2025-01-01")
	require.NoError(t, err)
	assert.Empty(t, old, "expected the stale snapshot to be removed")

	recent, err := store.LoadDay("IC", "2026-01-05")
	require.NoError(t, err)
	assert.NotEmpty(t, recent, "expected the recent snapshot to survive cleanup")
}
