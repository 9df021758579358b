package scheduler

import (
	"testing"
	"time"

	"github.com/atlas-desktop/settlement-arbitrage/internal/position"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTimeOfDayComputesSecondsSinceMidnight(t *testing.T) {
	ts := time.Date(2026, 1, 5, 9, 30, 15, 0, time.UTC)
	want := 9*time.Hour + 30*time.Minute + 15*time.Second
	assert.Equal(t, want, timeOfDay(ts))
}

func TestSameSymbolsIgnoresOrder(t *testing.T) {
	assert.True(t, sameSymbols([]string{"IC0", "IM0"}, []string{"IM0", "IC0"}), "expected same symbol sets in different order to be equal")
	assert.False(t, sameSymbols([]string{"IC0"}, []string{"IC0", "IM0"}), "expected different-length symbol sets to differ")
	assert.False(t, sameSymbols([]string{"IC0"}, []string{"IM0"}), "expected disjoint symbol sets to differ")
}

func TestAggregateTradesWeightsEntryByQuantity(t *testing.T) {
	trades := []position.TradeRecord{
		{
			Position: position.Position{EntryPrice: decimal.NewFromInt(5000), Quantity: 1},
			NetPnL:   decimal.NewFromInt(100),
		},
		{
			Position: position.Position{EntryPrice: decimal.NewFromInt(4900), Quantity: 1},
			NetPnL:   decimal.NewFromInt(-50),
		},
	}

	totalPnL, avgEntry, totalQty := aggregateTrades(trades)
	assert.True(t, totalPnL.Equal(decimal.NewFromInt(50)), "totalPnL = %s, want 50", totalPnL)
	assert.Equal(t, int64(2), totalQty)
	assert.True(t, avgEntry.Equal(decimal.NewFromInt(4950)), "avgEntry = %s, want 4950", avgEntry)
}

func TestAggregateTradesHandlesEmptySlice(t *testing.T) {
	totalPnL, avgEntry, totalQty := aggregateTrades(nil)
	assert.True(t, totalPnL.IsZero())
	assert.True(t, avgEntry.IsZero())
	assert.Equal(t, int64(0), totalQty)
}

func TestProfitPctGuardsZeroCost(t *testing.T) {
	assert.True(t, profitPct(decimal.NewFromInt(100), decimal.Zero, 1).IsZero(), "profitPct with zero entry price should be 0")
	assert.True(t, profitPct(decimal.NewFromInt(100), decimal.NewFromInt(5000), 0).IsZero(), "profitPct with zero quantity should be 0")
}

func TestProfitPctComputesRatioAgainstCost(t *testing.T) {
	got := profitPct(decimal.NewFromInt(500), decimal.NewFromInt(5000), 1)
	assert.True(t, got.Equal(decimal.NewFromFloat(0.1)), "profitPct = %s, want 0.1", got)
}
