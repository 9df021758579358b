package cnfutures

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/settlement-arbitrage/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestUnwrapJSONPExtractsPayload(t *testing.T) {
	body := `var InnerFuturesNewService_getFewMinLine=([{"t":"2026-01-05 14:30:00","o":"5000"}]);`
	assert.Equal(t, `[{"t":"2026-01-05 14:30:00","o":"5000"}]`, unwrapJSONP(body))
}

func TestUnwrapJSONPPassesThroughPlainBody(t *testing.T) {
	body := `[1,2,3]`
	assert.Equal(t, body, unwrapJSONP(body))
}

func TestDecimalOfFallsBackToZeroOnGarbage(t *testing.T) {
	assert.True(t, decimalOf("not-a-number").IsZero(), "decimalOf(garbage) should be 0")
	assert.True(t, decimalOf("5123.5").Equal(decimal.NewFromFloat(5123.5)))
}

func TestIsWeekday(t *testing.T) {
	monday := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	saturday := time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)
	assert.True(t, isWeekday(monday), "expected Monday to be a weekday")
	assert.False(t, isWeekday(saturday), "expected Saturday to not be a weekday")
}

func TestIsTradingTimeSessionBoundaries(t *testing.T) {
	p := New(zap.NewNop(), nil)

	morning := time.Date(2026, 1, 5, 10, 0, 0, 0, cstLocation)
	assert.True(t, p.IsTradingTime(morning), "expected 10:00 CST to be trading time")

	lunch := time.Date(2026, 1, 5, 12, 0, 0, 0, cstLocation)
	assert.False(t, p.IsTradingTime(lunch), "expected 12:00 CST (lunch break) to not be trading time")

	watch := time.Date(2026, 1, 5, 14, 45, 0, 0, cstLocation)
	assert.True(t, p.IsWatchPeriod(watch), "expected 14:45 CST to fall in the settlement watch window")

	beforeWatch := time.Date(2026, 1, 5, 14, 29, 0, 0, cstLocation)
	assert.False(t, p.IsWatchPeriod(beforeWatch), "expected 14:29 CST to be before the watch window")
}

func TestContractSymbolNormalizesCase(t *testing.T) {
	assert.Equal(t, "IM0", contractSymbol(" im0 "))
}

func TestGetRealtimeQuoteRecordsFailureMetric(t *testing.T) {
	reg := prometheus.NewRegistry()
	mtr := metrics.New(reg)
	p := New(zap.NewNop(), mtr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := p.GetRealtimeQuote(ctx, "IC2601")
	require.Error(t, err, "expected a canceled context to fail the request")

	got := testutil.ToFloat64(mtr.ProviderFailures.WithLabelValues("GetRealtimeQuote"))
	assert.Equal(t, float64(1), got, "expected the provider failure counter to record the error")
}
