package notify_test

import (
	"testing"
	"time"

	"github.com/atlas-desktop/settlement-arbitrage/pkg/notify"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRenderBuySignalContainsSymbolAndDrop(t *testing.T) {
	msg := notify.RenderBuySignal(notify.BuySignalData{
		Symbol:       "IC2601",
		CurrentPrice: decimal.NewFromInt(4950),
		BasePrice:    decimal.NewFromInt(5000),
		DropPct:      decimal.NewFromFloat(-0.01),
		Timestamp:    time.Date(2026, 1, 5, 14, 45, 0, 0, time.UTC),
	})
	assert.Contains(t, msg.Title, "IC2601")
	assert.Contains(t, msg.Plain, "1.00%", "plain message missing formatted drop percentage")
	assert.Contains(t, msg.HTML, msg.Plain, "HTML rendering should wrap the plain text")
}

func TestRenderSellSignalReportsProfit(t *testing.T) {
	msg := notify.RenderSellSignal(notify.SellSignalData{
		Symbol:     "IC2601",
		ExitPrice:  decimal.NewFromInt(5100),
		EntryPrice: decimal.NewFromInt(5000),
		Profit:     decimal.NewFromInt(20000),
		ProfitPct:  decimal.NewFromFloat(0.02),
		Timestamp:  time.Now(),
	})
	assert.Contains(t, msg.Title, "20000.00", "title missing profit figure")
	assert.Contains(t, msg.Plain, "2.00%", "plain missing profit percentage")
}

func TestRenderAlertUsesAbsoluteDrop(t *testing.T) {
	msg := notify.RenderAlert(notify.AlertData{
		Symbol:         "IM2601",
		DropPct:        decimal.NewFromFloat(-0.008),
		AlertThreshold: decimal.NewFromFloat(0.008),
		Timestamp:      time.Now(),
	})
	assert.NotContains(t, msg.Plain, "-0.80%", "expected absolute drop percentage, not signed")
	assert.Contains(t, msg.Plain, "0.80%", "expected drop percentage in message")
}
