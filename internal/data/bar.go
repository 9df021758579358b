// Package data provides minute-bar ingestion, caching, and day-level
// persistence for the settlement-arbitrage engine.
package data

import (
	"time"

	"github.com/shopspring/decimal"
)

// MinuteBar is a single exchange-local minute candle for one symbol.
type MinuteBar struct {
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Amount    decimal.Decimal `json:"amount"`
}
