// Package marketdata defines the abstract market-data collaborator the
// engine consumes. The core only depends on this interface; the module's
// one concrete adapter, internal/cnfutures (Sina Finance), is wired in
// by cmd/.
package marketdata

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Bar is a single OHLCV sample at a given period.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	Amount    decimal.Decimal
}

// Quote is a real-time snapshot for a symbol.
type Quote struct {
	Symbol    string
	Last      decimal.Decimal
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	PreClose  decimal.Decimal
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Volume    decimal.Decimal
	Amount    decimal.Decimal
	Timestamp time.Time
}

// Timeframe enumerates the kline intervals the provider supports.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1H  Timeframe = "1H"
	Timeframe1D  Timeframe = "1D"
)

// Provider is the external market-data collaborator (spec §6.1). All
// methods are best-effort: a provider may return fewer bars than
// requested, or none, and callers must tolerate that.
type Provider interface {
	// GetMinuteBars fetches up to count minute bars for symbol at the
	// given period (in minutes), optionally starting from startDate
	// (YYYY-MM-DD, exchange-local). Returns bars in ascending time order.
	GetMinuteBars(ctx context.Context, symbol string, period int, count int, startDate string) ([]Bar, error)

	// GetRealtimeQuote returns the current quote for symbol, or
	// ok == false if unavailable.
	GetRealtimeQuote(ctx context.Context, symbol string) (q Quote, ok bool, err error)

	// GetSettlementPrice returns the exchange-published settlement price
	// for symbol on date (YYYY-MM-DD, empty for latest), or
	// ok == false if unavailable.
	GetSettlementPrice(ctx context.Context, symbol string, date string) (price decimal.Decimal, ok bool, err error)

	// IsTradingTime reports whether the exchange is currently in a
	// continuous trading session (09:30-11:30 / 13:00-15:00 CST).
	IsTradingTime(now time.Time) bool

	// IsWatchPeriod reports whether now falls in the settlement watch
	// window (14:30-15:00 CST).
	IsWatchPeriod(now time.Time) bool

	// IsTradingDay reports whether day is an exchange trading day.
	IsTradingDay(ctx context.Context, day time.Time) (bool, error)

	// GetKline fetches up to limit klines for symbol at timeframe,
	// optionally bounded before beforeTime (zero value for no bound).
	GetKline(ctx context.Context, symbol string, timeframe Timeframe, limit int, beforeTime time.Time) ([]Bar, error)
}
