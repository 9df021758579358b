// Package position is the authoritative ledger of open positions and
// closed trades for the settlement-arbitrage engine.
package position

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/atlas-desktop/settlement-arbitrage/internal/metrics"
	"github.com/atlas-desktop/settlement-arbitrage/pkg/product"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Status is the lifecycle state of a Position.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Direction is always long for this engine's strategy, but is carried
// explicitly for clarity and future extension.
type Direction string

const (
	DirectionLong Direction = "LONG"
)

// Position is one open or closed futures position.
type Position struct {
	ID         string
	Symbol     string
	Direction  Direction
	Quantity   int64
	EntryPrice decimal.Decimal
	EntryTime  time.Time
	Level      int
	BasePrice  decimal.Decimal
	DropPct    decimal.Decimal
	VWAP       decimal.Decimal
	ExitPrice  decimal.Decimal
	ExitTime   time.Time
	Status     Status
	PnL        decimal.Decimal
	Fee        decimal.Decimal
	Margin     decimal.Decimal
}

// TradeRecord is a closed position plus its derived P&L summary fields.
type TradeRecord struct {
	Position     Position
	GrossPnL     decimal.Decimal
	NetPnL       decimal.Decimal
	HoldingHours decimal.Decimal
}

// PnLSummary aggregates closed-trade performance.
type PnLSummary struct {
	TotalTrades int
	TotalPnL    decimal.Decimal
	Winning     int
	Losing      int
	WinRate     decimal.Decimal
	AvgWin      decimal.Decimal
	AvgLoss     decimal.Decimal
	TotalFees   decimal.Decimal
}

// Manager is the in-memory ledger of positions and trades. It performs no
// risk validation of its own — that is RiskManager's job.
type Manager struct {
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	open   map[string]*Position
	closed []TradeRecord
	newID  func() string
}

// New constructs an empty Manager. m may be nil.
func New(logger *zap.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		logger:  logger.Named("position"),
		metrics: m,
		open:    make(map[string]*Position),
		newID:   func() string { return uuid.New().String()[:8] },
	}
}

func (m *Manager) observeOpenPositionsLocked(symbol string) {
	if m.metrics == nil {
		return
	}
	var count int64
	for _, pos := range m.open {
		if pos.Symbol == symbol {
			count++
		}
	}
	m.metrics.OpenPositionsGauge.WithLabelValues(symbol).Set(float64(count))
}

// OpenPosition creates and records a new OPEN position. quantity must be
// positive; the caller (strategy/scheduler) is responsible for that
// invariant.
func (m *Manager) OpenPosition(symbol string, price decimal.Decimal, quantity int64, level int, basePrice, dropPct, vwap decimal.Decimal, ts time.Time) Position {
	spec := product.Lookup(symbol)
	margin := price.Mul(decimal.NewFromInt(spec.Multiplier)).Mul(decimal.NewFromInt(quantity)).Mul(spec.MarginRatio)

	pos := Position{
		ID:         m.newID(),
		Symbol:     symbol,
		Direction:  DirectionLong,
		Quantity:   quantity,
		EntryPrice: price,
		EntryTime:  ts,
		Level:      level,
		BasePrice:  basePrice,
		DropPct:    dropPct,
		VWAP:       vwap,
		Status:     StatusOpen,
		Margin:     margin,
	}

	m.mu.Lock()
	m.open[pos.ID] = &pos
	if m.metrics != nil {
		m.metrics.PositionsOpened.WithLabelValues(symbol, strconv.Itoa(level)).Inc()
	}
	m.observeOpenPositionsLocked(symbol)
	m.mu.Unlock()

	m.logger.Info("position opened",
		zap.String("id", pos.ID), zap.String("symbol", symbol),
		zap.Int64("quantity", quantity), zap.Int("level", level))
	return pos
}

func calculateFee(spec product.Spec, entryPrice, exitPrice decimal.Decimal, quantity int64, closeToday bool) decimal.Decimal {
	qty := decimal.NewFromInt(quantity)
	openFee := entryPrice.Mul(decimal.NewFromInt(spec.Multiplier)).Mul(qty).Mul(spec.FeeOpen)
	closeRate := spec.FeeClose
	if closeToday {
		closeRate = spec.FeeCloseToday
	}
	closeFee := exitPrice.Mul(decimal.NewFromInt(spec.Multiplier)).Mul(qty).Mul(closeRate)
	return openFee.Add(closeFee)
}

// closeLocked closes the position for id at exitPrice/ts, optionally
// using the close-today fee rate, and returns the resulting TradeRecord.
// Caller must hold m.mu.
func (m *Manager) closeLocked(id string, exitPrice decimal.Decimal, ts time.Time, closeToday bool) (TradeRecord, bool) {
	pos, ok := m.open[id]
	if !ok {
		return TradeRecord{}, false
	}

	spec := product.Lookup(pos.Symbol)
	grossPnL := exitPrice.Sub(pos.EntryPrice).Mul(decimal.NewFromInt(pos.Quantity)).Mul(decimal.NewFromInt(spec.Multiplier))
	fee := calculateFee(spec, pos.EntryPrice, exitPrice, pos.Quantity, closeToday)
	netPnL := grossPnL.Sub(fee)

	pos.ExitPrice = exitPrice
	pos.ExitTime = ts
	pos.Status = StatusClosed
	pos.PnL = netPnL
	pos.Fee = fee

	holdingHours := decimal.NewFromFloat(ts.Sub(pos.EntryTime).Hours())

	record := TradeRecord{
		Position:     *pos,
		GrossPnL:     grossPnL,
		NetPnL:       netPnL,
		HoldingHours: holdingHours,
	}

	delete(m.open, id)
	m.closed = append(m.closed, record)
	if m.metrics != nil {
		m.metrics.PositionsClosed.WithLabelValues(pos.Symbol).Inc()
	}
	m.observeOpenPositionsLocked(pos.Symbol)
	return record, true
}

// ClosePosition closes an OPEN position using the overnight close-fee
// rate (the standard "open today, close next day" path). Returns
// ok == false if id does not refer to an open position.
func (m *Manager) ClosePosition(id string, exitPrice decimal.Decimal, ts time.Time) (TradeRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.closeLocked(id, exitPrice, ts, false)
	if ok {
		m.logger.Info("position closed", zap.String("id", id), zap.String("netPnl", record.NetPnL.String()))
	}
	return record, ok
}

// ClosePositionSameDay closes an OPEN position using the close-today fee
// rate. Used by paths that may legitimately close a position on the same
// day it was opened, such as the risk manager's force-close.
func (m *Manager) ClosePositionSameDay(id string, exitPrice decimal.Decimal, ts time.Time) (TradeRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.closeLocked(id, exitPrice, ts, true)
	if ok {
		m.logger.Info("position closed (same-day)", zap.String("id", id), zap.String("netPnl", record.NetPnL.String()))
	}
	return record, ok
}

// CloseAllPositions closes every OPEN position (optionally filtered by
// symbol) at exitPrice, in ascending entry-time order, using the
// overnight close-fee rate.
func (m *Manager) CloseAllPositions(exitPrice decimal.Decimal, symbol string, ts time.Time) []TradeRecord {
	m.mu.Lock()
	ids := m.openIDsLocked(symbol)
	m.mu.Unlock()

	var records []TradeRecord
	for _, id := range ids {
		if record, ok := m.ClosePosition(id, exitPrice, ts); ok {
			records = append(records, record)
		}
	}
	return records
}

// CloseAllPositionsSameDay closes every OPEN position (optionally
// filtered by symbol) at exitPrice, in ascending entry-time order, using
// the close-today fee rate. Used by paths that may legitimately close a
// position the same day it was opened, such as the risk manager's
// force-close.
func (m *Manager) CloseAllPositionsSameDay(exitPrice decimal.Decimal, symbol string, ts time.Time) []TradeRecord {
	m.mu.Lock()
	ids := m.openIDsLocked(symbol)
	m.mu.Unlock()

	var records []TradeRecord
	for _, id := range ids {
		if record, ok := m.ClosePositionSameDay(id, exitPrice, ts); ok {
			records = append(records, record)
		}
	}
	return records
}

func (m *Manager) openIDsLocked(symbol string) []string {
	type entry struct {
		id    string
		entry time.Time
	}
	var entries []entry
	for id, pos := range m.open {
		if symbol != "" && pos.Symbol != symbol {
			continue
		}
		entries = append(entries, entry{id: id, entry: pos.EntryTime})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].entry.Before(entries[j].entry) })

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids
}

// GetCurrentPositions returns the OPEN positions, optionally filtered by
// symbol.
func (m *Manager) GetCurrentPositions(symbol string) []Position {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Position
	for _, pos := range m.open {
		if symbol != "" && pos.Symbol != symbol {
			continue
		}
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	return out
}

// GetPositionCount returns the total open quantity, optionally filtered
// by symbol.
func (m *Manager) GetPositionCount(symbol string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, pos := range m.open {
		if symbol != "" && pos.Symbol != symbol {
			continue
		}
		total += pos.Quantity
	}
	return total
}

// GetTotalMarginUsed sums margin across every OPEN position.
func (m *Manager) GetTotalMarginUsed() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := decimal.Zero
	for _, pos := range m.open {
		total = total.Add(pos.Margin)
	}
	return total
}

// CalculateUnrealizedPnL marks every OPEN position for symbol to price.
func (m *Manager) CalculateUnrealizedPnL(symbol string, price decimal.Decimal) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := decimal.Zero
	for _, pos := range m.open {
		if pos.Symbol != symbol {
			continue
		}
		spec := product.Lookup(pos.Symbol)
		total = total.Add(price.Sub(pos.EntryPrice).Mul(decimal.NewFromInt(pos.Quantity)).Mul(decimal.NewFromInt(spec.Multiplier)))
	}
	return total
}

// GetTradeHistory returns closed trades, optionally filtered by symbol
// and [start, end], sorted by exit time descending, capped at limit
// (0 for unlimited).
func (m *Manager) GetTradeHistory(symbol string, start, end time.Time, limit int) []TradeRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []TradeRecord
	for _, record := range m.closed {
		if symbol != "" && record.Position.Symbol != symbol {
			continue
		}
		if !start.IsZero() && record.Position.ExitTime.Before(start) {
			continue
		}
		if !end.IsZero() && record.Position.ExitTime.After(end) {
			continue
		}
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position.ExitTime.After(out[j].Position.ExitTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GetPnLSummary aggregates every closed trade.
func (m *Manager) GetPnLSummary() PnLSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := PnLSummary{TotalPnL: decimal.Zero, TotalFees: decimal.Zero}
	var sumWin, sumLoss decimal.Decimal
	for _, record := range m.closed {
		summary.TotalTrades++
		summary.TotalPnL = summary.TotalPnL.Add(record.NetPnL)
		summary.TotalFees = summary.TotalFees.Add(record.Position.Fee)
		if record.NetPnL.GreaterThan(decimal.Zero) {
			summary.Winning++
			sumWin = sumWin.Add(record.NetPnL)
		} else if record.NetPnL.LessThan(decimal.Zero) {
			summary.Losing++
			sumLoss = sumLoss.Add(record.NetPnL)
		}
	}
	if summary.TotalTrades > 0 {
		summary.WinRate = decimal.NewFromInt(int64(summary.Winning)).Div(decimal.NewFromInt(int64(summary.TotalTrades)))
	}
	if summary.Winning > 0 {
		summary.AvgWin = sumWin.Div(decimal.NewFromInt(int64(summary.Winning)))
	}
	if summary.Losing > 0 {
		summary.AvgLoss = sumLoss.Div(decimal.NewFromInt(int64(summary.Losing)))
	}
	return summary
}

// HasOpenPositions reports whether any OPEN position exists, optionally
// filtered by symbol.
func (m *Manager) HasOpenPositions(symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, pos := range m.open {
		if symbol == "" || pos.Symbol == symbol {
			return true
		}
	}
	return false
}

// Reset clears every open and closed position.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = make(map[string]*Position)
	m.closed = nil
}
