// Package risk enforces the engine's safety limits — daily loss,
// drawdown, and position caps — and records breaches as events.
package risk

import (
	"sort"
	"sync"
	"time"

	"github.com/atlas-desktop/settlement-arbitrage/internal/config"
	"github.com/atlas-desktop/settlement-arbitrage/internal/metrics"
	"github.com/atlas-desktop/settlement-arbitrage/internal/position"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EventType enumerates the kinds of risk breach the manager can raise.
type EventType string

const (
	EventPositionLimit EventType = "POSITION_LIMIT"
	EventDailyLoss     EventType = "DAILY_LOSS_LIMIT"
	EventDrawdown      EventType = "DRAWDOWN_LIMIT"
	EventForceClose    EventType = "FORCE_CLOSE"
)

// Event is one recorded risk breach.
type Event struct {
	Type      EventType
	Message   string
	Symbol    string
	Value     decimal.Decimal
	Limit     decimal.Decimal
	Timestamp time.Time
}

// Status is a point-in-time snapshot of the risk manager's state.
type Status struct {
	InitialEquity  decimal.Decimal
	CurrentEquity  decimal.Decimal
	PeakEquity     decimal.Decimal
	DailyPnL       decimal.Decimal
	DailyTrades    int
	Drawdown       decimal.Decimal
	IsTriggered    bool
	CurrentDate    string
}

// Manager tracks running equity and enforces the daily-loss, drawdown,
// and position-count limits from cfg, latching isTriggered on any breach
// until the next resetDaily/reset.
type Manager struct {
	logger  *zap.Logger
	cfg     config.RiskConfig
	metrics *metrics.Metrics
	clock   func() time.Time

	mu             sync.Mutex
	initialEquity  decimal.Decimal
	currentEquity  decimal.Decimal
	peakEquity     decimal.Decimal
	dailyPnL       decimal.Decimal
	dailyTrades    int
	currentDate    string
	isTriggered    bool
	events         []Event
}

// New constructs a Manager from cfg. metrics may be nil.
func New(logger *zap.Logger, cfg config.RiskConfig, m *metrics.Metrics) *Manager {
	return &Manager{
		logger:  logger.Named("risk"),
		cfg:     cfg,
		metrics: m,
		clock:   time.Now,
	}
}

// Initialize sets initial/current/peak equity and clears the event log
// and triggered flag.
func (m *Manager) Initialize(initialEquity decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialEquity = initialEquity
	m.currentEquity = initialEquity
	m.peakEquity = initialEquity
	m.events = nil
	m.isTriggered = false
	m.currentDate = m.clock().Format("2006-01-02")
}

// ResetDaily zeroes the daily P&L and trade count, clears the triggered
// flag, and sets currentDate to today.
func (m *Manager) ResetDaily() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetDailyLocked()
}

func (m *Manager) resetDailyLocked() {
	m.dailyPnL = decimal.Zero
	m.dailyTrades = 0
	m.isTriggered = false
	m.currentDate = m.clock().Format("2006-01-02")
}

// OnTrade folds a closed trade's net P&L into the running daily and
// overall equity figures, rolling the daily counters over first if the
// day has changed.
func (m *Manager) OnTrade(trade position.TradeRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	today := m.clock().Format("2006-01-02")
	if m.currentDate != today {
		m.resetDailyLocked()
	}

	m.dailyPnL = m.dailyPnL.Add(trade.NetPnL)
	m.dailyTrades++
	m.currentEquity = m.currentEquity.Add(trade.NetPnL)
	if m.currentEquity.GreaterThan(m.peakEquity) {
		m.peakEquity = m.currentEquity
	}
	if m.metrics != nil {
		m.metrics.DailyPnL.WithLabelValues(trade.Position.Symbol).Set(valueOf(m.dailyPnL))
	}
}

func valueOf(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// CheckDailyLossLimit fires when dailyPnL is strictly below -maxDailyLoss.
func (m *Manager) CheckDailyLossLimit() *Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkDailyLossLimitLocked()
}

func (m *Manager) checkDailyLossLimitLocked() *Event {
	if m.dailyPnL.LessThan(m.cfg.MaxDailyLoss.Neg()) {
		ev := Event{
			Type: EventDailyLoss, Timestamp: m.clock(),
			Value: m.dailyPnL, Limit: m.cfg.MaxDailyLoss.Neg(),
			Message: "daily loss limit breached",
		}
		m.recordLocked(ev)
		return &ev
	}
	return nil
}

// CheckDrawdownLimit fires when drawdown from peak equity exceeds
// maxDrawdown.
func (m *Manager) CheckDrawdownLimit() *Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkDrawdownLimitLocked()
}

func (m *Manager) checkDrawdownLimitLocked() *Event {
	if m.peakEquity.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	dd := m.peakEquity.Sub(m.currentEquity).Div(m.peakEquity)
	if dd.GreaterThan(m.cfg.MaxDrawdown) {
		ev := Event{
			Type: EventDrawdown, Timestamp: m.clock(),
			Value: dd, Limit: m.cfg.MaxDrawdown,
			Message: "drawdown limit breached",
		}
		m.recordLocked(ev)
		return &ev
	}
	return nil
}

// PositionCounter is the subset of position.Manager the risk manager
// needs to evaluate position caps.
type PositionCounter interface {
	GetPositionCount(symbol string) int64
}

// CheckPositionLimit fires when symbol's open quantity reaches
// maxPositionPerSymbol, checked before the total cap.
func (m *Manager) CheckPositionLimit(symbol string, maxPerSymbol int64, pm PositionCounter) *Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	symbolQty := pm.GetPositionCount(symbol)
	totalQty := pm.GetPositionCount("")
	if symbolQty >= maxPerSymbol {
		ev := Event{
			Type: EventPositionLimit, Symbol: symbol, Timestamp: m.clock(),
			Value: decimal.NewFromInt(symbolQty), Limit: decimal.NewFromInt(maxPerSymbol),
			Message: "per-symbol position limit reached",
		}
		m.recordLocked(ev)
		return &ev
	}
	if totalQty >= m.cfg.MaxTotalPosition {
		ev := Event{
			Type: EventPositionLimit, Symbol: symbol, Timestamp: m.clock(),
			Value: decimal.NewFromInt(totalQty), Limit: decimal.NewFromInt(m.cfg.MaxTotalPosition),
			Message: "total position limit reached",
		}
		m.recordLocked(ev)
		return &ev
	}
	return nil
}

// CheckAllRisks runs the daily-loss check first, then drawdown; the
// first breach wins.
func (m *Manager) CheckAllRisks() *Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev := m.checkDailyLossLimitLocked(); ev != nil {
		return ev
	}
	return m.checkDrawdownLimitLocked()
}

// PositionCloser is the subset of position.Manager needed to force-close
// every open position for a symbol. A force-close always uses the
// close-today fee rate: the risk manager fires intraday, against
// positions that may have been opened earlier the same session.
type PositionCloser interface {
	CloseAllPositionsSameDay(exitPrice decimal.Decimal, symbol string, ts time.Time) []position.TradeRecord
}

// ForceCloseOnLimit reports whether a risk breach should actually flatten
// positions, per cfg.ForceCloseOnLimit. Callers must consult this before
// invoking ForceCloseAll — CheckAllRisks/CheckPositionLimit still record
// and latch the breach either way.
func (m *Manager) ForceCloseOnLimit() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.ForceCloseOnLimit
}

// ForceCloseAll closes every open position for each symbol named in
// pricesBySymbol at the close-today fee rate, records one aggregate
// FORCE_CLOSE event, and feeds every resulting trade back into OnTrade.
func (m *Manager) ForceCloseAll(pm PositionCloser, pricesBySymbol map[string]decimal.Decimal, reason string, ts time.Time) []position.TradeRecord {
	var all []position.TradeRecord
	for symbol, price := range pricesBySymbol {
		all = append(all, pm.CloseAllPositionsSameDay(price, symbol, ts)...)
	}

	total := decimal.Zero
	for _, t := range all {
		total = total.Add(t.NetPnL)
		m.OnTrade(t)
	}

	m.mu.Lock()
	m.recordLocked(Event{
		Type: EventForceClose, Timestamp: ts,
		Value:   total,
		Message: reason,
	})
	m.mu.Unlock()

	return all
}

func (m *Manager) recordLocked(ev Event) {
	m.isTriggered = true
	m.events = append(m.events, ev)
	if m.metrics != nil {
		m.metrics.RiskEvents.WithLabelValues(string(ev.Type)).Inc()
	}
	m.logger.Warn("risk event", zap.String("type", string(ev.Type)), zap.String("message", ev.Message))
}

// GetRiskStatus returns a snapshot of the manager's current state.
func (m *Manager) GetRiskStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	dd := decimal.Zero
	if m.peakEquity.GreaterThan(decimal.Zero) {
		dd = m.peakEquity.Sub(m.currentEquity).Div(m.peakEquity)
	}
	return Status{
		InitialEquity: m.initialEquity,
		CurrentEquity: m.currentEquity,
		PeakEquity:    m.peakEquity,
		DailyPnL:      m.dailyPnL,
		DailyTrades:   m.dailyTrades,
		Drawdown:      dd,
		IsTriggered:   m.isTriggered,
		CurrentDate:   m.currentDate,
	}
}

// GetEvents returns the most recent events first, optionally filtered by
// type, capped at limit (defaulting to 50 when limit <= 0).
func (m *Manager) GetEvents(eventType EventType, limit int) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}

	var filtered []Event
	for _, ev := range m.events {
		if eventType != "" && ev.Type != eventType {
			continue
		}
		filtered = append(filtered, ev)
	}
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Timestamp.After(filtered[j].Timestamp) })
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered
}

// IsTriggered reports whether any check has fired since the last
// ResetDaily/Reset.
func (m *Manager) IsTriggered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isTriggered
}

// Reset clears all equity, daily, and event state.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialEquity = decimal.Zero
	m.currentEquity = decimal.Zero
	m.peakEquity = decimal.Zero
	m.dailyPnL = decimal.Zero
	m.dailyTrades = 0
	m.isTriggered = false
	m.events = nil
	m.currentDate = ""
}
