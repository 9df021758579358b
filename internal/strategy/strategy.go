// Package strategy implements the per-symbol settlement-arbitrage state
// machine: it watches the 14:30-15:00 window for a drop off the 14:30
// base price and emits entry/exit signals.
package strategy

import (
	"sync"
	"time"

	"github.com/atlas-desktop/settlement-arbitrage/internal/config"
	"github.com/atlas-desktop/settlement-arbitrage/internal/data"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// State names the per-symbol state machine position.
type State string

const (
	StateIdle       State = "IDLE"
	StateWatching   State = "WATCHING"
	StatePositionL1 State = "POSITION_L1"
	StatePositionL2 State = "POSITION_L2"
	StateClosing    State = "CLOSING"
)

// SignalType enumerates the kinds of signal the strategy can emit.
type SignalType string

const (
	SignalAlert     SignalType = "ALERT"
	SignalBuyL1     SignalType = "BUY_L1"
	SignalBuyL2     SignalType = "BUY_L2"
	SignalSellClose SignalType = "SELL_CLOSE"
)

// Signal is one emitted strategy decision.
type Signal struct {
	Symbol    string
	Type      SignalType
	Level     int
	Quantity  int64
	Price     decimal.Decimal
	BasePrice decimal.Decimal
	DropPct   decimal.Decimal
	Timestamp time.Time
}

type entry struct {
	level    int
	price    decimal.Decimal
	quantity int64
}

type symbolState struct {
	state             State
	lastDate          string
	basePrice         decimal.Decimal
	hasBasePrice      bool
	alertEmittedToday bool
	entries           []entry
	todaySignals      int
}

func newSymbolState() *symbolState {
	return &symbolState{state: StateIdle}
}

func (s *symbolState) hasPosition() bool {
	return len(s.entries) > 0
}

func (s *symbolState) totalQuantity() int64 {
	var total int64
	for _, e := range s.entries {
		total += e.quantity
	}
	return total
}

func (s *symbolState) avgEntryPrice() decimal.Decimal {
	if len(s.entries) == 0 {
		return decimal.Zero
	}
	var sumValue decimal.Decimal
	var sumQty int64
	for _, e := range s.entries {
		sumValue = sumValue.Add(e.price.Mul(decimal.NewFromInt(e.quantity)))
		sumQty += e.quantity
	}
	if sumQty == 0 {
		return decimal.Zero
	}
	return sumValue.Div(decimal.NewFromInt(sumQty))
}

// MonitorSnapshot is a UI-facing view of one symbol's current state.
type MonitorSnapshot struct {
	Symbol       string
	State        State
	BasePrice    decimal.Decimal
	AvgEntry     decimal.Decimal
	TotalQty     int64
	TodaySignals int
}

// SettlementArbitrageStrategy runs the per-symbol state machine from
// spec §4.3 over a stream of minute bars.
type SettlementArbitrageStrategy struct {
	logger *zap.Logger
	cfg    config.StrategyConfig

	mu     sync.Mutex
	states map[string]*symbolState
}

// New constructs a SettlementArbitrageStrategy from cfg.
func New(logger *zap.Logger, cfg config.StrategyConfig) *SettlementArbitrageStrategy {
	return &SettlementArbitrageStrategy{
		logger: logger.Named("strategy"),
		cfg:    cfg,
		states: make(map[string]*symbolState),
	}
}

func (s *SettlementArbitrageStrategy) stateFor(symbol string) *symbolState {
	st, ok := s.states[symbol]
	if !ok {
		st = newSymbolState()
		s.states[symbol] = st
	}
	return st
}

func (s *SettlementArbitrageStrategy) watchStart() time.Duration {
	return parseClock(s.cfg.WatchStart)
}

func (s *SettlementArbitrageStrategy) watchEnd() time.Duration {
	return parseClock(s.cfg.WatchEnd)
}

func parseClock(hhmm string) time.Duration {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
}

func timeOfDay(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second
}

// OnBar feeds one minute bar through the state machine for its symbol and
// returns the signal emitted, if any. A bar dated after the last observed
// date for this symbol rolls its daily state over first. OnBar never
// panics on malformed input; recovery from a panicking downstream
// consumer is the scheduler's responsibility.
func (s *SettlementArbitrageStrategy) OnBar(bar data.MinuteBar) *Signal {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stateFor(bar.Symbol)
	date := bar.Timestamp.Format("2006-01-02")
	if st.lastDate != "" && st.lastDate != date {
		s.resetDailyStateIfNoPositionLocked(st)
	}
	st.lastDate = date

	tod := timeOfDay(bar.Timestamp)
	watchStart := s.watchStart()
	watchEnd := s.watchEnd()

	if tod < watchStart {
		return nil
	}

	if !st.hasBasePrice {
		st.basePrice = bar.Close
		st.hasBasePrice = true
		st.state = StateWatching
		return nil
	}

	if tod > watchEnd {
		return nil
	}

	if st.basePrice.IsZero() {
		return nil
	}
	dropPct := bar.Close.Sub(st.basePrice).Div(st.basePrice)

	if st.state == StateWatching &&
		dropPct.LessThanOrEqual(s.cfg.AlertThreshold.Neg()) &&
		dropPct.GreaterThan(s.cfg.Threshold1.Neg()) &&
		!st.alertEmittedToday {
		st.alertEmittedToday = true
		st.todaySignals++
		return &Signal{
			Symbol: bar.Symbol, Type: SignalAlert, Price: bar.Close,
			BasePrice: st.basePrice, DropPct: dropPct, Timestamp: bar.Timestamp,
		}
	}

	if st.state == StateWatching && dropPct.LessThanOrEqual(s.cfg.Threshold1.Neg()) {
		st.entries = append(st.entries, entry{level: 1, price: bar.Close, quantity: s.cfg.PositionSize1})
		st.state = StatePositionL1
		st.todaySignals++
		return &Signal{
			Symbol: bar.Symbol, Type: SignalBuyL1, Level: 1, Quantity: s.cfg.PositionSize1,
			Price: bar.Close, BasePrice: st.basePrice, DropPct: dropPct, Timestamp: bar.Timestamp,
		}
	}

	if st.state == StatePositionL1 && dropPct.LessThanOrEqual(s.cfg.Threshold2.Neg()) {
		st.entries = append(st.entries, entry{level: 2, price: bar.Close, quantity: s.cfg.PositionSize2})
		st.state = StatePositionL2
		st.todaySignals++
		return &Signal{
			Symbol: bar.Symbol, Type: SignalBuyL2, Level: 2, Quantity: s.cfg.PositionSize2,
			Price: bar.Close, BasePrice: st.basePrice, DropPct: dropPct, Timestamp: bar.Timestamp,
		}
	}

	return nil
}

// OnDayOpen flattens any overnight position held for symbol at the next
// trading day's open, returning a single SELL_CLOSE signal, or nil if the
// symbol has no open position.
func (s *SettlementArbitrageStrategy) OnDayOpen(symbol string, openPrice decimal.Decimal, ts time.Time) *Signal {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stateFor(symbol)
	if !st.hasPosition() || st.state == StateClosing {
		return nil
	}

	qty := st.totalQuantity()
	st.state = StateClosing
	st.todaySignals++

	return &Signal{
		Symbol: symbol, Type: SignalSellClose, Quantity: qty,
		Price: openPrice, BasePrice: st.basePrice, Timestamp: ts,
	}
}

// resetDailyStateIfNoPositionLocked clears base price, alert flag, and
// today's signal count for a day rollover, preserving any open position
// and its state (spec §4.3 step 1). Caller must hold s.mu.
func (s *SettlementArbitrageStrategy) resetDailyStateIfNoPositionLocked(st *symbolState) {
	st.hasBasePrice = false
	st.basePrice = decimal.Zero
	st.alertEmittedToday = false
	st.todaySignals = 0
	if !st.hasPosition() {
		st.state = StateIdle
		st.entries = nil
	}
}

// Reset clears all per-symbol state.
func (s *SettlementArbitrageStrategy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = make(map[string]*symbolState)
}

// ClearClosed drops the entry ledger for symbol once its CLOSING signal
// has been fully processed downstream (positions closed, risk notified),
// returning it to IDLE ahead of the next trading day.
func (s *SettlementArbitrageStrategy) ClearClosed(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stateFor(symbol)
	st.entries = nil
	st.state = StateIdle
}

// GetMonitorData returns a UI snapshot of every symbol currently tracked.
func (s *SettlementArbitrageStrategy) GetMonitorData() []MonitorSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]MonitorSnapshot, 0, len(s.states))
	for symbol, st := range s.states {
		out = append(out, MonitorSnapshot{
			Symbol:       symbol,
			State:        st.state,
			BasePrice:    st.basePrice,
			AvgEntry:     st.avgEntryPrice(),
			TotalQty:     st.totalQuantity(),
			TodaySignals: st.todaySignals,
		})
	}
	return out
}

// GetTodaySignalCount returns the aggregated signal count across every
// tracked symbol for the current day.
func (s *SettlementArbitrageStrategy) GetTodaySignalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, st := range s.states {
		total += st.todaySignals
	}
	return total
}
