// Package scheduler owns the wall-clock lifecycle that glues the data
// handler, strategy, position manager, risk manager, and notification
// sink into a running engine.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atlas-desktop/settlement-arbitrage/internal/config"
	"github.com/atlas-desktop/settlement-arbitrage/internal/data"
	"github.com/atlas-desktop/settlement-arbitrage/internal/metrics"
	"github.com/atlas-desktop/settlement-arbitrage/internal/position"
	"github.com/atlas-desktop/settlement-arbitrage/internal/risk"
	"github.com/atlas-desktop/settlement-arbitrage/internal/strategy"
	"github.com/atlas-desktop/settlement-arbitrage/pkg/marketdata"
	"github.com/atlas-desktop/settlement-arbitrage/pkg/notify"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	loopResolution   = 10 * time.Second
	shutdownTimeout  = 10 * time.Second
	defaultEquity    = 500000.0
	preMarketStart   = 9*time.Hour + 15*time.Minute
	preMarketEnd     = 9*time.Hour + 25*time.Minute
	dayOpenStart     = 9*time.Hour + 30*time.Minute
	dayOpenEnd       = 9*time.Hour + 35*time.Minute
	postMarketStart  = 15*time.Hour + 5*time.Minute
	postMarketEnd    = 15*time.Hour + 15*time.Minute
	midnightRollover = 1 * time.Minute
)

// exchangeLocation is the exchange's time zone; every fixed schedule time
// above is read off the clock in this zone.
var exchangeLocation = func() *time.Location {
	if loc, err := time.LoadLocation("Asia/Shanghai"); err == nil {
		return loc
	}
	return time.FixedZone("CST", 8*3600)
}()

// Status is a comprehensive snapshot of the scheduler's state, suitable
// for exposing via a monitoring surface.
type Status struct {
	IsRunning      bool
	StartedAt      time.Time
	Heartbeat      time.Time
	Symbols        []string
	MonitorData    []strategy.MonitorSnapshot
	OpenPositions  []position.Position
	TotalMargin    decimal.Decimal
	RiskStatus     risk.Status
	PnLSummary     position.PnLSummary
	IsTradingTime  bool
	IsWatchPeriod  bool
}

// Scheduler drives the engine's daily lifecycle: pre-market reset, bar
// ingestion and signal routing, day-open close, and post-market
// persistence.
type Scheduler struct {
	logger   *zap.Logger
	provider marketdata.Provider
	handler  *data.MinuteDataHandler
	strat    *strategy.SettlementArbitrageStrategy
	pm       *position.Manager
	rm       *risk.Manager
	sink     notify.Sink
	metrics  *metrics.Metrics
	clock    func() time.Time

	mu            sync.Mutex
	strategyCfg   config.StrategyConfig
	channelConfig map[string]string

	running   atomic.Bool
	startedAt time.Time
	heartbeat atomic.Value // time.Time

	dailyMu          sync.Mutex
	preMarketDone    bool
	postMarketDone   bool
	dayOpenProcessed map[string]bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Scheduler wiring every collaborator together. sink and
// m may both be nil, in which case notifications are dropped and metric
// observations are no-ops respectively.
func New(
	logger *zap.Logger,
	provider marketdata.Provider,
	handler *data.MinuteDataHandler,
	strat *strategy.SettlementArbitrageStrategy,
	pm *position.Manager,
	rm *risk.Manager,
	sink notify.Sink,
	m *metrics.Metrics,
	strategyCfg config.StrategyConfig,
) *Scheduler {
	return &Scheduler{
		logger:           logger.Named("scheduler"),
		provider:         provider,
		handler:          handler,
		strat:            strat,
		pm:               pm,
		rm:               rm,
		sink:             sink,
		metrics:          m,
		clock:            func() time.Time { return time.Now().In(exchangeLocation) },
		strategyCfg:      strategyCfg,
		dayOpenProcessed: make(map[string]bool),
	}
}

// Start is idempotent: initializes the risk manager, subscribes and
// starts the data handler, and spawns the scheduler's own loop.
func (s *Scheduler) Start(ctx context.Context) {
	if s.running.Load() {
		return
	}

	s.rm.Initialize(decimal.NewFromFloat(defaultEquity))
	s.rm.ResetDaily()

	s.mu.Lock()
	symbols := append([]string(nil), s.strategyCfg.Symbols...)
	s.mu.Unlock()

	for _, symbol := range symbols {
		s.handler.Subscribe(symbol)
	}
	s.handler.OnBar(s.onBar)

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running.Store(true)
	s.startedAt = s.clock()
	s.heartbeat.Store(s.startedAt)

	s.handler.StartPolling(loopCtx, 0)

	s.wg.Add(1)
	go s.mainLoop(loopCtx)
	s.logger.Info("scheduler started", zap.Strings("symbols", symbols))
}

// Stop halts the loop, stops the data handler, persists the day's bars,
// and waits (bounded by shutdownTimeout) for the loop to exit.
func (s *Scheduler) Stop() {
	if !s.running.Load() {
		return
	}
	s.running.Store(false)
	if s.cancel != nil {
		s.cancel()
	}
	s.handler.Stop()

	now := s.clock()
	if err := s.handler.SaveAllAndCleanup(now, now.Format("2006-01-02")); err != nil {
		s.logger.Error("save all and cleanup failed", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		s.logger.Warn("scheduler stop timed out waiting for main loop")
	}
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) mainLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		s.heartbeat.Store(s.clock())

		now := s.clock()
		tod := timeOfDay(now)

		if tod < midnightRollover {
			s.resetDailyFlags()
		}
		if tod >= preMarketStart && tod < preMarketEnd && !s.preMarketDoneToday() {
			s.preMarket(ctx)
		}
		if tod >= dayOpenStart && tod < dayOpenEnd {
			s.checkDayOpenClose(ctx)
		}
		if tod >= postMarketStart && tod < postMarketEnd && !s.postMarketDoneToday() {
			s.postMarket()
		}

		if !s.sleepWithEarlyExit(ctx, 10, time.Second) {
			return
		}
	}
}

func (s *Scheduler) sleepWithEarlyExit(ctx context.Context, n int, unit time.Duration) bool {
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(unit):
		}
	}
	return true
}

func timeOfDay(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second
}

func (s *Scheduler) resetDailyFlags() {
	s.dailyMu.Lock()
	defer s.dailyMu.Unlock()
	s.preMarketDone = false
	s.postMarketDone = false
	s.dayOpenProcessed = make(map[string]bool)
}

func (s *Scheduler) preMarketDoneToday() bool {
	s.dailyMu.Lock()
	defer s.dailyMu.Unlock()
	return s.preMarketDone
}

func (s *Scheduler) postMarketDoneToday() bool {
	s.dailyMu.Lock()
	defer s.dailyMu.Unlock()
	return s.postMarketDone
}

func (s *Scheduler) preMarket(ctx context.Context) {
	isTradingDay, err := s.provider.IsTradingDay(ctx, s.clock())
	if err != nil {
		s.logger.Warn("is trading day check failed", zap.Error(err))
	}
	s.dailyMu.Lock()
	s.preMarketDone = true
	s.dailyMu.Unlock()

	if err != nil || !isTradingDay {
		return
	}

	s.rm.ResetDaily()
	s.strat.Reset()
	s.logger.Info("pre-market reset complete")
}

func (s *Scheduler) checkDayOpenClose(ctx context.Context) {
	s.mu.Lock()
	symbols := append([]string(nil), s.strategyCfg.Symbols...)
	s.mu.Unlock()

	for _, symbol := range symbols {
		s.dailyMu.Lock()
		done := s.dayOpenProcessed[symbol]
		s.dailyMu.Unlock()
		if done {
			continue
		}

		if s.pm.HasOpenPositions(symbol) {
			quote, ok, err := s.provider.GetRealtimeQuote(ctx, symbol)
			if err != nil {
				s.logger.Warn("realtime quote failed", zap.String("symbol", symbol), zap.Error(err))
			}
			if ok && quote.Last.GreaterThan(decimal.Zero) {
				if sig := s.strat.OnDayOpen(symbol, quote.Last, s.clock()); sig != nil {
					s.processSignal(*sig)
				}
			}
		}

		s.dailyMu.Lock()
		s.dayOpenProcessed[symbol] = true
		s.dailyMu.Unlock()
	}
}

func (s *Scheduler) postMarket() {
	now := s.clock()
	if err := s.handler.SaveAllAndCleanup(now, now.Format("2006-01-02")); err != nil {
		s.logger.Error("post-market save failed", zap.Error(err))
	}
	s.dailyMu.Lock()
	s.postMarketDone = true
	s.dailyMu.Unlock()
}

// onBar is the callback wired into the data handler. It runs the bar
// through the strategy, routes any resulting signal, and checks risk if
// any position remains open.
func (s *Scheduler) onBar(bar data.MinuteBar) {
	sig := s.strat.OnBar(bar)
	if sig != nil {
		s.processSignal(*sig)
	}

	if s.pm.HasOpenPositions("") {
		if ev := s.rm.CheckAllRisks(); ev != nil && s.rm.ForceCloseOnLimit() {
			s.handleRiskEvent(context.Background(), *ev)
		}
	}
}

func (s *Scheduler) processSignal(sig strategy.Signal) {
	if s.metrics != nil {
		s.metrics.SignalsEmitted.WithLabelValues(sig.Symbol, string(sig.Type)).Inc()
	}

	switch sig.Type {
	case strategy.SignalBuyL1, strategy.SignalBuyL2:
		s.mu.Lock()
		maxPerSymbol := s.strategyCfg.MaxPositionPerSymbol
		notifyOnEntry := s.strategyCfg.NotifyOnEntry
		s.mu.Unlock()

		if ev := s.rm.CheckPositionLimit(sig.Symbol, maxPerSymbol, s.pm); ev != nil {
			s.logger.Warn("signal aborted by position limit", zap.String("symbol", sig.Symbol))
			return
		}

		pos := s.pm.OpenPosition(sig.Symbol, sig.Price, sig.Quantity, sig.Level, sig.BasePrice, sig.DropPct, decimal.Zero, sig.Timestamp)
		if notifyOnEntry {
			s.dispatch(notify.RenderBuySignal(notify.BuySignalData{
				Symbol: sig.Symbol, CurrentPrice: pos.EntryPrice, BasePrice: sig.BasePrice,
				DropPct: sig.DropPct, Timestamp: sig.Timestamp,
			}))
		}

	case strategy.SignalSellClose:
		trades := s.pm.CloseAllPositions(sig.Price, sig.Symbol, sig.Timestamp)
		for _, trade := range trades {
			s.rm.OnTrade(trade)
		}
		s.strat.ClearClosed(sig.Symbol)

		s.mu.Lock()
		notifyOnExit := s.strategyCfg.NotifyOnExit
		s.mu.Unlock()

		if len(trades) > 0 && notifyOnExit {
			totalPnL, avgEntry, totalQty := aggregateTrades(trades)
			s.dispatch(notify.RenderSellSignal(notify.SellSignalData{
				Symbol: sig.Symbol, ExitPrice: sig.Price, EntryPrice: avgEntry,
				Profit: totalPnL, ProfitPct: profitPct(totalPnL, avgEntry, totalQty),
				Timestamp: sig.Timestamp,
			}))
		}

	case strategy.SignalAlert:
		s.mu.Lock()
		notifyOnAlert := s.strategyCfg.NotifyOnAlert
		alertThreshold := s.strategyCfg.AlertThreshold
		s.mu.Unlock()

		if notifyOnAlert {
			s.dispatch(notify.RenderAlert(notify.AlertData{
				Symbol: sig.Symbol, DropPct: sig.DropPct, AlertThreshold: alertThreshold, Timestamp: sig.Timestamp,
			}))
		}
	}
}

func aggregateTrades(trades []position.TradeRecord) (totalPnL, avgEntry decimal.Decimal, totalQty int64) {
	var sumEntryValue decimal.Decimal
	for _, t := range trades {
		totalPnL = totalPnL.Add(t.NetPnL)
		sumEntryValue = sumEntryValue.Add(t.Position.EntryPrice.Mul(decimal.NewFromInt(t.Position.Quantity)))
		totalQty += t.Position.Quantity
	}
	if totalQty > 0 {
		avgEntry = sumEntryValue.Div(decimal.NewFromInt(totalQty))
	}
	return
}

func profitPct(profit, avgEntry decimal.Decimal, qty int64) decimal.Decimal {
	if avgEntry.IsZero() || qty == 0 {
		return decimal.Zero
	}
	cost := avgEntry.Mul(decimal.NewFromInt(qty))
	if cost.IsZero() {
		return decimal.Zero
	}
	return profit.Div(cost)
}

func (s *Scheduler) dispatch(msg notify.Message) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Dispatch(s.channelConfig, msg); err != nil {
		s.logger.Warn("notification dispatch failed", zap.Error(err))
	}
}

// handleRiskEvent builds a symbol->last-price map from current quotes
// and force-closes the open positions of every symbol that has a quote;
// when no symbol returns a quote, nothing is closed.
func (s *Scheduler) handleRiskEvent(ctx context.Context, ev risk.Event) {
	s.mu.Lock()
	symbols := append([]string(nil), s.strategyCfg.Symbols...)
	s.mu.Unlock()

	prices := make(map[string]decimal.Decimal)
	for _, symbol := range symbols {
		quote, ok, err := s.provider.GetRealtimeQuote(ctx, symbol)
		if err != nil || !ok {
			continue
		}
		prices[symbol] = quote.Last
	}
	if len(prices) == 0 {
		return
	}
	s.rm.ForceCloseAll(s.pm, prices, ev.Message, s.clock())
}

// UpdateConfig replaces the scheduler's copy of the strategy config
// (symbols, per-symbol position cap, notification flags), re-subscribing
// the data handler if the symbol set changed. The strategy itself keeps
// the thresholds, position sizes and watch window it was constructed
// with; UpdateConfig does not change them.
func (s *Scheduler) UpdateConfig(cfg config.StrategyConfig) {
	s.mu.Lock()
	oldSymbols := s.strategyCfg.Symbols
	s.strategyCfg = cfg
	s.mu.Unlock()

	if !sameSymbols(oldSymbols, cfg.Symbols) {
		for _, symbol := range oldSymbols {
			s.handler.Unsubscribe(symbol)
		}
		for _, symbol := range cfg.Symbols {
			s.handler.Subscribe(symbol)
		}
	}
}

func sameSymbols(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}
	for _, s := range b {
		if !set[s] {
			return false
		}
	}
	return true
}

// GetStatus returns a comprehensive snapshot of the scheduler's state.
func (s *Scheduler) GetStatus() Status {
	hb, _ := s.heartbeat.Load().(time.Time)
	now := s.clock()

	s.mu.Lock()
	symbols := append([]string(nil), s.strategyCfg.Symbols...)
	s.mu.Unlock()

	return Status{
		IsRunning:     s.running.Load(),
		StartedAt:     s.startedAt,
		Heartbeat:     hb,
		Symbols:       symbols,
		MonitorData:   s.strat.GetMonitorData(),
		OpenPositions: s.pm.GetCurrentPositions(""),
		TotalMargin:   s.pm.GetTotalMarginUsed(),
		RiskStatus:    s.rm.GetRiskStatus(),
		PnLSummary:    s.pm.GetPnLSummary(),
		IsTradingTime: s.provider.IsTradingTime(now),
		IsWatchPeriod: s.provider.IsWatchPeriod(now),
	}
}
