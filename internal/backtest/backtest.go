// Package backtest replays the settlement-arbitrage strategy day-by-day
// over historical daily bars (optionally refined with minute bars) and
// produces a full performance report.
package backtest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/atlas-desktop/settlement-arbitrage/internal/config"
	"github.com/atlas-desktop/settlement-arbitrage/internal/data"
	"github.com/atlas-desktop/settlement-arbitrage/internal/vwap"
	"github.com/atlas-desktop/settlement-arbitrage/pkg/marketdata"
	"github.com/atlas-desktop/settlement-arbitrage/pkg/product"
	"github.com/atlas-desktop/settlement-arbitrage/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var riskFreeRate = decimal.NewFromFloat(0.03)

const tradingDaysPerYear = 252

// Trade is a single simulated round-trip entry/exit.
type Trade struct {
	Symbol     string
	EntryDate  time.Time
	ExitDate   time.Time
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	BasePrice  decimal.Decimal
	DropPct    decimal.Decimal
	VWAP       decimal.Decimal
	Level      int
	Quantity   int64
	GrossPnL   decimal.Decimal
	Fee        decimal.Decimal
	NetPnL     decimal.Decimal
}

// EquityPoint is one entry in the backtest's equity curve.
type EquityPoint struct {
	Date     time.Time
	Equity   decimal.Decimal
	TradePnL decimal.Decimal
	Symbol   string
}

// SymbolStats summarizes performance for a single symbol.
type SymbolStats struct {
	Trades   int
	TotalPnL decimal.Decimal
	WinRate  decimal.Decimal
	AvgPnL   decimal.Decimal
}

// Report is the complete result of a backtest run.
type Report struct {
	StartDate      time.Time
	EndDate        time.Time
	Symbols        []string
	InitialCapital decimal.Decimal

	TotalReturn         decimal.Decimal
	AnnualReturn        decimal.Decimal
	SharpeRatio         decimal.Decimal
	SortinoRatio        decimal.Decimal
	MaxDrawdown         decimal.Decimal
	MaxDrawdownDuration int
	CalmarRatio         decimal.Decimal

	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       decimal.Decimal
	ProfitFactor  decimal.Decimal
	AvgWin        decimal.Decimal
	AvgLoss       decimal.Decimal
	MaxWin        decimal.Decimal
	MaxLoss       decimal.Decimal
	AvgHoldingDays decimal.Decimal

	FinalEquity decimal.Decimal
	TotalPnL    decimal.Decimal
	TotalFees   decimal.Decimal

	MonthlyReturns map[string]decimal.Decimal
	SymbolStats    map[string]SymbolStats

	Trades      []Trade
	EquityCurve []EquityPoint
}

// pendingEntry tracks an open simulated position awaiting next-day close.
type pendingEntry struct {
	entryDate  time.Time
	entryPrice decimal.Decimal
	basePrice  decimal.Decimal
	dropPct    decimal.Decimal
	vwap       decimal.Decimal
	level      int
	quantity   int64
}

// Engine runs day-level replays of the settlement-arbitrage strategy.
type Engine struct {
	logger   *zap.Logger
	provider marketdata.Provider
	vwapCalc *vwap.Calculator
}

// New constructs an Engine. vwapCalc may be nil, in which case minute-bar
// VWAP refinement is skipped and the previous day's close is used as the
// base price.
func New(logger *zap.Logger, provider marketdata.Provider, vwapCalc *vwap.Calculator) *Engine {
	return &Engine{
		logger:   logger.Named("backtest"),
		provider: provider,
		vwapCalc: vwapCalc,
	}
}

// Run replays strategyCfg over [start, end] for every configured symbol
// and returns a complete performance report.
func (e *Engine) Run(ctx context.Context, start, end time.Time, strategyCfg config.StrategyConfig, backtestCfg config.BacktestConfig) (Report, error) {
	e.logger.Info("backtest starting",
		zap.Time("start", start), zap.Time("end", end),
		zap.Strings("symbols", strategyCfg.Symbols))

	var allTrades []Trade
	for _, symbol := range strategyCfg.Symbols {
		dailyBars, err := e.provider.GetKline(ctx, symbol, marketdata.Timeframe1D, 0, time.Time{})
		if err != nil {
			return Report{}, fmt.Errorf("backtest: daily bars for %s: %w", symbol, err)
		}
		dailyBars = filterRange(dailyBars, start, end)
		if len(dailyBars) < 2 {
			e.logger.Warn("insufficient daily data, skipping", zap.String("symbol", symbol))
			continue
		}

		trades := e.simulateSymbol(ctx, symbol, dailyBars, strategyCfg, backtestCfg)
		allTrades = append(allTrades, trades...)
	}

	sort.Slice(allTrades, func(i, j int) bool { return allTrades[i].EntryDate.Before(allTrades[j].EntryDate) })

	equityCurve := buildEquityCurve(allTrades, backtestCfg.InitialCapital)
	report := e.generateReport(allTrades, equityCurve, start, end, strategyCfg.Symbols, backtestCfg.InitialCapital)

	e.logger.Info("backtest complete",
		zap.Int("trades", report.TotalTrades),
		zap.String("totalReturn", report.TotalReturn.String()),
		zap.String("sharpe", report.SharpeRatio.String()))
	return report, nil
}

func filterRange(bars []marketdata.Bar, start, end time.Time) []marketdata.Bar {
	var out []marketdata.Bar
	for _, b := range bars {
		if b.Timestamp.Before(start) || b.Timestamp.After(end) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// simulateSymbol replays the strategy over one symbol's daily bars:
// any pending entry is closed at today's open before today's own entry
// conditions are evaluated against yesterday's close as the fallback
// base price.
func (e *Engine) simulateSymbol(ctx context.Context, symbol string, daily []marketdata.Bar, cfg config.StrategyConfig, btCfg config.BacktestConfig) []Trade {
	var trades []Trade
	spec := product.Lookup(symbol)
	var pending *pendingEntry

	for i := 1; i < len(daily); i++ {
		today := daily[i]
		yesterday := daily[i-1]

		if pending != nil {
			exitPrice := today.Open
			trades = append(trades, closeTrade(symbol, spec, *pending, exitPrice, today.Timestamp))
			pending = nil
		}

		basePrice := yesterday.Close
		var vwapValue decimal.Decimal
		if btCfg.UseMinuteData && e.vwapCalc != nil {
			if minuteBars, ok := e.minuteBarsFor(ctx, symbol, today.Timestamp); ok {
				if refined, found := priceAtOrBefore(minuteBars, 14*time.Hour+30*time.Minute); found {
					basePrice = refined
				}
				if v, found := e.vwapCalc.CalculateVWAP(minuteBars, 0, 0); found {
					vwapValue = v
				}
			}
		}

		if basePrice.LessThanOrEqual(decimal.Zero) {
			continue
		}
		dropPct := today.Close.Sub(basePrice).Div(basePrice)

		if dropPct.LessThanOrEqual(cfg.Threshold1.Neg()) {
			level := 1
			qty := cfg.PositionSize1
			if dropPct.LessThanOrEqual(cfg.Threshold2.Neg()) {
				level = 2
				qty += cfg.PositionSize2
			}
			pending = &pendingEntry{
				entryDate: today.Timestamp, entryPrice: today.Close,
				basePrice: basePrice, dropPct: dropPct, vwap: vwapValue,
				level: level, quantity: qty,
			}
		}
	}

	if pending != nil {
		last := daily[len(daily)-1]
		trades = append(trades, closeTrade(symbol, spec, *pending, last.Close, last.Timestamp))
	}

	return trades
}

// minuteBarsFor fetches day's minute bars from the provider, best-effort.
func (e *Engine) minuteBarsFor(ctx context.Context, symbol string, day time.Time) ([]data.MinuteBar, bool) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	bars, err := e.provider.GetMinuteBars(ctx, symbol, 1, 300, start.Format("2006-01-02"))
	if err != nil || len(bars) == 0 {
		return nil, false
	}
	out := make([]data.MinuteBar, len(bars))
	for i, b := range bars {
		out[i] = data.MinuteBar{
			Symbol: b.Symbol, Timestamp: b.Timestamp,
			Open: b.Open, High: b.High, Low: b.Low, Close: b.Close,
			Volume: b.Volume, Amount: b.Amount,
		}
	}
	return out, true
}

// priceAtOrBefore returns the close of the last bar whose time-of-day is
// at or before target.
func priceAtOrBefore(bars []data.MinuteBar, target time.Duration) (decimal.Decimal, bool) {
	var best decimal.Decimal
	found := false
	for _, b := range bars {
		tod := time.Duration(b.Timestamp.Hour())*time.Hour + time.Duration(b.Timestamp.Minute())*time.Minute
		if tod <= target {
			best = b.Close
			found = true
		}
	}
	return best, found
}

func closeTrade(symbol string, spec product.Spec, p pendingEntry, exitPrice decimal.Decimal, exitDate time.Time) Trade {
	qty := decimal.NewFromInt(p.quantity)
	multiplier := decimal.NewFromInt(spec.Multiplier)
	grossPnL := exitPrice.Sub(p.entryPrice).Mul(qty).Mul(multiplier)
	openFee := p.entryPrice.Mul(multiplier).Mul(qty).Mul(spec.FeeOpen)
	closeFee := exitPrice.Mul(multiplier).Mul(qty).Mul(spec.FeeClose)
	fee := openFee.Add(closeFee)
	netPnL := grossPnL.Sub(fee)

	return Trade{
		Symbol: symbol, EntryDate: p.entryDate, ExitDate: exitDate,
		EntryPrice: p.entryPrice, ExitPrice: exitPrice, BasePrice: p.basePrice,
		DropPct: p.dropPct, VWAP: p.vwap, Level: p.level, Quantity: p.quantity,
		GrossPnL: grossPnL, Fee: fee, NetPnL: netPnL,
	}
}

func buildEquityCurve(trades []Trade, initialCapital decimal.Decimal) []EquityPoint {
	equity := initialCapital
	curve := make([]EquityPoint, 0, len(trades))
	for _, t := range trades {
		equity = equity.Add(t.NetPnL)
		curve = append(curve, EquityPoint{Date: t.ExitDate, Equity: equity, TradePnL: t.NetPnL, Symbol: t.Symbol})
	}
	return curve
}

func (e *Engine) generateReport(trades []Trade, equityCurve []EquityPoint, start, end time.Time, symbols []string, initialCapital decimal.Decimal) Report {
	report := Report{
		StartDate: start, EndDate: end, Symbols: symbols, InitialCapital: initialCapital,
		Trades: trades, EquityCurve: equityCurve,
		MonthlyReturns: make(map[string]decimal.Decimal),
		SymbolStats:    make(map[string]SymbolStats),
	}

	if len(trades) == 0 {
		report.FinalEquity = initialCapital
		return report
	}

	pnls := make([]decimal.Decimal, len(trades))
	var wins, losses []decimal.Decimal
	for i, t := range trades {
		pnls[i] = t.NetPnL
		if t.NetPnL.GreaterThan(decimal.Zero) {
			wins = append(wins, t.NetPnL)
		} else {
			losses = append(losses, t.NetPnL)
		}
	}

	report.TotalTrades = len(trades)
	report.WinningTrades = len(wins)
	report.LosingTrades = len(losses)
	report.WinRate = utils.CalculateWinRate(pnls)
	report.TotalPnL = sumDecimals(pnls)
	report.TotalFees = sumFees(trades)
	report.FinalEquity = initialCapital.Add(report.TotalPnL)
	report.AvgWin = utils.CalculateMean(wins)
	report.AvgLoss = utils.CalculateMean(losses)
	report.MaxWin = maxOf(wins)
	report.MaxLoss = minOf(losses)
	report.ProfitFactor = utils.CalculateProfitFactor(pnls)
	report.AvgHoldingDays = avgHoldingDays(trades)

	totalDays := end.Sub(start).Hours() / 24
	report.TotalReturn = report.TotalPnL.Div(initialCapital)
	if totalDays > 0 {
		years := totalDays / 365.25
		if years > 0 {
			report.AnnualReturn = annualize(report.TotalReturn, years)
		}
	}

	report.SharpeRatio, report.SortinoRatio = sharpeAndSortino(pnls, initialCapital)

	equityValues := make([]decimal.Decimal, 0, len(pnls)+1)
	equityValues = append(equityValues, initialCapital)
	running := initialCapital
	for _, pnl := range pnls {
		running = running.Add(pnl)
		equityValues = append(equityValues, running)
	}
	report.MaxDrawdown, report.MaxDrawdownDuration = maxDrawdownWithDuration(equityValues)
	if report.MaxDrawdown.GreaterThan(decimal.Zero) {
		report.CalmarRatio = report.AnnualReturn.Div(report.MaxDrawdown)
	}

	report.MonthlyReturns = monthlyReturns(trades, initialCapital)

	for _, symbol := range symbols {
		var symTrades []Trade
		for _, t := range trades {
			if t.Symbol == symbol {
				symTrades = append(symTrades, t)
			}
		}
		if len(symTrades) == 0 {
			continue
		}
		symPnls := make([]decimal.Decimal, len(symTrades))
		for i, t := range symTrades {
			symPnls[i] = t.NetPnL
		}
		report.SymbolStats[symbol] = SymbolStats{
			Trades:   len(symTrades),
			TotalPnL: sumDecimals(symPnls),
			WinRate:  utils.CalculateWinRate(symPnls),
			AvgPnL:   utils.CalculateMean(symPnls),
		}
	}

	return report
}

func sumDecimals(values []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

func sumFees(trades []Trade) decimal.Decimal {
	total := decimal.Zero
	for _, t := range trades {
		total = total.Add(t.Fee)
	}
	return total
}

func maxOf(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	max := values[0]
	for _, v := range values[1:] {
		if v.GreaterThan(max) {
			max = v
		}
	}
	return max
}

func minOf(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	min := values[0]
	for _, v := range values[1:] {
		if v.LessThan(min) {
			min = v
		}
	}
	return min
}

func avgHoldingDays(trades []Trade) decimal.Decimal {
	if len(trades) == 0 {
		return decimal.Zero
	}
	total := 0.0
	for _, t := range trades {
		total += t.ExitDate.Sub(t.EntryDate).Hours() / 24
	}
	return decimal.NewFromFloat(total / float64(len(trades)))
}

// annualize compounds totalReturn over years using the standard
// (1+r)^(1/years) - 1 formula, computed in float64 (decimal has no
// fractional-power primitive).
func annualize(totalReturn decimal.Decimal, years float64) decimal.Decimal {
	r, _ := totalReturn.Float64()
	annual := math.Pow(1+r, 1/years) - 1
	return decimal.NewFromFloat(annual)
}

// sharpeAndSortino mirrors the original's daily-return excess calculation:
// daily returns are each trade's P&L as a fraction of initial capital,
// excess over a 3% annual risk-free rate scaled to the per-trade period,
// annualized by sqrt(252).
func sharpeAndSortino(pnls []decimal.Decimal, initialCapital decimal.Decimal) (sharpe, sortino decimal.Decimal) {
	if len(pnls) < 2 {
		return decimal.Zero, decimal.Zero
	}

	perPeriodRiskFree := riskFreeRate.Div(decimal.NewFromInt(tradingDaysPerYear))
	excess := make([]decimal.Decimal, len(pnls))
	var downside []decimal.Decimal
	for i, pnl := range pnls {
		ret := pnl.Div(initialCapital)
		ex := ret.Sub(perPeriodRiskFree)
		excess[i] = ex
		if ex.LessThan(decimal.Zero) {
			downside = append(downside, ex)
		}
	}

	std := utils.CalculateStdDev(excess)
	if std.GreaterThan(decimal.Zero) {
		mean := utils.CalculateMean(excess)
		annualization := decimal.NewFromFloat(math.Sqrt(float64(tradingDaysPerYear)))
		sharpe = mean.Div(std).Mul(annualization)
	}

	if len(downside) > 0 {
		downsideStd := utils.CalculateStdDev(downside)
		if downsideStd.GreaterThan(decimal.Zero) {
			mean := utils.CalculateMean(excess)
			annualization := decimal.NewFromFloat(math.Sqrt(float64(tradingDaysPerYear)))
			sortino = mean.Div(downsideStd).Mul(annualization)
		}
	}
	return sharpe, sortino
}

// maxDrawdownWithDuration returns the largest peak-to-trough drawdown in
// equityValues and the number of steps from the peak that produced it to
// its trough.
func maxDrawdownWithDuration(equityValues []decimal.Decimal) (decimal.Decimal, int) {
	if len(equityValues) == 0 {
		return decimal.Zero, 0
	}
	peak := equityValues[0]
	peakIdx := 0
	maxDD := decimal.Zero
	maxDuration := 0

	for i, eq := range equityValues {
		if eq.GreaterThan(peak) {
			peak = eq
			peakIdx = i
		}
		if peak.LessThanOrEqual(decimal.Zero) {
			continue
		}
		dd := peak.Sub(eq).Div(peak)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
			maxDuration = i - peakIdx
		}
	}
	return maxDD, maxDuration
}

func monthlyReturns(trades []Trade, initialCapital decimal.Decimal) map[string]decimal.Decimal {
	monthly := make(map[string]decimal.Decimal)
	for _, t := range trades {
		key := t.ExitDate.Format("2006-01")
		monthly[key] = monthly[key].Add(t.NetPnL)
	}
	for k, v := range monthly {
		monthly[k] = v.Div(initialCapital)
	}
	return monthly
}
