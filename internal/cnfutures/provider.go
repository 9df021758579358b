// Package cnfutures implements marketdata.Provider against Sina
// Finance's public futures quote endpoints, the same data source the
// akshare-based original strategy used under the hood
// (futures_zh_realtime, futures_zh_minute_sina, futures_zh_daily_sina).
package cnfutures

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/atlas-desktop/settlement-arbitrage/internal/metrics"
	"github.com/atlas-desktop/settlement-arbitrage/pkg/marketdata"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	quoteURL    = "https://hq.sinajs.cn/list=nf_%s"
	minuteURL   = "https://stock2.finance.sina.com.cn/futures/api/jsonp.php/var/InnerFuturesNewService.getFewMinLine?symbol=%s&type=%s"
	dailyURL    = "https://stock2.finance.sina.com.cn/futures/api/jsonp.php/var/InnerFuturesNewService.getDailyKLine?symbol=%s"
	calendarURL = "https://stock2.finance.sina.com.cn/futures/api/jsonp.php/var/CalendarService.getTradeCalendar"
	refererHost = "https://finance.sina.com.cn"
)

var timeframeMinutes = map[marketdata.Timeframe]string{
	marketdata.Timeframe1m:  "1",
	marketdata.Timeframe5m:  "5",
	marketdata.Timeframe15m: "15",
	marketdata.Timeframe30m: "30",
	marketdata.Timeframe1H:  "60",
}

// Provider is a Sina-backed marketdata.Provider. Every method is
// best-effort: network failures are wrapped and returned, while "no data"
// conditions report ok == false rather than erroring.
type Provider struct {
	logger  *zap.Logger
	client  *resty.Client
	metrics *metrics.Metrics

	calendarMu    chan struct{}
	calendarCache map[string]bool
}

// New constructs a Provider with sane HTTP timeouts and retry behavior,
// mirroring the REST client conventions used elsewhere in this codebase.
// m may be nil.
func New(logger *zap.Logger, m *metrics.Metrics) *Provider {
	client := resty.New()
	client.SetTimeout(8 * time.Second)
	client.SetRetryCount(2)
	client.SetRetryWaitTime(500 * time.Millisecond)
	client.SetHeader("Referer", refererHost)

	return &Provider{
		logger:        logger.Named("cnfutures"),
		client:        client,
		metrics:       m,
		calendarMu:    make(chan struct{}, 1),
		calendarCache: make(map[string]bool),
	}
}

// contractSymbol maps a main-contract shorthand like "IM0" to Sina's
// futures symbol convention (the main-contract quote feed is itself keyed
// by the shorthand on Sina, so no resolution is needed there).
func contractSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

var sinaQuoteLine = regexp.MustCompile(`"([^"]*)"`)

// GetRealtimeQuote fetches the current quote for symbol from Sina's
// real-time futures feed.
func (p *Provider) GetRealtimeQuote(ctx context.Context, symbol string) (q marketdata.Quote, ok bool, err error) {
	start := time.Now()
	defer func() { p.metrics.ObserveProviderCall("GetRealtimeQuote", start, err) }()

	url := fmt.Sprintf(quoteURL, contractSymbol(symbol))
	resp, err := p.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return marketdata.Quote{}, false, fmt.Errorf("cnfutures: realtime quote: %w", err)
	}
	match := sinaQuoteLine.FindStringSubmatch(resp.String())
	if match == nil {
		return marketdata.Quote{}, false, nil
	}
	fields := strings.Split(match[1], ",")
	if len(fields) < 9 {
		return marketdata.Quote{}, false, nil
	}

	parse := func(s string) decimal.Decimal {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero
		}
		return d
	}

	return marketdata.Quote{
		Symbol:    symbol,
		Open:      parse(fields[2]),
		High:      parse(fields[3]),
		Low:       parse(fields[4]),
		Last:      parse(fields[5]),
		Volume:    parse(fields[8]),
		Timestamp: time.Now(),
	}, true, nil
}

type jsonpMinuteBar struct {
	Time   string `json:"t"`
	Open   string `json:"o"`
	High   string `json:"h"`
	Low    string `json:"l"`
	Close  string `json:"c"`
	Volume string `json:"v"`
}

var jsonpPayload = regexp.MustCompile(`\((.*)\)`)

func unwrapJSONP(body string) string {
	match := jsonpPayload.FindStringSubmatch(body)
	if match == nil {
		return body
	}
	return match[1]
}

// GetMinuteBars fetches up to count minute bars for symbol. period is
// interpreted in minutes (1, 5, 15, 30, 60); startDate is currently
// advisory only, since Sina's minute endpoint returns a fixed trailing
// window rather than an explicit range.
func (p *Provider) GetMinuteBars(ctx context.Context, symbol string, period int, count int, startDate string) (bars []marketdata.Bar, err error) {
	start := time.Now()
	defer func() { p.metrics.ObserveProviderCall("GetMinuteBars", start, err) }()

	url := fmt.Sprintf(minuteURL, contractSymbol(symbol), strconv.Itoa(period))
	resp, err := p.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("cnfutures: minute bars: %w", err)
	}

	var raw []jsonpMinuteBar
	if err := json.Unmarshal([]byte(unwrapJSONP(resp.String())), &raw); err != nil {
		return nil, fmt.Errorf("cnfutures: decode minute bars: %w", err)
	}

	bars = make([]marketdata.Bar, 0, len(raw))
	for _, r := range raw {
		ts, perr := time.ParseInLocation("2006-01-02 15:04:05", r.Time, time.Local)
		if perr != nil {
			continue
		}
		bars = append(bars, marketdata.Bar{
			Symbol: symbol, Timestamp: ts,
			Open: decimalOf(r.Open), High: decimalOf(r.High),
			Low: decimalOf(r.Low), Close: decimalOf(r.Close),
			Volume: decimalOf(r.Volume),
		})
	}
	if count > 0 && len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	return bars, nil
}

func decimalOf(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

type jsonpDailyBar struct {
	Date     string `json:"d"`
	Open     string `json:"o"`
	High     string `json:"h"`
	Low      string `json:"l"`
	Close    string `json:"c"`
	Volume   string `json:"v"`
	Settle   string `json:"s"`
}

// GetKline fetches kline bars for symbol at timeframe. Only daily and
// intraday (1m-1H) timeframes are supported; beforeTime trims the
// returned tail.
func (p *Provider) GetKline(ctx context.Context, symbol string, timeframe marketdata.Timeframe, limit int, beforeTime time.Time) ([]marketdata.Bar, error) {
	var bars []marketdata.Bar
	var err error
	if timeframe == marketdata.Timeframe1D {
		bars, err = p.getDailyBars(ctx, symbol)
	} else {
		minutes, ok := timeframeMinutes[timeframe]
		if !ok {
			return nil, fmt.Errorf("cnfutures: unsupported timeframe %q", timeframe)
		}
		period, _ := strconv.Atoi(minutes)
		bars, err = p.GetMinuteBars(ctx, symbol, period, limit, "")
	}
	if err != nil {
		return nil, err
	}

	if !beforeTime.IsZero() {
		filtered := bars[:0]
		for _, b := range bars {
			if b.Timestamp.Before(beforeTime) {
				filtered = append(filtered, b)
			}
		}
		bars = filtered
	}
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

func (p *Provider) getDailyBars(ctx context.Context, symbol string) (bars []marketdata.Bar, err error) {
	start := time.Now()
	defer func() { p.metrics.ObserveProviderCall("GetKline", start, err) }()

	url := fmt.Sprintf(dailyURL, contractSymbol(symbol))
	resp, err := p.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("cnfutures: daily bars: %w", err)
	}

	var raw []jsonpDailyBar
	if err := json.Unmarshal([]byte(unwrapJSONP(resp.String())), &raw); err != nil {
		return nil, fmt.Errorf("cnfutures: decode daily bars: %w", err)
	}

	bars = make([]marketdata.Bar, 0, len(raw))
	for _, r := range raw {
		ts, perr := time.ParseInLocation("2006-01-02", r.Date, time.Local)
		if perr != nil {
			continue
		}
		bars = append(bars, marketdata.Bar{
			Symbol: symbol, Timestamp: ts,
			Open: decimalOf(r.Open), High: decimalOf(r.High),
			Low: decimalOf(r.Low), Close: decimalOf(r.Close),
			Volume: decimalOf(r.Volume), Amount: decimalOf(r.Settle),
		})
	}
	return bars, nil
}

// GetSettlementPrice is not directly exposed by Sina's public feed for
// most contracts; callers fall back to a VWAP estimate when ok is false.
func (p *Provider) GetSettlementPrice(ctx context.Context, symbol string, date string) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, nil
}

var cstLocation = mustLoadCST()

func mustLoadCST() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.FixedZone("CST", 8*3600)
	}
	return loc
}

func timeOfDayLocal(now time.Time) time.Duration {
	t := now.In(cstLocation)
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second
}

// IsTradingTime reports whether now falls in a continuous-trading session
// (09:30-11:30 / 13:00-15:00 China Standard Time).
func (p *Provider) IsTradingTime(now time.Time) bool {
	tod := timeOfDayLocal(now)
	morning := tod >= 9*time.Hour+30*time.Minute && tod < 11*time.Hour+30*time.Minute
	afternoon := tod >= 13*time.Hour && tod < 15*time.Hour
	return morning || afternoon
}

// IsWatchPeriod reports whether now falls in the settlement watch window
// (14:30-15:00 China Standard Time).
func (p *Provider) IsWatchPeriod(now time.Time) bool {
	tod := timeOfDayLocal(now)
	return tod >= 14*time.Hour+30*time.Minute && tod < 15*time.Hour
}

// IsTradingDay reports whether day is an exchange trading day, consulting
// Sina's trading calendar and caching the result for the lifetime of the
// process. Falls back to a plain weekday check if the calendar fetch
// fails.
func (p *Provider) IsTradingDay(ctx context.Context, day time.Time) (bool, error) {
	key := day.Format("2006-01-02")

	p.calendarMu <- struct{}{}
	cached, ok := p.calendarCache[key]
	<-p.calendarMu
	if ok {
		return cached, nil
	}

	resp, err := p.client.R().SetContext(ctx).Get(calendarURL)
	if err != nil {
		p.logger.Warn("trading calendar fetch failed, falling back to weekday check", zap.Error(err))
		return isWeekday(day), nil
	}

	var days []string
	if err := json.Unmarshal([]byte(unwrapJSONP(resp.String())), &days); err != nil {
		p.logger.Warn("trading calendar decode failed, falling back to weekday check", zap.Error(err))
		return isWeekday(day), nil
	}

	isTrading := false
	p.calendarMu <- struct{}{}
	for _, d := range days {
		p.calendarCache[d] = true
		if d == key {
			isTrading = true
		}
	}
	if _, ok := p.calendarCache[key]; !ok {
		p.calendarCache[key] = false
	}
	<-p.calendarMu

	return isTrading, nil
}

func isWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}
