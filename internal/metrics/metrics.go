// Package metrics defines the Prometheus collectors the engine exposes.
// Every constructor that accepts a *Metrics also accepts nil, in which
// case observations are no-ops.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors registered with a Prometheus registry.
type Metrics struct {
	BarsProcessed      *prometheus.CounterVec
	SignalsEmitted     *prometheus.CounterVec
	PositionsOpened    *prometheus.CounterVec
	PositionsClosed    *prometheus.CounterVec
	RiskEvents         *prometheus.CounterVec
	VWAPCalcDuration   prometheus.Histogram
	ProviderLatency    *prometheus.HistogramVec
	ProviderFailures   *prometheus.CounterVec
	OpenPositionsGauge *prometheus.GaugeVec
	DailyPnL           *prometheus.GaugeVec
}

// New registers and returns a fresh Metrics bundle on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BarsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "settlearb",
			Name:      "bars_processed_total",
			Help:      "Minute bars ingested, by symbol.",
		}, []string{"symbol"}),
		SignalsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "settlearb",
			Name:      "signals_emitted_total",
			Help:      "Strategy signals emitted, by symbol and type.",
		}, []string{"symbol", "type"}),
		PositionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "settlearb",
			Name:      "positions_opened_total",
			Help:      "Positions opened, by symbol and level.",
		}, []string{"symbol", "level"}),
		PositionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "settlearb",
			Name:      "positions_closed_total",
			Help:      "Positions closed, by symbol.",
		}, []string{"symbol"}),
		RiskEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "settlearb",
			Name:      "risk_events_total",
			Help:      "Risk events raised, by type.",
		}, []string{"type"}),
		VWAPCalcDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "settlearb",
			Name:      "vwap_calc_duration_seconds",
			Help:      "Time spent computing VWAP over a bar window.",
			Buckets:   prometheus.DefBuckets,
		}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "settlearb",
			Name:      "provider_call_duration_seconds",
			Help:      "Market data provider call latency, by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		ProviderFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "settlearb",
			Name:      "provider_failures_total",
			Help:      "Market data provider call failures, by method.",
		}, []string{"method"}),
		OpenPositionsGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "settlearb",
			Name:      "open_positions",
			Help:      "Currently open positions, by symbol.",
		}, []string{"symbol"}),
		DailyPnL: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "settlearb",
			Name:      "daily_pnl",
			Help:      "Running daily realized P&L, by symbol.",
		}, []string{"symbol"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.BarsProcessed, m.SignalsEmitted, m.PositionsOpened, m.PositionsClosed,
			m.RiskEvents, m.VWAPCalcDuration, m.ProviderLatency, m.ProviderFailures,
			m.OpenPositionsGauge, m.DailyPnL,
		)
	}
	return m
}

// ObserveProviderCall records the latency of a provider call and, on
// failure, increments the failure counter. m may be nil.
func (m *Metrics) ObserveProviderCall(method string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.ProviderLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		m.ProviderFailures.WithLabelValues(method).Inc()
	}
}
