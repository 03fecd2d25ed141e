// Package metrics exposes Prometheus collectors for the trading engine. All
// collectors are registered on a private registry so tests can create as many
// Metrics values as they like without duplicate-registration panics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// engineStateValues maps each engine state to a stable gauge value.
var engineStateValues = map[domain.EngineState]float64{
	domain.EngineStopped:          0,
	domain.EngineMonitoring:       1,
	domain.EngineTrading:          2,
	domain.EngineEmergencyStopped: 3,
}

// Metrics bundles every collector the engine and server report into.
type Metrics struct {
	registry *prometheus.Registry

	CyclesTotal       prometheus.Counter
	CycleDuration     prometheus.Histogram
	SignalsTotal      *prometheus.CounterVec // by strategy, disposition
	RejectionsTotal   *prometheus.CounterVec // by reason
	OrdersTotal       *prometheus.CounterVec // by status
	FillsTotal        prometheus.Counter
	ReconcileTotal    prometheus.Counter
	EngineState       prometheus.Gauge
	PortfolioValue    prometheus.Gauge
	PortfolioExposure prometheus.Gauge
	OpenPositions     prometheus.Gauge
	DailyLoss         prometheus.Gauge
	AlertsTotal       *prometheus.CounterVec // by level, code
}

// New creates a Metrics with all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kalshibot",
			Name:      "cycles_total",
			Help:      "Completed engine decision cycles.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kalshibot",
			Name:      "cycle_duration_seconds",
			Help:      "Wall-clock duration of one decision cycle.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kalshibot",
			Name:      "signals_total",
			Help:      "Signals evaluated, by strategy and risk disposition.",
		}, []string{"strategy", "disposition"}),
		RejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kalshibot",
			Name:      "risk_rejections_total",
			Help:      "Risk rejections by reason code.",
		}, []string{"reason"}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kalshibot",
			Name:      "orders_total",
			Help:      "Orders submitted to the venue, by terminal status.",
		}, []string{"status"}),
		FillsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kalshibot",
			Name:      "fills_total",
			Help:      "Confirmed fills applied to the ledger.",
		}),
		ReconcileTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kalshibot",
			Name:      "reconciliations_total",
			Help:      "Unknown-status orders resolved by status polling.",
		}),
		EngineState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kalshibot",
			Name:      "engine_state",
			Help:      "Engine state: 0 stopped, 1 monitoring, 2 trading, 3 emergency stopped.",
		}),
		PortfolioValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kalshibot",
			Name:      "portfolio_value_dollars",
			Help:      "Total portfolio value, cash plus marked positions.",
		}),
		PortfolioExposure: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kalshibot",
			Name:      "portfolio_exposure_fraction",
			Help:      "Fraction of portfolio value in open positions.",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kalshibot",
			Name:      "open_positions",
			Help:      "Number of open positions.",
		}),
		DailyLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kalshibot",
			Name:      "daily_loss_dollars",
			Help:      "Combined realized and unrealized loss since the daily reset.",
		}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kalshibot",
			Name:      "alerts_total",
			Help:      "Alerts raised, by level and code.",
		}, []string{"level", "code"}),
	}

	reg.MustRegister(
		m.CyclesTotal, m.CycleDuration, m.SignalsTotal, m.RejectionsTotal,
		m.OrdersTotal, m.FillsTotal, m.ReconcileTotal, m.EngineState,
		m.PortfolioValue, m.PortfolioExposure, m.OpenPositions, m.DailyLoss,
		m.AlertsTotal,
	)
	return m
}

// Handler returns the HTTP handler serving this registry in the Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCycle records one completed cycle.
func (m *Metrics) ObserveCycle(report domain.CycleReport) {
	m.CyclesTotal.Inc()
	m.CycleDuration.Observe(report.Duration.Seconds())
}

// ObserveSignal records one evaluated signal.
func (m *Metrics) ObserveSignal(rec domain.SignalRecord) {
	m.SignalsTotal.WithLabelValues(rec.Strategy, string(rec.Disposition)).Inc()
	if rec.Disposition == domain.DispositionRejected && rec.Reason != "" {
		m.RejectionsTotal.WithLabelValues(rec.Reason).Inc()
	}
}

// ObserveAlert records one raised alert.
func (m *Metrics) ObserveAlert(a domain.Alert) {
	m.AlertsTotal.WithLabelValues(string(a.Level), a.Code).Inc()
}

// SetEngineState updates the state gauge.
func (m *Metrics) SetEngineState(s domain.EngineState) {
	m.EngineState.Set(engineStateValues[s])
}

// SetPortfolio updates the portfolio gauges from a fresh state snapshot.
func (m *Metrics) SetPortfolio(state domain.PortfolioState) {
	m.PortfolioValue.Set(state.TotalValue)
	m.PortfolioExposure.Set(state.Exposure)
	m.OpenPositions.Set(float64(state.OpenPositions))
	m.DailyLoss.Set(state.DailyLoss())
}

// Timer returns a function that observes the elapsed time into the cycle
// duration histogram when called.
func (m *Metrics) Timer() func() {
	start := time.Now()
	return func() { m.CycleDuration.Observe(time.Since(start).Seconds()) }
}
