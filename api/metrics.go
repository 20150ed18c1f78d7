package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/stake-ledger/staking"
)

// Metrics is the service's Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec

	principal      prometheus.Gauge
	accruedProfit  prometheus.Gauge
	reserveBalance prometheus.Gauge
	stakes         prometheus.Gauge
}

// NewMetrics registers the HTTP and liability collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stake_ledger",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stake_ledger",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		principal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stake_ledger",
			Name:      "staking_principal_total",
			Help:      "Principal held across all stake records, in whole tokens.",
		}),
		accruedProfit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stake_ledger",
			Name:      "staking_accrued_profit_total",
			Help:      "Profit accrued across all stake records at the last report, in whole tokens.",
		}),
		reserveBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stake_ledger",
			Name:      "staking_reserve_balance",
			Help:      "Token balance of the configured reserve, in whole tokens.",
		}),
		stakes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stake_ledger",
			Name:      "staking_stakes",
			Help:      "Number of stake records.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.duration,
		m.principal, m.accruedProfit, m.reserveBalance, m.stakes,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Middleware records request counts and latency keyed by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		m.duration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

// ObserveLiability publishes a liability report on the gauges.
func (m *Metrics) ObserveLiability(l staking.Liability, reserveBalance *staking.Amount) {
	m.principal.Set(tokens(l.Principal))
	m.accruedProfit.Set(tokens(l.AccruedProfit))
	m.stakes.Set(float64(l.Stakes))
	if reserveBalance != nil {
		m.reserveBalance.Set(tokens(*reserveBalance))
	} else {
		m.reserveBalance.Set(0)
	}
}

// tokens converts base units to whole tokens for display. Lossy.
func tokens(a staking.Amount) float64 {
	return a.Value.Shift(-staking.TokenDecimals).InexactFloat64()
}
