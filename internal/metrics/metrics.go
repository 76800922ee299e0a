// Package metrics registers engine-level Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "engine_cycles_total", Help: "Completed orchestrator cycles"},
	)
	CyclesSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "engine_cycles_skipped_total", Help: "Cycles skipped because a previous cycle was still running"},
	)
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "engine_decisions_total", Help: "Trading decisions by action"},
		[]string{"action"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders dispatched to execution"},
		[]string{"symbol", "side"},
	)
	ProducerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "producer_errors_total", Help: "Signal producer failures caught by the engine"},
		[]string{"producer"},
	)
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "feed_ticks_total", Help: "Market ticks ingested per symbol"},
		[]string{"symbol"},
	)
	StaleQuotes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "arb_stale_quotes_total", Help: "Venue quotes excluded from scans for exceeding the TTL"},
		[]string{"venue"},
	)
	OpportunitiesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "arb_opportunities_total", Help: "Viable arbitrage opportunities detected"},
	)
	EquityGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "capital_equity_usd", Help: "Total account equity"},
	)
	AvailableGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "capital_available_usd", Help: "Capital available for new positions"},
	)
	HarvestedGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "capital_harvested_usd", Help: "Profit permanently set aside by the harvest split"},
	)
	HeatGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "portfolio_heat", Help: "Total portfolio heat across all correlation groups"},
	)
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "open_positions", Help: "Live positions in the ledger"},
	)
)

func init() {
	prometheus.MustRegister(
		CyclesTotal, CyclesSkipped, DecisionsTotal, OrdersTotal, ProducerErrors,
		TicksTotal, StaleQuotes, OpportunitiesTotal,
		EquityGauge, AvailableGauge, HarvestedGauge, HeatGauge, OpenPositions,
	)
}

// Serve exposes /metrics on addr and returns the server for shutdown control.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
