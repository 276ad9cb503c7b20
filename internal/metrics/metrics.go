package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Count of market ticks ingested"},
		[]string{"instrument"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_total", Help: "Candidate signals produced by evaluators"},
		[]string{"source", "instrument"},
	)
	RejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "risk_rejections_total", Help: "Signals rejected by the risk engine"},
		[]string{"reason"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders submitted"},
		[]string{"instrument", "side"},
	)
	EvaluatorTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "evaluator_timeouts_total", Help: "Evaluator runs abandoned after the time budget"},
		[]string{"evaluator"},
	)
	CyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "pipeline_cycles_total", Help: "Completed signal pipeline cycles"},
	)
	GuardState = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "guard_state", Help: "Protective controller state (0 normal, 1 paused, 2 emergency)"},
	)
	Equity = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "portfolio_equity", Help: "Current portfolio equity"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal, SignalsTotal, RejectionsTotal, OrdersTotal,
		EvaluatorTimeouts, CyclesTotal, GuardState, Equity,
	)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
