// Package strategy contains the evaluator implementations that turn market
// snapshots into candidate trading signals.
package strategy

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"tradepipe-go/internal/market"
	"tradepipe-go/internal/metrics"
	"tradepipe-go/internal/signal"
)

// Family names shared between evaluators and the aggregator's weight table.
const (
	FamilyThreshold   = "threshold"
	FamilyCrossover   = "crossover"
	FamilyDivergence  = "divergence"
	FamilyStatistical = "statistical"
	FamilyEvent       = "event"
)

// Evaluator maps a market snapshot to zero or more candidate signals.
// Implementations must be pure with respect to the snapshot: the same
// snapshot always yields the same signal set.
type Evaluator interface {
	Evaluate(snap market.Snapshot) []signal.Signal
	Name() string
	Family() string
}

// DefaultTimeout bounds a single evaluator invocation per cycle.
const DefaultTimeout = 2 * time.Second

// Runner fans a fixed evaluator set out concurrently against one snapshot,
// enforcing a per-evaluator time budget. A timed-out evaluator contributes
// no signals for that cycle; it never stalls the cadence.
type Runner struct {
	evaluators []Evaluator
	timeout    time.Duration
	log        zerolog.Logger
}

// NewRunner builds a runner over the supplied evaluators.
func NewRunner(evaluators []Evaluator, timeout time.Duration, log zerolog.Logger) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{evaluators: evaluators, timeout: timeout, log: log}
}

// Run evaluates the snapshot with every evaluator concurrently and returns
// the combined signals in evaluator order (deterministic for a fixed set).
func (r *Runner) Run(ctx context.Context, snap market.Snapshot) []signal.Signal {
	results := make([][]signal.Signal, len(r.evaluators))
	done := make([]chan struct{}, len(r.evaluators))

	for i, ev := range r.evaluators {
		done[i] = make(chan struct{})
		go func(i int, ev Evaluator) {
			defer close(done[i])
			results[i] = ev.Evaluate(snap)
		}(i, ev)
	}

	// Every evaluator started at the same instant, so one absolute deadline
	// gives each the full budget independently. A late evaluator only loses
	// its own signals; finished peers are still collected.
	deadline := time.NewTimer(r.timeout)
	defer deadline.Stop()
	expired := false

	var out []signal.Signal
	for i, ev := range r.evaluators {
		if !expired {
			select {
			case <-done[i]:
			case <-deadline.C:
				expired = true
			case <-ctx.Done():
				return out
			}
		}
		if expired {
			select {
			case <-done[i]:
			default:
				metrics.EvaluatorTimeouts.WithLabelValues(ev.Name()).Inc()
				r.log.Warn().Str("evaluator", ev.Name()).Dur("budget", r.timeout).Msg("evaluator timed out, dropping its signals")
				continue
			}
		}
		for _, s := range results[i] {
			metrics.SignalsTotal.WithLabelValues(s.Source, s.Instrument).Inc()
		}
		out = append(out, results[i]...)
	}
	return out
}

// Evaluators exposes the configured evaluator set.
func (r *Runner) Evaluators() []Evaluator { return r.evaluators }
