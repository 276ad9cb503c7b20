// Package engine drives the tick-to-order pipeline: ingest market data, run
// evaluators on a fixed cadence, rank the survivors, gate them through risk
// and the protective controller, and commit fills to the ledger.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"tradepipe-go/internal/aggregate"
	"tradepipe-go/internal/audit"
	"tradepipe-go/internal/broker"
	"tradepipe-go/internal/guard"
	"tradepipe-go/internal/market"
	"tradepipe-go/internal/metrics"
	"tradepipe-go/internal/portfolio"
	"tradepipe-go/internal/risk"
	"tradepipe-go/internal/signal"
	"tradepipe-go/internal/strategy"
)

// DefaultCyclePeriod is the evaluation cadence when none is configured.
const DefaultCyclePeriod = 5 * time.Second

// Status is a point-in-time report of the engine for operators.
type Status struct {
	Running      bool
	Cycles       uint64
	GuardState   guard.State
	Portfolio    portfolio.State
	Open         []portfolio.Position
	ActiveAlerts []guard.Alert
}

// Engine owns the cycle loop. Ticks mutate the market store continuously;
// evaluation happens on the cycle timer against whatever window each
// instrument has accumulated by then.
type Engine struct {
	cyclePeriod time.Duration
	store       *market.Store
	runner      *strategy.Runner
	agg         *aggregate.Aggregator
	risk        *risk.Engine
	guard       *guard.Controller
	ledger      *portfolio.Ledger
	gateway     broker.Gateway
	sink        audit.Sink
	log         zerolog.Logger

	running atomic.Bool
	cycles  atomic.Uint64

	mu     sync.Mutex
	instMu map[string]*sync.Mutex
}

// New wires the pipeline stages together.
func New(cyclePeriod time.Duration, store *market.Store, runner *strategy.Runner, agg *aggregate.Aggregator,
	riskEngine *risk.Engine, ctrl *guard.Controller, ledger *portfolio.Ledger, gateway broker.Gateway,
	sink audit.Sink, log zerolog.Logger) *Engine {
	if cyclePeriod <= 0 {
		cyclePeriod = DefaultCyclePeriod
	}
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Engine{
		cyclePeriod: cyclePeriod,
		store:       store,
		runner:      runner,
		agg:         agg,
		risk:        riskEngine,
		guard:       ctrl,
		ledger:      ledger,
		gateway:     gateway,
		sink:        sink,
		log:         log,
		instMu:      make(map[string]*sync.Mutex),
	}
}

// Run consumes ticks and fires evaluation cycles until the context is
// canceled. The in-flight cycle finishes before Run returns, so a shutdown
// never abandons a half-committed order.
func (e *Engine) Run(ctx context.Context, ticks <-chan signal.Tick) error {
	e.running.Store(true)
	defer e.running.Store(false)

	ticker := time.NewTicker(e.cyclePeriod)
	defer ticker.Stop()

	e.log.Info().Dur("cycle", e.cyclePeriod).Msg("engine started")
	for {
		select {
		case <-ctx.Done():
			e.log.Info().Uint64("cycles", e.cycles.Load()).Msg("engine draining")
			return ctx.Err()
		case tk, ok := <-ticks:
			if !ok {
				return nil
			}
			e.onTick(tk)
		case <-ticker.C:
			e.runCycle(ctx)
		}
	}
}

func (e *Engine) onTick(tk signal.Tick) {
	if _, err := e.store.Ingest(tk); err != nil {
		e.log.Warn().Err(err).Str("instrument", tk.Instrument).Msg("tick dropped")
		return
	}
	if tk.Kind == signal.KindTrade {
		e.ledger.MarkPrice(tk.Instrument, tk.Price)
	}
}

// runCycle evaluates every instrument with a filled window, ranks the
// combined signal set, and pushes the survivors through execution.
func (e *Engine) runCycle(ctx context.Context) {
	defer e.cycles.Add(1)
	defer metrics.CyclesTotal.Inc()

	var candidates []signal.Signal
	volatility := make(map[string]float64)

	for _, instrument := range e.store.Instruments() {
		snap, err := e.store.Snapshot(instrument)
		if err != nil {
			continue
		}
		volatility[instrument] = snap.Volatility
		produced := e.runner.Run(ctx, snap)
		for _, s := range produced {
			e.sink.Record(audit.Event{
				Type:       audit.EventSignalProduced,
				Instrument: s.Instrument,
				Detail: map[string]any{
					"source":     s.Source,
					"family":     s.Family,
					"side":       string(s.Side),
					"confidence": s.Confidence,
					"reason":     s.Reason,
				},
			})
		}
		candidates = append(candidates, produced...)
		if ctx.Err() != nil {
			return
		}
	}

	for _, ranked := range e.agg.Aggregate(candidates, volatility) {
		e.execute(ctx, ranked)
		if ctx.Err() != nil {
			return
		}
	}
}

// execute serializes per instrument so two candidates from one cycle cannot
// race each other through the open/close path.
func (e *Engine) execute(ctx context.Context, candidate signal.RankedSignal) {
	lock := e.instrumentLock(candidate.Instrument)
	lock.Lock()
	defer lock.Unlock()

	state := e.ledger.Snapshot()

	// An approved opposite-side signal against an open position is an exit,
	// never a flip: close it and let a later cycle re-enter.
	if open, ok := state.Open[candidate.Instrument]; ok && open.Side != candidate.Side {
		e.closePosition(ctx, open, candidate)
		return
	}

	if !e.guard.AllowOpen() {
		e.log.Debug().Str("instrument", candidate.Instrument).Str("state", string(e.guard.State())).Msg("open suppressed")
		return
	}

	decision := e.risk.Validate(candidate, state)
	if !decision.Approved {
		return
	}

	receipt, err := e.gateway.SubmitOrder(ctx, broker.Order{
		Instrument: candidate.Instrument,
		Side:       candidate.Side,
		Qty:        decision.Quantity,
		Price:      candidate.Price,
	})
	if err != nil {
		// Submission failed, so nothing is committed to the ledger.
		e.recordExecution(candidate.Instrument, "open", false, 0, err)
		return
	}

	if _, err := e.ledger.Open(candidate.Instrument, candidate.Side, receipt.Qty, receipt.FillPrice); err != nil {
		e.log.Error().Err(err).Str("instrument", candidate.Instrument).Msg("fill could not be booked")
		e.recordExecution(candidate.Instrument, "open", false, 0, err)
		return
	}
	e.recordExecution(candidate.Instrument, "open", true, receipt.FillPrice, nil)
	e.guard.Check()
}

func (e *Engine) closePosition(ctx context.Context, open portfolio.Position, candidate signal.RankedSignal) {
	receipt, err := e.gateway.SubmitOrder(ctx, broker.Order{
		Instrument: open.Instrument,
		Side:       open.Side.Opposite(),
		Qty:        open.Quantity,
		Price:      candidate.Price,
		Reduce:     true,
	})
	if err != nil {
		e.recordExecution(open.Instrument, "close", false, 0, err)
		return
	}
	realized, err := e.ledger.Close(open.ID, receipt.FillPrice)
	if err != nil {
		e.log.Error().Err(err).Str("instrument", open.Instrument).Msg("close could not be booked")
		e.recordExecution(open.Instrument, "close", false, 0, err)
		return
	}
	e.log.Info().Str("instrument", open.Instrument).Float64("realized", realized).Msg("position closed by opposing signal")
	e.recordExecution(open.Instrument, "close", true, receipt.FillPrice, nil)
	e.guard.Check()
}

func (e *Engine) recordExecution(instrument, op string, ok bool, fill float64, err error) {
	detail := map[string]any{"op": op, "ok": ok, "fill": fill}
	if err != nil {
		detail["error"] = err.Error()
	}
	e.sink.Record(audit.Event{Type: audit.EventExecutionResult, Instrument: instrument, Detail: detail})
}

func (e *Engine) instrumentLock(instrument string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.instMu[instrument]
	if !ok {
		lock = &sync.Mutex{}
		e.instMu[instrument] = lock
	}
	return lock
}

// Cycle runs one evaluation pass immediately. Exposed for operators and tests;
// the timer path uses the same code.
func (e *Engine) Cycle(ctx context.Context) {
	e.runCycle(ctx)
}

// Status reports the engine and portfolio for dashboards and logs.
func (e *Engine) Status() Status {
	return Status{
		Running:      e.running.Load(),
		Cycles:       e.cycles.Load(),
		GuardState:   e.guard.State(),
		Portfolio:    e.ledger.Snapshot(),
		Open:         e.ledger.OpenPositions(),
		ActiveAlerts: e.guard.Alerts(true),
	}
}
