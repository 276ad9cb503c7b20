// Package risk gates ranked signals against portfolio exposure and sizes the
// survivors. The engine only reads portfolio state; it never mutates it.
package risk

import (
	"fmt"

	"github.com/rs/zerolog"

	"tradepipe-go/internal/audit"
	"tradepipe-go/internal/metrics"
	"tradepipe-go/internal/portfolio"
	"tradepipe-go/internal/signal"
)

// Reason is the closed set of rejection causes.
type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonInsufficientBalance   Reason = "InsufficientBalance"
	ReasonPositionRiskExceeded  Reason = "PositionRiskExceeded"
	ReasonPortfolioRiskExceeded Reason = "PortfolioRiskExceeded"
	ReasonDuplicatePosition     Reason = "DuplicatePosition"
	ReasonBelowConfidenceFloor  Reason = "BelowConfidenceFloor"
)

// Decision is the outcome of validating one candidate signal.
type Decision struct {
	Approved bool
	Reason   Reason
	Quantity float64 // sized order quantity when approved
	Detail   string
}

// EngineConfig holds the exposure limits.
type EngineConfig struct {
	ConfidenceFloor  float64
	MaxPositionRisk  float64
	MaxPortfolioRisk float64
	AllowPyramiding  bool
}

// Engine validates candidates in a fixed check order, short-circuiting on the
// first failure. Every decision, approve or reject, lands in the audit sink.
type Engine struct {
	cfg   EngineConfig
	sizer *Sizer
	sink  audit.Sink
	log   zerolog.Logger
}

// NewEngine builds an engine around the supplied sizer and sink.
func NewEngine(cfg EngineConfig, sizer *Sizer, sink audit.Sink, log zerolog.Logger) *Engine {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Engine{cfg: cfg, sizer: sizer, sink: sink, log: log}
}

// Validate checks the candidate against balance, per-position and portfolio
// exposure, and the duplicate-position rule. The returned decision carries
// the sized quantity on approval.
func (e *Engine) Validate(candidate signal.RankedSignal, state portfolio.State) Decision {
	decision := e.validate(candidate, state)
	e.record(candidate, decision)
	return decision
}

func (e *Engine) validate(candidate signal.RankedSignal, state portfolio.State) Decision {
	if candidate.Confidence < e.cfg.ConfidenceFloor {
		return Decision{Reason: ReasonBelowConfidenceFloor,
			Detail: fmt.Sprintf("confidence %.2f below floor %.2f", candidate.Confidence, e.cfg.ConfidenceFloor)}
	}

	if state.Balance <= 0 {
		return Decision{Reason: ReasonInsufficientBalance, Detail: "no available balance"}
	}

	capital := state.Equity
	if capital <= 0 {
		capital = state.Balance
	}

	quantity := e.sizer.Size(candidate.Signal, state)
	if quantity <= 0 {
		detail := "sized to zero, no deployable balance"
		if candidate.StopLoss == candidate.Price {
			detail = "un-actionable signal, stop distance is zero"
		}
		return Decision{Reason: ReasonInsufficientBalance, Detail: detail}
	}
	notional := quantity * candidate.Price

	positionRisk := notional / capital
	if positionRisk > e.cfg.MaxPositionRisk+1e-9 {
		return Decision{Reason: ReasonPositionRiskExceeded,
			Detail: fmt.Sprintf("position risk %.4f > max %.4f", positionRisk, e.cfg.MaxPositionRisk)}
	}

	totalRisk := (state.OpenNotional() + notional) / capital
	if totalRisk > e.cfg.MaxPortfolioRisk+1e-9 {
		return Decision{Reason: ReasonPortfolioRiskExceeded,
			Detail: fmt.Sprintf("portfolio risk %.4f > max %.4f", totalRisk, e.cfg.MaxPortfolioRisk)}
	}

	if open, ok := state.Open[candidate.Instrument]; ok {
		if open.Side == candidate.Side && !e.cfg.AllowPyramiding {
			return Decision{Reason: ReasonDuplicatePosition,
				Detail: fmt.Sprintf("%s already open %s", candidate.Instrument, open.Side)}
		}
	}

	return Decision{Approved: true, Quantity: quantity}
}

func (e *Engine) record(candidate signal.RankedSignal, decision Decision) {
	if !decision.Approved {
		metrics.RejectionsTotal.WithLabelValues(string(decision.Reason)).Inc()
		e.log.Info().
			Str("instrument", candidate.Instrument).
			Str("source", candidate.Source).
			Str("reason", string(decision.Reason)).
			Str("detail", decision.Detail).
			Msg("signal rejected")
	}
	e.sink.Record(audit.Event{
		Type:       audit.EventRiskDecision,
		Instrument: candidate.Instrument,
		Detail: map[string]any{
			"source":   candidate.Source,
			"side":     string(candidate.Side),
			"score":    candidate.Score,
			"approved": decision.Approved,
			"reason":   string(decision.Reason),
			"qty":      decision.Quantity,
		},
	})
}
