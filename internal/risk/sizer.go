package risk

import (
	"math"

	"tradepipe-go/internal/portfolio"
	"tradepipe-go/internal/signal"
)

// SizerConfig bounds how much of the book a single order may consume.
type SizerConfig struct {
	RiskPerTrade    float64 // fraction of capital risked between entry and stop
	MaxPositionSize float64 // cap on notional as a fraction of capital
	BalanceReserve  float64 // fraction of balance never deployed (default 5%)
}

// Sizer converts an approved signal into a concrete order quantity.
type Sizer struct {
	cfg SizerConfig
}

// NewSizer builds a sizer with defaults for unset knobs.
func NewSizer(cfg SizerConfig) *Sizer {
	if cfg.RiskPerTrade <= 0 {
		cfg.RiskPerTrade = 0.01
	}
	if cfg.MaxPositionSize <= 0 {
		cfg.MaxPositionSize = 0.1
	}
	if cfg.BalanceReserve <= 0 || cfg.BalanceReserve >= 1 {
		cfg.BalanceReserve = 0.05
	}
	return &Sizer{cfg: cfg}
}

// Size returns the order quantity for the signal, or 0 when the signal is
// un-actionable (no stop distance, no capital). Quantity is clamped so the
// notional stays within the position-size cap and deployable balance.
func (s *Sizer) Size(sig signal.Signal, state portfolio.State) float64 {
	capital := state.Equity
	if capital <= 0 {
		capital = state.Balance
	}
	if capital <= 0 || sig.Price <= 0 {
		return 0
	}

	riskPerUnit := math.Abs(sig.Price - sig.StopLoss)
	if riskPerUnit == 0 {
		// Stop at entry: the caller must treat this as un-actionable.
		return 0
	}

	riskAmount := capital * s.cfg.RiskPerTrade
	quantity := riskAmount / riskPerUnit

	maxNotional := s.cfg.MaxPositionSize * capital
	if quantity*sig.Price > maxNotional {
		quantity = maxNotional / sig.Price
	}
	deployable := state.Balance * (1 - s.cfg.BalanceReserve)
	if quantity*sig.Price > deployable {
		quantity = deployable / sig.Price
	}
	if quantity < 0 {
		return 0
	}
	return quantity
}
