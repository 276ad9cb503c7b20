package strategy

import (
	"fmt"
	"math"

	"tradepipe-go/internal/market"
	"tradepipe-go/internal/signal"
)

// RSIReversal signals when the relative strength index breaches its
// oversold/overbought bands. Confidence scales with how far the RSI sits
// beyond the band, never a flat constant.
type RSIReversal struct {
	period     int
	oversold   float64
	overbought float64
	exits      exitLevels
}

// NewRSIReversal builds the evaluator with sane defaults for zero params.
func NewRSIReversal(period int, oversold, overbought float64, exits exitLevels) *RSIReversal {
	if period <= 0 {
		period = 14
	}
	if oversold <= 0 {
		oversold = 30
	}
	if overbought <= 0 {
		overbought = 70
	}
	return &RSIReversal{period: period, oversold: oversold, overbought: overbought, exits: exits}
}

func (r *RSIReversal) Name() string   { return "rsi_reversal" }
func (r *RSIReversal) Family() string { return FamilyThreshold }

func (r *RSIReversal) Evaluate(snap market.Snapshot) []signal.Signal {
	value := rsi(snap.Prices(), r.period)
	if math.IsNaN(value) {
		return nil
	}

	var side signal.Side
	var excess float64
	switch {
	case value <= r.oversold:
		side = signal.Buy
		excess = (r.oversold - value) / r.oversold
	case value >= r.overbought:
		side = signal.Sell
		excess = (value - r.overbought) / (100 - r.overbought)
	default:
		return nil
	}

	confidence := math.Min(0.95, 0.5+excess*1.5)
	s := signal.New(r.Name(), r.Family(), snap.Instrument, side, confidence, excess)
	s.Reason = fmt.Sprintf("rsi=%.1f band=[%.0f,%.0f]", value, r.oversold, r.overbought)
	decorate(&s, snap, r.exits)
	return []signal.Signal{s}
}

// BollingerBreach signals when price closes outside the Bollinger envelope.
type BollingerBreach struct {
	period int
	width  float64
	exits  exitLevels
}

// NewBollingerBreach builds the evaluator; width is the band in stddevs.
func NewBollingerBreach(period int, width float64, exits exitLevels) *BollingerBreach {
	if period <= 0 {
		period = 20
	}
	if width <= 0 {
		width = 2
	}
	return &BollingerBreach{period: period, width: width, exits: exits}
}

func (b *BollingerBreach) Name() string   { return "bollinger_breach" }
func (b *BollingerBreach) Family() string { return FamilyThreshold }

func (b *BollingerBreach) Evaluate(snap market.Snapshot) []signal.Signal {
	prices := snap.Prices()
	mid := sma(prices, b.period)
	sd := stddev(prices, b.period)
	if math.IsNaN(mid) || math.IsNaN(sd) || sd == 0 {
		return nil
	}

	last := snap.LastPrice
	upper := mid + b.width*sd
	lower := mid - b.width*sd

	var side signal.Side
	var excess float64
	switch {
	case last <= lower:
		side = signal.Buy
		excess = (lower - last) / sd
	case last >= upper:
		side = signal.Sell
		excess = (last - upper) / sd
	default:
		return nil
	}

	confidence := math.Min(0.9, 0.5+0.3*excess)
	s := signal.New(b.Name(), b.Family(), snap.Instrument, side, confidence, signal.Clamp01(excess))
	s.Reason = fmt.Sprintf("px=%.4f band=[%.4f,%.4f] excess=%.2fσ", last, lower, upper, excess)
	decorate(&s, snap, b.exits)
	return []signal.Signal{s}
}

// exitLevels holds the stop/target fractions applied to every emitted signal.
type exitLevels struct {
	StopLossPct   float64
	TakeProfitPct float64
}

// decorate fills the price, stop, target, risk score, and timestamp fields
// shared by every evaluator family.
func decorate(s *signal.Signal, snap market.Snapshot, exits exitLevels) {
	s.Price = snap.LastPrice
	s.Ts = snap.UpdatedAt
	s.RiskScore = signal.Clamp01(snap.Volatility * 50)

	stop := exits.StopLossPct
	take := exits.TakeProfitPct
	if stop <= 0 {
		stop = 0.03
	}
	if take <= 0 {
		take = 0.06
	}
	if s.Side == signal.Buy {
		s.StopLoss = snap.LastPrice * (1 - stop)
		s.TakeProfit = snap.LastPrice * (1 + take)
	} else {
		s.StopLoss = snap.LastPrice * (1 + stop)
		s.TakeProfit = snap.LastPrice * (1 - take)
	}
}
