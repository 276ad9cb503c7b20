package strategy

import (
	"fmt"
	"math"

	"tradepipe-go/internal/market"
	"tradepipe-go/internal/signal"
)

// HistogramDivergence looks for disagreement between price extremes and the
// MACD histogram over two halves of the window: price making a higher high
// while momentum makes a lower high is bearish, and the mirror image bullish.
type HistogramDivergence struct {
	fast      int
	slow      int
	sigPeriod int
	exits     exitLevels
}

// NewHistogramDivergence builds the evaluator with conventional MACD periods.
func NewHistogramDivergence(fast, slow, sigPeriod int, exits exitLevels) *HistogramDivergence {
	if fast <= 0 {
		fast = 12
	}
	if slow <= fast {
		slow = 26
	}
	if sigPeriod <= 0 {
		sigPeriod = 9
	}
	return &HistogramDivergence{fast: fast, slow: slow, sigPeriod: sigPeriod, exits: exits}
}

func (d *HistogramDivergence) Name() string   { return "histogram_divergence" }
func (d *HistogramDivergence) Family() string { return FamilyDivergence }

func (d *HistogramDivergence) Evaluate(snap market.Snapshot) []signal.Signal {
	prices := snap.Prices()
	_, _, hist := macd(prices, d.fast, d.slow, d.sigPeriod)
	if len(hist) < 8 {
		return nil
	}

	half := len(hist) / 2
	priceOldHi, priceOldLo := extremes(prices[:half])
	priceNewHi, priceNewLo := extremes(prices[half:])
	histOldHi, histOldLo := extremes(hist[:half])
	histNewHi, histNewLo := extremes(hist[half:])

	var side signal.Side
	var gap float64
	switch {
	case priceNewHi > priceOldHi && histNewHi < histOldHi:
		// Price strength not confirmed by momentum.
		side = signal.Sell
		gap = (histOldHi - histNewHi) / snap.LastPrice
	case priceNewLo < priceOldLo && histNewLo > histOldLo:
		side = signal.Buy
		gap = (histNewLo - histOldLo) / snap.LastPrice
	default:
		return nil
	}

	confidence := math.Min(0.8, 0.45+math.Abs(gap)*150)
	s := signal.New(d.Name(), d.Family(), snap.Instrument, side, confidence, signal.Clamp01(math.Abs(gap)*300))
	s.Reason = fmt.Sprintf("price/momentum divergence gap=%.5f", gap)
	decorate(&s, snap, d.exits)
	return []signal.Signal{s}
}

func extremes(values []float64) (hi, lo float64) {
	hi = math.Inf(-1)
	lo = math.Inf(1)
	for _, v := range values {
		if v > hi {
			hi = v
		}
		if v < lo {
			lo = v
		}
	}
	return hi, lo
}
