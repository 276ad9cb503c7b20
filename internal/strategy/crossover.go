package strategy

import (
	"fmt"
	"math"

	"tradepipe-go/internal/market"
	"tradepipe-go/internal/signal"
)

// SMACross signals on golden/death crosses of two simple moving averages.
// The signal fires only on the sample where the cross happened, so a
// sustained trend does not re-emit every cycle.
type SMACross struct {
	fast  int
	slow  int
	exits exitLevels
}

// NewSMACross builds the evaluator; fast must be shorter than slow.
func NewSMACross(fast, slow int, exits exitLevels) *SMACross {
	if fast <= 0 {
		fast = 12
	}
	if slow <= fast {
		slow = fast * 2
	}
	return &SMACross{fast: fast, slow: slow, exits: exits}
}

func (c *SMACross) Name() string   { return "sma_cross" }
func (c *SMACross) Family() string { return FamilyCrossover }

func (c *SMACross) Evaluate(snap market.Snapshot) []signal.Signal {
	prices := snap.Prices()
	if len(prices) < c.slow+1 {
		return nil
	}

	fastNow := sma(prices, c.fast)
	slowNow := sma(prices, c.slow)
	prev := prices[:len(prices)-1]
	fastPrev := sma(prev, c.fast)
	slowPrev := sma(prev, c.slow)
	if math.IsNaN(fastPrev) || math.IsNaN(slowPrev) {
		return nil
	}

	var side signal.Side
	switch {
	case fastPrev <= slowPrev && fastNow > slowNow:
		side = signal.Buy
	case fastPrev >= slowPrev && fastNow < slowNow:
		side = signal.Sell
	default:
		return nil
	}

	gap := math.Abs(fastNow-slowNow) / slowNow
	confidence := math.Min(0.85, 0.5+gap*40)
	s := signal.New(c.Name(), c.Family(), snap.Instrument, side, confidence, signal.Clamp01(gap*100))
	s.Reason = fmt.Sprintf("sma%d/%d cross gap=%.3f%%", c.fast, c.slow, gap*100)
	decorate(&s, snap, c.exits)
	return []signal.Signal{s}
}

// MACDCross signals when the MACD line crosses its signal line. Confidence
// scales with the histogram magnitude relative to price.
type MACDCross struct {
	fast      int
	slow      int
	sigPeriod int
	exits     exitLevels
}

// NewMACDCross builds the evaluator with the conventional 12/26/9 defaults.
func NewMACDCross(fast, slow, sigPeriod int, exits exitLevels) *MACDCross {
	if fast <= 0 {
		fast = 12
	}
	if slow <= fast {
		slow = 26
	}
	if sigPeriod <= 0 {
		sigPeriod = 9
	}
	return &MACDCross{fast: fast, slow: slow, sigPeriod: sigPeriod, exits: exits}
}

func (c *MACDCross) Name() string   { return "macd_cross" }
func (c *MACDCross) Family() string { return FamilyCrossover }

func (c *MACDCross) Evaluate(snap market.Snapshot) []signal.Signal {
	prices := snap.Prices()
	_, _, hist := macd(prices, c.fast, c.slow, c.sigPeriod)
	if len(hist) < 2 {
		return nil
	}

	curr, prev := hist[len(hist)-1], hist[len(hist)-2]
	var side signal.Side
	switch {
	case prev <= 0 && curr > 0:
		side = signal.Buy
	case prev >= 0 && curr < 0:
		side = signal.Sell
	default:
		return nil
	}

	relative := math.Abs(curr) / snap.LastPrice
	confidence := math.Min(0.85, 0.5+relative*200)
	s := signal.New(c.Name(), c.Family(), snap.Instrument, side, confidence, signal.Clamp01(relative*400))
	s.Reason = fmt.Sprintf("macd hist %.5f→%.5f", prev, curr)
	decorate(&s, snap, c.exits)
	return []signal.Signal{s}
}
