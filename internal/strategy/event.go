package strategy

import (
	"fmt"
	"math"
	"time"

	"tradepipe-go/internal/market"
	"tradepipe-go/internal/signal"
)

// LiquidationRebound trades the bounce after a large forced close. Only
// liquidations at or above the notional floor count, and the price must
// already have started recovering from the liquidation print.
type LiquidationRebound struct {
	minNotional float64
	maxAge      time.Duration
	exits       exitLevels
}

// NewLiquidationRebound builds the evaluator with a notional floor in USD.
func NewLiquidationRebound(minNotional float64, exits exitLevels) *LiquidationRebound {
	if minNotional <= 0 {
		minNotional = 50000
	}
	return &LiquidationRebound{minNotional: minNotional, maxAge: 2 * time.Minute, exits: exits}
}

func (l *LiquidationRebound) Name() string   { return "liquidation_rebound" }
func (l *LiquidationRebound) Family() string { return FamilyEvent }

func (l *LiquidationRebound) Evaluate(snap market.Snapshot) []signal.Signal {
	if len(snap.Liquidations) == 0 || snap.LastPrice <= 0 {
		return nil
	}

	// Most recent qualifying liquidation wins.
	var liq *market.Liquidation
	for i := len(snap.Liquidations) - 1; i >= 0; i-- {
		candidate := snap.Liquidations[i]
		if candidate.Notional < l.minNotional {
			continue
		}
		if snap.UpdatedAt.Sub(candidate.Ts) > l.maxAge {
			break
		}
		liq = &candidate
		break
	}
	if liq == nil {
		return nil
	}

	rebound := (snap.LastPrice - liq.Price) / liq.Price
	var side signal.Side
	switch {
	case liq.Side < 0 && rebound > 0.001:
		// Longs flushed and price is recovering: join the bounce.
		side = signal.Buy
	case liq.Side > 0 && rebound < -0.001:
		side = signal.Sell
	default:
		return nil
	}

	sizeRatio := liq.Notional / l.minNotional
	confidence := math.Min(0.9, 0.5+0.1*sizeRatio+math.Abs(rebound)*20)
	s := signal.New(l.Name(), l.Family(), snap.Instrument, side, confidence, signal.Clamp01(sizeRatio/4))
	s.Reason = fmt.Sprintf("rebound %.2f%% after $%.0f liquidation", rebound*100, liq.Notional)
	decorate(&s, snap, l.exits)
	return []signal.Signal{s}
}

// VolumeSpike signals when recent volume runs far ahead of its trailing
// average, with direction taken from the aggressor imbalance in the burst.
type VolumeSpike struct {
	spikeRatio float64
	baseline   int
	exits      exitLevels
}

// NewVolumeSpike builds the evaluator; baseline is the trailing sample count.
func NewVolumeSpike(spikeRatio float64, baseline int, exits exitLevels) *VolumeSpike {
	if spikeRatio <= 1 {
		spikeRatio = 3
	}
	if baseline <= 0 {
		baseline = 50
	}
	return &VolumeSpike{spikeRatio: spikeRatio, baseline: baseline, exits: exits}
}

func (v *VolumeSpike) Name() string   { return "volume_spike" }
func (v *VolumeSpike) Family() string { return FamilyEvent }

func (v *VolumeSpike) Evaluate(snap market.Snapshot) []signal.Signal {
	samples := snap.Samples
	recent := v.baseline / 5
	if recent < 3 {
		recent = 3
	}
	if len(samples) < v.baseline+recent {
		return nil
	}

	var trailing float64
	for _, smp := range samples[len(samples)-recent-v.baseline : len(samples)-recent] {
		trailing += smp.Volume
	}
	trailing /= float64(v.baseline)

	var burst, imbalance float64
	for _, smp := range samples[len(samples)-recent:] {
		burst += smp.Volume
		imbalance += float64(smp.Side) * smp.Volume
	}
	burst /= float64(recent)

	if trailing <= 0 {
		return nil
	}
	ratio := burst / trailing
	if ratio < v.spikeRatio {
		return nil
	}

	side := signal.Buy
	if imbalance < 0 {
		side = signal.Sell
	}

	confidence := math.Min(0.85, 0.4+0.15*(ratio/v.spikeRatio))
	s := signal.New(v.Name(), v.Family(), snap.Instrument, side, confidence, signal.Clamp01(ratio/(2*v.spikeRatio)))
	s.Reason = fmt.Sprintf("volume %.1fx trailing avg", ratio)
	decorate(&s, snap, v.exits)
	return []signal.Signal{s}
}
