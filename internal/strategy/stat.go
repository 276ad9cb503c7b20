package strategy

import (
	"fmt"
	"math"

	"tradepipe-go/internal/market"
	"tradepipe-go/internal/signal"
)

// ZScoreReversion fades returns that sit beyond the entry threshold in
// standard deviations. Confidence follows min(0.9, |z|/4).
type ZScoreReversion struct {
	window int
	entry  float64
	exits  exitLevels
}

// NewZScoreReversion builds the evaluator; entry is the trigger in sigmas.
func NewZScoreReversion(window int, entry float64, exits exitLevels) *ZScoreReversion {
	if window <= 0 {
		window = 50
	}
	if entry <= 0 {
		entry = 2
	}
	return &ZScoreReversion{window: window, entry: entry, exits: exits}
}

func (z *ZScoreReversion) Name() string   { return "zscore_reversion" }
func (z *ZScoreReversion) Family() string { return FamilyStatistical }

func (z *ZScoreReversion) Evaluate(snap market.Snapshot) []signal.Signal {
	score := zscore(snap.Returns(), z.window)
	if math.IsNaN(score) || math.Abs(score) < z.entry {
		return nil
	}

	// An extreme positive return gets faded short, an extreme negative long.
	side := signal.Sell
	if score < 0 {
		side = signal.Buy
	}

	confidence := math.Min(0.9, math.Abs(score)/4)
	s := signal.New(z.Name(), z.Family(), snap.Instrument, side, confidence, signal.Clamp01(math.Abs(score)/(2*z.entry)))
	s.Reason = fmt.Sprintf("z=%.2f entry=±%.1fσ", score, z.entry)
	decorate(&s, snap, z.exits)
	return []signal.Signal{s}
}
