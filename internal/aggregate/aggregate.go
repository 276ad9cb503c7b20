// Package aggregate merges candidate signals into a ranked, bounded slate.
package aggregate

import (
	"math"
	"sort"

	"github.com/rs/zerolog"

	"tradepipe-go/internal/signal"
)

// defaultFamilyWeight applies when a family has no configured weight.
const defaultFamilyWeight = 0.25

// Config tunes the scoring and truncation stages.
type Config struct {
	ConfidenceFloor    float64
	TopK               int
	ConflictEpsilon    float64
	FamilyWeights      map[string]float64
	HighVolThreshold   float64
	HighVolMultiplier  float64
	RiskScoreThreshold float64
	RiskScorePenalty   float64
}

// Aggregator computes composite scores and produces a deterministic ranking.
type Aggregator struct {
	cfg Config
	log zerolog.Logger
}

// New builds an aggregator, filling unset knobs with safe defaults.
func New(cfg Config, log zerolog.Logger) *Aggregator {
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.HighVolMultiplier <= 0 || cfg.HighVolMultiplier > 1 {
		cfg.HighVolMultiplier = 0.7
	}
	if cfg.RiskScorePenalty <= 0 || cfg.RiskScorePenalty > 1 {
		cfg.RiskScorePenalty = 0.5
	}
	if cfg.RiskScoreThreshold <= 0 {
		cfg.RiskScoreThreshold = 0.7
	}
	return &Aggregator{cfg: cfg, log: log}
}

// Aggregate filters, scores, orders, de-conflicts, and truncates the cycle's
// candidate signals. volatility carries the per-instrument return stddev used
// for the market-condition multiplier. The output ordering is a strict
// function of the input set: score descending, then earliest timestamp, then
// source id.
func (a *Aggregator) Aggregate(signals []signal.Signal, volatility map[string]float64) []signal.RankedSignal {
	ranked := make([]signal.RankedSignal, 0, len(signals))
	for _, s := range signals {
		if s.Confidence < a.cfg.ConfidenceFloor {
			continue
		}
		ranked = append(ranked, signal.RankedSignal{Signal: s, Score: a.composite(s, volatility[s.Instrument])})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if !ranked[i].Ts.Equal(ranked[j].Ts) {
			return ranked[i].Ts.Before(ranked[j].Ts)
		}
		return ranked[i].Source < ranked[j].Source
	})

	ranked = a.dropOpposingConflicts(ranked)

	if len(ranked) > a.cfg.TopK {
		ranked = ranked[:a.cfg.TopK]
	}
	return ranked
}

func (a *Aggregator) composite(s signal.Signal, vol float64) float64 {
	score := s.Confidence

	if a.cfg.HighVolThreshold > 0 && vol > a.cfg.HighVolThreshold {
		score *= a.cfg.HighVolMultiplier
	}

	weight := defaultFamilyWeight
	if w, ok := a.cfg.FamilyWeights[s.Family]; ok {
		weight = w
	}
	score *= weight

	if s.RiskScore > a.cfg.RiskScoreThreshold {
		score *= a.cfg.RiskScorePenalty
	}
	return score
}

// dropOpposingConflicts removes the weaker of two opposing-side signals on
// the same instrument when their scores sit within epsilon, preventing a
// buy-then-sell thrash inside one cycle. Input must already be sorted.
func (a *Aggregator) dropOpposingConflicts(ranked []signal.RankedSignal) []signal.RankedSignal {
	out := ranked[:0]
	for _, candidate := range ranked {
		conflicted := false
		for _, kept := range out {
			if kept.Instrument != candidate.Instrument || kept.Side == candidate.Side {
				continue
			}
			if math.Abs(kept.Score-candidate.Score) <= a.cfg.ConflictEpsilon {
				conflicted = true
				a.log.Debug().
					Str("instrument", candidate.Instrument).
					Str("dropped", candidate.Source).
					Str("kept", kept.Source).
					Msg("opposing signal dropped within epsilon")
				break
			}
		}
		if !conflicted {
			out = append(out, candidate)
		}
	}
	return out
}
