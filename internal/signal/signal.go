// Package signal standardizes payloads shared between data ingestion and strategy layers.
package signal

import "time"

// TickKind distinguishes the event classes a feed can deliver.
type TickKind string

const (
	// KindTrade is a regular trade print.
	KindTrade TickKind = "trade"
	// KindLiquidation is a forced position close reported by the venue.
	KindLiquidation TickKind = "liquidation"
)

// Tick models the essential pieces of market data consumed by the store.
type Tick struct {
	Instrument string
	Kind       TickKind
	Price      float64
	Volume     float64
	Side       int // +1 buy, -1 sell (aggressor)
	Ts         time.Time
}

// Side enumerates trade directions carried by signals and orders.
type Side string

const (
	// Buy indicates a long bias or order.
	Buy Side = "BUY"
	// Sell indicates a short bias or order.
	Sell Side = "SELL"
)

// Opposite returns the reverse direction.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Signal expresses a candidate trading instruction produced by one evaluator.
// Confidence and Strength are clamped to [0,1] at construction. A Signal
// never carries an order size; sizing is a downstream decision.
type Signal struct {
	Source     string
	Family     string
	Instrument string
	Side       Side
	Confidence float64
	Strength   float64
	Reason     string
	Price      float64
	StopLoss   float64
	TakeProfit float64
	RiskScore  float64
	Ts         time.Time
}

// New builds a Signal with confidence and strength clamped to the unit interval.
func New(source, family, instrument string, side Side, confidence, strength float64) Signal {
	return Signal{
		Source:     source,
		Family:     family,
		Instrument: instrument,
		Side:       side,
		Confidence: Clamp01(confidence),
		Strength:   Clamp01(strength),
	}
}

// RankedSignal is a Signal plus the aggregator's composite score. It is
// created once by the aggregator and never mutated afterwards.
type RankedSignal struct {
	Signal
	Score float64
}

// Clamp01 bounds v to [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
