package strategy

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tradepipe-go/internal/market"
	"tradepipe-go/internal/signal"
)

func snapFromPrices(prices []float64) market.Snapshot {
	samples := make([]market.Sample, len(prices))
	for i, p := range prices {
		samples[i] = market.Sample{Price: p, Volume: 1, Side: 1, Ts: time.Unix(int64(i), 0)}
	}
	snap := market.Snapshot{
		Instrument: "XRPUSDT",
		Samples:    samples,
		LastPrice:  prices[len(prices)-1],
		UpdatedAt:  samples[len(samples)-1].Ts,
	}
	return snap
}

func TestRSIReversalOversoldBuys(t *testing.T) {
	prices := make([]float64, 30)
	px := 100.0
	for i := range prices {
		px -= 1.5 // relentless selling drives RSI to the floor
		prices[i] = px
	}
	ev := NewRSIReversal(14, 30, 70, exitLevels{})
	sigs := ev.Evaluate(snapFromPrices(prices))
	if len(sigs) != 1 {
		t.Fatalf("expected one signal, got %d", len(sigs))
	}
	s := sigs[0]
	if s.Side != signal.Buy {
		t.Fatalf("expected buy on oversold, got %s", s.Side)
	}
	if s.Confidence <= 0.5 || s.Confidence > 1 {
		t.Fatalf("confidence out of expected range: %.2f", s.Confidence)
	}
	if s.StopLoss >= s.Price || s.TakeProfit <= s.Price {
		t.Fatalf("long exits inverted: stop=%.2f take=%.2f px=%.2f", s.StopLoss, s.TakeProfit, s.Price)
	}
}

func TestRSIReversalQuietMarketNoSignal(t *testing.T) {
	prices := make([]float64, 30)
	for i := range prices {
		prices[i] = 100 + math.Sin(float64(i))*0.1
	}
	ev := NewRSIReversal(14, 30, 70, exitLevels{})
	if sigs := ev.Evaluate(snapFromPrices(prices)); len(sigs) != 0 {
		t.Fatalf("expected no signal in a quiet market, got %d", len(sigs))
	}
}

func TestBollingerBreachShortsUpperBand(t *testing.T) {
	prices := make([]float64, 25)
	for i := range prices {
		prices[i] = 100 + math.Sin(float64(i)*0.7)
	}
	prices[len(prices)-1] = 110 // violent breakout through the envelope
	ev := NewBollingerBreach(20, 2, exitLevels{})
	sigs := ev.Evaluate(snapFromPrices(prices))
	if len(sigs) != 1 || sigs[0].Side != signal.Sell {
		t.Fatalf("expected sell on upper band breach, got %+v", sigs)
	}
}

func TestSMACrossFiresOnlyOnCross(t *testing.T) {
	// Downtrend flipping to a sharp rally: the fast average crosses up once.
	var prices []float64
	px := 100.0
	for i := 0; i < 30; i++ {
		px -= 0.5
		prices = append(prices, px)
	}
	for i := 0; i < 12; i++ {
		px += 2.5
		prices = append(prices, px)
	}

	ev := NewSMACross(5, 15, exitLevels{})
	var fired int
	for n := 31; n <= len(prices); n++ {
		sigs := ev.Evaluate(snapFromPrices(prices[:n]))
		for _, s := range sigs {
			if s.Side != signal.Buy {
				t.Fatalf("expected golden cross buy, got %s", s.Side)
			}
			fired++
		}
	}
	if fired != 1 {
		t.Fatalf("expected exactly one cross signal over the rally, got %d", fired)
	}
}

func TestZScoreConfidenceScaling(t *testing.T) {
	prices := make([]float64, 60)
	for i := range prices {
		prices[i] = 100 + 0.01*float64(i%2) // tiny alternating returns
	}
	prices[len(prices)-1] = 108 // massive outlier return

	ev := NewZScoreReversion(50, 2, exitLevels{})
	sigs := ev.Evaluate(snapFromPrices(prices))
	if len(sigs) != 1 {
		t.Fatalf("expected one signal, got %d", len(sigs))
	}
	s := sigs[0]
	if s.Side != signal.Sell {
		t.Fatalf("positive outlier return should be faded short, got %s", s.Side)
	}
	if s.Confidence != 0.9 {
		t.Fatalf("extreme z must cap confidence at 0.9, got %.3f", s.Confidence)
	}
}

func TestLiquidationReboundBuysAfterFlush(t *testing.T) {
	snap := snapFromPrices([]float64{100, 99, 98, 97, 98.5})
	snap.Liquidations = []market.Liquidation{
		{Price: 97, Notional: 120000, Side: -1, Ts: snap.UpdatedAt.Add(-10 * time.Second)},
	}
	ev := NewLiquidationRebound(50000, exitLevels{})
	sigs := ev.Evaluate(snap)
	if len(sigs) != 1 || sigs[0].Side != signal.Buy {
		t.Fatalf("expected rebound buy, got %+v", sigs)
	}
	if sigs[0].Confidence > 0.9 {
		t.Fatalf("confidence must stay capped at 0.9, got %.2f", sigs[0].Confidence)
	}

	// Below the notional floor nothing fires.
	snap.Liquidations[0].Notional = 10000
	if sigs := ev.Evaluate(snap); len(sigs) != 0 {
		t.Fatalf("expected no signal below notional floor")
	}
}

func TestVolumeSpikeDirectionFromImbalance(t *testing.T) {
	samples := make([]market.Sample, 70)
	for i := range samples {
		samples[i] = market.Sample{Price: 100, Volume: 1, Side: 1, Ts: time.Unix(int64(i), 0)}
	}
	// Last ten samples: heavy selling burst.
	for i := 60; i < 70; i++ {
		samples[i].Volume = 10
		samples[i].Side = -1
	}
	snap := market.Snapshot{Instrument: "XRPUSDT", Samples: samples, LastPrice: 100, UpdatedAt: samples[69].Ts}

	ev := NewVolumeSpike(3, 50, exitLevels{})
	sigs := ev.Evaluate(snap)
	if len(sigs) != 1 || sigs[0].Side != signal.Sell {
		t.Fatalf("expected sell on selling burst, got %+v", sigs)
	}
}

func TestConfidenceAlwaysInUnitInterval(t *testing.T) {
	// Absurd price path: whatever the evaluators emit must stay clamped.
	prices := make([]float64, 80)
	for i := range prices {
		prices[i] = math.Pow(10, float64(i%7))
	}
	snap := snapFromPrices(prices)
	snap.Liquidations = []market.Liquidation{{Price: 1, Notional: 1e12, Side: -1, Ts: snap.UpdatedAt}}

	for _, ev := range Build([]string{"rsi", "bollinger", "sma_cross", "macd", "divergence", "zscore", "liquidation", "volume_spike"}, Params{}) {
		for _, s := range ev.Evaluate(snap) {
			if s.Confidence < 0 || s.Confidence > 1 {
				t.Fatalf("%s confidence out of [0,1]: %f", ev.Name(), s.Confidence)
			}
			if s.Strength < 0 || s.Strength > 1 {
				t.Fatalf("%s strength out of [0,1]: %f", ev.Name(), s.Strength)
			}
		}
	}
}

func TestBuildSkipsUnknownNames(t *testing.T) {
	evs := Build([]string{"rsi", "no_such_thing", "zscore"}, Params{})
	if len(evs) != 2 {
		t.Fatalf("expected unknown evaluator skipped, got %d", len(evs))
	}
}

type scriptedEvaluator struct {
	name string
	out  []signal.Signal
}

func (s *scriptedEvaluator) Evaluate(market.Snapshot) []signal.Signal { return s.out }
func (s *scriptedEvaluator) Name() string                             { return s.name }
func (s *scriptedEvaluator) Family() string                           { return FamilyThreshold }

type stalledEvaluator struct {
	release chan struct{}
}

func (s *stalledEvaluator) Evaluate(market.Snapshot) []signal.Signal {
	<-s.release
	return []signal.Signal{signal.New("stalled", FamilyThreshold, "XRPUSDT", signal.Sell, 0.9, 0.9)}
}
func (s *stalledEvaluator) Name() string   { return "stalled" }
func (s *stalledEvaluator) Family() string { return FamilyThreshold }

func TestRunnerTimeoutDropsOnlyTheLateEvaluator(t *testing.T) {
	fast := &scriptedEvaluator{
		name: "fast",
		out:  []signal.Signal{signal.New("fast", FamilyThreshold, "XRPUSDT", signal.Buy, 0.8, 0.8)},
	}
	stalled := &stalledEvaluator{release: make(chan struct{})}
	defer close(stalled.release)

	runner := NewRunner([]Evaluator{stalled, fast}, 50*time.Millisecond, zerolog.Nop())

	start := time.Now()
	out := runner.Run(context.Background(), snapFromPrices([]float64{100, 101, 102}))
	elapsed := time.Since(start)

	if elapsed > time.Second {
		t.Fatalf("timed-out evaluator stalled the cycle for %s", elapsed)
	}
	if len(out) != 1 || out[0].Source != "fast" {
		t.Fatalf("expected only the fast evaluator's signal, got %+v", out)
	}
}

func TestRunnerCollectsAllWhenWithinBudget(t *testing.T) {
	a := &scriptedEvaluator{name: "a", out: []signal.Signal{signal.New("a", FamilyThreshold, "XRPUSDT", signal.Buy, 0.8, 0.8)}}
	b := &scriptedEvaluator{name: "b", out: []signal.Signal{signal.New("b", FamilyThreshold, "XRPUSDT", signal.Sell, 0.7, 0.7)}}

	runner := NewRunner([]Evaluator{a, b}, time.Second, zerolog.Nop())
	out := runner.Run(context.Background(), snapFromPrices([]float64{100, 101, 102}))

	if len(out) != 2 || out[0].Source != "a" || out[1].Source != "b" {
		t.Fatalf("expected both signals in evaluator order, got %+v", out)
	}
}
