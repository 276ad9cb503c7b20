package aggregate

import (
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tradepipe-go/internal/signal"
)

func mkSignal(source, instrument string, side signal.Side, confidence float64, ts int64) signal.Signal {
	s := signal.New(source, "threshold", instrument, side, confidence, confidence)
	s.Ts = time.Unix(ts, 0)
	s.Price = 1
	return s
}

func TestAggregateDropsBelowFloor(t *testing.T) {
	agg := New(Config{ConfidenceFloor: 0.3, TopK: 5}, zerolog.Nop())
	out := agg.Aggregate([]signal.Signal{
		mkSignal("a", "BTCUSDT", signal.Buy, 0.29, 1),
		mkSignal("b", "BTCUSDT", signal.Buy, 0.31, 1),
	}, nil)
	if len(out) != 1 || out[0].Source != "b" {
		t.Fatalf("expected only the above-floor signal, got %+v", out)
	}
}

func TestAggregateOpposingSidesWithinEpsilon(t *testing.T) {
	// Two XRP signals in one cycle: BUY 0.82 vs SELL 0.80 within epsilon
	// keeps only the BUY.
	agg := New(Config{TopK: 3, ConflictEpsilon: 0.05}, zerolog.Nop())
	out := agg.Aggregate([]signal.Signal{
		mkSignal("momo", "XRPUSDT", signal.Buy, 0.82, 1),
		mkSignal("fade", "XRPUSDT", signal.Sell, 0.80, 1),
	}, nil)
	if len(out) != 1 {
		t.Fatalf("expected conflicting sell dropped, got %d survivors", len(out))
	}
	if out[0].Side != signal.Buy || out[0].Source != "momo" {
		t.Fatalf("expected the higher-scored buy to win, got %+v", out[0])
	}
}

func TestAggregateOpposingSidesOutsideEpsilonBothSurvive(t *testing.T) {
	agg := New(Config{TopK: 3, ConflictEpsilon: 0.001}, zerolog.Nop())
	out := agg.Aggregate([]signal.Signal{
		mkSignal("momo", "XRPUSDT", signal.Buy, 0.9, 1),
		mkSignal("fade", "XRPUSDT", signal.Sell, 0.4, 1),
	}, nil)
	if len(out) != 2 {
		t.Fatalf("clearly separated opposing signals should both survive, got %d", len(out))
	}
}

func TestAggregateDeterministicOrdering(t *testing.T) {
	input := []signal.Signal{
		mkSignal("c", "ETHUSDT", signal.Buy, 0.6, 5),
		mkSignal("a", "BTCUSDT", signal.Buy, 0.6, 5),
		mkSignal("b", "SOLUSDT", signal.Sell, 0.6, 3),
		mkSignal("d", "ADAUSDT", signal.Buy, 0.8, 9),
	}
	agg := New(Config{TopK: 10}, zerolog.Nop())

	first := agg.Aggregate(input, nil)
	second := agg.Aggregate(input, nil)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("same input must produce same output order")
	}

	// Highest score first, then earliest timestamp, then source id.
	wantSources := []string{"d", "b", "a", "c"}
	for i, want := range wantSources {
		if first[i].Source != want {
			t.Fatalf("position %d: want %s, got %s", i, want, first[i].Source)
		}
	}
}

func TestAggregateTruncatesToTopK(t *testing.T) {
	input := []signal.Signal{
		mkSignal("a", "A", signal.Buy, 0.9, 1),
		mkSignal("b", "B", signal.Buy, 0.8, 1),
		mkSignal("c", "C", signal.Buy, 0.7, 1),
		mkSignal("d", "D", signal.Buy, 0.6, 1),
	}
	agg := New(Config{TopK: 3}, zerolog.Nop())
	out := agg.Aggregate(input, nil)
	if len(out) != 3 {
		t.Fatalf("expected truncation to 3, got %d", len(out))
	}
	if out[2].Source != "c" {
		t.Fatalf("expected lowest survivor c, got %s", out[2].Source)
	}
}

func TestAggregateHighVolatilityPenalty(t *testing.T) {
	agg := New(Config{TopK: 3, HighVolThreshold: 0.02, HighVolMultiplier: 0.5}, zerolog.Nop())
	calm := agg.Aggregate([]signal.Signal{mkSignal("a", "BTCUSDT", signal.Buy, 0.8, 1)}, map[string]float64{"BTCUSDT": 0.01})
	wild := agg.Aggregate([]signal.Signal{mkSignal("a", "BTCUSDT", signal.Buy, 0.8, 1)}, map[string]float64{"BTCUSDT": 0.05})
	if wild[0].Score >= calm[0].Score {
		t.Fatalf("high-volatility regime must reduce the score: calm=%.3f wild=%.3f", calm[0].Score, wild[0].Score)
	}
}

func TestAggregateRiskScorePenalty(t *testing.T) {
	agg := New(Config{TopK: 3, RiskScoreThreshold: 0.7, RiskScorePenalty: 0.5}, zerolog.Nop())

	safe := mkSignal("a", "BTCUSDT", signal.Buy, 0.8, 1)
	risky := mkSignal("b", "ETHUSDT", signal.Buy, 0.8, 1)
	risky.RiskScore = 0.9

	out := agg.Aggregate([]signal.Signal{safe, risky}, nil)
	if out[0].Source != "a" {
		t.Fatalf("penalized risky signal should rank below, got %s first", out[0].Source)
	}
	if out[1].Score >= out[0].Score {
		t.Fatalf("risk penalty not applied: %.3f vs %.3f", out[1].Score, out[0].Score)
	}
}

func TestAggregateFamilyWeights(t *testing.T) {
	agg := New(Config{
		TopK:          3,
		FamilyWeights: map[string]float64{"event": 0.4, "threshold": 0.3},
	}, zerolog.Nop())

	tech := mkSignal("rsi", "BTCUSDT", signal.Buy, 0.8, 1)
	liq := mkSignal("liq", "ETHUSDT", signal.Buy, 0.8, 1)
	liq.Family = "event"

	out := agg.Aggregate([]signal.Signal{tech, liq}, nil)
	if out[0].Source != "liq" {
		t.Fatalf("heavier family weight must rank first, got %s", out[0].Source)
	}
}
