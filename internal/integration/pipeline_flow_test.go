package integration

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tradepipe-go/internal/aggregate"
	"tradepipe-go/internal/audit"
	"tradepipe-go/internal/broker"
	"tradepipe-go/internal/engine"
	"tradepipe-go/internal/feed"
	"tradepipe-go/internal/guard"
	"tradepipe-go/internal/market"
	"tradepipe-go/internal/portfolio"
	"tradepipe-go/internal/risk"
	sig "tradepipe-go/internal/signal"
	"tradepipe-go/internal/strategy"
)

// TestStubFeedToLedgerFlow drives the full pipeline off the synthetic feed:
// ticks fill the market store, a real evaluator set runs on a fast cadence,
// and any approved signal books a paper fill into the ledger. The stub ramp
// is monotone so we assert pipeline mechanics, not that a trade must happen.
func TestStubFeedToLedgerFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sink := audit.NewMemory()
	store := market.NewStore(200, 5)
	ledger := portfolio.NewLedger(1000, 0.001, 0.0005, sink)

	evaluators := strategy.Build([]string{"rsi_reversal", "sma_cross", "zscore_reversion"}, strategy.Params{})
	runner := strategy.NewRunner(evaluators, time.Second, zerolog.Nop())
	agg := aggregate.New(aggregate.Config{ConfidenceFloor: 0.4, TopK: 3, ConflictEpsilon: 0.05}, zerolog.Nop())
	sizer := risk.NewSizer(risk.SizerConfig{RiskPerTrade: 0.02, MaxPositionSize: 0.05})
	riskEngine := risk.NewEngine(risk.EngineConfig{MaxPositionRisk: 0.05, MaxPortfolioRisk: 0.2}, sizer, sink, zerolog.Nop())
	ctrl := guard.NewController(guard.Config{DrawdownThreshold: 0.2, BalanceFloor: 50}, ledger, sink, zerolog.Nop())
	gateway := broker.NewPaper(1000, 0.0005, zerolog.Nop())

	eng := engine.New(100*time.Millisecond, store, runner, agg, riskEngine, ctrl, ledger, gateway, sink, zerolog.Nop())

	src := feed.New(feed.ProviderStub, []string{"BTCUSDT"}, zerolog.Nop(), feed.WithStubInterval(5*time.Millisecond))
	ticks := make(chan sig.Tick, 64)
	go func() { _ = src.Run(ctx, ticks) }()

	done := make(chan struct{})
	go func() {
		_ = eng.Run(ctx, ticks)
		close(done)
	}()

	// Wait for the store to fill and a few cycles to pass.
	deadline := time.After(3 * time.Second)
	for {
		status := eng.Status()
		if status.Cycles >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("pipeline never completed 3 cycles, status %+v", status)
		case <-time.After(20 * time.Millisecond):
		}
	}

	snap, err := store.Snapshot("BTCUSDT")
	if err != nil {
		t.Fatalf("store never filled: %v", err)
	}
	if snap.LastPrice <= 0 || len(snap.Samples) < 5 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	status := eng.Status()
	if !status.Running {
		t.Fatalf("engine should report running")
	}
	if status.GuardState != guard.StateNormal {
		t.Fatalf("quiet ramp should not trip the guard, got %s", status.GuardState)
	}
	if status.Portfolio.Equity <= 0 {
		t.Fatalf("expected positive equity, got %.2f", status.Portfolio.Equity)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("engine did not drain after cancel")
	}
}
