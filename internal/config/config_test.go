package config

import (
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	path := filepath.Join("testdata", "config.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.App.Name != "tradepipe-test" {
		t.Fatalf("unexpected App.Name: %s", cfg.App.Name)
	}
	if len(cfg.Feed.Instruments) != 1 || cfg.Feed.Instruments[0] != "XRPUSDT" {
		t.Fatalf("expected XRPUSDT instrument, got %+v", cfg.Feed.Instruments)
	}
	if !cfg.Feed.Liquidations {
		t.Fatalf("expected liquidation stream enabled")
	}
	if cfg.Market.Capacity != 500 || cfg.Market.MinSamples != 30 {
		t.Fatalf("unexpected market window: %+v", cfg.Market)
	}
	if cfg.Pipeline.TopK != 3 {
		t.Fatalf("unexpected top_k: %d", cfg.Pipeline.TopK)
	}
	if cfg.Pipeline.ConflictEpsilon != 0.05 {
		t.Fatalf("unexpected conflict epsilon: %.2f", cfg.Pipeline.ConflictEpsilon)
	}
	if cfg.Pipeline.FamilyWeights["event"] != 0.4 {
		t.Fatalf("unexpected event family weight: %.2f", cfg.Pipeline.FamilyWeights["event"])
	}
	if cfg.Risk.MaxPositionRisk != 0.05 {
		t.Fatalf("unexpected max position risk: %.2f", cfg.Risk.MaxPositionRisk)
	}
	if cfg.Risk.AllowPyramiding {
		t.Fatalf("expected pyramiding disabled by default")
	}
	if cfg.Guard.DrawdownThreshold != 0.1 {
		t.Fatalf("unexpected drawdown threshold: %.2f", cfg.Guard.DrawdownThreshold)
	}
	if cfg.Guard.CooldownSecs != 300 {
		t.Fatalf("unexpected cooldown: %d", cfg.Guard.CooldownSecs)
	}
	if cfg.Portfolio.StartingBalance != 10000 {
		t.Fatalf("unexpected starting balance: %.2f", cfg.Portfolio.StartingBalance)
	}
	if cfg.Strategy.Params.LiquidationMinNotional != 50000 {
		t.Fatalf("unexpected liquidation min notional: %.0f", cfg.Strategy.Params.LiquidationMinNotional)
	}
	if len(cfg.Strategy.Evaluators) != 7 {
		t.Fatalf("expected 7 evaluators, got %d", len(cfg.Strategy.Evaluators))
	}
	if cfg.Audit.Path != "data/audit.jsonl" {
		t.Fatalf("unexpected audit path: %s", cfg.Audit.Path)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "config.yaml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	bad := *cfg
	bad.Feed.Instruments = nil
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for empty instruments")
	}

	bad = *cfg
	bad.Portfolio.StartingBalance = 0
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for zero balance")
	}

	bad = *cfg
	bad.Pipeline.FamilyWeights = map[string]float64{"event": 0.8, "threshold": 0.5}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for weights summing above 1")
	}

	bad = *cfg
	bad.Risk.MaxPortfolioRisk = 0.01
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for portfolio risk below position risk")
	}
}
