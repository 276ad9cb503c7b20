package main

import (
	"context"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tradepipe-go/internal/aggregate"
	"tradepipe-go/internal/audit"
	"tradepipe-go/internal/broker"
	"tradepipe-go/internal/config"
	"tradepipe-go/internal/engine"
	"tradepipe-go/internal/feed"
	"tradepipe-go/internal/guard"
	"tradepipe-go/internal/market"
	"tradepipe-go/internal/metrics"
	"tradepipe-go/internal/portfolio"
	"tradepipe-go/internal/risk"
	sig "tradepipe-go/internal/signal"
	"tradepipe-go/internal/strategy"
	"tradepipe-go/internal/util"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "configs/config.yaml", "path to YAML config")
	flag.Parse()
	if env := os.Getenv("TRADEPIPE_CONFIG"); env != "" {
		*configPath = env
	}

	log := util.NewLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	log = util.NewLogger(cfg.App.LogLevel)

	_ = metrics.Serve(cfg.App.MetricsAddr)
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var sink audit.Sink = audit.NopSink{}
	if cfg.Audit.Path != "" {
		recorder, err := audit.NewJSONLRecorder(cfg.Audit.Path)
		if err != nil {
			log.Fatal().Err(err).Msg("open audit sink")
		}
		defer recorder.Close()
		sink = recorder
	}

	store := market.NewStore(cfg.Market.Capacity, cfg.Market.MinSamples)
	ledger := portfolio.NewLedger(cfg.Portfolio.StartingBalance, cfg.Portfolio.CommissionRate, cfg.Portfolio.SlippageRate, sink)

	evaluators := strategy.Build(cfg.Strategy.Evaluators, strategyParams(cfg.Strategy.Params))
	if len(evaluators) == 0 {
		log.Fatal().Msg("no evaluators configured")
	}
	runner := strategy.NewRunner(evaluators, time.Duration(cfg.Pipeline.EvaluatorTimeoutMs)*time.Millisecond, log)

	agg := aggregate.New(aggregate.Config{
		ConfidenceFloor:    cfg.Pipeline.ConfidenceFloor,
		TopK:               cfg.Pipeline.TopK,
		ConflictEpsilon:    cfg.Pipeline.ConflictEpsilon,
		FamilyWeights:      cfg.Pipeline.FamilyWeights,
		HighVolThreshold:   cfg.Pipeline.HighVolThreshold,
		HighVolMultiplier:  cfg.Pipeline.HighVolMultiplier,
		RiskScoreThreshold: cfg.Pipeline.RiskScoreThreshold,
		RiskScorePenalty:   cfg.Pipeline.RiskScorePenalty,
	}, log)

	sizer := risk.NewSizer(risk.SizerConfig{
		RiskPerTrade:    cfg.Risk.RiskPerTrade,
		MaxPositionSize: cfg.Risk.MaxPositionSize,
	})
	riskEngine := risk.NewEngine(risk.EngineConfig{
		ConfidenceFloor:  cfg.Pipeline.ConfidenceFloor,
		MaxPositionRisk:  cfg.Risk.MaxPositionRisk,
		MaxPortfolioRisk: cfg.Risk.MaxPortfolioRisk,
		AllowPyramiding:  cfg.Risk.AllowPyramiding,
	}, sizer, sink, log)

	ctrl := guard.NewController(guard.Config{
		DrawdownThreshold: cfg.Guard.DrawdownThreshold,
		DailyLossLimit:    cfg.Guard.DailyLossLimit,
		Cooldown:          time.Duration(cfg.Guard.CooldownSecs) * time.Second,
		BalanceFloor:      cfg.Guard.BalanceFloor,
		CheckInterval:     time.Duration(cfg.Guard.CheckIntervalSecs) * time.Second,
	}, ledger, sink, log)
	go ctrl.Watch(ctx)

	gateway := broker.NewPaper(cfg.Portfolio.StartingBalance, cfg.Portfolio.SlippageRate, log)

	src := feed.New(cfg.Feed.Provider, cfg.Feed.Instruments, log)
	ticks := make(chan sig.Tick, 1024)
	go func() {
		if err := src.Run(ctx, ticks); err != nil {
			log.Error().Err(err).Msg("feed stopped")
			cancel()
		}
	}()

	eng := engine.New(time.Duration(cfg.Pipeline.CyclePeriodMs)*time.Millisecond,
		store, runner, agg, riskEngine, ctrl, ledger, gateway, sink, log)

	log.Info().Str("provider", cfg.Feed.Provider).Strs("instruments", cfg.Feed.Instruments).Msg("pipeline started")
	if err := eng.Run(ctx, ticks); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("engine stopped")
	}

	status := eng.Status()
	log.Info().
		Uint64("cycles", status.Cycles).
		Float64("equity", status.Portfolio.Equity).
		Float64("realized", status.Portfolio.RealizedPnL).
		Msg("shutdown complete")
}

func strategyParams(p config.StrategyParams) strategy.Params {
	return strategy.Params{
		RSIPeriod:              p.RSIPeriod,
		RSIOversold:            p.RSIOversold,
		RSIOverbought:          p.RSIOverbought,
		BollingerPeriod:        p.BollingerPeriod,
		BollingerWidth:         p.BollingerWidth,
		FastPeriod:             p.FastPeriod,
		SlowPeriod:             p.SlowPeriod,
		SignalPeriod:           p.SignalPeriod,
		ZScoreWindow:           p.ZScoreWindow,
		ZScoreEntry:            p.ZScoreEntry,
		LiquidationMinNotional: p.LiquidationMinNotional,
		VolumeSpikeRatio:       p.VolumeSpikeRatio,
		VolumeBaseline:         p.VolumeBaseline,
		StopLossPct:            p.StopLossPct,
		TakeProfitPct:          p.TakeProfitPct,
	}
}
