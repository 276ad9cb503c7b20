// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Feed describes the market data source the pipeline subscribes to.
type Feed struct {
	Provider     string   `yaml:"provider"`
	Instruments  []string `yaml:"instruments"`
	Liquidations bool     `yaml:"liquidations"`
}

// Market tunes the per-instrument tick window.
type Market struct {
	Capacity   int `yaml:"capacity"`
	MinSamples int `yaml:"min_samples"`
}

// Pipeline groups cycle cadence and signal aggregation knobs.
type Pipeline struct {
	CyclePeriodMs      int                `yaml:"cycle_period_ms"`
	EvaluatorTimeoutMs int                `yaml:"evaluator_timeout_ms"`
	ConfidenceFloor    float64            `yaml:"confidence_floor"`
	TopK               int                `yaml:"top_k"`
	ConflictEpsilon    float64            `yaml:"conflict_epsilon"`
	FamilyWeights      map[string]float64 `yaml:"family_weights"`
	HighVolThreshold   float64            `yaml:"high_vol_threshold"`
	HighVolMultiplier  float64            `yaml:"high_vol_multiplier"`
	RiskScoreThreshold float64            `yaml:"risk_score_threshold"`
	RiskScorePenalty   float64            `yaml:"risk_score_penalty"`
}

// Risk encodes guard-rails for how much size the pipeline may take on.
type Risk struct {
	MaxPositionRisk  float64 `yaml:"max_position_risk"`
	MaxPortfolioRisk float64 `yaml:"max_portfolio_risk"`
	RiskPerTrade     float64 `yaml:"risk_per_trade"`
	MaxPositionSize  float64 `yaml:"max_position_size"`
	AllowPyramiding  bool    `yaml:"allow_pyramiding"`
}

// Guard configures the protective controller thresholds.
type Guard struct {
	DrawdownThreshold float64 `yaml:"drawdown_threshold"`
	DailyLossLimit    float64 `yaml:"daily_loss_limit"`
	CooldownSecs      int     `yaml:"cooldown_secs"`
	BalanceFloor      float64 `yaml:"balance_floor"`
	CheckIntervalSecs int     `yaml:"check_interval_secs"`
}

// Portfolio captures ledger settings such as starting balance and trading costs.
type Portfolio struct {
	StartingBalance float64 `yaml:"starting_balance"`
	CommissionRate  float64 `yaml:"commission_rate"`
	SlippageRate    float64 `yaml:"slippage_rate"`
}

// StrategyParams groups tunable knobs shared by the evaluator constructors.
type StrategyParams struct {
	RSIPeriod              int     `yaml:"rsi_period"`
	RSIOversold            float64 `yaml:"rsi_oversold"`
	RSIOverbought          float64 `yaml:"rsi_overbought"`
	BollingerPeriod        int     `yaml:"bollinger_period"`
	BollingerWidth         float64 `yaml:"bollinger_width"`
	FastPeriod             int     `yaml:"fast_period"`
	SlowPeriod             int     `yaml:"slow_period"`
	SignalPeriod           int     `yaml:"signal_period"`
	ZScoreWindow           int     `yaml:"zscore_window"`
	ZScoreEntry            float64 `yaml:"zscore_entry"`
	LiquidationMinNotional float64 `yaml:"liquidation_min_notional"`
	VolumeSpikeRatio       float64 `yaml:"volume_spike_ratio"`
	VolumeBaseline         int     `yaml:"volume_baseline"`
	StopLossPct            float64 `yaml:"stop_loss_pct"`
	TakeProfitPct          float64 `yaml:"take_profit_pct"`
}

// Strategy specifies which evaluators are active along with the parameter bundle.
type Strategy struct {
	Evaluators []string       `yaml:"evaluators"`
	Params     StrategyParams `yaml:"params"`
}

// Audit points the event stream at its on-disk sink.
type Audit struct {
	Path string `yaml:"path"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App       App       `yaml:"app"`
	Feed      Feed      `yaml:"feed"`
	Market    Market    `yaml:"market"`
	Pipeline  Pipeline  `yaml:"pipeline"`
	Risk      Risk      `yaml:"risk"`
	Guard     Guard     `yaml:"guard"`
	Portfolio Portfolio `yaml:"portfolio"`
	Strategy  Strategy  `yaml:"strategy"`
	Audit     Audit     `yaml:"audit"`
}

// Load reads a YAML file from disk and hydrates a Config struct.
// Validation failures here are fatal: the pipeline never starts half-configured.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate rejects configurations the pipeline cannot run safely with.
func (c *Config) Validate() error {
	if len(c.Feed.Instruments) == 0 {
		return fmt.Errorf("at least one instrument is required")
	}
	if c.Portfolio.StartingBalance <= 0 {
		return fmt.Errorf("starting balance must be positive")
	}
	if c.Risk.MaxPositionRisk <= 0 || c.Risk.MaxPositionRisk > 1 {
		return fmt.Errorf("max_position_risk must be in (0,1]")
	}
	if c.Risk.MaxPortfolioRisk < c.Risk.MaxPositionRisk {
		return fmt.Errorf("max_portfolio_risk must be >= max_position_risk")
	}
	if c.Pipeline.CyclePeriodMs <= 0 {
		return fmt.Errorf("cycle period must be positive")
	}
	if c.Guard.DrawdownThreshold <= 0 || c.Guard.DrawdownThreshold >= 1 {
		return fmt.Errorf("drawdown_threshold must be in (0,1)")
	}
	var weightSum float64
	for family, w := range c.Pipeline.FamilyWeights {
		if w < 0 {
			return fmt.Errorf("family weight for %s must be non-negative", family)
		}
		weightSum += w
	}
	if weightSum > 1+1e-9 {
		return fmt.Errorf("family weights must sum to <= 1, got %.3f", weightSum)
	}
	return nil
}
