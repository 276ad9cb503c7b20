package strategy

import "strings"

// Params expresses tunable knobs required by evaluator constructors.
type Params struct {
	RSIPeriod              int
	RSIOversold            float64
	RSIOverbought          float64
	BollingerPeriod        int
	BollingerWidth         float64
	FastPeriod             int
	SlowPeriod             int
	SignalPeriod           int
	ZScoreWindow           int
	ZScoreEntry            float64
	LiquidationMinNotional float64
	VolumeSpikeRatio       float64
	VolumeBaseline         int
	StopLossPct            float64
	TakeProfitPct          float64
}

// Build returns evaluator implementations matching the configured names.
// Unknown names are skipped so a config typo disables one evaluator rather
// than the whole set.
func Build(names []string, params Params) []Evaluator {
	exits := exitLevels{StopLossPct: params.StopLossPct, TakeProfitPct: params.TakeProfitPct}
	var out []Evaluator
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "rsi", "rsi_reversal":
			out = append(out, NewRSIReversal(params.RSIPeriod, params.RSIOversold, params.RSIOverbought, exits))
		case "bollinger", "bollinger_breach":
			out = append(out, NewBollingerBreach(params.BollingerPeriod, params.BollingerWidth, exits))
		case "sma_cross", "crossover":
			out = append(out, NewSMACross(params.FastPeriod, params.SlowPeriod, exits))
		case "macd", "macd_cross":
			out = append(out, NewMACDCross(params.FastPeriod, params.SlowPeriod, params.SignalPeriod, exits))
		case "divergence", "histogram_divergence":
			out = append(out, NewHistogramDivergence(params.FastPeriod, params.SlowPeriod, params.SignalPeriod, exits))
		case "zscore", "zscore_reversion":
			out = append(out, NewZScoreReversion(params.ZScoreWindow, params.ZScoreEntry, exits))
		case "liquidation", "liquidation_rebound":
			out = append(out, NewLiquidationRebound(params.LiquidationMinNotional, exits))
		case "volume_spike":
			out = append(out, NewVolumeSpike(params.VolumeSpikeRatio, params.VolumeBaseline, exits))
		}
	}
	return out
}
