package models

// Regime labels the market state for one evaluation.
type Regime string

const (
	RegimeTrend Regime = "TREND"
	RegimeRange Regime = "RANGE"
)

// Intent is the direction proposed before sizing.
type Intent string

const (
	IntentLong Intent = "LONG"
	IntentFlat Intent = "FLAT"
)

// StrategyID identifies a signal source.
type StrategyID string

const (
	StrategyTrendFollowing    StrategyID = "trend_following"
	StrategyMeanReversion     StrategyID = "mean_reversion"
	StrategyBollingerBreakout StrategyID = "bollinger_breakout"
)

// Signal is one strategy's proposal for the current candle.
type Signal struct {
	Source        StrategyID `json:"source"`
	Intent        Intent     `json:"intent"`
	Strength      float64    `json:"strength"`
	Indeterminate bool       `json:"indeterminate"`
	StopHint      float64    `json:"stop_hint,omitempty"`
	TargetHint    float64    `json:"target_hint,omitempty"`
	Reason        string     `json:"reason"`
}

// RoutedIntent is the single decision the router hands to risk and execution.
type RoutedIntent struct {
	Intent    Intent     `json:"intent"`
	Regime    Regime     `json:"regime"`
	Source    StrategyID `json:"source,omitempty"`
	Rationale string     `json:"rationale"`
}

// IsLong reports whether the routed intent asks for a long position.
func (r RoutedIntent) IsLong() bool {
	return r.Intent == IntentLong
}
