package risk

import (
	"math"
	"testing"
	"time"

	"github.com/irfndi/regimebot/internal/config"
	"github.com/irfndi/regimebot/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func newTestManager(cfg config.RiskConfig) *Manager {
	return NewManager(cfg, config.Default().Broker)
}

func longIntent() models.RoutedIntent {
	return models.RoutedIntent{Intent: models.IntentLong, Regime: models.RegimeTrend, Source: models.StrategyTrendFollowing}
}

func atrFeatures(atr float64) models.FeatureSet {
	return models.NewFeatureSet(0, now, map[string]float64{models.FeatureATR: atr})
}

func baseInput(equity float64, atr float64, price float64) Input {
	return Input{
		Intent:      longIntent(),
		Equity:      models.NewEquity(decimal.NewFromFloat(equity)),
		Features:    atrFeatures(atr),
		Price:       decimal.NewFromFloat(price),
		Stats:       models.TradeStats{Day: now.Truncate(24 * time.Hour), DailyRealizedPnL: decimal.Zero},
		Now:         now,
		BarInterval: 4 * time.Hour,
	}
}

func TestManager_ScenarioA(t *testing.T) {
	m := newTestManager(config.Default().Risk)

	decision := m.Evaluate(baseInput(10000, 100, 1000))

	require.True(t, decision.Approved, decision.Reason)
	assert.Equal(t, "0.5", decision.Quantity.String())
	// notional is measured at the expected fill, close plus 0.05% slippage
	assert.Equal(t, "500.25", decision.Notional.String())
	assert.Equal(t, "800", decision.StopPrice.String())
	assert.Equal(t, "1000", decision.Price.String())
}

func TestManager_CappedByMaxPosition(t *testing.T) {
	m := newTestManager(config.Default().Risk)

	// 1% of 10k over a stop distance of 2 wants 50 units = 50k notional
	decision := m.Evaluate(baseInput(10000, 1, 1000))

	require.True(t, decision.Approved, decision.Reason)
	assert.Equal(t, "2.49875", decision.Quantity.String())
	assert.Equal(t, "2499.999375", decision.Notional.String())
}

func TestManager_CashCapCoversEntryFee(t *testing.T) {
	cfg := config.Default().Risk
	cfg.MaxPositionPct = 1
	m := NewManager(cfg, config.BrokerConfig{FeeRate: 0.001, SlippagePct: 0.001})

	in := baseInput(10000, 1, 1000)
	in.Equity.Cash = decimal.NewFromInt(3000)

	decision := m.Evaluate(in)
	require.True(t, decision.Approved, decision.Reason)
	cost := decision.Notional.Mul(decimal.NewFromFloat(1.001))
	assert.True(t, cost.LessThanOrEqual(in.Equity.Cash), "cost %s > cash %s", cost, in.Equity.Cash)
	assert.True(t, decision.Notional.GreaterThan(decimal.NewFromInt(2990)))
}

func TestManager_RiskPerStrategy(t *testing.T) {
	cfg := config.Default().Risk
	cfg.StrategyRiskPct = map[string]float64{
		string(models.StrategyTrendFollowing): 0.004,
		string(models.StrategyMeanReversion):  0.005,
	}
	m := NewManager(cfg, config.BrokerConfig{})

	tests := []struct {
		source models.StrategyID
		want   string
	}{
		// risk dollars over a stop distance of 200
		{models.StrategyTrendFollowing, "0.2"},
		{models.StrategyMeanReversion, "0.25"},
		{models.StrategyBollingerBreakout, "0.5"},
	}
	for _, tt := range tests {
		t.Run(string(tt.source), func(t *testing.T) {
			in := baseInput(10000, 100, 1000)
			in.Intent.Source = tt.source
			decision := m.Evaluate(in)
			require.True(t, decision.Approved, decision.Reason)
			assert.Equal(t, tt.want, decision.Quantity.String())
		})
	}
}

func TestManager_NotionalNeverExceedsCap(t *testing.T) {
	cfg := config.Default().Risk
	m := newTestManager(cfg)

	atrs := []float64{1e-12, 1e-9, 1e-6, 0.001, 0.01, 0.5, 1, 3.3333, 17, 100, 999, 1e6}
	equities := []float64{10, 333.33, 10000, 123456.789, 1e9}
	prices := []float64{0.0001, 0.37, 1000, 65432.1}

	for _, atr := range atrs {
		for _, equity := range equities {
			for _, price := range prices {
				in := baseInput(equity, atr, price)
				decision := m.Evaluate(in)
				if !decision.Approved {
					continue
				}
				cap := in.Equity.TotalEquity.Mul(decimal.NewFromFloat(cfg.MaxPositionPct))
				assert.True(t, decision.Notional.LessThanOrEqual(cap),
					"atr=%v equity=%v price=%v notional=%s cap=%s", atr, equity, price, decision.Notional, cap)
				assert.True(t, decision.StopPrice.IsPositive())
				assert.True(t, decision.StopPrice.LessThan(in.Price))
			}
		}
	}
}

func TestManager_ATRTowardZeroRejects(t *testing.T) {
	m := newTestManager(config.Default().Risk)

	for _, atr := range []float64{0, 1e-300, 1e-12, 1e-6, 0.0004, math.NaN(), math.Inf(1), -5} {
		decision := m.Evaluate(baseInput(10000, atr, 1000))
		assert.False(t, decision.Approved, "atr %v", atr)
	}
}

func TestManager_Rejections(t *testing.T) {
	cfg := config.Default().Risk

	tests := []struct {
		name   string
		mutate func(*Input)
		reason string
	}{
		{"flat intent", func(in *Input) { in.Intent.Intent = models.IntentFlat }, ReasonNotLong},
		{"position open", func(in *Input) {
			in.Position = &models.Position{Quantity: decimal.NewFromInt(1), MarkPrice: decimal.NewFromInt(1000)}
		}, ReasonPositionOpen},
		{"drawdown", func(in *Input) {
			in.Equity.TotalEquity = decimal.NewFromInt(7900)
			in.Equity.Cash = decimal.NewFromInt(7900)
		}, ReasonDrawdown},
		{"loss streak", func(in *Input) {
			in.Stats.ConsecutiveLosses = 3
			in.Stats.LastLossAt = now.Add(-2 * time.Hour)
		}, ReasonLossStreak},
		{"cooldown", func(in *Input) { in.Stats.LastStopAt = now.Add(-4 * time.Hour) }, ReasonCooldown},
		{"zero price", func(in *Input) { in.Price = decimal.Zero }, ReasonInvalidPrice},
		{"atr nan", func(in *Input) { in.Features = atrFeatures(math.NaN()) }, ReasonATRIndeterminate},
		{"stop below zero", func(in *Input) { in.Features = atrFeatures(600) }, ReasonInvalidStop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := baseInput(10000, 100, 1000)
			tt.mutate(&in)
			decision := newTestManager(cfg).Evaluate(in)
			assert.False(t, decision.Approved)
			assert.Equal(t, tt.reason, decision.Reason)
		})
	}
}

func TestManager_PausesExpire(t *testing.T) {
	m := newTestManager(config.Default().Risk)

	in := baseInput(10000, 100, 1000)
	in.Stats.ConsecutiveLosses = 5
	in.Stats.LastLossAt = now.Add(-25 * time.Hour)
	in.Stats.LastStopAt = now.Add(-9 * time.Hour)

	decision := m.Evaluate(in)
	assert.True(t, decision.Approved, decision.Reason)
}

func TestManager_BelowMinimumTrade(t *testing.T) {
	m := newTestManager(config.Default().Risk)

	// 1% of 30 = 0.3 risk over a stop distance of 200 -> 0.0015 units = 1.5 notional
	decision := m.Evaluate(baseInput(30, 100, 1000))
	assert.False(t, decision.Approved)
	assert.Contains(t, decision.Reason, ReasonBelowMinimumTrade)
}

func TestManager_QuantityPrecision(t *testing.T) {
	m := newTestManager(config.Default().Risk)

	decision := m.Evaluate(baseInput(10000, 33.3333, 1000))
	require.True(t, decision.Approved, decision.Reason)
	assert.LessOrEqual(t, int(-decision.Quantity.Exponent()), 6)
	assert.Equal(t, "1.500001", decision.Quantity.String())
}

func TestManager_KillSwitchHoldsForTheDay(t *testing.T) {
	m := newTestManager(config.Default().Risk)

	equity := models.NewEquity(decimal.NewFromInt(10000))
	equity.TotalEquity = decimal.NewFromInt(9400)
	equity.Cash = decimal.NewFromInt(9400)
	stats := models.TradeStats{Day: now.Truncate(24 * time.Hour), DailyRealizedPnL: decimal.NewFromInt(-600)}

	require.True(t, m.KillSwitchActive(equity, stats))

	for _, atr := range []float64{1, 50, 100, 250} {
		for _, price := range []float64{500, 1000, 2000} {
			for hour := 0; hour < 24; hour += 4 {
				in := baseInput(10000, atr, price)
				in.Equity = equity
				in.Stats = stats
				in.Now = now.Truncate(24 * time.Hour).Add(time.Duration(hour) * time.Hour)
				decision := m.Evaluate(in)
				assert.False(t, decision.Approved)
				assert.Equal(t, ReasonKillSwitch, decision.Reason)
			}
		}
	}

	// a smaller loss leaves the switch off
	stats.DailyRealizedPnL = decimal.NewFromInt(-100)
	equity.TotalEquity = decimal.NewFromInt(9900)
	assert.False(t, m.KillSwitchActive(equity, stats))

	// gains never trip it
	stats.DailyRealizedPnL = decimal.NewFromInt(700)
	assert.False(t, m.KillSwitchActive(equity, stats))
}

func TestManager_KillSwitchPrecedesFlatIntent(t *testing.T) {
	m := newTestManager(config.Default().Risk)
	in := baseInput(10000, 100, 1000)
	in.Intent.Intent = models.IntentFlat
	in.Stats.DailyRealizedPnL = decimal.NewFromInt(-1000)
	in.Equity.TotalEquity = decimal.NewFromInt(9000)

	assert.Equal(t, ReasonKillSwitch, m.Evaluate(in).Reason)
}
