package risk

import (
	"fmt"
	"time"

	"github.com/irfndi/regimebot/internal/config"
	"github.com/irfndi/regimebot/internal/models"
	"github.com/shopspring/decimal"
)

// Rejection reasons.
const (
	ReasonKillSwitch        = "daily loss kill-switch active"
	ReasonNotLong           = "routed intent is not long"
	ReasonPositionOpen      = "position already open"
	ReasonDrawdown          = "max drawdown exceeded"
	ReasonLossStreak        = "paused after consecutive losses"
	ReasonCooldown          = "cooling down after stop-loss"
	ReasonATRIndeterminate  = "atr indeterminate or zero"
	ReasonStopTooTight      = "stop distance below minimum"
	ReasonInvalidPrice      = "invalid entry price"
	ReasonBelowMinimumTrade = "notional below minimum trade value"
	ReasonInvalidStop       = "stop price not positive"
)

// Input is everything one sizing decision depends on.
type Input struct {
	Intent      models.RoutedIntent
	Equity      models.Equity
	Position    *models.Position
	Features    models.FeatureSet
	Price       decimal.Decimal
	Stats       models.TradeStats
	Now         time.Time
	BarInterval time.Duration
}

// Manager sizes long entries and vetoes trades that break capital rules.
type Manager struct {
	cfg      config.RiskConfig
	feeRate  decimal.Decimal
	slippage decimal.Decimal
}

// NewManager sizes against the broker's expected fill, so the filled
// notional stays inside the caps once slippage and the entry fee apply.
func NewManager(cfg config.RiskConfig, broker config.BrokerConfig) *Manager {
	return &Manager{
		cfg:      cfg,
		feeRate:  decimal.NewFromFloat(broker.FeeRate),
		slippage: decimal.NewFromFloat(broker.SlippagePct),
	}
}

// RiskPerTrade returns the equity fraction risked by one entry from source.
func (m *Manager) RiskPerTrade(source models.StrategyID) float64 {
	if pct, ok := m.cfg.StrategyRiskPct[string(source)]; ok && pct > 0 {
		return pct
	}
	return m.cfg.RiskPerTradePct
}

// KillSwitchActive reports whether today's realized loss reached the limit
// relative to the equity the day started with.
func (m *Manager) KillSwitchActive(equity models.Equity, stats models.TradeStats) bool {
	if !stats.DailyRealizedPnL.IsNegative() {
		return false
	}
	loss := stats.DailyRealizedPnL.Neg()
	dayStart := equity.TotalEquity.Add(loss)
	if !dayStart.IsPositive() {
		return true
	}
	return loss.GreaterThanOrEqual(dayStart.Mul(decimal.NewFromFloat(m.cfg.DailyLossKillSwitchPct)))
}

// Evaluate applies the rules in priority order and sizes the position.
func (m *Manager) Evaluate(in Input) models.RiskDecision {
	if m.KillSwitchActive(in.Equity, in.Stats) {
		return models.Rejected(ReasonKillSwitch)
	}
	if !in.Intent.IsLong() {
		return models.Rejected(ReasonNotLong)
	}
	if in.Position != nil && m.cfg.MaxOpenPositions <= 1 {
		return models.Rejected(ReasonPositionOpen)
	}

	floor := in.Equity.HighWaterMark.Mul(decimal.NewFromFloat(1 - m.cfg.MaxDrawdownPct))
	if in.Equity.TotalEquity.LessThan(floor) {
		return models.Rejected(ReasonDrawdown)
	}

	if m.cfg.MaxConsecutiveLosses > 0 && in.Stats.ConsecutiveLosses >= m.cfg.MaxConsecutiveLosses &&
		in.Now.Sub(in.Stats.LastLossAt) < m.cfg.LossPause {
		return models.Rejected(ReasonLossStreak)
	}

	if m.cfg.CooldownBars > 0 && !in.Stats.LastStopAt.IsZero() &&
		in.Now.Sub(in.Stats.LastStopAt) < time.Duration(m.cfg.CooldownBars)*in.BarInterval {
		return models.Rejected(ReasonCooldown)
	}

	if !in.Price.IsPositive() {
		return models.Rejected(ReasonInvalidPrice)
	}
	if !in.Features.Determinate(models.FeatureATR) || in.Features.Get(models.FeatureATR) <= 0 {
		return models.Rejected(ReasonATRIndeterminate)
	}

	stopDistance := decimal.NewFromFloat(in.Features.Get(models.FeatureATR) * m.cfg.StopMultiplier)
	minDistance := in.Price.Mul(decimal.NewFromFloat(m.cfg.MinStopDistancePct))
	if !stopDistance.IsPositive() || stopDistance.LessThan(minDistance) {
		return models.Rejected(ReasonStopTooTight)
	}
	stopPrice := in.Price.Sub(stopDistance)
	if !stopPrice.IsPositive() {
		return models.Rejected(ReasonInvalidStop)
	}

	fillPrice := in.Price.Mul(decimal.NewFromInt(1).Add(m.slippage))
	quantity, notional := m.size(in, stopDistance, fillPrice)
	if !quantity.IsPositive() || notional.LessThan(decimal.NewFromFloat(m.cfg.MinTradeValue)) {
		return models.Rejected(fmt.Sprintf("%s (%s < %v)", ReasonBelowMinimumTrade, notional.StringFixed(2), m.cfg.MinTradeValue))
	}

	return models.RiskDecision{
		Approved:  true,
		Quantity:  quantity,
		Notional:  notional,
		Price:     in.Price,
		StopPrice: stopPrice,
	}
}

// size returns the risk-based quantity capped by max position and by cash
// net of the entry fee, both measured at the expected fill price. The result
// is truncated so rounding can never push the filled notional over a cap.
func (m *Manager) size(in Input, stopDistance, fillPrice decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	total := in.Equity.TotalEquity
	riskAmount := total.Mul(decimal.NewFromFloat(m.RiskPerTrade(in.Intent.Source)))
	quantity := riskAmount.Div(stopDistance)

	feeFactor := decimal.NewFromInt(1).Add(m.feeRate)
	capNotional := total.Mul(decimal.NewFromFloat(m.cfg.MaxPositionPct))
	capNotional = decimal.Min(capNotional, in.Equity.Cash.Div(feeFactor))

	quantity = decimal.Min(quantity, capNotional.Div(fillPrice))
	quantity = quantity.Truncate(m.cfg.QuantityPrecision)

	step := decimal.New(1, -m.cfg.QuantityPrecision)
	exceeds := func(q decimal.Decimal) bool {
		notional := q.Mul(fillPrice)
		return notional.GreaterThan(capNotional) || notional.Mul(feeFactor).GreaterThan(in.Equity.Cash)
	}
	for quantity.IsPositive() && exceeds(quantity) {
		quantity = quantity.Sub(step)
	}
	if quantity.IsNegative() {
		quantity = decimal.Zero
	}
	return quantity, quantity.Mul(fillPrice)
}
