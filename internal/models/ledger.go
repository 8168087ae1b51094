package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side of a simulated execution.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Fill reasons.
const (
	FillReasonEntry    = "entry"
	FillReasonStopLoss = "stop_loss"
	FillReasonExit     = "signal_exit"
)

// RiskDecision is the sizing outcome for a routed intent.
type RiskDecision struct {
	Approved  bool            `json:"approved"`
	Quantity  decimal.Decimal `json:"quantity"`
	Notional  decimal.Decimal `json:"notional"`
	Price     decimal.Decimal `json:"price"`
	StopPrice decimal.Decimal `json:"stop_price"`
	Reason    string          `json:"reason,omitempty"`
}

// Rejected builds a non-approved decision.
func Rejected(reason string) RiskDecision {
	return RiskDecision{Approved: false, Reason: reason}
}

// Position is the single open long position.
type Position struct {
	Symbol        string          `json:"symbol"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	Quantity      decimal.Decimal `json:"quantity"`
	StopPrice     decimal.Decimal `json:"stop_price"`
	OpenedAt      time.Time       `json:"opened_at"`
	EntryCandleAt time.Time       `json:"entry_candle_at"`
	Strategy      StrategyID      `json:"strategy"`
	EntryFee      decimal.Decimal `json:"entry_fee"`
	MarkPrice     decimal.Decimal `json:"mark_price"`
}

// MarketValue is quantity valued at the last mark price.
func (p *Position) MarketValue() decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	return p.Quantity.Mul(p.MarkPrice)
}

// Equity is the durable account snapshot.
type Equity struct {
	Cash          decimal.Decimal `json:"cash"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	TotalEquity   decimal.Decimal `json:"total_equity"`
	HighWaterMark decimal.Decimal `json:"high_water_mark"`
}

// NewEquity returns a flat account holding only cash.
func NewEquity(startingBalance decimal.Decimal) Equity {
	return Equity{
		Cash:          startingBalance,
		RealizedPnL:   decimal.Zero,
		UnrealizedPnL: decimal.Zero,
		TotalEquity:   startingBalance,
		HighWaterMark: startingBalance,
	}
}

// Drawdown returns the fractional decline from the high water mark.
func (e Equity) Drawdown() decimal.Decimal {
	if !e.HighWaterMark.IsPositive() {
		return decimal.Zero
	}
	return e.HighWaterMark.Sub(e.TotalEquity).Div(e.HighWaterMark)
}

// Fill is an immutable simulated execution.
type Fill struct {
	ID          string          `json:"id" db:"id"`
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
	Symbol      string          `json:"symbol" db:"symbol"`
	Side        Side            `json:"side" db:"side"`
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Fee         decimal.Decimal `json:"fee" db:"fee"`
	RealizedPnL decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
	Reason      string          `json:"reason" db:"reason"`
}

// Notional is quantity times price.
func (f Fill) Notional() decimal.Decimal {
	return f.Quantity.Mul(f.Price)
}

// TradeStats summarizes fill history for the risk rules.
type TradeStats struct {
	Day               time.Time       `json:"day"`
	DailyRealizedPnL  decimal.Decimal `json:"daily_realized_pnl"`
	ConsecutiveLosses int             `json:"consecutive_losses"`
	LastLossAt        time.Time       `json:"last_loss_at"`
	LastStopAt        time.Time       `json:"last_stop_at"`
	ClosedTrades      int             `json:"closed_trades"`
}

// DailySummary aggregates the trades closed on one UTC day.
type DailySummary struct {
	Day          time.Time       `json:"day"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"`
	ClosedTrades int             `json:"closed_trades"`
	Wins         int             `json:"wins"`
}

// WinRate is the fraction of closed trades with positive realized PnL.
func (s DailySummary) WinRate() decimal.Decimal {
	if s.ClosedTrades == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(s.Wins)).Div(decimal.NewFromInt(int64(s.ClosedTrades)))
}
