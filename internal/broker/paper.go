package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/irfndi/regimebot/internal/config"
	"github.com/irfndi/regimebot/internal/ledger"
	"github.com/irfndi/regimebot/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Transition kinds.
const (
	TransitionNone     = "none"
	TransitionEntry    = "entry"
	TransitionStopLoss = "stop_loss"
	TransitionExit     = "exit"
)

// StepInput is the routed outcome of one cycle.
type StepInput struct {
	Candle   models.Candle
	Intent   models.RoutedIntent
	Decision models.RiskDecision
}

// Transition describes what Step did to the ledger.
type Transition struct {
	Kind string
	Fill *models.Fill
	From models.Intent
	To   models.Intent
}

// PaperBroker simulates execution against a ledger state loaded for this
// cycle. It mutates only its own clone; the caller commits State().
type PaperBroker struct {
	state    *ledger.State
	feeRate  decimal.Decimal
	slippage decimal.Decimal
	now      func() time.Time
	logger   *logrus.Logger
}

func NewPaperBroker(state *ledger.State, cfg config.BrokerConfig, now func() time.Time, logger *logrus.Logger) *PaperBroker {
	return &PaperBroker{
		state:    state.Clone(),
		feeRate:  decimal.NewFromFloat(cfg.FeeRate),
		slippage: decimal.NewFromFloat(cfg.SlippagePct),
		now:      now,
		logger:   logger,
	}
}

// State returns the mutated state to commit.
func (b *PaperBroker) State() *ledger.State {
	return b.state
}

// Step runs the FLAT/LONG state machine for one candle.
func (b *PaperBroker) Step(ctx context.Context, in StepInput) (*Transition, error) {
	pos := b.state.Position

	if pos != nil {
		if stopped(pos, in.Candle) {
			return b.fillStop(ctx, in.Candle)
		}

		if in.Intent.Intent == models.IntentFlat {
			fill, err := b.Submit(ctx, Order{
				Symbol: pos.Symbol, Side: models.SideSell, Quantity: pos.Quantity,
				Price: in.Candle.Close.Mul(decimal.NewFromInt(1).Sub(b.slippage)), Reason: models.FillReasonExit,
				CandleAt: in.Candle.Timestamp,
			})
			if err != nil {
				return nil, err
			}
			return &Transition{Kind: TransitionExit, Fill: fill, From: models.IntentLong, To: models.IntentFlat}, nil
		}

		b.markToMarket(in.Candle.Close)
		return &Transition{Kind: TransitionNone, From: models.IntentLong, To: models.IntentLong}, nil
	}

	if in.Intent.IsLong() && in.Decision.Approved {
		fill, err := b.Submit(ctx, Order{
			Symbol:    b.state.Symbol,
			Side:      models.SideBuy,
			Quantity:  in.Decision.Quantity,
			Price:     in.Candle.Close.Mul(decimal.NewFromInt(1).Add(b.slippage)),
			StopPrice: in.Decision.StopPrice,
			Reason:    models.FillReasonEntry,
			Strategy:  in.Intent.Source,
			CandleAt:  in.Candle.Timestamp,
		})
		if err != nil {
			return nil, err
		}
		b.markToMarket(in.Candle.Close)
		return &Transition{Kind: TransitionEntry, Fill: fill, From: models.IntentFlat, To: models.IntentLong}, nil
	}

	return &Transition{Kind: TransitionNone, From: models.IntentFlat, To: models.IntentFlat}, nil
}

// CatchUpStops replays the stop against closed bars no cycle has examined
// yet: bars after both the entry candle and processedUntil. The first bar
// that breached the stop closes the position.
func (b *PaperBroker) CatchUpStops(ctx context.Context, bars []models.Candle, processedUntil time.Time) (*Transition, error) {
	pos := b.state.Position
	if pos == nil {
		return nil, nil
	}
	for _, bar := range bars {
		if !bar.Timestamp.After(processedUntil) {
			continue
		}
		if stopped(pos, bar) {
			b.logger.WithFields(logrus.Fields{
				"candle_at": bar.Timestamp,
				"low":       bar.Low.String(),
				"stop":      pos.StopPrice.String(),
			}).Warn("Stop breached on a bar no cycle processed")
			return b.fillStop(ctx, bar)
		}
	}
	return nil, nil
}

func stopped(pos *models.Position, c models.Candle) bool {
	return c.Timestamp.After(pos.EntryCandleAt) && c.Low.LessThanOrEqual(pos.StopPrice)
}

func (b *PaperBroker) fillStop(ctx context.Context, c models.Candle) (*Transition, error) {
	pos := b.state.Position
	price := pos.StopPrice
	if c.Open.LessThan(pos.StopPrice) {
		// gapped through the stop
		price = c.Open
	}
	fill, err := b.Submit(ctx, Order{
		Symbol: pos.Symbol, Side: models.SideSell, Quantity: pos.Quantity,
		Price: price, Reason: models.FillReasonStopLoss, CandleAt: c.Timestamp,
	})
	if err != nil {
		return nil, err
	}
	return &Transition{Kind: TransitionStopLoss, Fill: fill, From: models.IntentLong, To: models.IntentFlat}, nil
}

// Submit fills an order immediately at its price plus fees.
func (b *PaperBroker) Submit(ctx context.Context, order Order) (*models.Fill, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !order.Quantity.IsPositive() || !order.Price.IsPositive() {
		return nil, fmt.Errorf("%w: quantity %s price %s", ErrInvalidOrder, order.Quantity, order.Price)
	}

	switch order.Side {
	case models.SideBuy:
		return b.buy(order)
	case models.SideSell:
		return b.sell(order)
	}
	return nil, fmt.Errorf("%w: side %q", ErrInvalidOrder, order.Side)
}

func (b *PaperBroker) buy(order Order) (*models.Fill, error) {
	if b.state.Position != nil {
		return nil, ErrPositionOpen
	}
	notional := order.Quantity.Mul(order.Price)
	fee := notional.Mul(b.feeRate)
	if notional.Add(fee).GreaterThan(b.state.Equity.Cash) {
		return nil, fmt.Errorf("%w: need %s, have %s", ErrInsufficientCash, notional.Add(fee), b.state.Equity.Cash)
	}
	if !order.StopPrice.IsPositive() || order.StopPrice.GreaterThanOrEqual(order.Price) {
		return nil, fmt.Errorf("%w: stop %s not below fill price %s", ErrInvalidOrder, order.StopPrice, order.Price)
	}

	now := b.now().UTC()
	fill := models.Fill{
		ID:          uuid.NewString(),
		Timestamp:   now,
		Symbol:      order.Symbol,
		Side:        models.SideBuy,
		Quantity:    order.Quantity,
		Price:       order.Price,
		Fee:         fee,
		RealizedPnL: decimal.Zero,
		Reason:      order.Reason,
	}

	b.state.Equity.Cash = b.state.Equity.Cash.Sub(notional).Sub(fee)
	b.state.Position = &models.Position{
		Symbol:        order.Symbol,
		EntryPrice:    order.Price,
		Quantity:      order.Quantity,
		StopPrice:     order.StopPrice,
		OpenedAt:      now,
		EntryCandleAt: order.CandleAt,
		Strategy:      order.Strategy,
		EntryFee:      fee,
		MarkPrice:     order.Price,
	}
	b.state.Fills = append(b.state.Fills, fill)
	b.refreshEquity()

	b.logger.WithFields(logrus.Fields{
		"symbol":   fill.Symbol,
		"quantity": fill.Quantity.String(),
		"price":    fill.Price.String(),
		"fee":      fill.Fee.String(),
		"stop":     order.StopPrice.String(),
	}).Info("Paper buy filled")
	return &fill, nil
}

func (b *PaperBroker) sell(order Order) (*models.Fill, error) {
	pos := b.state.Position
	if pos == nil {
		return nil, ErrNoPosition
	}
	if !order.Quantity.Equal(pos.Quantity) {
		return nil, fmt.Errorf("%w: partial exits unsupported (%s of %s)", ErrInvalidOrder, order.Quantity, pos.Quantity)
	}

	proceeds := order.Quantity.Mul(order.Price)
	fee := proceeds.Mul(b.feeRate)
	pnl := order.Price.Sub(pos.EntryPrice).Mul(order.Quantity).Sub(pos.EntryFee).Sub(fee)

	fill := models.Fill{
		ID:          uuid.NewString(),
		Timestamp:   b.now().UTC(),
		Symbol:      order.Symbol,
		Side:        models.SideSell,
		Quantity:    order.Quantity,
		Price:       order.Price,
		Fee:         fee,
		RealizedPnL: pnl,
		Reason:      order.Reason,
	}

	b.state.Equity.Cash = b.state.Equity.Cash.Add(proceeds).Sub(fee)
	b.state.Equity.RealizedPnL = b.state.Equity.RealizedPnL.Add(pnl)
	b.state.Position = nil
	b.state.Fills = append(b.state.Fills, fill)
	b.refreshEquity()

	b.logger.WithFields(logrus.Fields{
		"symbol":       fill.Symbol,
		"reason":       fill.Reason,
		"price":        fill.Price.String(),
		"realized_pnl": pnl.String(),
	}).Info("Paper sell filled")
	return &fill, nil
}

func (b *PaperBroker) markToMarket(price decimal.Decimal) {
	if b.state.Position == nil || !price.IsPositive() {
		return
	}
	b.state.Position.MarkPrice = price
	b.refreshEquity()
}

// refreshEquity restores total = cash + position value and lifts the high water mark.
func (b *PaperBroker) refreshEquity() {
	eq := &b.state.Equity
	pos := b.state.Position
	if pos == nil {
		eq.UnrealizedPnL = decimal.Zero
	} else {
		eq.UnrealizedPnL = pos.MarkPrice.Sub(pos.EntryPrice).Mul(pos.Quantity).Sub(pos.EntryFee)
	}
	eq.TotalEquity = eq.Cash.Add(pos.MarketValue())
	if eq.TotalEquity.GreaterThan(eq.HighWaterMark) {
		eq.HighWaterMark = eq.TotalEquity
	}
}
