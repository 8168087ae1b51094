package broker

import (
	"context"
	"errors"
	"time"

	"github.com/irfndi/regimebot/internal/models"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientCash = errors.New("insufficient cash for order")
	ErrNoPosition       = errors.New("no open position to sell")
	ErrPositionOpen     = errors.New("position already open")
	ErrInvalidOrder     = errors.New("invalid order")
)

// Order is a market order for the configured symbol.
type Order struct {
	Symbol    string
	Side      models.Side
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	StopPrice decimal.Decimal
	Reason    string
	Strategy  models.StrategyID
	CandleAt  time.Time
}

// Broker executes orders. The paper broker is the only implementation; a live
// venue would satisfy the same interface.
type Broker interface {
	Submit(ctx context.Context, order Order) (*models.Fill, error)
}
