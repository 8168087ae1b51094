package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV bar; Timestamp is the bar open time in UTC.
type Candle struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// MarketSnapshot is everything one cycle reads from the outside world.
type MarketSnapshot struct {
	Symbol    string    `json:"symbol"`
	Primary   []Candle  `json:"primary"`
	Daily     []Candle  `json:"daily"`
	Sentiment Sentiment `json:"sentiment"`
}

// Latest returns the most recent primary candle.
func (s MarketSnapshot) Latest() (Candle, bool) {
	if len(s.Primary) == 0 {
		return Candle{}, false
	}
	return s.Primary[len(s.Primary)-1], true
}
