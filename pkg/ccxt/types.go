package ccxt

import (
	"time"

	"github.com/shopspring/decimal"
)

// ErrorResponse represents an error response from the CCXT service
type ErrorResponse struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse represents the response from /health
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// OHLCV represents OHLCV (candlestick) data
type OHLCV struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// OHLCVResponse represents the response from /api/ohlcv/{exchange}/{symbol}
type OHLCVResponse struct {
	Exchange  string    `json:"exchange"`
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	OHLCV     []OHLCV   `json:"ohlcv"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}
