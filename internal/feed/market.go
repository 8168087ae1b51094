package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/irfndi/regimebot/internal/config"
	"github.com/irfndi/regimebot/internal/features"
	"github.com/irfndi/regimebot/internal/models"
	"github.com/irfndi/regimebot/pkg/ccxt"
	"github.com/sirupsen/logrus"
)

// CandleSource fetches OHLCV bars for one symbol and timeframe.
type CandleSource interface {
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error)
}

// OHLCVClient is the subset of the CCXT client the feed needs.
type OHLCVClient interface {
	GetOHLCV(ctx context.Context, exchange, symbol, timeframe string, limit int) (*ccxt.OHLCVResponse, error)
}

// CCXTCandleSource reads candles from the CCXT HTTP bridge with a bounded
// per-attempt timeout and a retry policy.
type CCXTCandleSource struct {
	client   OHLCVClient
	exchange string
	timeout  time.Duration
	policy   RetryPolicy
	logger   *logrus.Logger
}

// NewCCXTCandleSource creates a candle source for one exchange.
func NewCCXTCandleSource(client OHLCVClient, exchange string, cfg config.FeedConfig, logger *logrus.Logger) *CCXTCandleSource {
	policy := DefaultRetryPolicy(cfg.RetryDelay)
	policy.MaxRetries = cfg.MaxRetries
	policy.Retryable = retryableHTTP
	return &CCXTCandleSource{
		client:   client,
		exchange: exchange,
		timeout:  cfg.Timeout,
		policy:   policy,
		logger:   logger,
	}
}

// FetchCandles returns cleaned, ascending candles. Failures after retries
// are reported as *ExternalFeedError.
func (s *CCXTCandleSource) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	var resp *ccxt.OHLCVResponse
	op := fmt.Sprintf("ohlcv %s %s", symbol, timeframe)

	attempts, err := ExecuteWithRetry(ctx, s.logger, s.policy, op, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		r, err := s.client.GetOHLCV(attemptCtx, s.exchange, symbol, timeframe, limit)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, &ExternalFeedError{Source: "ccxt", Op: op, Attempts: attempts, Err: err}
	}

	candles := make([]models.Candle, 0, len(resp.OHLCV))
	for _, bar := range resp.OHLCV {
		candles = append(candles, models.Candle{
			Timestamp: bar.Timestamp.UTC(),
			Open:      bar.Open,
			High:      bar.High,
			Low:       bar.Low,
			Close:     bar.Close,
			Volume:    bar.Volume,
		})
	}
	return features.Normalize(candles), nil
}

// MarketFeed assembles the per-cycle snapshot from candle and sentiment sources.
type MarketFeed struct {
	candles   CandleSource
	sentiment SentimentSource
	trading   config.TradingConfig
}

// NewMarketFeed wires the sources for the configured symbol.
func NewMarketFeed(candles CandleSource, sentiment SentimentSource, trading config.TradingConfig) *MarketFeed {
	return &MarketFeed{candles: candles, sentiment: sentiment, trading: trading}
}

// Snapshot fetches primary and daily candles plus the current sentiment.
func (f *MarketFeed) Snapshot(ctx context.Context) (*models.MarketSnapshot, error) {
	primary, err := f.candles.FetchCandles(ctx, f.trading.Symbol, f.trading.PrimaryTimeframe, f.trading.PrimaryLimit)
	if err != nil {
		return nil, err
	}
	daily, err := f.candles.FetchCandles(ctx, f.trading.Symbol, f.trading.DailyTimeframe, f.trading.DailyLimit)
	if err != nil {
		return nil, err
	}
	sentiment, err := f.sentiment.FetchSentiment(ctx)
	if err != nil {
		return nil, err
	}

	return &models.MarketSnapshot{
		Symbol:    f.trading.Symbol,
		Primary:   primary,
		Daily:     daily,
		Sentiment: sentiment,
	}, nil
}
