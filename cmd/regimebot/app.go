package main

import (
	"context"
	"time"

	"github.com/irfndi/regimebot/internal/cache"
	"github.com/irfndi/regimebot/internal/config"
	"github.com/irfndi/regimebot/internal/database"
	"github.com/irfndi/regimebot/internal/feed"
	"github.com/irfndi/regimebot/internal/ledger"
	"github.com/irfndi/regimebot/internal/logging"
	"github.com/irfndi/regimebot/internal/metrics"
	"github.com/irfndi/regimebot/internal/monitoring"
	"github.com/irfndi/regimebot/internal/notify"
	"github.com/irfndi/regimebot/internal/orchestrator"
	"github.com/irfndi/regimebot/internal/telemetry"
	"github.com/irfndi/regimebot/pkg/ccxt"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var hundred = decimal.NewFromInt(100)

// app owns the process-scoped resources of one invocation.
type app struct {
	orchestrator *orchestrator.Orchestrator
	logger       *logrus.Logger
	closers      []func(context.Context)
}

func newLogger(cfg *config.Config) *logrus.Logger {
	return logging.NewLogger(cfg.LogLevel, cfg.Environment)
}

func newStore(cfg *config.Config, logger *logrus.Logger) *ledger.Store {
	return ledger.NewStore(cfg.State.Dir, cfg.Trading.Symbol, decimal.NewFromFloat(cfg.Trading.StartingBalance), logger)
}

// newApp wires the cycle pipeline. Only the ledger, the candle feed and the
// sentiment feed are required; Redis, Postgres, Telegram and telemetry
// degrade to warnings when unavailable.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := newLogger(cfg)
	a := &app{logger: logger}

	// Initialize telemetry first
	provider, err := telemetry.InitTelemetry(ctx, cfg.Telemetry, cfg.Environment)
	if err != nil {
		logger.WithError(err).Warn("Telemetry disabled")
		provider, _ = telemetry.InitTelemetry(ctx, config.TelemetryConfig{}, cfg.Environment)
	}
	a.onClose(func(ctx context.Context) {
		if err := provider.Shutdown(ctx); err != nil {
			logger.WithError(err).Warn("Failed to shutdown telemetry")
		}
	})

	if cfg.Telemetry.Enabled && cfg.Telemetry.ExportLogs {
		hook, err := logging.NewOTLPHook(ctx, logging.OTLPConfig{
			Endpoint:       cfg.Telemetry.OTLPEndpoint,
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: cfg.Telemetry.ServiceVersion,
			Environment:    cfg.Environment,
		})
		if err != nil {
			logger.WithError(err).Warn("OTLP log export disabled")
		} else {
			logger.AddHook(hook)
			a.onClose(func(ctx context.Context) { _ = hook.Shutdown(ctx) })
		}
	}

	opts := []orchestrator.Option{
		orchestrator.WithTracer(telemetry.NewBusinessTracer(provider.Tracer())),
		orchestrator.WithDiskMonitor(monitoring.NewDiskMonitor(cfg.State.Dir, cfg.State.DiskWarnPct, logger)),
		orchestrator.WithAlerts(newAlertManager(cfg, logger)),
	}
	if cfg.Metrics.TextfilePath != "" {
		opts = append(opts, orchestrator.WithMetrics(metrics.NewRegistry()))
	}

	var sentimentCache feed.SentimentCache
	if cfg.Redis.Enabled {
		rdb, err := database.NewRedisConnection(ctx, cfg.Redis, logger)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, continuing without cache and heartbeat mirror")
		} else {
			a.onClose(func(context.Context) { rdb.Close() })
			sentimentCache = cache.NewRedisSentimentCache(rdb.Client, cfg.Feed.SentimentTTL, cfg.Trading.Symbol, logger)
			opts = append(opts, orchestrator.WithHeartbeatMirror(rdb))
		}
	}

	if cfg.Database.Enabled {
		db, err := database.NewPostgresConnection(ctx, cfg.Database, logger)
		if err != nil {
			logger.WithError(err).Warn("Postgres unavailable, fills will not be journaled")
		} else {
			a.onClose(func(context.Context) { db.Close() })
			repo := database.NewFillRepository(database.NewTracedPool(db.Pool, provider.Tracer()))
			if err := repo.EnsureSchema(ctx); err != nil {
				logger.WithError(err).Warn("Failed to prepare fill journal schema")
			} else {
				opts = append(opts, orchestrator.WithFillJournal(repo))
			}
		}
	}

	marketFeed, err := newMarketFeed(cfg, logger, sentimentCache)
	if err != nil {
		a.Close()
		return nil, err
	}

	o, err := orchestrator.New(cfg, newStore(cfg, logger), marketFeed, logger, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.orchestrator = o
	return a, nil
}

func newMarketFeed(cfg *config.Config, logger *logrus.Logger, sentimentCache feed.SentimentCache) (*feed.MarketFeed, error) {
	client := ccxt.NewClient(cfg.Feed.CCXTServiceURL, cfg.Feed.Timeout)
	candles := feed.NewCCXTCandleSource(client, cfg.Trading.Exchange, cfg.Feed, logger)

	var sentiment feed.SentimentSource
	if cfg.Trading.ForceSentiment != "" {
		static, err := feed.NewStaticSentiment(cfg.Trading.ForceSentiment, time.Now)
		if err != nil {
			return nil, err
		}
		logger.WithField("class", cfg.Trading.ForceSentiment).Warn("Sentiment override active")
		sentiment = static
	} else {
		sentiment = feed.NewFearGreedClient(cfg.Feed, logger)
		if sentimentCache != nil {
			sentiment = feed.NewCachedSentimentSource(sentiment, sentimentCache, logger)
		}
	}
	return feed.NewMarketFeed(candles, sentiment, cfg.Trading), nil
}

func newAlertManager(cfg *config.Config, logger *logrus.Logger) *notify.AlertManager {
	minLevel, err := notify.ParseLevel(cfg.Telegram.MinLevel)
	if err != nil {
		logger.WithError(err).Warn("Invalid telegram.min_level, using WARNING")
		minLevel = notify.LevelWarning
	}

	var sender notify.Sender
	if cfg.Telegram.BotToken != "" {
		tg, err := notify.NewTelegramSender(cfg.Telegram.BotToken)
		if err != nil {
			logger.WithError(err).Warn("Telegram sender unavailable")
		} else {
			sender = tg
		}
	}
	return notify.NewAlertManager(sender, cfg.Telegram.ChatID, minLevel, logger)
}

func (a *app) onClose(fn func(context.Context)) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
	a.closers = nil
}
