package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/irfndi/regimebot/internal/broker"
	"github.com/irfndi/regimebot/internal/config"
	"github.com/irfndi/regimebot/internal/features"
	"github.com/irfndi/regimebot/internal/ledger"
	"github.com/irfndi/regimebot/internal/logging"
	"github.com/irfndi/regimebot/internal/metrics"
	"github.com/irfndi/regimebot/internal/models"
	"github.com/irfndi/regimebot/internal/monitoring"
	"github.com/irfndi/regimebot/internal/notify"
	"github.com/irfndi/regimebot/internal/regime"
	"github.com/irfndi/regimebot/internal/risk"
	"github.com/irfndi/regimebot/internal/router"
	"github.com/irfndi/regimebot/internal/strategy"
	"github.com/irfndi/regimebot/internal/telemetry"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace/noop"
)

// Cycle statuses.
const (
	StatusCommitted = "committed"
	StatusSkipped   = "skipped"
)

// MarketFeed supplies the per-cycle market snapshot.
type MarketFeed interface {
	Snapshot(ctx context.Context) (*models.MarketSnapshot, error)
}

// HeartbeatMirror publishes the heartbeat outside the state directory.
type HeartbeatMirror interface {
	MirrorHeartbeat(ctx context.Context, symbol string, hb models.Heartbeat, ttl time.Duration) error
}

// FillJournal records fills in an external store.
type FillJournal interface {
	InsertFills(ctx context.Context, fills []models.Fill) (int64, error)
}

// Alerter delivers operator alerts.
type Alerter interface {
	Send(ctx context.Context, level notify.Level, message string) error
}

// DiskChecker reports state volume usage.
type DiskChecker interface {
	Check(ctx context.Context) (*monitoring.DiskStatus, error)
}

// CycleResult summarizes one RunCycle call. MissedStop is set when a bar no
// earlier cycle examined had breached the stop.
type CycleResult struct {
	CycleID        string
	Status         string
	CandleAt       time.Time
	Classification regime.Classification
	Signals        map[models.StrategyID]models.Signal
	Intent         models.RoutedIntent
	Decision       models.RiskDecision
	MissedStop     *broker.Transition
	Transition     *broker.Transition
	Equity         models.Equity
	Position       *models.Position
	Duration       time.Duration
}

// Orchestrator runs one decision cycle end to end: load, fetch, decide,
// simulate, commit, heartbeat. It assumes an external lock guarantees a
// single active cycle per state directory.
type Orchestrator struct {
	cfg         *config.Config
	store       *ledger.Store
	feed        MarketFeed
	engine      *features.Engine
	classifier  *regime.Classifier
	strategies  *strategy.Registry
	router      *router.Router
	risk        *risk.Manager
	barInterval time.Duration

	disk    DiskChecker
	mirror  HeartbeatMirror
	journal FillJournal
	alerts  Alerter
	metrics *metrics.Registry
	tracer  *telemetry.BusinessTracer
	now     func() time.Time
	logger  *logrus.Logger
}

// Option configures optional collaborators.
type Option func(*Orchestrator)

// WithDiskMonitor checks state volume usage at the start of each cycle.
func WithDiskMonitor(d DiskChecker) Option {
	return func(o *Orchestrator) { o.disk = d }
}

// WithHeartbeatMirror copies each heartbeat to a shared store.
func WithHeartbeatMirror(m HeartbeatMirror) Option {
	return func(o *Orchestrator) { o.mirror = m }
}

// WithFillJournal records committed fills after each cycle.
func WithFillJournal(j FillJournal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

func WithAlerts(a Alerter) Option {
	return func(o *Orchestrator) { o.alerts = a }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithTracer(t *telemetry.BusinessTracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New builds the decision pipeline from configuration.
func New(cfg *config.Config, store *ledger.Store, feed MarketFeed, logger *logrus.Logger, opts ...Option) (*Orchestrator, error) {
	barInterval, err := ParseTimeframe(cfg.Trading.PrimaryTimeframe)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:         cfg,
		store:       store,
		feed:        feed,
		engine:      features.NewEngine(cfg.Indicators),
		classifier:  regime.NewClassifier(cfg.Regime),
		strategies:  strategy.NewRegistry(cfg.Strategy, cfg.Risk.StopMultiplier),
		router:      router.NewRouter(cfg.Router),
		risk:        risk.NewManager(cfg.Risk, cfg.Broker),
		barInterval: barInterval,
		tracer:      telemetry.NewBusinessTracer(noop.NewTracerProvider().Tracer(telemetry.InstrumentationName)),
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(o)
	}

	for _, regimeLabel := range []models.Regime{models.RegimeTrend, models.RegimeRange} {
		for _, id := range o.router.Strategies(regimeLabel) {
			if _, err := o.strategies.Get(id); err != nil {
				return nil, fmt.Errorf("router policy for %s: %w", regimeLabel, err)
			}
		}
	}
	return o, nil
}

// RunCycle executes one cycle. Any error means nothing was committed and the
// heartbeat was left as it was.
func (o *Orchestrator) RunCycle(ctx context.Context) (*CycleResult, error) {
	start := o.now()
	result := &CycleResult{CycleID: uuid.NewString()}
	log := logging.WithCycle(o.logger, o.cfg.Trading.Symbol, result.CycleID)

	ctx, span := o.tracer.TraceCycle(ctx, o.cfg.Trading.Symbol, result.CycleID)
	defer span.End()

	res, err := o.runCycle(ctx, log, result)
	result.Duration = o.now().Sub(start)
	if err != nil {
		o.tracer.RecordError(span, err)
		log.WithError(err).Error("Cycle aborted")
		o.alert(ctx, alertLevelFor(err), fmt.Sprintf("%s cycle aborted: %v", o.cfg.Trading.Symbol, err))
		o.recordOutcome(metrics.OutcomeAborted, result)
		return nil, err
	}
	o.recordOutcome(res.Status, res)
	return res, nil
}

func (o *Orchestrator) runCycle(ctx context.Context, log *logrus.Entry, result *CycleResult) (*CycleResult, error) {
	o.checkDisk(ctx, log)

	state, err := o.loadState(ctx)
	if err != nil {
		return nil, err
	}

	snapshot, err := o.fetch(ctx)
	if err != nil {
		return nil, err
	}
	now := o.now().UTC()
	primary := o.closedBars(features.Normalize(snapshot.Primary), now)
	daily := features.Normalize(snapshot.Daily)

	fs, err := o.engine.Latest(primary, daily)
	if err != nil {
		return nil, fmt.Errorf("feature computation failed: %w", err)
	}
	candle := primary[len(primary)-1]
	result.CandleAt = candle.Timestamp

	if !candle.Timestamp.After(state.LastCandleAt) {
		log.WithField("candle_at", candle.Timestamp).Info("Latest candle already processed, skipping")
		result.Status = StatusSkipped
		result.Equity = state.Equity
		result.Position = state.Position
		o.beat(ctx, log, models.HeartbeatSkipped, now, result)
		return result, nil
	}

	pb := broker.NewPaperBroker(state, o.cfg.Broker, o.now, o.logger)
	missed, err := pb.CatchUpStops(ctx, primary[:len(primary)-1], state.LastCandleAt)
	if err != nil {
		return nil, fmt.Errorf("broker step failed: %w", err)
	}
	result.MissedStop = missed
	current := pb.State()

	_, decideSpan := o.tracer.TraceStage(ctx, "decide")
	result.Classification = o.classifier.Classify(fs)
	result.Signals = o.strategies.EvaluateAll(strategy.Input{Features: fs, Holding: current.Holding()})
	result.Intent = o.router.Route(router.Input{
		Regime:    result.Classification.Regime,
		Signals:   result.Signals,
		Sentiment: snapshot.Sentiment,
		Features:  fs,
	})
	stats := current.Stats(now)
	result.Decision = o.risk.Evaluate(risk.Input{
		Intent:      result.Intent,
		Equity:      current.Equity,
		Position:    current.Position,
		Features:    fs,
		Price:       candle.Close,
		Stats:       stats,
		Now:         now,
		BarInterval: o.barInterval,
	})
	o.tracer.RecordDecision(decideSpan, result.Intent, result.Decision)
	decideSpan.End()

	log.WithFields(logrus.Fields{
		"candle_at":      candle.Timestamp,
		"regime":         result.Classification.Regime,
		"trend_strength": result.Classification.TrendStrength,
		"sentiment":      snapshot.Sentiment.Class,
		"intent":         result.Intent.Intent,
		"source":         result.Intent.Source,
		"rationale":      result.Intent.Rationale,
		"approved":       result.Decision.Approved,
		"risk_reason":    result.Decision.Reason,
	}).Info("Cycle decision")

	if result.Decision.Reason == risk.ReasonKillSwitch {
		o.alert(ctx, notify.LevelCritical, fmt.Sprintf("%s daily loss kill-switch active (realized %s today)",
			o.cfg.Trading.Symbol, stats.DailyRealizedPnL.StringFixed(2)))
	}

	_, stepSpan := o.tracer.TraceStage(ctx, "broker")
	if missed != nil {
		o.tracer.RecordFill(stepSpan, *missed.Fill)
	}
	transition, err := pb.Step(ctx, broker.StepInput{Candle: candle, Intent: result.Intent, Decision: result.Decision})
	if errors.Is(err, broker.ErrInsufficientCash) {
		log.WithError(err).Warn("Entry rejected by broker")
		result.Decision = models.Rejected(err.Error())
		transition, err = pb.Step(ctx, broker.StepInput{Candle: candle, Intent: result.Intent, Decision: result.Decision})
	}
	if err != nil {
		o.tracer.RecordError(stepSpan, err)
		stepSpan.End()
		return nil, fmt.Errorf("broker step failed: %w", err)
	}
	if transition.Fill != nil {
		o.tracer.RecordFill(stepSpan, *transition.Fill)
	}
	stepSpan.End()
	result.Transition = transition

	next := pb.State()
	next.LastCandleAt = candle.Timestamp

	// Last point where cancellation is honored.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("cycle cancelled before commit: %w", err)
	}
	_, commitSpan := o.tracer.TraceStage(ctx, "commit")
	err = o.store.Commit(next, now)
	commitSpan.End()
	if err != nil {
		return nil, fmt.Errorf("ledger commit failed: %w", err)
	}

	result.Status = StatusCommitted
	result.Equity = next.Equity
	result.Position = next.Position

	// Post-commit work must not be cut short by a cancelled parent.
	postCtx := context.WithoutCancel(ctx)
	o.beat(postCtx, log, models.HeartbeatOK, now, result)
	o.publishFills(postCtx, log, next.Fills[len(state.Fills):])
	o.announceTransition(postCtx, missed)
	o.announceTransition(postCtx, transition)
	o.dailySummary(postCtx, next, state.UpdatedAt, now)
	return result, nil
}

// closedBars drops a trailing bar whose interval has not elapsed at now.
func (o *Orchestrator) closedBars(primary []models.Candle, now time.Time) []models.Candle {
	if n := len(primary); n > 0 && primary[n-1].Timestamp.Add(o.barInterval).After(now) {
		return primary[:n-1]
	}
	return primary
}

// dailySummary reports the previous commit's UTC day once the first cycle of
// a later day has committed.
func (o *Orchestrator) dailySummary(ctx context.Context, state *ledger.State, previousCommit, now time.Time) {
	if !o.cfg.Telegram.DailySummary || previousCommit.IsZero() {
		return
	}
	day := previousCommit.UTC().Truncate(24 * time.Hour)
	if !now.UTC().Truncate(24 * time.Hour).After(day) {
		return
	}
	summary := state.DailySummary(day)
	o.alert(ctx, notify.LevelInfo, fmt.Sprintf("%s daily summary %s: pnl=%s trades=%d win_rate=%s%% equity=%s",
		o.cfg.Trading.Symbol, day.Format(time.DateOnly), summary.RealizedPnL.StringFixed(2), summary.ClosedTrades,
		summary.WinRate().Mul(decimal.NewFromInt(100)).StringFixed(2), state.Equity.TotalEquity.StringFixed(2)))
}

func (o *Orchestrator) loadState(ctx context.Context) (*ledger.State, error) {
	_, span := o.tracer.TraceStage(ctx, "load")
	defer span.End()

	state, err := o.store.Load()
	if err != nil {
		o.tracer.RecordError(span, err)
		return nil, fmt.Errorf("ledger load failed: %w", err)
	}
	if state.Symbol != "" && state.Symbol != o.cfg.Trading.Symbol {
		return nil, &ledger.CorruptionError{
			Path:   ledger.LedgerFile,
			Reason: fmt.Sprintf("ledger belongs to %s, configured for %s", state.Symbol, o.cfg.Trading.Symbol),
		}
	}
	return state, nil
}

func (o *Orchestrator) fetch(ctx context.Context) (*models.MarketSnapshot, error) {
	ctx, span := o.tracer.TraceStage(ctx, "fetch")
	defer span.End()

	snapshot, err := o.feed.Snapshot(ctx)
	if err != nil {
		o.tracer.RecordError(span, err)
		return nil, fmt.Errorf("market data unavailable: %w", err)
	}
	return snapshot, nil
}

func (o *Orchestrator) checkDisk(ctx context.Context, log *logrus.Entry) {
	if o.disk == nil {
		return
	}
	status, err := o.disk.Check(ctx)
	if err != nil {
		log.WithError(err).Warn("Disk check failed")
		return
	}
	if o.metrics != nil {
		o.metrics.DiskUsage.Set(status.UsedPercent)
	}
	if status.Warning {
		o.alert(ctx, notify.LevelWarning, fmt.Sprintf("Disk usage %.1f%% on %s", status.UsedPercent, status.Path))
	}
}

func (o *Orchestrator) beat(ctx context.Context, log *logrus.Entry, status string, now time.Time, result *CycleResult) {
	details := map[string]interface{}{
		"cycle_id":     result.CycleID,
		"symbol":       o.cfg.Trading.Symbol,
		"candle_at":    result.CandleAt.Format(time.RFC3339),
		"total_equity": result.Equity.TotalEquity.String(),
		"holding":      result.Position != nil,
	}
	if status == models.HeartbeatOK {
		details["regime"] = string(result.Classification.Regime)
		details["intent"] = string(result.Intent.Intent)
		details["approved"] = result.Decision.Approved
		if result.Transition != nil {
			details["transition"] = result.Transition.Kind
		}
		if result.MissedStop != nil {
			details["missed_stop"] = true
		}
	}
	hb := models.Heartbeat{Timestamp: now, Status: status, Details: details}

	if err := o.store.WriteHeartbeat(hb); err != nil {
		log.WithError(err).Error("Failed to write heartbeat")
		return
	}
	if o.mirror != nil {
		if err := o.mirror.MirrorHeartbeat(ctx, o.cfg.Trading.Symbol, hb, 2*o.barInterval); err != nil {
			log.WithError(err).Warn("Failed to mirror heartbeat")
		}
	}
}

func (o *Orchestrator) publishFills(ctx context.Context, log *logrus.Entry, fills []models.Fill) {
	if len(fills) == 0 {
		return
	}
	if o.metrics != nil {
		for _, f := range fills {
			o.metrics.ObserveFill(f)
		}
	}
	if o.journal == nil {
		return
	}
	if _, err := o.journal.InsertFills(ctx, fills); err != nil {
		log.WithError(err).Warn("Failed to journal fills")
	}
}

func (o *Orchestrator) announceTransition(ctx context.Context, tr *broker.Transition) {
	if tr == nil || tr.Fill == nil {
		return
	}
	f := tr.Fill
	switch tr.Kind {
	case broker.TransitionStopLoss:
		o.alert(ctx, notify.LevelWarning, fmt.Sprintf("%s stop-loss hit: sold %s @ %s, realized %s",
			f.Symbol, f.Quantity, f.Price, f.RealizedPnL.StringFixed(2)))
	case broker.TransitionExit:
		o.alert(ctx, notify.LevelInfo, fmt.Sprintf("%s exit: sold %s @ %s, realized %s",
			f.Symbol, f.Quantity, f.Price, f.RealizedPnL.StringFixed(2)))
	case broker.TransitionEntry:
		o.alert(ctx, notify.LevelInfo, fmt.Sprintf("%s entry: bought %s @ %s",
			f.Symbol, f.Quantity, f.Price))
	}
}

func (o *Orchestrator) alert(ctx context.Context, level notify.Level, message string) {
	if o.alerts == nil {
		return
	}
	// Delivery errors are logged by the alerter.
	_ = o.alerts.Send(context.WithoutCancel(ctx), level, message)
}

func (o *Orchestrator) recordOutcome(outcome string, result *CycleResult) {
	if o.metrics == nil {
		return
	}
	o.metrics.Cycles.WithLabelValues(outcome).Inc()
	o.metrics.CycleDuration.Observe(result.Duration.Seconds())
	if outcome == StatusCommitted {
		o.metrics.ObserveDecision(result.Decision)
		o.metrics.ObserveRegime(result.Classification.Regime)
		o.metrics.ObserveEquity(result.Equity, result.Position)
		o.metrics.LastCycle.Set(float64(o.now().Unix()))
	}
	if err := o.metrics.WriteTextfile(o.cfg.Metrics.TextfilePath); err != nil {
		o.logger.WithError(err).Warn("Failed to write metrics textfile")
	}
}

func alertLevelFor(err error) notify.Level {
	var corruption *ledger.CorruptionError
	if errors.As(err, &corruption) {
		return notify.LevelCritical
	}
	return notify.LevelError
}

// StatusReport is the read-only view printed by the status command.
type StatusReport struct {
	Symbol        string            `json:"symbol"`
	Equity        models.Equity     `json:"equity"`
	Position      *models.Position  `json:"position,omitempty"`
	Fills         int               `json:"fills"`
	LastCandleAt  time.Time         `json:"last_candle_at"`
	Stats         models.TradeStats `json:"stats"`
	Heartbeat     *models.Heartbeat `json:"heartbeat,omitempty"`
	HeartbeatAge  time.Duration     `json:"heartbeat_age"`
	Stale         bool              `json:"stale"`
	KillSwitchOn  bool              `json:"kill_switch_on"`
	ReturnPct     decimal.Decimal   `json:"return_pct"`
	StartingCash  decimal.Decimal   `json:"starting_cash"`
	DrawdownRatio decimal.Decimal   `json:"drawdown_ratio"`
}

// Status reads the ledger and heartbeat without mutating anything. A
// heartbeat older than two bar intervals is stale.
func (o *Orchestrator) Status() (*StatusReport, error) {
	state, err := o.store.Load()
	if err != nil {
		return nil, fmt.Errorf("ledger load failed: %w", err)
	}
	now := o.now().UTC()
	stats := state.Stats(now)
	starting := decimal.NewFromFloat(o.cfg.Trading.StartingBalance)

	report := &StatusReport{
		Symbol:        o.cfg.Trading.Symbol,
		Equity:        state.Equity,
		Position:      state.Position,
		Fills:         len(state.Fills),
		LastCandleAt:  state.LastCandleAt,
		Stats:         stats,
		Stale:         true,
		KillSwitchOn:  o.risk.KillSwitchActive(state.Equity, stats),
		StartingCash:  starting,
		DrawdownRatio: state.Equity.Drawdown(),
	}
	if starting.IsPositive() {
		report.ReturnPct = state.Equity.TotalEquity.Sub(starting).Div(starting).Mul(decimal.NewFromInt(100))
	}

	hb, err := o.store.ReadHeartbeat()
	if err == nil {
		report.Heartbeat = &hb
		report.HeartbeatAge = hb.Age(now)
		report.Stale = hb.Stale(now, 2*o.barInterval)
	}
	return report, nil
}
