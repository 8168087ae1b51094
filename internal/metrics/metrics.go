package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/irfndi/regimebot/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

// Cycle outcomes used as label values.
const (
	OutcomeCommitted = "committed"
	OutcomeSkipped   = "skipped"
	OutcomeAborted   = "aborted"
)

// Registry holds the bot's Prometheus metrics. Each cycle is a short-lived
// process, so metrics are written to a node-exporter textfile instead of
// being scraped over HTTP.
type Registry struct {
	registry *prometheus.Registry

	CycleDuration prometheus.Histogram
	Cycles        *prometheus.CounterVec
	Fills         *prometheus.CounterVec
	RiskDecisions *prometheus.CounterVec
	Equity        prometheus.Gauge
	Cash          prometheus.Gauge
	Drawdown      prometheus.Gauge
	PositionQty   prometheus.Gauge
	ActiveRegime  *prometheus.GaugeVec
	LastCycle     prometheus.Gauge
	DiskUsage     prometheus.Gauge
}

// NewRegistry creates and registers all metrics.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "regimebot_cycle_duration_seconds",
			Help:    "Duration of one trading cycle in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regimebot_cycles_total",
			Help: "Trading cycles by outcome",
		}, []string{"outcome"}),
		Fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regimebot_fills_total",
			Help: "Paper fills by side and reason",
		}, []string{"side", "reason"}),
		RiskDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regimebot_risk_decisions_total",
			Help: "Risk decisions by approval and reason",
		}, []string{"approved", "reason"}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "regimebot_total_equity",
			Help: "Total paper equity in quote currency",
		}),
		Cash: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "regimebot_cash",
			Help: "Paper cash balance in quote currency",
		}),
		Drawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "regimebot_drawdown_ratio",
			Help: "Current drawdown from the high water mark (0.0 to 1.0)",
		}),
		PositionQty: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "regimebot_position_quantity",
			Help: "Open position quantity in base currency",
		}),
		ActiveRegime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "regimebot_active_regime",
			Help: "1 for the regime of the latest cycle, 0 otherwise",
		}, []string{"regime"}),
		LastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "regimebot_last_cycle_timestamp_seconds",
			Help: "Unix time of the last committed cycle",
		}),
		DiskUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "regimebot_state_disk_used_percent",
			Help: "Disk usage of the state directory volume",
		}),
	}

	r.registry.MustRegister(
		r.CycleDuration, r.Cycles, r.Fills, r.RiskDecisions,
		r.Equity, r.Cash, r.Drawdown, r.PositionQty,
		r.ActiveRegime, r.LastCycle, r.DiskUsage,
	)
	return r
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// ObserveEquity records the account snapshot.
func (r *Registry) ObserveEquity(equity models.Equity, position *models.Position) {
	r.Equity.Set(equity.TotalEquity.InexactFloat64())
	r.Cash.Set(equity.Cash.InexactFloat64())
	r.Drawdown.Set(equity.Drawdown().InexactFloat64())
	if position != nil {
		r.PositionQty.Set(position.Quantity.InexactFloat64())
	} else {
		r.PositionQty.Set(0)
	}
}

// ObserveRegime flags the active regime.
func (r *Registry) ObserveRegime(regime models.Regime) {
	for _, candidate := range []models.Regime{models.RegimeTrend, models.RegimeRange} {
		v := 0.0
		if candidate == regime {
			v = 1
		}
		r.ActiveRegime.WithLabelValues(string(candidate)).Set(v)
	}
}

// ObserveDecision counts a risk decision. Formatted detail after " (" is
// dropped to keep the reason label bounded.
func (r *Registry) ObserveDecision(decision models.RiskDecision) {
	approved := "false"
	if decision.Approved {
		approved = "true"
	}
	reason, _, _ := strings.Cut(decision.Reason, " (")
	r.RiskDecisions.WithLabelValues(approved, reason).Inc()
}

// ObserveFill counts a fill.
func (r *Registry) ObserveFill(fill models.Fill) {
	r.Fills.WithLabelValues(string(fill.Side), fill.Reason).Inc()
}

// WriteTextfile writes the registry atomically for the node exporter
// textfile collector. An empty path disables the write.
func (r *Registry) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
