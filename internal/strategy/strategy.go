package strategy

import (
	"fmt"

	"github.com/irfndi/regimebot/internal/config"
	"github.com/irfndi/regimebot/internal/models"
)

// Input is what a strategy sees for one candle. Holding reports whether the
// persisted ledger has an open position, which lets a strategy keep its LONG
// until its own exit condition fires.
type Input struct {
	Features models.FeatureSet
	Holding  bool
}

// Strategy proposes an intent independently of the regime.
type Strategy interface {
	ID() models.StrategyID
	Evaluate(in Input) models.Signal
}

// Registry resolves strategies by id.
type Registry struct {
	strategies map[models.StrategyID]Strategy
	order      []models.StrategyID
}

// NewRegistry builds the three built-in strategies from configuration.
func NewRegistry(cfg config.StrategyConfig, stopMultiplier float64) *Registry {
	r := &Registry{strategies: make(map[models.StrategyID]Strategy)}
	r.Register(NewTrendFollowing(cfg, stopMultiplier))
	r.Register(NewMeanReversion(cfg, stopMultiplier))
	r.Register(NewBollingerBreakout(stopMultiplier))
	return r
}

func (r *Registry) Register(s Strategy) {
	if _, exists := r.strategies[s.ID()]; !exists {
		r.order = append(r.order, s.ID())
	}
	r.strategies[s.ID()] = s
}

func (r *Registry) Get(id models.StrategyID) (Strategy, error) {
	s, ok := r.strategies[id]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", id)
	}
	return s, nil
}

// EvaluateAll runs every registered strategy in registration order.
func (r *Registry) EvaluateAll(in Input) map[models.StrategyID]models.Signal {
	signals := make(map[models.StrategyID]models.Signal, len(r.order))
	for _, id := range r.order {
		signals[id] = r.strategies[id].Evaluate(in)
	}
	return signals
}

func flat(id models.StrategyID, reason string) models.Signal {
	return models.Signal{Source: id, Intent: models.IntentFlat, Reason: reason}
}

func indeterminate(id models.StrategyID) models.Signal {
	return models.Signal{Source: id, Intent: models.IntentFlat, Indeterminate: true, Reason: "indeterminate features"}
}

func long(id models.StrategyID, strength float64, fs models.FeatureSet, stopMultiplier float64, reason string) models.Signal {
	return models.Signal{
		Source:   id,
		Intent:   models.IntentLong,
		Strength: strength,
		StopHint: fs.Get(models.FeatureClose) - fs.Get(models.FeatureATR)*stopMultiplier,
		Reason:   reason,
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
