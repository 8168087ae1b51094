package ledger

import (
	"time"

	"github.com/irfndi/regimebot/internal/models"
	"github.com/shopspring/decimal"
)

// State is the durable account as loaded at the start of a cycle.
type State struct {
	Symbol       string
	Equity       models.Equity
	Position     *models.Position
	Fills        []models.Fill
	LastCandleAt time.Time
	UpdatedAt    time.Time
	// Fresh is true when no ledger existed and the state was seeded.
	Fresh bool
}

// Clone deep-copies the state so a cycle can mutate it without touching the loaded copy.
func (s *State) Clone() *State {
	c := *s
	if s.Position != nil {
		pos := *s.Position
		c.Position = &pos
	}
	c.Fills = append([]models.Fill(nil), s.Fills...)
	return &c
}

// Holding reports whether a position is open.
func (s *State) Holding() bool {
	return s.Position != nil
}

// Stats derives the risk counters from fill history. Days are UTC calendar days.
func (s *State) Stats(now time.Time) models.TradeStats {
	day := now.UTC().Truncate(24 * time.Hour)
	stats := models.TradeStats{Day: day, DailyRealizedPnL: decimal.Zero}

	streakOpen := true
	for i := len(s.Fills) - 1; i >= 0; i-- {
		f := s.Fills[i]
		if f.Reason == models.FillReasonStopLoss && stats.LastStopAt.IsZero() {
			stats.LastStopAt = f.Timestamp
		}
		if f.Side != models.SideSell {
			continue
		}
		stats.ClosedTrades++
		if f.Timestamp.UTC().Truncate(24 * time.Hour).Equal(day) {
			stats.DailyRealizedPnL = stats.DailyRealizedPnL.Add(f.RealizedPnL)
		}
		if f.RealizedPnL.IsNegative() {
			if stats.LastLossAt.IsZero() {
				stats.LastLossAt = f.Timestamp
			}
			if streakOpen {
				stats.ConsecutiveLosses++
			}
			continue
		}
		streakOpen = false
	}
	return stats
}

// DailySummary totals the sells filled on the UTC day containing day.
func (s *State) DailySummary(day time.Time) models.DailySummary {
	day = day.UTC().Truncate(24 * time.Hour)
	summary := models.DailySummary{Day: day, RealizedPnL: decimal.Zero}
	for _, f := range s.Fills {
		if f.Side != models.SideSell || !f.Timestamp.UTC().Truncate(24*time.Hour).Equal(day) {
			continue
		}
		summary.ClosedTrades++
		summary.RealizedPnL = summary.RealizedPnL.Add(f.RealizedPnL)
		if f.RealizedPnL.IsPositive() {
			summary.Wins++
		}
	}
	return summary
}
