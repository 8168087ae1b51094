package features

import (
	"sort"

	"github.com/irfndi/regimebot/internal/models"
)

// Normalize returns candles sorted by timestamp with duplicates removed
// (the first occurrence wins) and rows without a positive close dropped.
// The input slice is not modified.
func Normalize(candles []models.Candle) []models.Candle {
	cleaned := make([]models.Candle, 0, len(candles))
	for _, c := range candles {
		if c.Timestamp.IsZero() || !c.Close.IsPositive() {
			continue
		}
		cleaned = append(cleaned, c)
	}

	// Stable keeps input order among equal timestamps so "first" is well defined.
	sort.SliceStable(cleaned, func(i, j int) bool {
		return cleaned[i].Timestamp.Before(cleaned[j].Timestamp)
	})

	out := cleaned[:0]
	for i, c := range cleaned {
		if i > 0 && c.Timestamp.Equal(out[len(out)-1].Timestamp) {
			continue
		}
		out = append(out, c)
	}
	return out
}
