package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// SentimentClass buckets the Fear & Greed index.
type SentimentClass string

const (
	SentimentUnknown      SentimentClass = "UNKNOWN"
	SentimentExtremeFear  SentimentClass = "EXTREME_FEAR"
	SentimentFear         SentimentClass = "FEAR"
	SentimentNeutral      SentimentClass = "NEUTRAL"
	SentimentGreed        SentimentClass = "GREED"
	SentimentExtremeGreed SentimentClass = "EXTREME_GREED"
)

// Sentiment is a normalized market mood reading in [0, 1].
type Sentiment struct {
	Value     float64        `json:"value"`
	Class     SentimentClass `json:"class"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
}

// ClassifySentiment maps a normalized index value to its bucket.
func ClassifySentiment(value float64) SentimentClass {
	switch {
	case math.IsNaN(value) || value < 0 || value > 1:
		return SentimentUnknown
	case value <= 0.20:
		return SentimentExtremeFear
	case value < 0.45:
		return SentimentFear
	case value <= 0.55:
		return SentimentNeutral
	case value <= 0.75:
		return SentimentGreed
	default:
		return SentimentExtremeGreed
	}
}

// ParseSentimentClass accepts either the enum form or the feed's label ("Extreme Fear").
func ParseSentimentClass(s string) (SentimentClass, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", "_"))
	if c := SentimentClass(normalized); c.Known() {
		return c, nil
	}
	return SentimentUnknown, fmt.Errorf("unknown sentiment class %q", s)
}

// Known reports whether c is one of the five index buckets.
func (c SentimentClass) Known() bool {
	switch c {
	case SentimentExtremeFear, SentimentFear, SentimentNeutral, SentimentGreed, SentimentExtremeGreed:
		return true
	}
	return false
}

// NominalValue returns a representative index value for a class.
func (c SentimentClass) NominalValue() float64 {
	switch c {
	case SentimentExtremeFear:
		return 0.10
	case SentimentFear:
		return 0.35
	case SentimentNeutral:
		return 0.50
	case SentimentGreed:
		return 0.65
	case SentimentExtremeGreed:
		return 0.90
	}
	return math.NaN()
}
