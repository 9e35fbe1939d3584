// Package confidence provides price confidence levels and score math.
package confidence

import "math"

// Level is the qualitative confidence attached to a resolved price.
type Level string

const (
	LevelHigh     Level = "high"
	LevelMedium   Level = "medium"
	LevelLow      Level = "low"
	LevelVeryLow  Level = "very-low"
	LevelUnpriced Level = "none"
)

// Score maps a level to its numeric confidence.
func (l Level) Score() float64 {
	switch l {
	case LevelHigh:
		return HighConfidence
	case LevelMedium:
		return MediumConfidence
	case LevelLow:
		return LowConfidence
	case LevelVeryLow:
		return VeryLowConfidence
	default:
		return 0
	}
}

// AtLeast reports whether l is as confident as min.
func (l Level) AtLeast(min Level) bool {
	return l.Score() >= min.Score()
}

// FromScore buckets a numeric score back into a level.
func FromScore(score float64) Level {
	switch {
	case score >= HighConfidence:
		return LevelHigh
	case score >= MediumConfidence:
		return LevelMedium
	case score >= LowConfidence:
		return LevelLow
	case score > 0:
		return LevelVeryLow
	default:
		return LevelUnpriced
	}
}

// Aggregate combines multiple confidence scores.
// Uses geometric mean to penalize low-confidence components.
func Aggregate(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}

	product := 1.0
	for _, s := range scores {
		if s <= 0 {
			return 0
		}
		product *= s
	}

	return math.Pow(product, 1.0/float64(len(scores)))
}

// Clamp ensures confidence is in valid range [0, 1].
func Clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// DefaultConfidence values
const (
	HighConfidence    = 0.95
	MediumConfidence  = 0.80
	LowConfidence     = 0.60
	VeryLowConfidence = 0.40
)
