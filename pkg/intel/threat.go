package intel

import (
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Weights blends the three threat signals. Operator-facing policy; see the
// config documentation for defaults.
type Weights struct {
	WinRate float64
	Value   float64
	Recency float64
}

// Thresholds bucket the combined score into threat levels. A score below
// Medium is low; Critical wins over High.
type Thresholds struct {
	Medium   float64
	High     float64
	Critical float64
}

// ScoreThreat computes the combined threat score for a competitor from the
// outcomes inside the trailing window. Deterministic: the same history, clock,
// and weights always produce the same score.
//
// Signals, each normalized to [0, 1]:
//   - win rate: the share of outcomes the competitor won against us
//   - value: the average job value the competitor wins, relative to our
//     average bid (r/(1+r) squashes the unbounded ratio)
//   - recency: how fresh the competitor's wins are, with each win weighted by
//     its remaining life inside the window
func ScoreThreat(outcomes []models.JobOutcome, now time.Time, window time.Duration, weights Weights) float64 {
	if len(outcomes) == 0 {
		return 0
	}

	var theirWins int
	var theirWonValue float64
	var ourBidTotal float64
	var recencySum float64

	for _, outcome := range outcomes {
		ourBidTotal += outcome.OurBid
		if outcome.Outcome != models.OutcomeLost {
			continue
		}
		// We lost, they won.
		theirWins++
		theirWonValue += outcome.JobValue

		age := now.Sub(outcome.RecordedAt)
		if age < 0 {
			age = 0
		}
		freshness := 1 - float64(age)/float64(window)
		if freshness > 0 {
			recencySum += freshness
		}
	}

	winRate := float64(theirWins) / float64(len(outcomes))

	value := 0.0
	if theirWins > 0 && ourBidTotal > 0 {
		avgWon := theirWonValue / float64(theirWins)
		avgBid := ourBidTotal / float64(len(outcomes))
		ratio := avgWon / avgBid
		value = ratio / (1 + ratio)
	}

	recency := 0.0
	if theirWins > 0 {
		recency = recencySum / float64(theirWins)
	}

	return winRate*weights.WinRate + value*weights.Value + recency*weights.Recency
}

// BucketThreat maps a combined score onto a threat level
func BucketThreat(score float64, thresholds Thresholds) models.ThreatLevel {
	switch {
	case score >= thresholds.Critical:
		return models.ThreatLevelCritical
	case score >= thresholds.High:
		return models.ThreatLevelHigh
	case score >= thresholds.Medium:
		return models.ThreatLevelMedium
	default:
		return models.ThreatLevelLow
	}
}
