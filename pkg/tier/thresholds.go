package tier

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Threshold is one row of the progression table: the minimum cumulative
// qualifying revenue to enter a tier.
type Threshold struct {
	Tier       models.Tier `json:"tier"`
	MinRevenue float64     `json:"min_revenue"`
}

// ParseThresholds parses the configured "tier:minimum,tier:minimum" table.
// The result is sorted ascending by minimum revenue and must contain an
// entry with minimum 0 so every professional lands on a tier.
func ParseThresholds(raw string) ([]Threshold, error) {
	parts := strings.Split(raw, ",")
	thresholds := make([]Threshold, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, min, found := strings.Cut(part, ":")
		if !found {
			return nil, fmt.Errorf("invalid tier threshold %q: want tier:minimum", part)
		}

		t := models.Tier(strings.ToLower(strings.TrimSpace(name)))
		if t.Rank() < 0 {
			return nil, fmt.Errorf("unknown tier %q in thresholds", name)
		}
		revenue, err := strconv.ParseFloat(strings.TrimSpace(min), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid minimum revenue for tier %q: %w", name, err)
		}
		if revenue < 0 {
			return nil, fmt.Errorf("negative minimum revenue for tier %q", name)
		}

		thresholds = append(thresholds, Threshold{Tier: t, MinRevenue: revenue})
	}

	if len(thresholds) == 0 {
		return nil, fmt.Errorf("tier thresholds are empty")
	}

	sort.Slice(thresholds, func(i, j int) bool {
		return thresholds[i].MinRevenue < thresholds[j].MinRevenue
	})
	if thresholds[0].MinRevenue != 0 {
		return nil, fmt.Errorf("tier thresholds must include a tier with minimum 0")
	}

	return thresholds, nil
}

// TierFor selects the highest tier whose minimum revenue is met
func TierFor(thresholds []Threshold, revenue float64) models.Tier {
	current := thresholds[0].Tier
	for _, t := range thresholds {
		if revenue >= t.MinRevenue {
			current = t.Tier
		}
	}
	return current
}

// NextThreshold returns the next threshold above the given revenue, or nil at
// the top tier.
func NextThreshold(thresholds []Threshold, revenue float64) *Threshold {
	for i := range thresholds {
		if revenue < thresholds[i].MinRevenue {
			return &thresholds[i]
		}
	}
	return nil
}
