// internal/ledger/limits.go
package ledger

import (
	"math"

	"mcp-ckd-meal/internal/models"
)

// Progress compares a day's totals with the user's daily limits.
func Progress(t models.DailyTotals, limits models.DailyLimits) models.LimitProgress {
	return models.LimitProgress{
		Calories:  progress(float64(t.Calories), limits.Calories),
		Potassium: progress(float64(t.Potassium), limits.Potassium),
		Sodium:    progress(float64(t.Sodium), limits.Sodium),
		Protein:   progress(t.Protein, limits.Protein),
	}
}

func progress(consumed, limit float64) models.NutrientProgress {
	p := models.NutrientProgress{
		Consumed:  consumed,
		Limit:     limit,
		Remaining: math.Max(limit-consumed, 0),
		Exceeded:  consumed > limit,
	}
	if limit > 0 {
		p.Percent = math.Round(consumed/limit*1000) / 10
	}
	return p
}
