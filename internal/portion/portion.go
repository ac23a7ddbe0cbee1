// internal/portion/portion.go

// Package portion scales reference nutrient facts to what was actually eaten
// and grades the result against fixed per-meal CKD stage 3-4 limits.
package portion

import (
	"math"

	"mcp-ckd-meal/internal/models"
)

// Per-meal cutoffs. A value strictly above a cutoff moves to the next tier.
const (
	SodiumHighMg        = 800
	SodiumModerateMg    = 400
	PotassiumHighMg     = 700
	PotassiumModerateMg = 400
	ProteinHighG        = 20.0
	ProteinModerateG    = 12.0
)

// Scale multiplies base by portion x quantity and rounds each field on its own.
// The quantity is not capped here. An unrecognized portion scales as medium
// (1.0); callers taking user input should check it with models.ParsePortion
// first, since Scale gives no other signal.
func Scale(base models.NutrientFacts, portion models.PortionSize, quantity int) models.ScaledNutrients {
	pm, ok := portion.Multiplier()
	if !ok {
		pm = 1.0
	}
	m := pm * float64(quantity)

	return models.ScaledNutrients{
		Calories:   int(math.Round(base.Calories * m)),
		Protein:    math.Round(base.Protein*m*10) / 10,
		Potassium:  int(math.Round(base.Potassium * m)),
		Sodium:     int(math.Round(base.Sodium * m)),
		Multiplier: m,
	}
}

func SodiumLevel(mg int) models.SafetyLevel {
	switch {
	case mg > SodiumHighMg:
		return models.SafetyHigh
	case mg > SodiumModerateMg:
		return models.SafetyModerate
	}
	return models.SafetyLow
}

func PotassiumLevel(mg int) models.SafetyLevel {
	switch {
	case mg > PotassiumHighMg:
		return models.SafetyHigh
	case mg > PotassiumModerateMg:
		return models.SafetyModerate
	}
	return models.SafetyLow
}

func ProteinLevel(g float64) models.SafetyLevel {
	switch {
	case g > ProteinHighG:
		return models.SafetyHigh
	case g > ProteinModerateG:
		return models.SafetyModerate
	}
	return models.SafetyLow
}

// Evaluate grades already-scaled values.
func Evaluate(s models.ScaledNutrients) models.SafetyReport {
	return models.SafetyReport{
		Sodium:    SodiumLevel(s.Sodium),
		Potassium: PotassiumLevel(s.Potassium),
		Protein:   ProteinLevel(s.Protein),
	}
}

// ScaleAndEvaluate is Scale followed by Evaluate on the rounded values.
func ScaleAndEvaluate(base models.NutrientFacts, portion models.PortionSize, quantity int) (models.ScaledNutrients, models.SafetyReport) {
	s := Scale(base, portion, quantity)
	return s, Evaluate(s)
}
