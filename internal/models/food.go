// internal/models/food.go
package models

import "fmt"

// Prediction is one ranked guess produced by a classifier for a single image.
type Prediction struct {
	Label       string  `json:"label"`
	Confidence  float64 `json:"confidence"`
	DisplayName string  `json:"display_name"`
}

// NutrientFacts is one row of the nutrition reference table, per reference serving.
type NutrientFacts struct {
	DishName    string  `json:"dish_name"`
	Calories    float64 `json:"calories"`
	Protein     float64 `json:"protein"`
	Potassium   float64 `json:"potassium"`
	Sodium      float64 `json:"sodium"`
	CKDTag      *string `json:"ckd_tag,omitempty"`
	Confidence  *string `json:"confidence,omitempty"`
	ServingSize *string `json:"serving_size,omitempty"`
}

type PortionSize string

const (
	PortionSmall  PortionSize = "small"
	PortionMedium PortionSize = "medium"
	PortionLarge  PortionSize = "large"
)

// Multiplier returns the scale factor for the portion tier.
func (p PortionSize) Multiplier() (float64, bool) {
	switch p {
	case PortionSmall:
		return 0.7, true
	case PortionMedium:
		return 1.0, true
	case PortionLarge:
		return 1.5, true
	}
	return 0, false
}

// ParsePortion accepts the tier names; an empty string means medium.
func ParsePortion(s string) (PortionSize, error) {
	if s == "" {
		return PortionMedium, nil
	}
	p := PortionSize(s)
	if _, ok := p.Multiplier(); !ok {
		return "", fmt.Errorf("unknown portion size %q", s)
	}
	return p, nil
}

// ScaledNutrients is NutrientFacts multiplied by portion and quantity, rounded per field.
type ScaledNutrients struct {
	Calories   int     `json:"calories"`
	Protein    float64 `json:"protein"`
	Potassium  int     `json:"potassium"`
	Sodium     int     `json:"sodium"`
	Multiplier float64 `json:"multiplier"`
}

type SafetyLevel string

const (
	SafetyLow      SafetyLevel = "low"
	SafetyModerate SafetyLevel = "moderate"
	SafetyHigh     SafetyLevel = "high"
)

type SafetyReport struct {
	Sodium    SafetyLevel `json:"sodium"`
	Potassium SafetyLevel `json:"potassium"`
	Protein   SafetyLevel `json:"protein"`
}

const (
	HighConfidenceThreshold       = 0.45
	ActionableConfidenceThreshold = 0.30
)

// RecognitionResult is the outcome of one successful recognition.
// Nutrients is nil when the top label has no row in the reference store.
type RecognitionResult struct {
	Prediction             Prediction     `json:"prediction"`
	Nutrients              *NutrientFacts `json:"nutrients,omitempty"`
	AlternativePredictions []Prediction   `json:"alternative_predictions"`
}

func (r *RecognitionResult) IsHighConfidence() bool {
	return r.Prediction.Confidence >= HighConfidenceThreshold
}

func (r *RecognitionResult) HasNutrients() bool {
	return r.Nutrients != nil
}

func (r *RecognitionResult) NeedsManualSelection() bool {
	return !r.IsHighConfidence() || !r.HasNutrients()
}

// IsActionable reports whether the UI may offer to log the result directly.
// Looser than IsHighConfidence: a known dish at medium confidence still qualifies.
func (r *RecognitionResult) IsActionable() bool {
	return r.Prediction.Confidence >= ActionableConfidenceThreshold || r.HasNutrients()
}
