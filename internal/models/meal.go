// internal/models/meal.go
package models

import (
	"fmt"
	"time"
)

// GuestUserID is the ledger partition used when no user is signed in.
const GuestUserID = "guest"

type MealType string

const (
	Breakfast MealType = "breakfast"
	Lunch     MealType = "lunch"
	Dinner    MealType = "dinner"
)

func ParseMealType(s string) (MealType, error) {
	switch MealType(s) {
	case Breakfast, Lunch, Dinner:
		return MealType(s), nil
	}
	return "", fmt.Errorf("unknown meal type %q", s)
}

// MealRecord is a confirmed meal. Records are never edited in place.
type MealRecord struct {
	ID        string    `json:"id"`
	DishName  string    `json:"dish_name"`
	Calories  int       `json:"calories"`
	Potassium int       `json:"potassium"`
	Sodium    int       `json:"sodium"`
	Protein   float64   `json:"protein"`
	Quantity  int       `json:"quantity"`
	MealType  MealType  `json:"meal_type"`
	Timestamp time.Time `json:"timestamp"`
	Image     []byte    `json:"image,omitempty"`
}

type DailyTotals struct {
	Date      string  `json:"date"` // YYYY-MM-DD in the ledger's location
	Calories  int     `json:"calories"`
	Potassium int     `json:"potassium"`
	Sodium    int     `json:"sodium"`
	Protein   float64 `json:"protein"`
	Meals     int     `json:"meals"`
}

// DailyLimits are the user's personal daily allowances.
type DailyLimits struct {
	Calories  float64 `json:"calories" mapstructure:"calories"`
	Potassium float64 `json:"potassium" mapstructure:"potassium"`
	Sodium    float64 `json:"sodium" mapstructure:"sodium"`
	Protein   float64 `json:"protein" mapstructure:"protein"`
}

func DefaultDailyLimits() DailyLimits {
	return DailyLimits{
		Calories:  2000,
		Potassium: 2000,
		Sodium:    2000,
		Protein:   60,
	}
}

type NutrientProgress struct {
	Consumed  float64 `json:"consumed"`
	Limit     float64 `json:"limit"`
	Remaining float64 `json:"remaining"`
	Percent   float64 `json:"percent"`
	Exceeded  bool    `json:"exceeded"`
}

type LimitProgress struct {
	Calories  NutrientProgress `json:"calories"`
	Potassium NutrientProgress `json:"potassium"`
	Sodium    NutrientProgress `json:"sodium"`
	Protein   NutrientProgress `json:"protein"`
}
