// internal/nutrition/nutritiontest/fixture.go

// Package nutritiontest builds throwaway reference databases for tests.
package nutritiontest

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"mcp-ckd-meal/internal/models"
)

const schema = `
    CREATE TABLE dishes (
        dish_name TEXT PRIMARY KEY,
        kcal REAL NOT NULL,
        protein_g REAL NOT NULL,
        potassium_mg REAL NOT NULL,
        sodium_mg REAL NOT NULL,
        ckd_tag TEXT,
        confidence TEXT,
        serving_size TEXT
    );
`

// Rows is a small Indian-cuisine reference set.
func Rows() []models.NutrientFacts {
	tag := func(s string) *string { return &s }
	return []models.NutrientFacts{
		{DishName: "dal_tadka", Calories: 180, Protein: 9, Potassium: 320, Sodium: 450, CKDTag: tag("moderate"), Confidence: tag("usda"), ServingSize: tag("1 cup")},
		{DishName: "biryani", Calories: 290, Protein: 12, Potassium: 250, Sodium: 533},
		{DishName: "dal tadka", Calories: 999, Protein: 99, Potassium: 999, Sodium: 999},
		{DishName: "idli", Calories: 58, Protein: 2, Potassium: 40, Sodium: 120, CKDTag: tag("safe")},
		{DishName: "masala_dosa", Calories: 165, Protein: 4, Potassium: 240, Sodium: 380},
		{DishName: "paneer_tikka", Calories: 260, Protein: 18, Potassium: 180, Sodium: 610},
	}
}

// NewDB writes rows into a fresh sqlite file and returns its path.
func NewDB(t testing.TB, rows ...models.NutrientFacts) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dishes.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open fixture db: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("create fixture schema: %v", err)
	}
	for _, r := range rows {
		_, err := db.Exec(
			`INSERT INTO dishes (dish_name, kcal, protein_g, potassium_mg, sodium_mg, ckd_tag, confidence, serving_size)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.DishName, r.Calories, r.Protein, r.Potassium, r.Sodium, r.CKDTag, r.Confidence, r.ServingSize)
		if err != nil {
			t.Fatalf("insert fixture row %q: %v", r.DishName, err)
		}
	}
	return path
}
