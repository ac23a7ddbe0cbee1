// internal/nutrition/store.go

// Package nutrition serves the bundled, read-only dish reference table.
package nutrition

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"mcp-ckd-meal/internal/models"
)

// SearchLimit caps the rows returned by Search.
const SearchLimit = 20

// ErrDishNotFound is returned by callers that need a row and got none.
// Lookup itself reports absence with ok=false.
var ErrDishNotFound = errors.New("dish not found in nutrition reference")

// Lookuper is the part of the store the recognition pipeline depends on.
type Lookuper interface {
	Lookup(ctx context.Context, label string) (*models.NutrientFacts, bool, error)
}

// Store is opened once and shared by all readers. Nothing ever writes to it.
type Store struct {
	db             *sql.DB
	hasServingSize bool
	closeOnce      sync.Once
	closeErr       error
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open nutrition database: %w", err)
	}

	store := &Store{db: db}
	if err := store.probeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read nutrition schema: %w", err)
	}

	return store, nil
}

func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

// probeSchema verifies the dishes table exists and notes whether this bundle
// carries the optional serving_size column.
func (s *Store) probeSchema() error {
	rows, err := s.db.Query(`SELECT name FROM pragma_table_info('dishes')`)
	if err != nil {
		return err
	}
	defer rows.Close()

	found := 0
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		found++
		if name == "serving_size" {
			s.hasServingSize = true
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if found == 0 {
		return errors.New("table dishes not found")
	}
	return nil
}

// NormalizeKey trims and lower-cases a label. Underscores and spaces are left
// alone, so "dal_tadka" and "dal tadka" are different keys.
func NormalizeKey(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

func (s *Store) columns() string {
	cols := `dish_name, kcal, protein_g, potassium_mg, sodium_mg, ckd_tag, confidence`
	if s.hasServingSize {
		return cols + `, serving_size`
	}
	return cols + `, NULL`
}

// Lookup finds the row whose dish_name equals the normalized label exactly.
func (s *Store) Lookup(ctx context.Context, label string) (*models.NutrientFacts, bool, error) {
	key := NormalizeKey(label)
	if key == "" {
		return nil, false, nil
	}

	query := `SELECT ` + s.columns() + ` FROM dishes WHERE dish_name = ? LIMIT 1`
	facts, err := scanFacts(s.db.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up dish %q: %w", key, err)
	}
	return facts, true, nil
}

// Search returns up to SearchLimit rows whose name contains query, ignoring case.
func (s *Store) Search(ctx context.Context, query string) ([]models.NutrientFacts, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return []models.NutrientFacts{}, nil
	}

	sqlQuery := `SELECT ` + s.columns() + `
        FROM dishes
        WHERE instr(lower(dish_name), lower(?)) > 0
        LIMIT ?`

	rows, err := s.db.QueryContext(ctx, sqlQuery, q, SearchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to search dishes: %w", err)
	}
	defer rows.Close()

	results := []models.NutrientFacts{}
	for rows.Next() {
		facts, err := scanFacts(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dish: %w", err)
		}
		results = append(results, *facts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dishes: %w", err)
	}
	return results, nil
}

// ListAll returns every canonical dish name.
func (s *Store) ListAll(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT dish_name FROM dishes ORDER BY dish_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list dishes: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan dish name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dish names: %w", err)
	}
	return names, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFacts(row scanner) (*models.NutrientFacts, error) {
	var (
		f                         models.NutrientFacts
		ckdTag, conf, servingSize sql.NullString
		kcal, protein, k, na      sql.NullFloat64
	)
	if err := row.Scan(&f.DishName, &kcal, &protein, &k, &na, &ckdTag, &conf, &servingSize); err != nil {
		return nil, err
	}
	f.Calories = kcal.Float64
	f.Protein = protein.Float64
	f.Potassium = k.Float64
	f.Sodium = na.Float64
	f.CKDTag = nullable(ckdTag)
	f.Confidence = nullable(conf)
	f.ServingSize = nullable(servingSize)
	return &f, nil
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
