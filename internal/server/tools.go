// internal/server/tools.go
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"mcp-ckd-meal/internal/ledger"
	"mcp-ckd-meal/internal/models"
	"mcp-ckd-meal/internal/nutrition"
	"mcp-ckd-meal/internal/portion"
)

type RecognizeFoodParams struct {
	UserID string `json:"user_id,omitempty" description:"Ledger owner; guest when empty"`
	Image  string `json:"image" validate:"required,base64" description:"Base64 encoded photo of the dish"`
}

type ScaleNutrientsParams struct {
	DishName string `json:"dish_name" validate:"required" description:"Canonical dish name or classifier label"`
	Portion  string `json:"portion,omitempty" validate:"omitempty,oneof=small medium large" description:"Portion tier (defaults to medium)"`
	Quantity *int   `json:"quantity,omitempty" validate:"omitnil,min=1" description:"Number of servings (defaults to 1)"`
}

type SearchDishesParams struct {
	Query string `json:"query" description:"Case-insensitive substring of the dish name"`
}

type LogMealParams struct {
	UserID    string `json:"user_id,omitempty" description:"Ledger owner; guest when empty"`
	DishName  string `json:"dish_name" validate:"required" description:"Dish that was eaten"`
	Portion   string `json:"portion,omitempty" validate:"omitempty,oneof=small medium large" description:"Portion tier (defaults to medium)"`
	Quantity  *int   `json:"quantity,omitempty" validate:"omitnil,min=1" description:"Number of servings (defaults to 1)"`
	MealType  string `json:"meal_type" validate:"required,oneof=breakfast lunch dinner" description:"breakfast, lunch or dinner"`
	Timestamp string `json:"timestamp,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00" description:"RFC3339 time the meal was eaten (defaults to now)"`
	Image     string `json:"image,omitempty" validate:"omitempty,base64" description:"Base64 encoded photo to keep with the record"`

	// Manual entry, only used when the dish is not in the reference store.
	Calories  *int     `json:"calories,omitempty" validate:"omitempty,min=0"`
	Potassium *int     `json:"potassium,omitempty" validate:"omitempty,min=0"`
	Sodium    *int     `json:"sodium,omitempty" validate:"omitempty,min=0"`
	Protein   *float64 `json:"protein,omitempty" validate:"omitempty,min=0"`
}

type UserParams struct {
	UserID string `json:"user_id,omitempty" description:"Ledger owner; guest when empty"`
}

type DeleteMealParams struct {
	UserID string `json:"user_id,omitempty" description:"Ledger owner; guest when empty"`
	ID     string `json:"id" validate:"required" description:"Record id returned by log_meal"`
}

type DailyTotalsParams struct {
	UserID string `json:"user_id,omitempty" description:"Ledger owner; guest when empty"`
	Date   string `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02" description:"Local calendar day (YYYY-MM-DD), defaults to today"`
}

type recognitionResponse struct {
	*models.RecognitionResult
	IsHighConfidence     bool `json:"is_high_confidence"`
	HasNutrients         bool `json:"has_nutrients"`
	NeedsManualSelection bool `json:"needs_manual_selection"`
	IsActionable         bool `json:"is_actionable"`
}

type scaleResponse struct {
	DishName  string                 `json:"dish_name"`
	Portion   models.PortionSize     `json:"portion"`
	Quantity  int                    `json:"quantity"`
	Nutrients models.ScaledNutrients `json:"nutrients"`
	Safety    models.SafetyReport    `json:"safety"`
}

type dailyTotalsResponse struct {
	Totals   models.DailyTotals   `json:"totals"`
	Limits   models.DailyLimits   `json:"limits"`
	Progress models.LimitProgress `json:"progress"`
}

// extractParams safely extracts parameters from the request arguments
func extractParams(req *protocol.CallToolRequest, target interface{}) error {
	// Convert the Arguments map to JSON bytes, then unmarshal to target
	jsonBytes, err := json.Marshal(req.Arguments)
	if err != nil {
		return fmt.Errorf("failed to marshal arguments: %w", err)
	}

	if err := json.Unmarshal(jsonBytes, target); err != nil {
		return fmt.Errorf("failed to unmarshal parameters: %w", err)
	}

	return nil
}

// bindParams extracts and validates; any failure is a 400.
func (s *CKDMealServer) bindParams(req *protocol.CallToolRequest, target interface{}) error {
	if err := extractParams(req, target); err != nil {
		return newToolError(fiber.StatusBadRequest, codeInvalidParams, fmt.Errorf("invalid parameters: %w", err))
	}
	if err := s.validate.Struct(target); err != nil {
		return newToolError(fiber.StatusBadRequest, codeInvalidParams, fmt.Errorf("invalid parameters: %w", err))
	}
	return nil
}

func decodeImage(encoded string) ([]byte, error) {
	img, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, newToolError(fiber.StatusBadRequest, codeInvalidParams, fmt.Errorf("image is not valid base64: %w", err))
	}
	return img, nil
}

// quantityOrOne defaults an absent quantity; present values were validated.
func quantityOrOne(q *int) int {
	if q == nil {
		return 1
	}
	return *q
}

// handleRecognizeFood runs the capture pipeline through the user's session.
func (s *CKDMealServer) handleRecognizeFood(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params RecognizeFoodParams
	if err := s.bindParams(req, &params); err != nil {
		return nil, err
	}
	img, err := decodeImage(params.Image)
	if err != nil {
		return nil, err
	}

	sess, release := s.acquireSession(params.UserID)
	result, err := sess.Recognize(ctx, img)
	release()
	if err != nil {
		return nil, err
	}

	return s.createJSONResponse(recognitionResponse{
		RecognitionResult:    result,
		IsHighConfidence:     result.IsHighConfidence(),
		HasNutrients:         result.HasNutrients(),
		NeedsManualSelection: result.NeedsManualSelection(),
		IsActionable:         result.IsActionable(),
	})
}

func (s *CKDMealServer) lookupDish(ctx context.Context, name string) (*models.NutrientFacts, bool, error) {
	facts, found, err := s.catalog.Lookup(ctx, name)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up %q: %w", name, err)
	}
	return facts, found, nil
}

func (s *CKDMealServer) handleScaleNutrients(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params ScaleNutrientsParams
	if err := s.bindParams(req, &params); err != nil {
		return nil, err
	}
	size, err := models.ParsePortion(params.Portion)
	if err != nil {
		return nil, newToolError(fiber.StatusBadRequest, codeInvalidParams, err)
	}

	facts, found, err := s.lookupDish(ctx, params.DishName)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", nutrition.ErrDishNotFound, params.DishName)
	}

	qty := quantityOrOne(params.Quantity)
	scaled, safety := portion.ScaleAndEvaluate(*facts, size, qty)
	return s.createJSONResponse(scaleResponse{
		DishName:  facts.DishName,
		Portion:   size,
		Quantity:  qty,
		Nutrients: scaled,
		Safety:    safety,
	})
}

func (s *CKDMealServer) handleSearchDishes(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params SearchDishesParams
	if err := s.bindParams(req, &params); err != nil {
		return nil, err
	}
	results, err := s.catalog.Search(ctx, params.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to search dishes: %w", err)
	}
	if results == nil {
		results = []models.NutrientFacts{}
	}
	return s.createJSONResponse(map[string]interface{}{
		"query":   params.Query,
		"results": results,
		"count":   len(results),
	})
}

func (s *CKDMealServer) handleListDishes(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	names, err := s.catalog.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list dishes: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return s.createJSONResponse(map[string]interface{}{
		"dishes": names,
		"count":  len(names),
	})
}

// resolveNutrients scales the reference row, or falls back to manual values
// when the dish is unknown and all four were supplied.
func (s *CKDMealServer) resolveNutrients(ctx context.Context, params *LogMealParams) (string, models.ScaledNutrients, error) {
	size, err := models.ParsePortion(params.Portion)
	if err != nil {
		return "", models.ScaledNutrients{}, newToolError(fiber.StatusBadRequest, codeInvalidParams, err)
	}
	qty := quantityOrOne(params.Quantity)

	facts, found, err := s.lookupDish(ctx, params.DishName)
	if err != nil {
		return "", models.ScaledNutrients{}, err
	}
	if found {
		return facts.DishName, portion.Scale(*facts, size, qty), nil
	}

	if params.Calories == nil || params.Potassium == nil || params.Sodium == nil || params.Protein == nil {
		return "", models.ScaledNutrients{}, fmt.Errorf("%w: %s (supply calories, potassium, sodium and protein to log it manually)", nutrition.ErrDishNotFound, params.DishName)
	}
	log.Debugf("log_meal: manual entry for unknown dish %q", params.DishName)
	return strings.TrimSpace(params.DishName), models.ScaledNutrients{
		Calories:   *params.Calories,
		Potassium:  *params.Potassium,
		Sodium:     *params.Sodium,
		Protein:    *params.Protein,
		Multiplier: 1,
	}, nil
}

// handleLogMeal resolves nutrients for the dish and appends the record to the ledger.
func (s *CKDMealServer) handleLogMeal(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params LogMealParams
	if err := s.bindParams(req, &params); err != nil {
		return nil, err
	}

	// Parse timestamp or use current time
	timestamp := s.now()
	if params.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, params.Timestamp)
		if err != nil {
			return nil, newToolError(fiber.StatusBadRequest, codeInvalidParams, fmt.Errorf("invalid timestamp format: %w", err))
		}
		timestamp = t
	}

	var img []byte
	if params.Image != "" {
		var err error
		if img, err = decodeImage(params.Image); err != nil {
			return nil, err
		}
	}

	dish, nutrients, err := s.resolveNutrients(ctx, &params)
	if err != nil {
		return nil, err
	}

	meal, err := s.ledger.Append(ctx, params.UserID, models.MealRecord{
		DishName:  dish,
		Calories:  nutrients.Calories,
		Potassium: nutrients.Potassium,
		Sodium:    nutrients.Sodium,
		Protein:   nutrients.Protein,
		Quantity:  quantityOrOne(params.Quantity),
		MealType:  models.MealType(params.MealType),
		Timestamp: timestamp,
		Image:     img,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save meal: %w", err)
	}

	return s.createJSONResponse(meal)
}

func (s *CKDMealServer) handleGetMeals(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params UserParams
	if err := s.bindParams(req, &params); err != nil {
		return nil, err
	}
	meals := s.ledger.List(ctx, params.UserID)
	if meals == nil {
		meals = []models.MealRecord{}
	}
	return s.createJSONResponse(map[string]interface{}{
		"user_id": ledger.Partition(params.UserID),
		"meals":   meals,
		"count":   len(meals),
	})
}

func (s *CKDMealServer) handleDeleteMeal(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params DeleteMealParams
	if err := s.bindParams(req, &params); err != nil {
		return nil, err
	}
	if err := s.ledger.Delete(ctx, params.UserID, params.ID); err != nil {
		return nil, err
	}
	return s.createJSONResponse(map[string]interface{}{"deleted": params.ID})
}

func (s *CKDMealServer) handleClearMeals(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params UserParams
	if err := s.bindParams(req, &params); err != nil {
		return nil, err
	}
	s.ledger.Clear(ctx, params.UserID)
	return s.createJSONResponse(map[string]interface{}{"cleared": true})
}

// handleDailyTotals sums one local day and reports progress against the limits.
func (s *CKDMealServer) handleDailyTotals(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params DailyTotalsParams
	if err := s.bindParams(req, &params); err != nil {
		return nil, err
	}

	day := s.now().In(s.ledger.Location())
	if params.Date != "" {
		d, err := time.ParseInLocation("2006-01-02", params.Date, s.ledger.Location())
		if err != nil {
			return nil, newToolError(fiber.StatusBadRequest, codeInvalidParams, fmt.Errorf("invalid date: %w", err))
		}
		day = d
	}

	totals := s.ledger.DailyTotals(ctx, params.UserID, day)
	return s.createJSONResponse(dailyTotalsResponse{
		Totals:   totals,
		Limits:   s.limits,
		Progress: ledger.Progress(totals, s.limits),
	})
}

func (s *CKDMealServer) registerTools() {
	s.tools = map[string]toolHandler{
		"recognize_food":  s.handleRecognizeFood,
		"scale_nutrients": s.handleScaleNutrients,
		"search_dishes":   s.handleSearchDishes,
		"list_dishes":     s.handleListDishes,
		"log_meal":        s.handleLogMeal,
		"get_meals":       s.handleGetMeals,
		"delete_meal":     s.handleDeleteMeal,
		"clear_meals":     s.handleClearMeals,
		"daily_totals":    s.handleDailyTotals,
	}

	for name := range s.tools {
		log.Debugf("Registered tool: %s", name)
	}
}
