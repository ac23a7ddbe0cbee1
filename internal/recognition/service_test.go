package recognition

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcp-ckd-meal/internal/classifier"
	"mcp-ckd-meal/internal/models"
	"mcp-ckd-meal/internal/nutrition"
	"mcp-ckd-meal/internal/nutrition/nutritiontest"
	"mcp-ckd-meal/internal/portion"
)

type stubClassifier struct {
	preds []models.Prediction
	err   error
	topK  int
}

func (s *stubClassifier) Classify(ctx context.Context, img []byte, topK int) ([]models.Prediction, error) {
	s.topK = topK
	return s.preds, s.err
}

type stubLookup struct {
	rows   map[string]models.NutrientFacts
	err    error
	labels []string
}

func (s *stubLookup) Lookup(ctx context.Context, label string) (*models.NutrientFacts, bool, error) {
	s.labels = append(s.labels, label)
	if s.err != nil {
		return nil, false, s.err
	}
	f, ok := s.rows[nutrition.NormalizeKey(label)]
	if !ok {
		return nil, false, nil
	}
	return &f, true, nil
}

func ranked() []models.Prediction {
	return []models.Prediction{
		{Label: "dal_tadka", Confidence: 0.82, DisplayName: "Dal Tadka"},
		{Label: "biryani", Confidence: 0.10, DisplayName: "Biryani"},
		{Label: "idli", Confidence: 0.04, DisplayName: "Idli"},
		{Label: "masala_dosa", Confidence: 0.02, DisplayName: "Masala Dosa"},
		{Label: "paneer_tikka", Confidence: 0.01, DisplayName: "Paneer Tikka"},
	}
}

func TestRecognize_AlternativesAreTheRestInOrder(t *testing.T) {
	for n := 1; n <= 5; n++ {
		t.Run(fmt.Sprintf("%d predictions", n), func(t *testing.T) {
			preds := ranked()[:n]
			c := &stubClassifier{preds: preds}
			svc := NewService(c, &stubLookup{})

			got, err := svc.Recognize(context.Background(), []byte("img"))
			require.NoError(t, err)
			assert.Equal(t, TopK, c.topK)
			assert.Equal(t, preds[0], got.Prediction)
			assert.Equal(t, preds[1:], got.AlternativePredictions)
			assert.NotNil(t, got.AlternativePredictions)
		})
	}
}

func TestRecognize_LooksUpOnlyTheTopLabel(t *testing.T) {
	lookup := &stubLookup{rows: map[string]models.NutrientFacts{
		"dal_tadka": {DishName: "dal_tadka", Calories: 180},
		"biryani":   {DishName: "biryani", Calories: 290},
	}}
	svc := NewService(&stubClassifier{preds: ranked()}, lookup)

	got, err := svc.Recognize(context.Background(), []byte("img"))
	require.NoError(t, err)
	require.True(t, got.HasNutrients())
	assert.Equal(t, "dal_tadka", got.Nutrients.DishName)
	assert.Equal(t, []string{"dal_tadka"}, lookup.labels)
}

func TestRecognize_MissingDishIsNotAnError(t *testing.T) {
	preds := []models.Prediction{{Label: "momos", Confidence: 0.35}}
	svc := NewService(&stubClassifier{preds: preds}, &stubLookup{})

	got, err := svc.Recognize(context.Background(), []byte("img"))
	require.NoError(t, err)
	assert.Nil(t, got.Nutrients)
	assert.True(t, got.IsActionable())
	assert.False(t, got.IsHighConfidence())
	assert.True(t, got.NeedsManualSelection())
}

func TestRecognize_Failures(t *testing.T) {
	tcs := []struct {
		name   string
		c      *stubClassifier
		lookup *stubLookup
		code   string
	}{
		{"model unavailable", &stubClassifier{err: fmt.Errorf("%w: missing weights", classifier.ErrModelUnavailable)}, &stubLookup{}, "model_unavailable"},
		{"invalid image", &stubClassifier{err: classifier.ErrInvalidImage}, &stubLookup{}, "invalid_image"},
		{"no results", &stubClassifier{err: classifier.ErrNoResults}, &stubLookup{}, "no_results"},
		{"no predictions", &stubClassifier{preds: nil}, &stubLookup{}, "no_predictions"},
		{"lookup error", &stubClassifier{preds: ranked()}, &stubLookup{err: errors.New("disk I/O error")}, "internal"},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NewService(tc.c, tc.lookup).Recognize(context.Background(), []byte("img"))
			require.Error(t, err)
			assert.Nil(t, got, "no partial results")
			assert.Equal(t, tc.code, Code(err))
		})
	}
}

func TestRecognize_EmptyListDoesNotLookUp(t *testing.T) {
	lookup := &stubLookup{}
	_, err := NewService(&stubClassifier{preds: []models.Prediction{}}, lookup).Recognize(context.Background(), []byte("img"))
	assert.ErrorIs(t, err, ErrNoPredictions)
	assert.Empty(t, lookup.labels)
}

func TestCode(t *testing.T) {
	assert.Equal(t, "", Code(nil))
	assert.Equal(t, "superseded", Code(ErrSuperseded))
	assert.Equal(t, "canceled", Code(context.Canceled))
	assert.Equal(t, "canceled", Code(ErrSessionClosed))
	assert.Equal(t, "internal", Code(errors.New("boom")))
}

func TestEndToEnd_ImageToScaledSafety(t *testing.T) {
	store, err := nutrition.Open(nutritiontest.NewDB(t, nutritiontest.Rows()...))
	require.NoError(t, err)
	defer store.Close()

	c := classifier.NewStatic(
		models.Prediction{Label: "dal_tadka", Confidence: 0.82},
		models.Prediction{Label: "biryani", Confidence: 0.10},
		models.Prediction{Label: "idli", Confidence: 0.05},
	)
	svc := NewService(c, store)

	got, err := svc.Recognize(context.Background(), pngImage(t))
	require.NoError(t, err)
	require.True(t, got.IsHighConfidence())
	require.True(t, got.HasNutrients())
	require.Len(t, got.AlternativePredictions, 2)
	assert.Equal(t, "Biryani", got.AlternativePredictions[0].DisplayName)

	scaled, report := portion.ScaleAndEvaluate(*got.Nutrients, models.PortionLarge, 2)
	assert.Equal(t, 540, scaled.Calories)
	assert.Equal(t, 1350, scaled.Sodium)
	assert.Equal(t, 960, scaled.Potassium)
	assert.Equal(t, 27.0, scaled.Protein)
	assert.Equal(t, models.SafetyReport{
		Sodium:    models.SafetyHigh,
		Potassium: models.SafetyHigh,
		Protein:   models.SafetyHigh,
	}, report)
}
