// internal/recognition/service.go

// Package recognition turns a captured food photo into a prediction with
// optional nutrient facts: classify, look up the top label, compose.
package recognition

import (
	"context"
	"errors"
	"fmt"

	"mcp-ckd-meal/internal/classifier"
	"mcp-ckd-meal/internal/models"
	"mcp-ckd-meal/internal/nutrition"
)

// TopK is how many predictions are requested per image.
const TopK = 5

var (
	// ErrNoPredictions means the classifier succeeded but handed back an empty list.
	ErrNoPredictions = errors.New("no predictions for image")
	ErrSuperseded    = errors.New("recognition superseded by a newer capture")
	ErrSessionClosed = errors.New("capture session closed")
)

type Service struct {
	classifier classifier.Classifier
	lookup     nutrition.Lookuper
}

func NewService(c classifier.Classifier, l nutrition.Lookuper) *Service {
	return &Service{classifier: c, lookup: l}
}

// Recognize runs the pipeline once. It returns either a complete result or
// an error; a dish missing from the reference store is not an error.
func (s *Service) Recognize(ctx context.Context, img []byte) (*models.RecognitionResult, error) {
	preds, err := s.classifier.Classify(ctx, img, TopK)
	if err != nil {
		return nil, fmt.Errorf("failed to classify image: %w", err)
	}
	if len(preds) == 0 {
		return nil, ErrNoPredictions
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	top := preds[0]
	facts, found, err := s.lookup.Lookup(ctx, top.Label)
	if err != nil {
		return nil, fmt.Errorf("failed to look up nutrients for %q: %w", top.Label, err)
	}

	result := &models.RecognitionResult{
		Prediction:             top,
		AlternativePredictions: append([]models.Prediction{}, preds[1:]...),
	}
	if found {
		result.Nutrients = facts
	}
	return result, nil
}

// Code names the failure category of a recognition error.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, classifier.ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, classifier.ErrInvalidImage):
		return "invalid_image"
	case errors.Is(err, classifier.ErrNoResults):
		return "no_results"
	case errors.Is(err, ErrNoPredictions):
		return "no_predictions"
	case errors.Is(err, ErrSuperseded):
		return "superseded"
	case errors.Is(err, ErrSessionClosed), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "internal"
}
