// internal/classifier/classifier.go

// Package classifier defines the food image classification contract and its
// backends. The model itself is a black box; backends only need to turn an
// encoded image into ranked label/confidence pairs.
package classifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"mcp-ckd-meal/internal/models"
)

var (
	// ErrModelUnavailable means the model could not be loaded or reached.
	// Callers must not retry automatically.
	ErrModelUnavailable = errors.New("classifier model unavailable")
	ErrInvalidImage     = errors.New("invalid image")
	// ErrNoResults means the model ran but produced nothing usable.
	ErrNoResults   = errors.New("classifier returned no results")
	ErrInvalidTopK = errors.New("topK must be at least 1")
)

// Classifier returns at most topK predictions ordered by descending confidence.
type Classifier interface {
	Classify(ctx context.Context, img []byte, topK int) ([]models.Prediction, error)
}

// Decode checks that data is an image the classifiers understand.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty image", ErrInvalidImage)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, format, nil
}

// Rank clamps confidences to [0,1], sorts descending, keeps topK and fills
// in display names. The input slice is not modified.
func Rank(preds []models.Prediction, topK int) []models.Prediction {
	out := make([]models.Prediction, 0, len(preds))
	for _, p := range preds {
		if strings.TrimSpace(p.Label) == "" {
			continue
		}
		p.Confidence = clamp01(p.Confidence)
		if p.DisplayName == "" {
			p.DisplayName = DisplayName(p.Label)
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// DisplayName turns "dal_tadka" into "Dal Tadka".
func DisplayName(label string) string {
	s := strings.NewReplacer("_", " ", "-", " ").Replace(strings.TrimSpace(label))
	s = strings.Join(strings.Fields(s), " ")
	return cases.Title(language.English).String(s)
}

// NormalizeLabel lower-cases a free-form label and joins words with
// underscores, the convention the bundled model emits.
func NormalizeLabel(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "_")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func checkTopK(topK int) error {
	if topK < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidTopK, topK)
	}
	return nil
}

// Unavailable returns a Classifier that fails every call with
// ErrModelUnavailable. It stands in for a backend that could not start.
func Unavailable(cause error) Classifier {
	return &unavailable{cause: cause}
}

type unavailable struct {
	cause error
}

func (u *unavailable) Classify(ctx context.Context, img []byte, topK int) ([]models.Prediction, error) {
	if u.cause == nil {
		return nil, ErrModelUnavailable
	}
	return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, u.cause)
}

// Static always answers with the same predictions. Useful for demos and tests.
type Static struct {
	Predictions []models.Prediction
}

func NewStatic(preds ...models.Prediction) *Static {
	return &Static{Predictions: preds}
}

func (s *Static) Classify(ctx context.Context, img []byte, topK int) ([]models.Prediction, error) {
	if err := checkTopK(topK); err != nil {
		return nil, err
	}
	if _, _, err := Decode(img); err != nil {
		return nil, err
	}
	if len(s.Predictions) == 0 {
		return nil, ErrNoResults
	}
	return Rank(s.Predictions, topK), nil
}
