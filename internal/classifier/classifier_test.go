package classifier

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcp-ckd-meal/internal/models"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 200, G: 120, B: 40, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecode(t *testing.T) {
	_, format, err := Decode(pngBytes(t))
	require.NoError(t, err)
	assert.Equal(t, "png", format)

	_, _, err = Decode(nil)
	assert.ErrorIs(t, err, ErrInvalidImage)

	_, _, err = Decode([]byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestRank_ClampsSortsAndTruncates(t *testing.T) {
	in := []models.Prediction{
		{Label: "idli", Confidence: 0.2},
		{Label: "dal_tadka", Confidence: 1.4},
		{Label: "", Confidence: 0.9},
		{Label: "biryani", Confidence: -0.3},
		{Label: "dosa", Confidence: 0.5},
	}

	got := Rank(in, 3)
	require.Len(t, got, 3)
	assert.Equal(t, "dal_tadka", got[0].Label)
	assert.Equal(t, 1.0, got[0].Confidence)
	assert.Equal(t, "Dal Tadka", got[0].DisplayName)
	assert.Equal(t, "dosa", got[1].Label)
	assert.Equal(t, "idli", got[2].Label)

	assert.Equal(t, 1.4, in[1].Confidence, "input must not be modified")
}

func TestRank_KeepsOrderForTies(t *testing.T) {
	got := Rank([]models.Prediction{
		{Label: "a", Confidence: 0.4},
		{Label: "b", Confidence: 0.4},
		{Label: "c", Confidence: 0.4},
	}, 5)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].Label, got[1].Label, got[2].Label})
}

func TestDisplayName(t *testing.T) {
	tcs := map[string]string{
		"dal_tadka":     "Dal Tadka",
		"  chicken-65 ": "Chicken 65",
		"paneer__tikka": "Paneer Tikka",
		"masala dosa":   "Masala Dosa",
	}
	for in, want := range tcs {
		assert.Equal(t, want, DisplayName(in), "DisplayName(%q)", in)
	}
}

func TestNormalizeLabel(t *testing.T) {
	assert.Equal(t, "fried_rice", NormalizeLabel("  Fried  Rice "))
	assert.Equal(t, "curry", NormalizeLabel("Curry"))
}

func TestStatic(t *testing.T) {
	ctx := context.Background()
	c := NewStatic(
		models.Prediction{Label: "biryani", Confidence: 0.1},
		models.Prediction{Label: "dal_tadka", Confidence: 0.82},
	)

	got, err := c.Classify(ctx, pngBytes(t), 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "dal_tadka", got[0].Label)

	_, err = c.Classify(ctx, pngBytes(t), 0)
	assert.ErrorIs(t, err, ErrInvalidTopK)

	_, err = c.Classify(ctx, []byte("nope"), 5)
	assert.ErrorIs(t, err, ErrInvalidImage)

	_, err = NewStatic().Classify(ctx, pngBytes(t), 5)
	assert.ErrorIs(t, err, ErrNoResults)
}

func TestUnavailable(t *testing.T) {
	_, err := Unavailable(assert.AnError).Classify(context.Background(), pngBytes(t), 5)
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.Contains(t, err.Error(), assert.AnError.Error())
}

func TestNew_UnknownBackendIsUnavailable(t *testing.T) {
	c := New(context.Background(), Options{Backend: "tflite"})
	_, err := c.Classify(context.Background(), pngBytes(t), 5)
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestNew_Static(t *testing.T) {
	c := New(context.Background(), Options{
		Backend: BackendStatic,
		Static:  []models.Prediction{{Label: "idli", Confidence: 0.7}},
	})
	got, err := c.Classify(context.Background(), pngBytes(t), 1)
	require.NoError(t, err)
	assert.Equal(t, "Idli", got[0].DisplayName)
}
