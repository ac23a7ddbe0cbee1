package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRekognition struct {
	out   *rekognition.DetectLabelsOutput
	err   error
	input *rekognition.DetectLabelsInput
}

func (f *fakeRekognition) DetectLabels(ctx context.Context, params *rekognition.DetectLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error) {
	f.input = params
	return f.out, f.err
}

func TestRekognitionClassifier_Classify(t *testing.T) {
	fake := &fakeRekognition{out: &rekognition.DetectLabelsOutput{
		Labels: []types.Label{
			{Name: aws.String("Food"), Confidence: aws.Float32(99)},
			{Name: aws.String("Fried Rice"), Confidence: aws.Float32(72.5)},
		},
	}}
	c := newRekognitionClassifier(fake, 50)

	got, err := c.Classify(context.Background(), pngBytes(t), 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "food", got[0].Label)
	assert.InDelta(t, 0.99, got[0].Confidence, 1e-6)
	assert.Equal(t, "fried_rice", got[1].Label)
	assert.Equal(t, "Fried Rice", got[1].DisplayName)

	require.NotNil(t, fake.input)
	assert.Equal(t, int32(5), aws.ToInt32(fake.input.MaxLabels))
	assert.Equal(t, float32(50), aws.ToFloat32(fake.input.MinConfidence))
}

func TestRekognitionClassifier_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := newRekognitionClassifier(&fakeRekognition{out: &rekognition.DetectLabelsOutput{}}, 50).
		Classify(ctx, pngBytes(t), 5)
	assert.ErrorIs(t, err, ErrNoResults)

	_, err = newRekognitionClassifier(&fakeRekognition{err: &types.InvalidImageFormatException{Message: aws.String("bad")}}, 50).
		Classify(ctx, pngBytes(t), 5)
	assert.ErrorIs(t, err, ErrInvalidImage)

	_, err = newRekognitionClassifier(&fakeRekognition{err: errors.New("throttled")}, 50).
		Classify(ctx, pngBytes(t), 5)
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestNewRekognitionClassifier_RequiresRegion(t *testing.T) {
	_, err := NewRekognitionClassifier(context.Background(), "", 50)
	assert.ErrorIs(t, err, ErrModelUnavailable)
}
