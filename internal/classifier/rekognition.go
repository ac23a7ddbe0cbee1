// internal/classifier/rekognition.go
package classifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"

	"mcp-ckd-meal/internal/models"
)

type detectLabelsAPI interface {
	DetectLabels(ctx context.Context, params *rekognition.DetectLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error)
}

// RekognitionClassifier labels images with AWS Rekognition. Labels are
// generic ("Curry", "Rice") so it is a fallback for the bundled model.
type RekognitionClassifier struct {
	client        detectLabelsAPI
	minConfidence float32
}

func NewRekognitionClassifier(ctx context.Context, region string, minConfidence float64) (*RekognitionClassifier, error) {
	if region == "" {
		return nil, fmt.Errorf("%w: aws region not set", ErrModelUnavailable)
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("%w: unable to load AWS config: %v", ErrModelUnavailable, err)
	}
	return newRekognitionClassifier(rekognition.NewFromConfig(cfg), minConfidence), nil
}

func newRekognitionClassifier(client detectLabelsAPI, minConfidence float64) *RekognitionClassifier {
	return &RekognitionClassifier{client: client, minConfidence: float32(minConfidence)}
}

func (r *RekognitionClassifier) Classify(ctx context.Context, img []byte, topK int) ([]models.Prediction, error) {
	if err := checkTopK(topK); err != nil {
		return nil, err
	}
	if _, _, err := Decode(img); err != nil {
		return nil, err
	}

	out, err := r.client.DetectLabels(ctx, &rekognition.DetectLabelsInput{
		Image:         &types.Image{Bytes: img},
		MaxLabels:     aws.Int32(int32(topK)),
		MinConfidence: aws.Float32(r.minConfidence),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var badFormat *types.InvalidImageFormatException
		var tooLarge *types.ImageTooLargeException
		if errors.As(err, &badFormat) || errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	preds := make([]models.Prediction, 0, len(out.Labels))
	for _, l := range out.Labels {
		name := aws.ToString(l.Name)
		preds = append(preds, models.Prediction{
			Label:       NormalizeLabel(name),
			Confidence:  float64(aws.ToFloat32(l.Confidence)) / 100,
			DisplayName: name,
		})
	}
	ranked := Rank(preds, topK)
	if len(ranked) == 0 {
		return nil, ErrNoResults
	}
	return ranked, nil
}
