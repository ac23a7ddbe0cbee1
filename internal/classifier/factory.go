// internal/classifier/factory.go
package classifier

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"mcp-ckd-meal/internal/models"
)

const (
	BackendHTTP        = "http"
	BackendRekognition = "rekognition"
	BackendStatic      = "static"
)

type Options struct {
	Backend       string
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	Region        string
	MinConfidence float64
	Static        []models.Prediction
}

// New builds the configured backend once at startup. A backend that cannot
// start is replaced by one that reports ErrModelUnavailable on every call
// until the process restarts.
func New(ctx context.Context, opts Options) Classifier {
	switch opts.Backend {
	case BackendHTTP, "":
		c := NewHTTPClassifier(opts.Endpoint, opts.APIKey, opts.Timeout)
		if err := c.Ping(ctx); err != nil {
			log.Errorf("classifier: model server at %s not ready: %v", opts.Endpoint, err)
			return Unavailable(err)
		}
		log.Infof("classifier: using model server at %s", opts.Endpoint)
		return c
	case BackendRekognition:
		c, err := NewRekognitionClassifier(ctx, opts.Region, opts.MinConfidence)
		if err != nil {
			log.Errorf("classifier: rekognition backend failed to start: %v", err)
			return Unavailable(err)
		}
		log.Infof("classifier: using AWS Rekognition in %s", opts.Region)
		return c
	case BackendStatic:
		log.Warnf("classifier: using static predictions (%d labels)", len(opts.Static))
		return NewStatic(opts.Static...)
	}
	err := fmt.Errorf("unknown classifier backend %q", opts.Backend)
	log.Error(err)
	return Unavailable(err)
}
