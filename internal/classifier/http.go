// internal/classifier/http.go
package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"mcp-ckd-meal/internal/models"
)

// HTTPClassifier calls a model-serving process that hosts the food CNN.
type HTTPClassifier struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
}

type predictRequest struct {
	Image string `json:"image"`
	TopK  int    `json:"top_k"`
}

type predictResponse struct {
	Predictions []struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
	} `json:"predictions"`
}

func NewHTTPClassifier(endpoint, apiKey string, timeout time.Duration) *HTTPClassifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClassifier{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
	}
}

// Ping checks that the model server has loaded its model.
func (c *HTTPClassifier) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check returned status %d", ErrModelUnavailable, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClassifier) Classify(ctx context.Context, img []byte, topK int) ([]models.Prediction, error) {
	if err := checkTopK(topK); err != nil {
		return nil, err
	}
	if _, _, err := Decode(img); err != nil {
		return nil, err
	}

	jsonData, err := json.Marshal(predictRequest{
		Image: base64.StdEncoding.EncodeToString(img),
		TopK:  topK,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/predict", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: model server rejected image: %s", ErrInvalidImage, strings.TrimSpace(string(body)))
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: request failed with status %d: %s", ErrModelUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Warnf("classifier: undecodable prediction payload: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrNoResults, err)
	}

	preds := make([]models.Prediction, 0, len(out.Predictions))
	for _, p := range out.Predictions {
		preds = append(preds, models.Prediction{Label: p.Label, Confidence: p.Confidence})
	}
	ranked := Rank(preds, topK)
	if len(ranked) == 0 {
		return nil, ErrNoResults
	}
	return ranked, nil
}
