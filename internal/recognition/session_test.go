package recognition

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcp-ckd-meal/internal/models"
)

func pngImage(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

// gatedClassifier blocks each call, keyed by the image bytes, until released.
type gatedClassifier struct {
	mu      sync.Mutex
	gates   map[string]chan struct{}
	started chan string
}

func newGated(keys ...string) *gatedClassifier {
	g := &gatedClassifier{gates: map[string]chan struct{}{}, started: make(chan string, len(keys))}
	for _, k := range keys {
		g.gates[k] = make(chan struct{})
	}
	return g
}

func (g *gatedClassifier) release(key string) { close(g.gates[key]) }

func (g *gatedClassifier) Classify(ctx context.Context, img []byte, topK int) ([]models.Prediction, error) {
	key := string(img)
	g.mu.Lock()
	gate := g.gates[key]
	g.mu.Unlock()
	g.started <- key
	select {
	case <-gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return []models.Prediction{{Label: key, Confidence: 0.9}}, nil
}

func waitStarted(t *testing.T, g *gatedClassifier, key string) {
	t.Helper()
	select {
	case got := <-g.started:
		require.Equal(t, key, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("classification of %q never started", key)
	}
}

func TestSession_StaleResultIsDropped(t *testing.T) {
	g := newGated("first", "second")
	sess := NewService(g, &stubLookup{}).NewSession()
	defer sess.Close()

	var mu sync.Mutex
	var delivered []string
	done := make(chan struct{})
	record := func(o Outcome) {
		mu.Lock()
		defer mu.Unlock()
		if !assert.NoError(t, o.Err) {
			return
		}
		delivered = append(delivered, o.Result.Prediction.Label)
		if o.Result.Prediction.Label == "second" {
			close(done)
		}
	}

	_, err := sess.Submit(context.Background(), []byte("first"), record)
	require.NoError(t, err)
	waitStarted(t, g, "first")

	_, err = sess.Submit(context.Background(), []byte("second"), record)
	require.NoError(t, err)
	waitStarted(t, g, "second")

	// The older capture finishes first but must not be applied.
	g.release("first")
	time.Sleep(50 * time.Millisecond)
	g.release("second")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("newest result never delivered")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"second"}, delivered)
}

func TestSession_RecognizeReportsSuperseded(t *testing.T) {
	g := newGated("old", "new")
	sess := NewService(g, &stubLookup{}).NewSession()
	defer sess.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := sess.Recognize(context.Background(), []byte("old"))
		errCh <- err
	}()
	waitStarted(t, g, "old")

	newer := make(chan *models.RecognitionResult, 1)
	go func() {
		res, err := sess.Recognize(context.Background(), []byte("new"))
		assert.NoError(t, err)
		newer <- res
	}()
	waitStarted(t, g, "new")

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("superseded call never returned")
	}

	g.release("old")
	g.release("new")
	select {
	case res := <-newer:
		assert.Equal(t, "new", res.Prediction.Label)
	case <-time.After(2 * time.Second):
		t.Fatal("newer call never returned")
	}
}

func TestSession_CloseDropsInFlight(t *testing.T) {
	g := newGated("photo")
	sess := NewService(g, &stubLookup{}).NewSession()

	called := make(chan struct{}, 1)
	_, err := sess.Submit(context.Background(), []byte("photo"), func(Outcome) { called <- struct{}{} })
	require.NoError(t, err)
	waitStarted(t, g, "photo")

	sess.Close()
	sess.Close()

	select {
	case <-called:
		t.Fatal("callback fired after the session was closed")
	case <-time.After(100 * time.Millisecond):
	}

	_, err = sess.Submit(context.Background(), []byte("photo"), func(Outcome) {})
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = sess.Recognize(context.Background(), []byte("photo"))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_RecognizeHonoursCallerContext(t *testing.T) {
	g := newGated("slow")
	sess := NewService(g, &stubLookup{}).NewSession()
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := sess.Recognize(ctx, []byte("slow"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSession_FailureIsDelivered(t *testing.T) {
	sess := NewService(&stubClassifier{}, &stubLookup{}).NewSession()
	defer sess.Close()

	_, err := sess.Recognize(context.Background(), pngImage(t))
	assert.ErrorIs(t, err, ErrNoPredictions)
}
