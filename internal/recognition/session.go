// internal/recognition/session.go
package recognition

import (
	"context"
	"sync"

	"github.com/gofiber/fiber/v2/log"

	"mcp-ckd-meal/internal/models"
)

type Outcome struct {
	Result *models.RecognitionResult
	Err    error
}

// Session belongs to one capture screen. Only the newest submission may
// deliver its outcome; older ones finish in the background and are dropped.
type Session struct {
	svc *Service

	base     context.Context
	shutdown context.CancelFunc

	mu     sync.Mutex
	gen    uint64
	stale  chan struct{}
	closed bool

	// deliver orders callbacks so an older outcome can never land after a newer one.
	deliver sync.Mutex
}

func (s *Service) NewSession() *Session {
	base, cancel := context.WithCancel(context.Background())
	return &Session{svc: s, base: base, shutdown: cancel}
}

// Submit starts a recognition and invalidates any earlier one. fn runs at
// most once, on another goroutine, and only if no newer Submit or Close
// happened before the outcome was ready.
func (s *Session) Submit(ctx context.Context, img []byte, fn func(Outcome)) (uint64, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrSessionClosed
	}
	if s.stale != nil {
		close(s.stale)
	}
	s.gen++
	gen := s.gen
	s.stale = make(chan struct{})
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.base, cancel)

	go func() {
		defer cancel()
		defer stop()

		res, err := s.svc.Recognize(runCtx, img)

		s.deliver.Lock()
		defer s.deliver.Unlock()
		if !s.current(gen) {
			log.Debugf("recognition: dropping stale result for capture %d", gen)
			return
		}
		fn(Outcome{Result: res, Err: err})
	}()

	return gen, nil
}

// Recognize submits and waits. It returns ErrSuperseded if a newer capture
// replaces this one first, or ErrSessionClosed if the session is closed.
func (s *Session) Recognize(ctx context.Context, img []byte) (*models.RecognitionResult, error) {
	done := make(chan Outcome, 1)
	gen, err := s.Submit(ctx, img, func(o Outcome) { done <- o })
	if err != nil {
		return nil, err
	}
	stale := s.staleSignal(gen)

	select {
	case o := <-done:
		return o.Result, o.Err
	case <-stale:
		select {
		case o := <-done:
			return o.Result, o.Err
		default:
		}
		if s.isClosed() {
			return nil, ErrSessionClosed
		}
		return nil, ErrSuperseded
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close drops any in-flight outcome and rejects further submissions.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.stale != nil {
		close(s.stale)
		s.stale = nil
	}
	s.mu.Unlock()
	s.shutdown()
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && gen == s.gen
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// staleSignal returns a channel closed once gen is no longer current.
func (s *Session) staleSignal(gen uint64) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.gen {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.stale
}
