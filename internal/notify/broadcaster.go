// internal/notify/broadcaster.go

// Package notify fans ledger changes out to in-process observers such as the
// daily totals view and the limit tracker.
package notify

import (
	"sync"

	"github.com/gofiber/fiber/v2/log"

	"mcp-ckd-meal/internal/models"
)

type Kind string

const (
	MealAppended Kind = "meal_appended"
	MealDeleted  Kind = "meal_deleted"
	MealsCleared Kind = "meals_cleared"
)

// Event carries the freshly recomputed totals for the day the change touched.
type Event struct {
	Kind     Kind               `json:"kind"`
	UserID   string             `json:"user_id"`
	RecordID string             `json:"record_id,omitempty"`
	Totals   models.DailyTotals `json:"totals"`
}

type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a buffered listener. The returned cancel func
// unregisters it and closes the channel; calling it twice is safe.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish never blocks: a subscriber whose buffer is full misses the event.
// It returns how many subscribers received it.
func (b *Broadcaster) Publish(e Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	sent := 0
	for ch := range b.subs {
		select {
		case ch <- e:
			sent++
		default:
			log.Warnf("notify: subscriber buffer full, dropping %s for user %s", e.Kind, e.UserID)
		}
	}
	return sent
}

func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
