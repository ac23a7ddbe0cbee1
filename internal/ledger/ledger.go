// internal/ledger/ledger.go

// Package ledger keeps each user's confirmed meals and the daily totals
// derived from them. A user's meals are stored as one serialized collection;
// every change rewrites that collection under a per-user lock.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"mcp-ckd-meal/internal/models"
	"mcp-ckd-meal/internal/notify"
)

var (
	ErrMealNotFound  = errors.New("meal not found")
	ErrInvalidRecord = errors.New("invalid meal record")
	// ErrStoreUnavailable means the stored collection could not be read, so
	// the change was not applied.
	ErrStoreUnavailable = errors.New("meal store unavailable")
)

// Store is the key/value persistence the ledger writes through.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

type Publisher interface {
	Publish(e notify.Event) int
}

type Ledger struct {
	store Store
	pub   Publisher
	loc   *time.Location
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type Option func(*Ledger)

// WithLocation sets the calendar used to split days. Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithPublisher(p Publisher) Option {
	return func(l *Ledger) { l.pub = p }
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		loc:   time.Local,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Location() *time.Location { return l.loc }

// Partition maps a user id to its ledger partition; signed-out users share "guest".
func Partition(userID string) string {
	id := strings.TrimSpace(userID)
	if id == "" {
		return models.GuestUserID
	}
	return id
}

func collectionKey(userID string) string {
	return "meals_" + Partition(userID)
}

func (l *Ledger) userLock(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := Partition(userID)
	m, ok := l.locks[p]
	if !ok {
		m = &sync.Mutex{}
		l.locks[p] = m
	}
	return m
}

// load reads the user's collection. Corrupt data reads as empty; a store
// error is returned so callers never rewrite a collection they could not read.
func (l *Ledger) load(ctx context.Context, userID string) ([]models.MealRecord, error) {
	key := collectionKey(userID)
	data, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if !ok || len(data) == 0 {
		return []models.MealRecord{}, nil
	}
	var records []models.MealRecord
	if err := json.Unmarshal(data, &records); err != nil {
		log.Errorf("ledger: failed to decode %s, treating as empty: %v", key, err)
		return []models.MealRecord{}, nil
	}
	return records, nil
}

// save logs and drops write failures; the collection is a local cache.
func (l *Ledger) save(ctx context.Context, userID string, records []models.MealRecord) {
	key := collectionKey(userID)
	data, err := json.Marshal(records)
	if err != nil {
		log.Errorf("ledger: failed to encode %s: %v", key, err)
		return
	}
	if err := l.store.Put(ctx, key, data); err != nil {
		log.Errorf("ledger: failed to write %s: %v", key, err)
	}
}

func validate(rec models.MealRecord) error {
	if strings.TrimSpace(rec.DishName) == "" {
		return fmt.Errorf("%w: dish name is required", ErrInvalidRecord)
	}
	if rec.Quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1, got %d", ErrInvalidRecord, rec.Quantity)
	}
	if _, err := models.ParseMealType(string(rec.MealType)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}

// Append stores a new record, assigning an id and timestamp when missing.
func (l *Ledger) Append(ctx context.Context, userID string, rec models.MealRecord) (models.MealRecord, error) {
	if err := validate(rec); err != nil {
		return models.MealRecord{}, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	}

	m := l.userLock(userID)
	m.Lock()
	defer m.Unlock()

	records, err := l.load(ctx, userID)
	if err != nil {
		log.Errorf("ledger: not appending for %s: %v", Partition(userID), err)
		return models.MealRecord{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	records = append(records, rec)
	l.save(ctx, userID, records)

	// Published under the lock so a user's events arrive in write order.
	l.publish(notify.Event{
		Kind:     notify.MealAppended,
		UserID:   Partition(userID),
		RecordID: rec.ID,
		Totals:   SumDay(records, rec.Timestamp, l.loc),
	})
	return rec, nil
}

// List returns the user's records in insertion order. A store read error
// is logged and reads as an empty list.
func (l *Ledger) List(ctx context.Context, userID string) []models.MealRecord {
	m := l.userLock(userID)
	m.Lock()
	defer m.Unlock()
	records, err := l.load(ctx, userID)
	if err != nil {
		log.Errorf("ledger: %v, treating as empty", err)
		return []models.MealRecord{}
	}
	return records
}

func (l *Ledger) Delete(ctx context.Context, userID, id string) error {
	m := l.userLock(userID)
	m.Lock()
	defer m.Unlock()

	records, err := l.load(ctx, userID)
	if err != nil {
		log.Errorf("ledger: not deleting for %s: %v", Partition(userID), err)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	idx := -1
	for i, r := range records {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrMealNotFound, id)
	}
	removed := records[idx]
	records = append(records[:idx], records[idx+1:]...)
	l.save(ctx, userID, records)

	l.publish(notify.Event{
		Kind:     notify.MealDeleted,
		UserID:   Partition(userID),
		RecordID: id,
		Totals:   SumDay(records, removed.Timestamp, l.loc),
	})
	return nil
}

// Clear drops every record for the user.
func (l *Ledger) Clear(ctx context.Context, userID string) {
	m := l.userLock(userID)
	m.Lock()
	defer m.Unlock()

	key := collectionKey(userID)
	if err := l.store.Delete(ctx, key); err != nil {
		log.Errorf("ledger: failed to clear %s: %v", key, err)
	}
	l.publish(notify.Event{Kind: notify.MealsCleared, UserID: Partition(userID), Totals: SumDay(nil, l.now(), l.loc)})
}

// DailyTotals sums the user's records that fall on date's calendar day.
func (l *Ledger) DailyTotals(ctx context.Context, userID string, date time.Time) models.DailyTotals {
	return SumDay(l.List(ctx, userID), date, l.loc)
}

func (l *Ledger) publish(e notify.Event) {
	if l.pub == nil {
		return
	}
	l.pub.Publish(e)
}

// SumDay totals the records whose timestamp, seen in loc, shares day's date.
func SumDay(records []models.MealRecord, day time.Time, loc *time.Location) models.DailyTotals {
	if loc == nil {
		loc = time.Local
	}
	y, mo, d := day.In(loc).Date()
	totals := models.DailyTotals{Date: day.In(loc).Format("2006-01-02")}

	for _, r := range records {
		ry, rmo, rd := r.Timestamp.In(loc).Date()
		if ry != y || rmo != mo || rd != d {
			continue
		}
		totals.Calories += r.Calories
		totals.Potassium += r.Potassium
		totals.Sodium += r.Sodium
		totals.Protein += r.Protein
		totals.Meals++
	}
	totals.Protein = math.Round(totals.Protein*10) / 10
	return totals
}
