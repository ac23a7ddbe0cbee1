package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish_FansOut(t *testing.T) {
	b := NewBroadcaster()
	a, cancelA := b.Subscribe(4)
	defer cancelA()
	c, cancelC := b.Subscribe(4)
	defer cancelC()

	n := b.Publish(Event{Kind: MealAppended, UserID: "u1", RecordID: "r1"})
	assert.Equal(t, 2, n)

	got := <-a
	assert.Equal(t, MealAppended, got.Kind)
	assert.Equal(t, "r1", (<-c).RecordID)
}

func TestPublish_DropsWhenFull(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	assert.Equal(t, 1, b.Publish(Event{Kind: MealAppended}))
	assert.Equal(t, 0, b.Publish(Event{Kind: MealDeleted}))

	got := <-ch
	assert.Equal(t, MealAppended, got.Kind)
}

func TestCancel_ClosesAndUnregisters(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe(0)
	require.Equal(t, 1, b.Subscribers())

	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.Subscribers())
	assert.Equal(t, 0, b.Publish(Event{Kind: MealsCleared}))
}
