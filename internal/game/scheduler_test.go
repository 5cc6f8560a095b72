package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSchedulerFiresInFireTimeOrder(t *testing.T) {
	s := NewScheduler()
	var order []string

	s.Schedule(30*time.Millisecond, func() { order = append(order, "c") })
	s.Schedule(10*time.Millisecond, func() { order = append(order, "a") })
	s.Schedule(20*time.Millisecond, func() { order = append(order, "b") })

	fired := s.AdvanceTo(50 * time.Millisecond)

	assert.Equal(t, 3, fired)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 0, s.Len())
}

func TestSchedulerEqualFireTimesAreFIFO(t *testing.T) {
	s := NewScheduler()
	var order []int

	for i := 0; i < 5; i++ {
		i := i
		s.Schedule(10*time.Millisecond, func() { order = append(order, i) })
	}

	s.AdvanceTo(10 * time.Millisecond)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestSchedulerCancelPreventsFiring(t *testing.T) {
	s := NewScheduler()
	fired := false

	ev := s.Schedule(10*time.Millisecond, func() { fired = true })
	s.Cancel(ev)

	assert.Equal(t, 0, s.AdvanceTo(time.Second))
	assert.False(t, fired)

	// Cancelling again is a no-op.
	s.Cancel(ev)
}

func TestSchedulerAdvanceOnlyFiresDueEvents(t *testing.T) {
	s := NewScheduler()
	var fired []string

	s.Schedule(10*time.Millisecond, func() { fired = append(fired, "due") })
	s.Schedule(100*time.Millisecond, func() { fired = append(fired, "later") })

	s.AdvanceTo(50 * time.Millisecond)
	assert.Equal(t, []string{"due"}, fired)
	assert.Equal(t, 1, s.Len())

	s.AdvanceTo(100 * time.Millisecond)
	assert.Equal(t, []string{"due", "later"}, fired)
}

func TestSchedulerIgnoresBackwardTime(t *testing.T) {
	s := NewScheduler()
	s.AdvanceTo(100 * time.Millisecond)

	fired := false
	s.Schedule(10*time.Millisecond, func() { fired = true })

	assert.Equal(t, 0, s.AdvanceTo(50*time.Millisecond))
	assert.False(t, fired)
	assert.Equal(t, 100*time.Millisecond, s.Now())
}

func TestSchedulerCallbackCanScheduleWithinSameAdvance(t *testing.T) {
	s := NewScheduler()
	var order []string

	s.Schedule(10*time.Millisecond, func() {
		order = append(order, "first")
		s.Schedule(5*time.Millisecond, func() { order = append(order, "chained") })
	})

	s.AdvanceTo(20 * time.Millisecond)
	assert.Equal(t, []string{"first", "chained"}, order)
}

func TestSchedulerNonPositiveDelayFiresOnNextAdvance(t *testing.T) {
	s := NewScheduler()
	fired := false
	s.Schedule(0, func() { fired = true })

	s.AdvanceTo(s.Now())
	assert.True(t, fired)
}
