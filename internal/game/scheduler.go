package game

import (
	"container/heap"
	"time"
)

// ScheduledEvent is a callback ordered by virtual game time. Handles are
// returned by Schedule so callers can cancel before the event fires.
type ScheduledEvent struct {
	fireAt    time.Duration // virtual time
	seq       uint64        // FIFO tiebreak among equal fire times
	fn        func()
	index     int // heap index, -1 once removed
	cancelled bool
}

type eventHeap []*ScheduledEvent

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].fireAt != h[j].fireAt {
		return h[i].fireAt < h[j].fireAt
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *eventHeap) Push(x any) {
	ev := x.(*ScheduledEvent)
	ev.index = len(*h)
	*h = append(*h, ev)
}
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	ev.index = -1
	*h = old[:n-1]
	return ev
}

// Scheduler orders delayed callbacks by virtual game time. It is simulation
// state: all access happens under the world lock, on the game goroutine.
type Scheduler struct {
	events eventHeap
	now    time.Duration
	seq    uint64
}

func NewScheduler() *Scheduler {
	return &Scheduler{events: make(eventHeap, 0, 64)}
}

// Schedule queues fn to fire delay after the current virtual time.
// Non-positive delays fire on the next advance.
func (s *Scheduler) Schedule(delay time.Duration, fn func()) *ScheduledEvent {
	s.seq++
	ev := &ScheduledEvent{
		fireAt: s.now + delay,
		seq:    s.seq,
		fn:     fn,
	}
	heap.Push(&s.events, ev)
	return ev
}

// Cancel prevents a pending event from firing. Cancelling an already-fired
// event is a no-op.
func (s *Scheduler) Cancel(ev *ScheduledEvent) {
	if ev == nil || ev.index < 0 {
		return
	}
	ev.cancelled = true
	heap.Remove(&s.events, ev.index)
}

// AdvanceTo moves virtual time forward and fires every due callback in
// fire-time order (FIFO among equal times). Returns the number fired.
// Callbacks may schedule further events, including ones due within the same
// advance.
func (s *Scheduler) AdvanceTo(now time.Duration) int {
	if now < s.now {
		return 0 // virtual time never moves backward
	}
	fired := 0
	for len(s.events) > 0 && s.events[0].fireAt <= now {
		ev := heap.Pop(&s.events).(*ScheduledEvent)
		s.now = ev.fireAt
		if !ev.cancelled {
			ev.fn()
			fired++
		}
	}
	s.now = now
	return fired
}

// Now returns the scheduler's current virtual time.
func (s *Scheduler) Now() time.Duration {
	return s.now
}

// Len returns the number of pending events.
func (s *Scheduler) Len() int {
	return len(s.events)
}
