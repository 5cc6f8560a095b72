package system

import (
	"time"

	"github.com/veldrin/server/internal/core/event"
	coresys "github.com/veldrin/server/internal/core/system"
)

// EventSystem rotates the event bus buffers and delivers last tick's events
// to their subscribers. Phase 1 (PreUpdate), so input handlers in phase 0
// see a stable front buffer for the whole tick.
type EventSystem struct {
	bus *event.Bus
}

func NewEventSystem(bus *event.Bus) *EventSystem {
	return &EventSystem{bus: bus}
}

func (s *EventSystem) Phase() coresys.Phase { return coresys.PhasePreUpdate }

func (s *EventSystem) Update(_ time.Duration) {
	s.bus.SwapBuffers()
	s.bus.DispatchAll()
}
