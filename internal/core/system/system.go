package system

import "time"

// Phase defines execution ordering within a single fixed update.
type Phase int

const (
	PhaseInput      Phase = iota // 0: drain the inbound mailbox
	PhasePreUpdate               // 1: dispatch last tick's events, fire due timers
	PhaseUpdate                  // 2: locomotion, game logic
	PhasePostUpdate              // 3: physics resolution, interest/visibility
	PhaseOutput                  // 4: buffer outbound messages per session
	PhasePersist                 // 5: periodic batch save
	PhaseCleanup                 // 6: destroy queued entities
)

// System is the interface every simulation system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
