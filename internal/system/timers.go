package system

import (
	"time"

	coresys "github.com/veldrin/server/internal/core/system"
	"github.com/veldrin/server/internal/game"
)

// TimerSystem advances the scheduler to the current virtual time and fires
// due events. Virtual time moves in whole ticks, so a catch-up burst fires
// each tick's timers in order. Phase 2 (Update).
type TimerSystem struct {
	g *game.Game
}

func NewTimerSystem(g *game.Game) *TimerSystem {
	return &TimerSystem{g: g}
}

func (s *TimerSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *TimerSystem) Update(_ time.Duration) {
	s.g.Scheduler().AdvanceTo(s.g.VirtualNow())
}
