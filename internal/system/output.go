package system

import (
	"time"

	coresys "github.com/veldrin/server/internal/core/system"
	"github.com/veldrin/server/internal/net"
)

// OutputSystem hands each session's buffered packets to its writer goroutine.
// Phase 4 (Output). The game loop's flush hook repeats this outside the
// world lock after a catch-up burst so output latency stays bounded.
type OutputSystem struct {
	store *net.SessionStore
}

func NewOutputSystem(store *net.SessionStore) *OutputSystem {
	return &OutputSystem{store: store}
}

func (s *OutputSystem) Phase() coresys.Phase { return coresys.PhaseOutput }

func (s *OutputSystem) Update(_ time.Duration) {
	s.store.ForEach(func(sess *net.Session) {
		sess.FlushOutput()
	})
}
