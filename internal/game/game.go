// Package game owns the authoritative simulation instance: the fixed
// timestep update loop, the world lock that serializes all state mutation,
// the inbound mailbox, and the virtual-time event scheduler.
package game

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veldrin/server/internal/config"
	"github.com/veldrin/server/internal/core/event"
	coresys "github.com/veldrin/server/internal/core/system"
	"go.uber.org/zap"
)

// ErrAlreadyRunning is the fatal lifecycle error for a second Run call.
// Callers must stop the instance rather than attempt recovery.
var ErrAlreadyRunning = errors.New("game: Run called twice on the same instance")

// Game is one authoritative simulation instance. One dedicated goroutine
// runs its tick loop; network receipt happens on session goroutines that
// only touch the mailbox. Everything else is guarded by the world lock.
type Game struct {
	id  int64
	log *zap.Logger

	// World lock: the only admissible mechanism for cross-thread mutation
	// of simulation state. Held for the entirety of each fixed update.
	mu sync.Mutex

	mailbox   *Mailbox
	scheduler *Scheduler
	runner    *coresys.Runner
	bus       *event.Bus

	tick         time.Duration
	pollInterval time.Duration
	accum        time.Duration
	tickCount    uint64
	lastPoll     time.Time

	// Replication id: issued on every read, wraps at 16 bits, seeded from
	// the boot wall clock so ids differ across restarts.
	repID uint32

	running atomic.Bool

	// Clock and sleeper are injectable for the loop tests.
	clock func() time.Time
	sleep func(time.Duration)

	// flushFn pushes buffered outbound messages to the writer goroutines.
	// Runs on the game goroutine after the world lock is released.
	flushFn func()
}

func New(id int64, cfg config.GameConfig, log *zap.Logger) *Game {
	g := &Game{
		id:           id,
		log:          log.With(zap.Int64("game", id)),
		scheduler:    NewScheduler(),
		runner:       coresys.NewRunner(),
		bus:          event.NewBus(),
		tick:         cfg.TickDuration,
		pollInterval: cfg.PollInterval,
		clock:        time.Now,
		sleep:        time.Sleep,
	}
	g.mailbox = NewMailbox(cfg.MaxMessagePerTick*4, g.log)
	g.repID = uint32(time.Now().UnixMilli()) & 0xFFFF
	return g
}

func (g *Game) ID() int64                   { return g.id }
func (g *Game) Mailbox() *Mailbox           { return g.mailbox }
func (g *Game) Bus() *event.Bus             { return g.bus }
func (g *Game) TickDuration() time.Duration { return g.tick }

// Scheduler returns the event scheduler. Callers must hold the world lock.
func (g *Game) Scheduler() *Scheduler { return g.scheduler }

// Register adds a system to the per-tick runner. Call before Run.
func (g *Game) Register(s coresys.System) {
	g.runner.Register(s)
}

// SetFlushFunc installs the outbound flush hook invoked after each locked
// update section. Call before Run.
func (g *Game) SetFlushFunc(fn func()) {
	g.flushFn = fn
}

// NextRepID issues the next replication id. Wraps at 16 bits; consumers
// compare within a window rather than assuming unbounded growth.
// Callers must hold the world lock.
func (g *Game) NextRepID() uint32 {
	g.repID = (g.repID + 1) & 0xFFFF
	return g.repID
}

// TickCount returns the number of fixed updates run so far.
func (g *Game) TickCount() uint64 { return g.tickCount }

// VirtualNow returns the current virtual game time.
func (g *Game) VirtualNow() time.Duration {
	return time.Duration(g.tickCount) * g.tick
}

// WithLock runs fn while holding the world lock. This is the sanctioned
// path for any externally-triggered mutation: background tasks, admin
// operations, and enqueue-then-apply sequences that must appear atomic.
func (g *Game) WithLock(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn()
}

// Run transitions the instance into its active ticking state and never
// returns during normal operation. Calling Run twice is a lifecycle
// contract violation and returns ErrAlreadyRunning; the caller is expected
// to treat it as fatal.
func (g *Game) Run() error {
	if !g.running.CompareAndSwap(false, true) {
		g.log.Error("Run called twice")
		return ErrAlreadyRunning
	}

	g.log.Info("game loop started", zap.Duration("tick", g.tick))
	g.lastPoll = g.clock()
	for {
		g.poll()
	}
}

// poll performs one loop iteration: accumulate elapsed wall time, then
// either sleep a short bounded interval (coarse timers oversleep, so never
// the full remainder) or run the due fixed updates.
func (g *Game) poll() {
	now := g.clock()
	g.accum += now.Sub(g.lastPoll)
	g.lastPoll = now

	if g.accum < g.tick {
		g.sleep(g.pollInterval)
		return
	}
	g.advance()
}

// advance runs one fixed update per accumulated tick duration under a
// single world-lock acquisition, then flushes outbound messages after
// unlocking. Running more than one update per acquisition means the server
// fell behind: an observable warning, not an error, since correctness depends
// only on tick count and fixed virtual duration, never wall spacing.
func (g *Game) advance() int {
	g.mu.Lock()
	ran := 0
	for g.accum >= g.tick {
		g.accum -= g.tick
		start := g.clock()
		g.fixedUpdate()
		if elapsed := g.clock().Sub(start); elapsed > g.tick {
			g.log.Warn("fixed update overran tick budget",
				zap.Duration("elapsed", elapsed),
				zap.Duration("tick", g.tick))
		}
		ran++
	}
	g.mu.Unlock()

	if ran > 1 {
		g.log.Warn("simulation fell behind, ran catch-up ticks", zap.Int("ticks", ran))
	}
	if g.flushFn != nil {
		g.flushFn()
	}
	return ran
}

// fixedUpdate advances the world by exactly one tick. Callers hold the
// world lock. Phase order: mailbox drain/dispatch, event dispatch and due
// timers, locomotion, physics/visibility, output buffering, persistence,
// cleanup. Power-collection mutations happen synchronously inside message
// application and event firing, not as a separate phase.
func (g *Game) fixedUpdate() {
	g.tickCount++
	g.runner.Tick(g.tick)
}
