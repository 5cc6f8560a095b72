package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veldrin/server/internal/config"
	coresys "github.com/veldrin/server/internal/core/system"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func testGameConfig() config.GameConfig {
	return config.GameConfig{
		TickDuration:      50 * time.Millisecond,
		PollInterval:      time.Millisecond,
		MaxMessagePerTick: 256,
	}
}

type countingSystem struct {
	phase   coresys.Phase
	updates int
	dts     []time.Duration
}

func (s *countingSystem) Phase() coresys.Phase { return s.phase }
func (s *countingSystem) Update(dt time.Duration) {
	s.updates++
	s.dts = append(s.dts, dt)
}

func newObservedGame(t *testing.T) (*Game, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.WarnLevel)
	g := New(1, testGameConfig(), zap.New(core))
	return g, logs
}

func TestAdvanceRunsOneUpdatePerAccumulatedTick(t *testing.T) {
	g, logs := newObservedGame(t)
	sys := &countingSystem{phase: coresys.PhaseUpdate}
	g.Register(sys)

	// A 3.5-tick backlog runs exactly three updates and carries the
	// remainder forward.
	g.accum = 175 * time.Millisecond
	ran := g.advance()

	assert.Equal(t, 3, ran)
	assert.Equal(t, 3, sys.updates)
	assert.Equal(t, uint64(3), g.TickCount())
	assert.Equal(t, 25*time.Millisecond, g.accum)

	// Each update saw the fixed timestep, never the wall-clock remainder.
	for _, dt := range sys.dts {
		assert.Equal(t, 50*time.Millisecond, dt)
	}

	catchup := logs.FilterMessageSnippet("catch-up").All()
	require.Len(t, catchup, 1)
}

func TestAdvanceSingleTickDoesNotWarn(t *testing.T) {
	g, logs := newObservedGame(t)
	g.Register(&countingSystem{phase: coresys.PhaseUpdate})

	g.accum = 60 * time.Millisecond
	ran := g.advance()

	assert.Equal(t, 1, ran)
	assert.Equal(t, 10*time.Millisecond, g.accum)
	assert.Empty(t, logs.FilterMessageSnippet("catch-up").All())
}

func TestAdvanceFlushesAfterUnlock(t *testing.T) {
	g, _ := newObservedGame(t)
	flushed := 0
	g.SetFlushFunc(func() {
		// The world lock must be free when flush runs.
		g.WithLock(func() {})
		flushed++
	})

	g.accum = 100 * time.Millisecond
	g.advance()

	assert.Equal(t, 1, flushed)
}

func TestPollSleepsWhenBehindOneTick(t *testing.T) {
	g, _ := newObservedGame(t)

	now := time.Unix(0, 0)
	g.clock = func() time.Time { return now }
	var slept []time.Duration
	g.sleep = func(d time.Duration) { slept = append(slept, d) }

	g.lastPoll = now
	g.poll()

	require.Len(t, slept, 1)
	// Bounded poll sleep, never the full remainder to the next tick.
	assert.Equal(t, time.Millisecond, slept[0])
	assert.Equal(t, uint64(0), g.TickCount())
}

func TestPollAccumulatesWallTime(t *testing.T) {
	g, _ := newObservedGame(t)
	sys := &countingSystem{phase: coresys.PhaseUpdate}
	g.Register(sys)

	now := time.Unix(0, 0)
	g.clock = func() time.Time { return now }
	g.sleep = func(time.Duration) {}
	g.lastPoll = now

	// Two short polls accumulate below the tick, the third crosses it.
	now = now.Add(20 * time.Millisecond)
	g.poll()
	now = now.Add(20 * time.Millisecond)
	g.poll()
	assert.Equal(t, 0, sys.updates)

	now = now.Add(20 * time.Millisecond)
	g.poll()
	assert.Equal(t, 1, sys.updates)
	assert.Equal(t, 10*time.Millisecond, g.accum)
}

func TestRunTwiceReturnsLifecycleError(t *testing.T) {
	g, _ := newObservedGame(t)
	g.running.Store(true)

	err := g.Run()
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestNextRepIDWrapsAtSixteenBits(t *testing.T) {
	g, _ := newObservedGame(t)

	g.repID = 0xFFFE
	assert.Equal(t, uint32(0xFFFF), g.NextRepID())
	assert.Equal(t, uint32(0x0000), g.NextRepID())
	assert.Equal(t, uint32(0x0001), g.NextRepID())
}

func TestVirtualNowTracksTickCount(t *testing.T) {
	g, _ := newObservedGame(t)
	g.Register(&countingSystem{phase: coresys.PhaseUpdate})

	g.accum = 200 * time.Millisecond
	g.advance()

	assert.Equal(t, 200*time.Millisecond, g.VirtualNow())
}
