package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventsDeliverOnNextSwap(t *testing.T) {
	bus := NewBus()

	var got []PlayerEnteredWorld
	Subscribe(bus, func(ev PlayerEnteredWorld) {
		got = append(got, ev)
	})

	Emit(bus, PlayerEnteredWorld{EntityID: 1, SessionID: 10})
	Emit(bus, PlayerEnteredWorld{EntityID: 2, SessionID: 20})

	// Events emitted this tick stay in the back buffer.
	bus.DispatchAll()
	assert.Empty(t, got)

	bus.SwapBuffers()
	bus.DispatchAll()
	assert.Equal(t, []PlayerEnteredWorld{
		{EntityID: 1, SessionID: 10},
		{EntityID: 2, SessionID: 20},
	}, got)

	// A second swap clears the delivered batch instead of replaying it.
	got = nil
	bus.SwapBuffers()
	bus.DispatchAll()
	assert.Empty(t, got)
}

func TestSubscribersAreTypeScoped(t *testing.T) {
	bus := NewBus()

	var entered, exited int
	Subscribe(bus, func(PlayerEnteredWorld) { entered++ })
	Subscribe(bus, func(PlayerExitedWorld) { exited++ })

	Emit(bus, PlayerEnteredWorld{EntityID: 1})
	bus.SwapBuffers()
	bus.DispatchAll()

	assert.Equal(t, 1, entered)
	assert.Equal(t, 0, exited)
}

func TestEmitDuringDispatchLandsNextTick(t *testing.T) {
	bus := NewBus()

	var dirty int
	Subscribe(bus, func(CharacterDirty) { dirty++ })
	Subscribe(bus, func(ev PlayerExitedWorld) {
		Emit(bus, CharacterDirty{EntityID: ev.EntityID})
	})

	Emit(bus, PlayerExitedWorld{EntityID: 5})
	bus.SwapBuffers()
	bus.DispatchAll()
	assert.Equal(t, 0, dirty)

	bus.SwapBuffers()
	bus.DispatchAll()
	assert.Equal(t, 1, dirty)
}

func TestMultipleHandlersPerType(t *testing.T) {
	bus := NewBus()

	var order []string
	Subscribe(bus, func(PlayerDisconnected) { order = append(order, "first") })
	Subscribe(bus, func(PlayerDisconnected) { order = append(order, "second") })

	Emit(bus, PlayerDisconnected{SessionID: 3})
	bus.SwapBuffers()
	bus.DispatchAll()

	assert.Equal(t, []string{"first", "second"}, order)
}
