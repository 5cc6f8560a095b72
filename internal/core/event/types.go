package event

// Core event types consumed across systems.

type PlayerEnteredWorld struct {
	EntityID  uint64
	SessionID uint64
}

type PlayerExitedWorld struct {
	EntityID  uint64
	SessionID uint64
}

type PlayerDisconnected struct {
	SessionID uint64
}

// CharacterDirty marks a player's persisted state as changed so the
// persistence system saves it on the next batch pass.
type CharacterDirty struct {
	EntityID uint64
}
