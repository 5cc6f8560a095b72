// Package world holds the in-memory simulation state: entities, the
// area-of-interest grid, and regions. Everything here is accessed only
// while the game's world lock is held.
package world

import (
	"fmt"
	"sync"

	"github.com/veldrin/server/internal/game/power"
)

// EntityID encodes a 32-bit index in the lower bits and a 32-bit generation
// in the upper bits. Generation increments on destroy to invalidate stale refs.
type EntityID uint64

func NewEntityID(index uint32, generation uint32) EntityID {
	return EntityID(uint64(generation)<<32 | uint64(index))
}

func (id EntityID) Index() uint32      { return uint32(id) }
func (id EntityID) Generation() uint32 { return uint32(id >> 32) }
func (id EntityID) IsZero() bool       { return id == 0 }

// Entity is any object that can occupy the simulated world.
type Entity interface {
	EntityID() uint64
	IsInWorld() bool
	IsInGame() bool
	Position() (x, y int32)
	RegionID() uint32
}

// Avatar is a player-controlled entity. It implements power.Owner: its
// collection calls the hooks below synchronously on structural changes.
type Avatar struct {
	id        uint64
	SessionID uint64
	Name      string

	X, Y    int32
	Region  uint32
	Heading int16

	inWorld bool
	inGame  bool

	// Permanent build: powers granted by progression, used to derive the
	// is-progression flag for untriggered assignments.
	progressionBuild map[power.PrototypeID]struct{}

	// Passives retained from a benched team-up companion.
	teamUpAwayPassives map[power.PrototypeID]struct{}

	Powers      *power.Collection
	KeyMappings map[int32]*power.KeyMapping // by spec index

	// Powers on cooldown, cleared by scheduled events.
	Cooldowns map[power.PrototypeID]struct{}

	CharID int32 // database row id
	Level  int16

	Dirty bool // persisted state changed since last batch save
}

func NewAvatar(id uint64, sessionID uint64, name string) *Avatar {
	return &Avatar{
		id:                 id,
		SessionID:          sessionID,
		Name:               name,
		progressionBuild:   make(map[power.PrototypeID]struct{}),
		teamUpAwayPassives: make(map[power.PrototypeID]struct{}),
		KeyMappings:        make(map[int32]*power.KeyMapping),
		Cooldowns:          make(map[power.PrototypeID]struct{}),
		Level:              1,
	}
}

func (a *Avatar) EntityID() uint64         { return a.id }
func (a *Avatar) IsInWorld() bool          { return a.inWorld }
func (a *Avatar) IsInGame() bool           { return a.inGame }
func (a *Avatar) Position() (int32, int32) { return a.X, a.Y }
func (a *Avatar) RegionID() uint32         { return a.Region }

func (a *Avatar) SetInWorld(v bool) { a.inWorld = v }
func (a *Avatar) SetInGame(v bool)  { a.inGame = v }

// GrantProgressionPower marks a power as part of the permanent build.
func (a *Avatar) GrantProgressionPower(id power.PrototypeID) {
	a.progressionBuild[id] = struct{}{}
}

// GrantTeamUpAwayPassive marks a benched companion's retained passive.
func (a *Avatar) GrantTeamUpAwayPassive(id power.PrototypeID) {
	a.teamUpAwayPassives[id] = struct{}{}
}

func (a *Avatar) HasPowerInProgressionBuild(id power.PrototypeID) bool {
	_, ok := a.progressionBuild[id]
	return ok
}

func (a *Avatar) IsTeamUpAwayPassive(id power.PrototypeID) bool {
	_, ok := a.teamUpAwayPassives[id]
	return ok
}

func (a *Avatar) OnPowerAssigned(p *power.Power) {
	a.Dirty = true
}

func (a *Avatar) OnPowerUnassigned(p *power.Power) {
	a.Dirty = true
}

// ProgressionPowers returns the permanent build in arbitrary order.
func (a *Avatar) ProgressionPowers() []power.PrototypeID {
	out := make([]power.PrototypeID, 0, len(a.progressionBuild))
	for id := range a.progressionBuild {
		out = append(out, id)
	}
	return out
}

// Agent is a server-controlled entity (NPC). Agents own power collections
// the same way avatars do but have no progression build or team-up state.
type Agent struct {
	id     uint64
	Name   string
	X, Y   int32
	Region uint32

	inWorld bool

	Powers *power.Collection
}

func NewAgent(id uint64, name string) *Agent {
	return &Agent{id: id, Name: name}
}

func (g *Agent) EntityID() uint64         { return g.id }
func (g *Agent) IsInWorld() bool          { return g.inWorld }
func (g *Agent) IsInGame() bool           { return g.inWorld }
func (g *Agent) Position() (int32, int32) { return g.X, g.Y }
func (g *Agent) RegionID() uint32         { return g.Region }

func (g *Agent) SetInWorld(v bool) { g.inWorld = v }

func (g *Agent) HasPowerInProgressionBuild(power.PrototypeID) bool { return false }
func (g *Agent) IsTeamUpAwayPassive(power.PrototypeID) bool        { return false }
func (g *Agent) OnPowerAssigned(*power.Power)                      {}
func (g *Agent) OnPowerUnassigned(*power.Power)                    {}

// EntityCtor builds an entity of one design-database category.
type EntityCtor func(id uint64, name string) Entity

var (
	entityCtorMu sync.RWMutex
	entityCtors  = make(map[string]EntityCtor)
)

// RegisterEntityKind maps a design-database category tag to a constructor.
// New categories are additive; nothing dispatches on concrete entity types.
func RegisterEntityKind(category string, fn EntityCtor) {
	entityCtorMu.Lock()
	defer entityCtorMu.Unlock()
	entityCtors[category] = fn
}

func newEntityOfKind(category string, id uint64, name string) (Entity, error) {
	entityCtorMu.RLock()
	fn := entityCtors[category]
	entityCtorMu.RUnlock()
	if fn == nil {
		return nil, fmt.Errorf("world: no constructor for entity category %q", category)
	}
	return fn(id, name), nil
}

func init() {
	RegisterEntityKind("agent", func(id uint64, name string) Entity {
		return NewAgent(id, name)
	})
}
