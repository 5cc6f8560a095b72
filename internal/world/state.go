package world

import (
	"go.uber.org/zap"
)

// Channel identifies a replication interest channel.
type Channel uint8

const (
	ChannelProximity Channel = 1 << iota // observer's interest area covers the entity
	ChannelParty                         // party members regardless of distance
	ChannelOwner                         // the controlling client itself
)

// State is the entity/region container for one game instance.
// Accessed only while the world lock is held.
type State struct {
	log *zap.Logger

	// Generational entity id allocation: index reuse with generation bump
	// so stale ids never resolve to a recycled entity.
	generations []uint32
	freeList    []uint32
	nextIndex   uint32

	entities         map[uint64]Entity
	avatarsBySession map[uint64]*Avatar

	grid    *AOIGrid
	regions *RegionManager

	destroyQueue []uint64
}

func NewState(log *zap.Logger) *State {
	return &State{
		log:              log,
		generations:      make([]uint32, 0, 1024),
		freeList:         make([]uint32, 0, 256),
		entities:         make(map[uint64]Entity, 256),
		avatarsBySession: make(map[uint64]*Avatar, 64),
		grid:             NewAOIGrid(),
		regions:          NewRegionManager(log),
	}
}

func (s *State) Regions() *RegionManager { return s.regions }

// AllocEntityID returns a fresh generational entity id.
func (s *State) AllocEntityID() uint64 {
	if len(s.freeList) > 0 {
		idx := s.freeList[len(s.freeList)-1]
		s.freeList = s.freeList[:len(s.freeList)-1]
		return uint64(NewEntityID(idx, s.generations[idx]))
	}
	idx := s.nextIndex
	s.nextIndex++
	if int(idx) >= len(s.generations) {
		s.generations = append(s.generations, 0)
	}
	return uint64(NewEntityID(idx, s.generations[idx]))
}

// Alive reports whether the id refers to a live (non-recycled) entity slot.
func (s *State) Alive(id uint64) bool {
	eid := EntityID(id)
	idx := eid.Index()
	if idx >= s.nextIndex {
		return false
	}
	return s.generations[idx] == eid.Generation()
}

// SpawnEntity allocates an id and builds an entity through the category
// constructor registry.
func (s *State) SpawnEntity(category, name string) (Entity, error) {
	id := s.AllocEntityID()
	e, err := newEntityOfKind(category, id, name)
	if err != nil {
		return nil, err
	}
	s.entities[id] = e
	return e, nil
}

// AddAvatar registers a player-controlled entity.
func (s *State) AddAvatar(a *Avatar) {
	s.entities[a.EntityID()] = a
	s.avatarsBySession[a.SessionID] = a
}

// GetEntity returns the entity for id, or nil.
func (s *State) GetEntity(id uint64) Entity {
	return s.entities[id]
}

// GetAvatarBySession returns the avatar controlled by a session, or nil.
func (s *State) GetAvatarBySession(sessionID uint64) *Avatar {
	return s.avatarsBySession[sessionID]
}

// AllAvatars visits every registered avatar.
func (s *State) AllAvatars(fn func(*Avatar)) {
	for _, a := range s.avatarsBySession {
		fn(a)
	}
}

// EnterWorld places an avatar into a region and the interest grid and
// flips its lifecycle flags.
func (s *State) EnterWorld(a *Avatar, regionID uint32, x, y int32) {
	a.Region = regionID
	a.X = x
	a.Y = y
	a.SetInGame(true)
	a.SetInWorld(true)
	s.grid.Add(a.SessionID, x, y, regionID)
	s.regions.Join(regionID, a.EntityID())
}

// ExitWorld removes an avatar from the grid and its region and notifies the
// power collection of the owner's exit.
func (s *State) ExitWorld(a *Avatar) {
	if !a.IsInWorld() {
		return
	}
	if a.Powers != nil {
		a.Powers.OnOwnerExitedWorld()
	}
	s.grid.Remove(a.SessionID, a.X, a.Y, a.Region)
	s.regions.Leave(a.Region, a.EntityID())
	a.SetInWorld(false)
	a.SetInGame(false)
}

// MoveAvatar updates an avatar's position and its interest grid cell.
func (s *State) MoveAvatar(a *Avatar, x, y int32, heading int16) {
	s.grid.Move(a.SessionID, a.X, a.Y, a.Region, x, y, a.Region)
	a.X = x
	a.Y = y
	a.Heading = heading
}

// RemoveAvatar unregisters an avatar entirely (disconnect path).
func (s *State) RemoveAvatar(a *Avatar) {
	s.ExitWorld(a)
	delete(s.avatarsBySession, a.SessionID)
	s.MarkForDestruction(a.EntityID())
}

// MarkForDestruction queues an entity for end-of-tick cleanup.
func (s *State) MarkForDestruction(id uint64) {
	s.destroyQueue = append(s.destroyQueue, id)
}

// FlushDestroyQueue destroys queued entities and bumps their generation so
// stale references go dead. Called at the cleanup phase each tick.
func (s *State) FlushDestroyQueue() {
	for _, id := range s.destroyQueue {
		delete(s.entities, id)
		eid := EntityID(id)
		idx := eid.Index()
		if idx < s.nextIndex && s.generations[idx] == eid.Generation() {
			s.generations[idx]++
			s.freeList = append(s.freeList, idx)
		}
	}
	s.destroyQueue = s.destroyQueue[:0]
}

// IsInterested is the area-of-interest gate: it decides whether the
// observing client currently receives updates about the entity on the given
// channel. Every per-power broadcast goes through this predicate.
func (s *State) IsInterested(observerSessionID uint64, entityID uint64, channel Channel) bool {
	observer := s.avatarsBySession[observerSessionID]
	if observer == nil || !observer.IsInWorld() {
		return false
	}
	target := s.entities[entityID]
	if target == nil || !target.IsInWorld() {
		return false
	}

	switch channel {
	case ChannelOwner:
		return observer.EntityID() == entityID
	case ChannelProximity:
		if observer.Region != target.RegionID() {
			return false
		}
		tx, ty := target.Position()
		return chebyshev(observer.X, observer.Y, tx, ty) <= interestRange
	case ChannelParty:
		// Parties replicate through their own roster, not the AOI grid.
		return false
	default:
		return false
	}
}

// NearbySessions returns the session ids whose interest area covers the
// given position.
func (s *State) NearbySessions(x, y int32, regionID uint32) []uint64 {
	candidates := s.grid.GetNearby(x, y, regionID)
	out := candidates[:0]
	for _, sid := range candidates {
		a := s.avatarsBySession[sid]
		if a == nil || !a.IsInWorld() {
			continue
		}
		if chebyshev(a.X, a.Y, x, y) <= interestRange {
			out = append(out, sid)
		}
	}
	return out
}
