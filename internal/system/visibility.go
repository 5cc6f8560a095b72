package system

import (
	"time"

	coresys "github.com/veldrin/server/internal/core/system"
	"github.com/veldrin/server/internal/game/archive"
	"github.com/veldrin/server/internal/net"
	"github.com/veldrin/server/internal/net/packet"
	"github.com/veldrin/server/internal/world"
	"go.uber.org/zap"
)

// VisibilitySystem reconciles each observer's known-entity set against the
// interest grid: newly interesting entities get a put-object followed by a
// proximity-scoped power snapshot, entities that left interest range get a
// remove-object. Phase 3 (PostUpdate), after all movement has settled.
type VisibilitySystem struct {
	worldState *world.State
	store      *net.SessionStore
	known      map[uint64]map[uint64]struct{} // observer session -> known entity ids
	log        *zap.Logger
}

func NewVisibilitySystem(ws *world.State, store *net.SessionStore, log *zap.Logger) *VisibilitySystem {
	return &VisibilitySystem{
		worldState: ws,
		store:      store,
		known:      make(map[uint64]map[uint64]struct{}),
		log:        log,
	}
}

func (s *VisibilitySystem) Phase() coresys.Phase { return coresys.PhasePostUpdate }

func (s *VisibilitySystem) Update(_ time.Duration) {
	live := make(map[uint64]struct{})

	s.worldState.AllAvatars(func(observer *world.Avatar) {
		if !observer.IsInWorld() {
			return
		}
		live[observer.SessionID] = struct{}{}
		sess := s.store.Get(observer.SessionID)
		if sess == nil {
			return
		}

		knownSet := s.known[observer.SessionID]
		if knownSet == nil {
			knownSet = make(map[uint64]struct{})
			s.known[observer.SessionID] = knownSet
		}

		current := make(map[uint64]struct{})
		for _, sid := range s.worldState.NearbySessions(observer.X, observer.Y, observer.Region) {
			if sid == observer.SessionID {
				continue
			}
			peer := s.worldState.GetAvatarBySession(sid)
			if peer == nil || !peer.IsInWorld() {
				continue
			}
			current[peer.EntityID()] = struct{}{}
			if _, ok := knownSet[peer.EntityID()]; !ok {
				s.sendEnter(sess, peer)
			}
		}

		for id := range knownSet {
			if _, ok := current[id]; !ok {
				s.sendLeave(sess, id)
			}
		}
		s.known[observer.SessionID] = current
	})

	// Drop state for sessions no longer in world.
	for sid := range s.known {
		if _, ok := live[sid]; !ok {
			delete(s.known, sid)
		}
	}
}

func (s *VisibilitySystem) sendEnter(sess *net.Session, peer *world.Avatar) {
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_PUT_OBJECT)
	w.WriteQ(peer.EntityID())
	w.WriteS(peer.Name)
	w.WriteD(peer.X)
	w.WriteD(peer.Y)
	w.WriteC(byte(peer.Heading))
	sess.Send(w.Bytes())

	// Baseline the observer's view of the peer's powers; without it the
	// assigned/unassigned broadcasts that follow are deltas against nothing.
	if peer.Powers == nil {
		return
	}
	if err := peer.Powers.SendSnapshotTo(world.ClientFor(sess), archive.PolicyProximity); err != nil {
		s.log.Error("power snapshot send failed",
			zap.Error(err),
			zap.Uint64("entity", peer.EntityID()),
			zap.Uint64("observer", sess.ID))
	}
}

func (s *VisibilitySystem) sendLeave(sess *net.Session, entityID uint64) {
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_REMOVE_OBJECT)
	w.WriteQ(entityID)
	sess.Send(w.Bytes())
}
