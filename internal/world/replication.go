package world

import (
	"github.com/veldrin/server/internal/game/power"
	gonet "github.com/veldrin/server/internal/net"
	"github.com/veldrin/server/internal/net/packet"
	"go.uber.org/zap"
)

// ReplicationManager fans power notifications out to every client whose
// area of interest currently includes the owner. It implements
// power.Broadcaster. Outbound state changes are tagged with a replication
// id so clients can detect staleness.
type ReplicationManager struct {
	state *State
	store *gonet.SessionStore
	repID func() uint32 // the game's wrapping replication id counter
	log   *zap.Logger
}

func NewReplicationManager(state *State, store *gonet.SessionStore, repID func() uint32, log *zap.Logger) *ReplicationManager {
	return &ReplicationManager{
		state: state,
		store: store,
		repID: repID,
		log:   log,
	}
}

// PowerAssigned broadcasts a power-assigned notification carrying the
// prototype id and the four index-property scalars.
func (rm *ReplicationManager) PowerAssigned(ownerID uint64, protoID power.PrototypeID, props power.IndexProps) {
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_POWER_ASSIGNED)
	w.WriteD(int32(rm.repID()))
	w.WriteQ(ownerID)
	w.WriteQ(uint64(protoID))
	w.WriteD(props.Rank)
	w.WriteD(props.CharacterLevel)
	w.WriteD(props.CombatLevel)
	w.WriteD(props.ItemLevel)
	rm.sendToInterested(ownerID, w.Bytes())
}

// PowerUnassigned broadcasts a power-unassigned notification (prototype id
// only; clients track their own ref-independent view).
func (rm *ReplicationManager) PowerUnassigned(ownerID uint64, protoID power.PrototypeID) {
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_POWER_UNASSIGNED)
	w.WriteD(int32(rm.repID()))
	w.WriteQ(ownerID)
	w.WriteQ(uint64(protoID))
	rm.sendToInterested(ownerID, w.Bytes())
}

func (rm *ReplicationManager) sendToInterested(ownerID uint64, data []byte) {
	rm.store.ForEach(func(sess *gonet.Session) {
		if rm.state.IsInterested(sess.ID, ownerID, ChannelProximity) ||
			rm.state.IsInterested(sess.ID, ownerID, ChannelOwner) {
			sess.Send(data)
		}
	})
}

// sessionClient adapts a network session to power.Client for direct sends.
type sessionClient struct {
	sess *gonet.Session
}

func (c sessionClient) SendMessage(data []byte) {
	c.sess.Send(data)
}

// ClientFor wraps a session for APIs that take a power.Client.
func ClientFor(sess *gonet.Session) power.Client {
	return sessionClient{sess: sess}
}
