package handler

import (
	"github.com/veldrin/server/internal/net"
	"github.com/veldrin/server/internal/net/packet"
	"github.com/veldrin/server/internal/world"
)

// Direction deltas indexed by heading (0-7).
var headingDX = [8]int32{0, 1, 1, 1, 0, -1, -1, -1}
var headingDY = [8]int32{-1, -1, 0, 1, 1, 1, 0, -1}

// HandleMove processes C_OPCODE_MOVE.
// Format: [opcode][1B heading]. Client coordinates are never trusted; the
// destination is derived from the server-tracked position plus heading.
func HandleMove(sess *net.Session, r *packet.Reader, deps *Deps) {
	heading := int16(r.ReadC())
	if heading < 0 || heading > 7 {
		return
	}

	avatar := deps.World.GetAvatarBySession(sess.ID)
	if avatar == nil || !avatar.IsInWorld() {
		return
	}

	oldNearby := deps.World.NearbySessions(avatar.X, avatar.Y, avatar.Region)

	destX := avatar.X + headingDX[heading]
	destY := avatar.Y + headingDY[heading]
	deps.World.MoveAvatar(avatar, destX, destY, heading)
	avatar.Dirty = true

	// Union of old and new interest sets sees the move.
	seen := make(map[uint64]struct{}, len(oldNearby))
	move := buildMoveObject(avatar)
	for _, sid := range oldNearby {
		seen[sid] = struct{}{}
	}
	for _, sid := range deps.World.NearbySessions(destX, destY, avatar.Region) {
		seen[sid] = struct{}{}
	}
	for sid := range seen {
		if sid == sess.ID {
			continue
		}
		if other := deps.Sessions.Get(sid); other != nil {
			other.Send(move)
		}
	}
}

func buildMoveObject(a *world.Avatar) []byte {
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_MOVE_OBJECT)
	w.WriteQ(a.EntityID())
	w.WriteD(a.X)
	w.WriteD(a.Y)
	w.WriteC(byte(a.Heading))
	return w.Bytes()
}
