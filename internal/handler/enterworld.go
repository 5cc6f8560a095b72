package handler

import (
	"context"
	"time"

	"github.com/veldrin/server/internal/game/archive"
	"github.com/veldrin/server/internal/game/power"
	"github.com/veldrin/server/internal/net"
	"github.com/veldrin/server/internal/net/packet"
	"github.com/veldrin/server/internal/world"
	"go.uber.org/zap"
)

// HandleEnterWorld processes C_OPCODE_ENTER_WORLD.
// Format: [opcode][character name\0]
func HandleEnterWorld(sess *net.Session, r *packet.Reader, deps *Deps) {
	charName := r.ReadS()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	row, err := deps.CharRepo.LoadByName(ctx, charName)
	if err != nil {
		deps.Log.Error("character load failed", zap.Error(err), zap.String("name", charName))
		sess.Close()
		return
	}
	if row == nil || row.AccountName != sess.AccountName {
		deps.Log.Warn("enter world for foreign or missing character",
			zap.String("name", charName),
			zap.String("account", sess.AccountName))
		sess.Close()
		return
	}

	id := deps.World.AllocEntityID()
	avatar := world.NewAvatar(id, sess.ID, row.Name)
	avatar.CharID = row.ID
	avatar.Level = row.Level
	avatar.Heading = row.Heading
	avatar.Powers = power.NewCollection(avatar, deps.Powers, deps.Broadcaster, deps.Log)

	deps.World.AddAvatar(avatar)
	deps.World.EnterWorld(avatar, uint32(row.RegionID), row.X, row.Y)

	// Restore the persisted power collection, if any.
	if len(row.Powers) > 0 {
		a := archive.NewUnpacking(archive.PurposePersistence, archive.PolicyAllChannels, row.Powers)
		count, err := avatar.Powers.SerializeRecordCount(a)
		if err == nil {
			err = avatar.Powers.SerializeFrom(a, count)
		}
		if err != nil {
			deps.Log.Error("power collection restore failed",
				zap.Error(err), zap.String("name", row.Name))
		}
	}

	// Grant the permanent progression build for the character's level.
	// Restored records take precedence; only missing entries are assigned.
	for _, pid := range deps.Powers.ProgressionFor(avatar.Level) {
		avatar.GrantProgressionPower(pid)
		if avatar.Powers.Contains(pid) {
			continue
		}
		props := power.IndexProps{Rank: 1, CharacterLevel: int32(avatar.Level)}
		if _, err := avatar.Powers.Assign(pid, props, 0, false); err != nil {
			deps.Log.Warn("progression power grant failed",
				zap.Error(err),
				zap.Uint64("power", uint64(pid)),
				zap.String("name", row.Name))
		}
	}

	// Restore key mappings.
	blobs, err := deps.KeyMapRepo.LoadAll(ctx, row.ID)
	if err != nil {
		deps.Log.Error("key mapping load failed", zap.Error(err), zap.String("name", row.Name))
	}
	for specIndex, blob := range blobs {
		m, err := power.DecodeKeyMapping(blob)
		if err != nil {
			deps.Log.Error("key mapping decode failed",
				zap.Error(err),
				zap.Int32("spec_index", specIndex),
				zap.String("name", row.Name))
			continue
		}
		avatar.KeyMappings[specIndex] = m
	}

	sess.EntityID = avatar.EntityID()
	sess.SetState(packet.StateInWorld)

	w := packet.NewWriterWithOpcode(packet.S_OPCODE_ENTER_WORLD)
	w.WriteQ(avatar.EntityID())
	w.WriteD(avatar.X)
	w.WriteD(avatar.Y)
	w.WriteD(int32(avatar.Region))
	w.WriteC(byte(avatar.Heading))
	sess.Send(w.Bytes())

	if err := avatar.Powers.SendEntireCollectionTo(world.ClientFor(sess)); err != nil {
		deps.Log.Error("power collection send failed", zap.Error(err), zap.String("name", row.Name))
	}

	for _, m := range avatar.KeyMappings {
		sendKeyMapping(sess, m)
	}

	announceSpawn(avatar, deps)

	deps.Log.Info("player entered world",
		zap.String("name", row.Name),
		zap.Uint64("entity", avatar.EntityID()),
		zap.Uint32("region", avatar.Region))
}

// announceSpawn sends a put-object packet to every session with proximity
// interest in the new avatar, and the reverse for entities already present.
func announceSpawn(avatar *world.Avatar, deps *Deps) {
	spawn := buildPutObject(avatar)
	for _, sid := range deps.World.NearbySessions(avatar.X, avatar.Y, avatar.Region) {
		if sid == avatar.SessionID {
			continue
		}
		other := deps.Sessions.Get(sid)
		if other == nil {
			continue
		}
		other.Send(spawn)

		if peer := deps.World.GetAvatarBySession(sid); peer != nil {
			self := deps.Sessions.Get(avatar.SessionID)
			if self != nil {
				self.Send(buildPutObject(peer))
			}
		}
	}
}

func buildPutObject(a *world.Avatar) []byte {
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_PUT_OBJECT)
	w.WriteQ(a.EntityID())
	w.WriteS(a.Name)
	w.WriteD(a.X)
	w.WriteD(a.Y)
	w.WriteC(byte(a.Heading))
	return w.Bytes()
}
