package handler

import (
	"errors"
	"time"

	"github.com/veldrin/server/internal/core/event"
	gamepower "github.com/veldrin/server/internal/game/power"
	"github.com/veldrin/server/internal/net"
	"github.com/veldrin/server/internal/net/packet"
	"github.com/veldrin/server/internal/scripting"
	"go.uber.org/zap"
)

const (
	powerResultOK          byte = 0x00
	powerResultFailed      byte = 0x01
	powerResultNotAssigned byte = 0x02
	powerResultCooldown    byte = 0x03
)

// HandleUsePower processes C_OPCODE_USE_POWER.
// Format: [opcode][8B prototype id][8B target entity id]
func HandleUsePower(sess *net.Session, r *packet.Reader, deps *Deps) {
	protoID := gamepower.PrototypeID(r.ReadQ())
	targetID := r.ReadQ()

	avatar := deps.World.GetAvatarBySession(sess.ID)
	if avatar == nil || !avatar.IsInWorld() {
		return
	}

	p := avatar.Powers.GetPower(protoID)
	if p == nil {
		sendPowerResult(sess, protoID, powerResultNotAssigned)
		return
	}
	if _, onCooldown := avatar.Cooldowns[protoID]; onCooldown {
		sendPowerResult(sess, protoID, powerResultCooldown)
		return
	}

	if err := p.Activate(); err != nil {
		deps.Log.Warn("power activation refused",
			zap.Error(err),
			zap.Uint64("prototype", uint64(protoID)),
			zap.String("name", avatar.Name))
		sendPowerResult(sess, protoID, powerResultFailed)
		return
	}

	proto := deps.Powers.Get(protoID)
	result := scripting.ActivationResult{OK: true}
	if proto != nil && proto.Script != "" {
		props := p.Props()
		result = deps.Scripting.ActivatePower(scripting.ActivationContext{
			PrototypeID:    uint64(protoID),
			Script:         proto.Script,
			Rank:           props.Rank,
			CharacterLevel: props.CharacterLevel,
			CombatLevel:    props.CombatLevel,
			ItemLevel:      props.ItemLevel,
			ItemVariation:  props.ItemVariation,
			OwnerLevel:     int32(avatar.Level),
			TargetID:       targetID,
		})
	}
	if !result.OK {
		sendPowerResult(sess, protoID, powerResultFailed)
		return
	}

	if result.CooldownTicks > 0 {
		avatar.Cooldowns[protoID] = struct{}{}
		delay := time.Duration(result.CooldownTicks) * deps.Game.TickDuration()
		sessID := sess.ID
		deps.Game.Scheduler().Schedule(delay, func() {
			if a := deps.World.GetAvatarBySession(sessID); a != nil {
				delete(a.Cooldowns, protoID)
			}
		})
	}

	sendPowerResult(sess, protoID, powerResultOK)
}

// HandleGrantPower processes C_OPCODE_GRANT_POWER.
// Format: [opcode][8B prototype id][8B triggering prototype id]
// followed by [4B rank][4B char level][4B combat level][4B item level][4B item variation]
func HandleGrantPower(sess *net.Session, r *packet.Reader, deps *Deps) {
	protoID := gamepower.PrototypeID(r.ReadQ())
	triggeringID := gamepower.PrototypeID(r.ReadQ())
	props := gamepower.IndexProps{
		Rank:           r.ReadD(),
		CharacterLevel: r.ReadD(),
		CombatLevel:    r.ReadD(),
		ItemLevel:      r.ReadD(),
		ItemVariation:  r.ReadF(),
	}

	avatar := deps.World.GetAvatarBySession(sess.ID)
	if avatar == nil {
		return
	}

	if _, err := avatar.Powers.Assign(protoID, props, triggeringID, true); err != nil {
		deps.Log.Warn("power grant refused",
			zap.Error(err),
			zap.Uint64("prototype", uint64(protoID)),
			zap.String("name", avatar.Name))
		sendPowerResult(sess, protoID, powerResultFailed)
		return
	}
	event.Emit(deps.Game.Bus(), event.CharacterDirty{EntityID: avatar.EntityID()})
}

// HandleRevokePower processes C_OPCODE_REVOKE_POWER.
// Format: [opcode][8B prototype id]
func HandleRevokePower(sess *net.Session, r *packet.Reader, deps *Deps) {
	protoID := gamepower.PrototypeID(r.ReadQ())

	avatar := deps.World.GetAvatarBySession(sess.ID)
	if avatar == nil {
		return
	}

	if err := avatar.Powers.Unassign(protoID, true); err != nil {
		if !errors.Is(err, gamepower.ErrNotAssigned) {
			deps.Log.Warn("power revoke refused",
				zap.Error(err),
				zap.Uint64("prototype", uint64(protoID)),
				zap.String("name", avatar.Name))
		}
		sendPowerResult(sess, protoID, powerResultFailed)
		return
	}
	event.Emit(deps.Game.Bus(), event.CharacterDirty{EntityID: avatar.EntityID()})
}

func sendPowerResult(sess *net.Session, protoID gamepower.PrototypeID, code byte) {
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_POWER_RESULT)
	w.WriteQ(uint64(protoID))
	w.WriteC(code)
	sess.Send(w.Bytes())
}
