package handler

import (
	"context"
	"time"

	"github.com/veldrin/server/internal/game/power"
	"github.com/veldrin/server/internal/net"
	"github.com/veldrin/server/internal/net/packet"
	"go.uber.org/zap"
)

// HandleSaveKeyMapping processes C_OPCODE_SAVE_KEYMAP.
// Format: [opcode][4B spec index][1B persist flag]
// followed by [8B primary][8B secondary][8B travel][2B slot count][8B slot]...
func HandleSaveKeyMapping(sess *net.Session, r *packet.Reader, deps *Deps) {
	m := &power.KeyMapping{
		SpecIndex:       r.ReadD(),
		Persist:         r.ReadC() != 0,
		PrimaryAction:   power.PrototypeID(r.ReadQ()),
		SecondaryAction: power.PrototypeID(r.ReadQ()),
		TravelPower:     power.PrototypeID(r.ReadQ()),
	}
	slotCount := int(r.ReadH())
	m.Slots = make([]power.PrototypeID, 0, slotCount)
	for i := 0; i < slotCount; i++ {
		m.Slots = append(m.Slots, power.PrototypeID(r.ReadQ()))
	}

	avatar := deps.World.GetAvatarBySession(sess.ID)
	if avatar == nil {
		return
	}

	avatar.KeyMappings[m.SpecIndex] = m

	if m.Persist {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := deps.KeyMapRepo.Save(ctx, avatar.CharID, m.SpecIndex, m.Encode()); err != nil {
			deps.Log.Error("key mapping save failed",
				zap.Error(err),
				zap.Int32("spec_index", m.SpecIndex),
				zap.String("name", avatar.Name))
		}
	}
}

// HandleLoadKeyMapping processes C_OPCODE_LOAD_KEYMAP.
// Format: [opcode][4B spec index]
func HandleLoadKeyMapping(sess *net.Session, r *packet.Reader, deps *Deps) {
	specIndex := r.ReadD()

	avatar := deps.World.GetAvatarBySession(sess.ID)
	if avatar == nil {
		return
	}

	m, ok := avatar.KeyMappings[specIndex]
	if !ok {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		blob, err := deps.KeyMapRepo.Load(ctx, avatar.CharID, specIndex)
		if err != nil || blob == nil {
			if err != nil {
				deps.Log.Error("key mapping load failed",
					zap.Error(err),
					zap.Int32("spec_index", specIndex))
			}
			return
		}
		m, err = power.DecodeKeyMapping(blob)
		if err != nil {
			deps.Log.Error("key mapping decode failed",
				zap.Error(err),
				zap.Int32("spec_index", specIndex))
			return
		}
		avatar.KeyMappings[specIndex] = m
	}

	sendKeyMapping(sess, m)
}

func sendKeyMapping(sess *net.Session, m *power.KeyMapping) {
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_KEYMAP)
	w.WriteBytes(m.Encode())
	sess.Send(w.Bytes())
}
