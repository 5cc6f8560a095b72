package power

import (
	"fmt"

	"github.com/veldrin/server/internal/net/packet"
)

// keyMappingVersion is bumped whenever the binary layout changes. Decode
// rejects blobs written by a different layout instead of misreading them.
const keyMappingVersion byte = 1

// KeyMapping is a per-player-spec record of which power occupies which input
// slot. It is independent of the live power collection; it only shares the
// same compact versioned binary encoding discipline.
type KeyMapping struct {
	SpecIndex int32
	Persist   bool

	// Fixed bindings.
	PrimaryAction   PrototypeID
	SecondaryAction PrototypeID
	TravelPower     PrototypeID

	// Remaining hotbar slots, in slot order.
	Slots []PrototypeID
}

// Encode writes the mapping in its versioned field-by-field layout:
// int32 spec index, one packed boolean, three 64-bit power refs, then a
// length-prefixed list of further refs.
func (m *KeyMapping) Encode() []byte {
	w := packet.NewWriter()
	w.WriteC(keyMappingVersion)
	w.WriteD(m.SpecIndex)
	if m.Persist {
		w.WriteC(1)
	} else {
		w.WriteC(0)
	}
	w.WriteQ(uint64(m.PrimaryAction))
	w.WriteQ(uint64(m.SecondaryAction))
	w.WriteQ(uint64(m.TravelPower))
	w.WriteH(uint16(len(m.Slots)))
	for _, id := range m.Slots {
		w.WriteQ(uint64(id))
	}
	return w.RawBytes()
}

// DecodeKeyMapping is the exact inverse of Encode.
func DecodeKeyMapping(data []byte) (*KeyMapping, error) {
	if len(data) < 32 {
		return nil, fmt.Errorf("key mapping blob too short: %d bytes", len(data))
	}
	r := packet.NewReader(append([]byte{0}, data...)) // synthetic opcode byte

	version := r.ReadC()
	if version != keyMappingVersion {
		return nil, fmt.Errorf("key mapping version %d not supported (want %d)", version, keyMappingVersion)
	}

	m := &KeyMapping{
		SpecIndex: r.ReadD(),
		Persist:   r.ReadC() != 0,
	}
	m.PrimaryAction = PrototypeID(r.ReadQ())
	m.SecondaryAction = PrototypeID(r.ReadQ())
	m.TravelPower = PrototypeID(r.ReadQ())

	n := int(r.ReadH())
	if r.Remaining() < n*8 {
		return nil, fmt.Errorf("key mapping slot list truncated: want %d refs, %d bytes remaining", n, r.Remaining())
	}
	if n > 0 {
		m.Slots = make([]PrototypeID, n)
		for i := 0; i < n; i++ {
			m.Slots[i] = PrototypeID(r.ReadQ())
		}
	}
	return m, nil
}
