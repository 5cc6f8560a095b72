package power

import (
	"fmt"

	"github.com/veldrin/server/internal/game/archive"
)

// Record is one power's runtime entry in a collection: the shared instance,
// its tuning inputs, and the reference count keeping it alive. A record with
// ref count zero never exists in the mapping; it is deleted in the same
// operation that decrements it to zero.
type Record struct {
	protoID PrototypeID
	props   IndexProps

	refCount int

	// isProgressionPower: granted by the owner's permanent build.
	// isTeamUpAwayPassive: a benched teammate's passive retained on the owner.
	// Inherited from the triggering record when one exists, otherwise derived
	// from the owner at assignment time.
	isProgressionPower  bool
	isTeamUpAwayPassive bool

	power *Power
}

func (r *Record) ProtoID() PrototypeID      { return r.protoID }
func (r *Record) Props() IndexProps         { return r.props }
func (r *Record) RefCount() int             { return r.refCount }
func (r *Record) IsProgressionPower() bool  { return r.isProgressionPower }
func (r *Record) IsTeamUpAwayPassive() bool { return r.isTeamUpAwayPassive }
func (r *Record) Power() *Power             { return r.power }

// ShouldSerialize decides whether the record belongs in the archive's
// transcript. Persistence archives take everything; replication archives
// restrict combo-effect powers to the owner channel, since they exist only
// as byproducts of other powers and proximity observers never act on them.
func (r *Record) ShouldSerialize(a *archive.Archive) bool {
	if !a.IsReplication() {
		return true
	}
	if r.power != nil && r.power.IsComboEffect() {
		return a.HasChannel(archive.PolicyOwner)
	}
	return true
}

// Field mask bits for delta encoding. The two flag bits are written
// absolutely on every record; the scalar bits mark fields that differ from
// the previously encoded record in the same pass.
const (
	deltaRank = 1 << iota
	deltaCharacterLevel
	deltaCombatLevel
	deltaItemLevel
	deltaItemVariation
	maskProgression
	maskTeamUpAway
)

// encodeTo writes the record as a delta against prev (nil for the first
// record of a pass, which deltas against the zero record). Keeping the
// reference inside the same pass keeps the encoder stateless across
// snapshots while still compacting runs of records sharing level fields.
func (r *Record) encodeTo(a *archive.Archive, prev *Record) {
	var base IndexProps
	if prev != nil {
		base = prev.props
	}

	var mask byte
	if r.props.Rank != base.Rank {
		mask |= deltaRank
	}
	if r.props.CharacterLevel != base.CharacterLevel {
		mask |= deltaCharacterLevel
	}
	if r.props.CombatLevel != base.CombatLevel {
		mask |= deltaCombatLevel
	}
	if r.props.ItemLevel != base.ItemLevel {
		mask |= deltaItemLevel
	}
	if r.props.ItemVariation != base.ItemVariation {
		mask |= deltaItemVariation
	}
	if r.isProgressionPower {
		mask |= maskProgression
	}
	if r.isTeamUpAwayPassive {
		mask |= maskTeamUpAway
	}

	w := a.Writer()
	w.WriteQ(uint64(r.protoID))
	w.WriteC(mask)
	if mask&deltaRank != 0 {
		w.WriteD(r.props.Rank)
	}
	if mask&deltaCharacterLevel != 0 {
		w.WriteD(r.props.CharacterLevel)
	}
	if mask&deltaCombatLevel != 0 {
		w.WriteD(r.props.CombatLevel)
	}
	if mask&deltaItemLevel != 0 {
		w.WriteD(r.props.ItemLevel)
	}
	if mask&deltaItemVariation != 0 {
		w.WriteF(r.props.ItemVariation)
	}
}

// decodeRecord reads one record delta-encoded against prev.
func decodeRecord(a *archive.Archive, prev *Record) (*Record, error) {
	rd := a.Reader()
	if rd.Remaining() < 9 {
		return nil, fmt.Errorf("power record truncated: %d bytes remaining", rd.Remaining())
	}

	protoID := PrototypeID(rd.ReadQ())
	mask := rd.ReadC()

	// Every scalar the mask claims is 4 bytes; reject buffers that end
	// mid-record instead of letting the reader zero-fill the tail.
	need := 0
	for _, bit := range []byte{deltaRank, deltaCharacterLevel, deltaCombatLevel, deltaItemLevel, deltaItemVariation} {
		if mask&bit != 0 {
			need += 4
		}
	}
	if rd.Remaining() < need {
		return nil, fmt.Errorf("power record truncated: mask needs %d bytes, %d remaining", need, rd.Remaining())
	}

	var props IndexProps
	if prev != nil {
		props = prev.props
	}
	if mask&deltaRank != 0 {
		props.Rank = rd.ReadD()
	}
	if mask&deltaCharacterLevel != 0 {
		props.CharacterLevel = rd.ReadD()
	}
	if mask&deltaCombatLevel != 0 {
		props.CombatLevel = rd.ReadD()
	}
	if mask&deltaItemLevel != 0 {
		props.ItemLevel = rd.ReadD()
	}
	if mask&deltaItemVariation != 0 {
		props.ItemVariation = rd.ReadF()
	}

	return &Record{
		protoID:             protoID,
		props:               props,
		refCount:            1,
		isProgressionPower:  mask&maskProgression != 0,
		isTeamUpAwayPassive: mask&maskTeamUpAway != 0,
	}, nil
}
