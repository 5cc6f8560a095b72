package power

import (
	"errors"
	"fmt"
	"sort"

	"github.com/veldrin/server/internal/game/archive"
	"github.com/veldrin/server/internal/net/packet"
	"go.uber.org/zap"
)

// MaxRecordsPerSnapshot bounds one replication transcript. Collections
// larger than this are truncated with a warning rather than failing.
const MaxRecordsPerSnapshot = 256

var (
	ErrOwnerNotInWorld = errors.New("power: owner is not in the world")
	ErrNotApproved     = errors.New("power: prototype not approved in design database")
	ErrAlreadyAssigned = errors.New("power: already assigned (same-id ref stacking is unimplemented)")
	ErrNotAssigned     = errors.New("power: no record for prototype")
	ErrCountMismatch   = errors.New("power: encoded record count does not match declared count")
)

// Collection is the per-entity registry of assigned powers. It is owned
// exclusively by one world entity and must only be touched while the world
// lock is held; assignment is not reentrant-safe across threads.
type Collection struct {
	owner  Owner
	db     DesignDB
	caster Broadcaster // nil disables client notification
	log    *zap.Logger

	records map[PrototypeID]*Record

	// Denormalized fast-access slots. When non-nil they always alias a
	// record present in the mapping.
	throwable       *Record
	throwableCancel *Record
}

func NewCollection(owner Owner, db DesignDB, caster Broadcaster, log *zap.Logger) *Collection {
	return &Collection{
		owner:   owner,
		db:      db,
		caster:  caster,
		log:     log.With(zap.Uint64("owner", owner.EntityID())),
		records: make(map[PrototypeID]*Record, 16),
	}
}

func (c *Collection) Len() int {
	return len(c.records)
}

func (c *Collection) Contains(id PrototypeID) bool {
	_, ok := c.records[id]
	return ok
}

// GetPower returns the shared power instance for id, or nil.
func (c *Collection) GetPower(id PrototypeID) *Power {
	if rec, ok := c.records[id]; ok {
		return rec.power
	}
	return nil
}

// GetRecord returns the record for id, or nil.
func (c *Collection) GetRecord(id PrototypeID) *Record {
	return c.records[id]
}

// ThrowablePower returns the instance in the throwable slot, or nil.
func (c *Collection) ThrowablePower() *Power {
	if c.throwable == nil {
		return nil
	}
	return c.throwable.power
}

// ThrowableCancelPower returns the instance in the throwable-cancel slot, or nil.
func (c *Collection) ThrowableCancelPower() *Power {
	if c.throwableCancel == nil {
		return nil
	}
	return c.throwableCancel.power
}

// sortedIDs returns prototype ids in ascending order. Ordering is what makes
// the same-pass delta encoding deterministic between snapshots.
func (c *Collection) sortedIDs() []PrototypeID {
	ids := make([]PrototypeID, 0, len(c.records))
	for id := range c.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Assign adds a power to the collection and returns the shared instance.
//
// Preconditions: the prototype must be approved in the design database, and
// the owner must be in the world unless the blueprint is a combo effect.
// A record that already exists can only gain a reference layer through a
// different triggering power; plain re-assignment of the same id is an error.
func (c *Collection) Assign(protoID PrototypeID, props IndexProps, triggeringProtoID PrototypeID, sendToClients bool) (*Power, error) {
	blueprint := c.db.BlueprintClass(protoID)
	comboEffect := blueprint == BlueprintComboEffect

	if !comboEffect && !c.owner.IsInWorld() {
		c.log.Warn("power assign refused: owner not in world", zap.Uint64("power", uint64(protoID)))
		return nil, ErrOwnerNotInWorld
	}
	if !c.db.IsApproved(protoID) {
		c.log.Warn("power assign refused: not approved", zap.Uint64("power", uint64(protoID)))
		return nil, ErrNotApproved
	}

	if rec, ok := c.records[protoID]; ok {
		// Re-triggering through a different power shares the existing
		// record and bumps its reference count.
		if triggeringProtoID != 0 && triggeringProtoID != protoID {
			rec.refCount++
			return rec.power, nil
		}
		c.log.Warn("power assign refused: already assigned", zap.Uint64("power", uint64(protoID)))
		return nil, ErrAlreadyAssigned
	}

	var progression, teamUpAway bool
	if trigRec, ok := c.records[triggeringProtoID]; ok && triggeringProtoID != 0 {
		progression = trigRec.isProgressionPower
		teamUpAway = trigRec.isTeamUpAwayPassive
	} else {
		progression = c.owner.HasPowerInProgressionBuild(protoID)
		if !progression {
			teamUpAway = c.owner.IsTeamUpAwayPassive(protoID)
		}
	}

	p := NewPower(protoID, blueprint, props, c.owner.EntityID())
	rec := &Record{
		protoID:             protoID,
		props:               props,
		refCount:            1,
		isProgressionPower:  progression,
		isTeamUpAwayPassive: teamUpAway,
		power:               p,
	}
	c.records[protoID] = rec

	switch {
	case p.IsThrowable():
		if c.throwable != nil {
			c.log.Warn("throwable slot already occupied",
				zap.Uint64("power", uint64(protoID)),
				zap.Uint64("occupant", uint64(c.throwable.protoID)))
		}
		c.throwable = rec
	case p.IsThrowableCancel():
		if c.throwableCancel != nil {
			c.log.Warn("throwable-cancel slot already occupied",
				zap.Uint64("power", uint64(protoID)),
				zap.Uint64("occupant", uint64(c.throwableCancel.protoID)))
		}
		c.throwableCancel = rec
	}

	c.owner.OnPowerAssigned(p)

	if sendToClients && c.caster != nil && c.owner.IsInGame() {
		c.caster.PowerAssigned(c.owner.EntityID(), protoID, props)
	}

	return p, nil
}

// Unassign removes one reference layer from a power. When the count reaches
// zero the record is finalized and deleted in the same operation.
//
// The unassigned notification, when requested, is sent whether or not this
// decrement deleted the record; clients track their own ref-independent view.
func (c *Collection) Unassign(protoID PrototypeID, sendToClients bool) error {
	if !c.owner.IsInWorld() {
		c.log.Warn("power unassign refused: owner not in world", zap.Uint64("power", uint64(protoID)))
		return ErrOwnerNotInWorld
	}
	rec, ok := c.records[protoID]
	if !ok {
		c.log.Warn("power unassign refused: not assigned", zap.Uint64("power", uint64(protoID)))
		return ErrNotAssigned
	}
	if rec.refCount < 1 {
		// Zero-ref records must never exist in the mapping.
		c.log.Error("power ref count underflow", zap.Uint64("power", uint64(protoID)), zap.Int("refs", rec.refCount))
		c.finalizeRecord(rec)
		return ErrNotAssigned
	}

	rec.refCount--
	if rec.refCount == 0 {
		c.finalizeRecord(rec)
	}

	if sendToClients && c.caster != nil && c.owner.IsInGame() && c.owner.IsInWorld() {
		c.caster.PowerUnassigned(c.owner.EntityID(), protoID)
	}
	return nil
}

// finalizeRecord clears the fast-access slots, notifies the owner, and
// deletes the record from the mapping.
func (c *Collection) finalizeRecord(rec *Record) {
	if c.throwable == rec {
		c.throwable = nil
	}
	if c.throwableCancel == rec {
		c.throwableCancel = nil
	}
	if rec.power != nil {
		c.owner.OnPowerUnassigned(rec.power)
	}
	delete(c.records, rec.protoID)
}

// OnOwnerExitedWorld notifies every instance of world exit, then fully
// unassigns every non-combo-effect power without client notification (the
// owner's exit is communicated separately). Records with no valid instance
// are dropped defensively with an anomaly log instead of crashing.
func (c *Collection) OnOwnerExitedWorld() {
	for _, id := range c.sortedIDs() {
		rec := c.records[id]
		if rec.power == nil {
			c.log.Error("power record without instance dropped on world exit", zap.Uint64("power", uint64(id)))
			delete(c.records, id)
			continue
		}
		rec.power.OnOwnerExitedWorld()
	}

	for _, id := range c.sortedIDs() {
		rec := c.records[id]
		if rec.power.IsComboEffect() {
			continue
		}
		c.finalizeRecord(rec)
	}
}

// SerializeRecordCount is the count pass. Packing: counts the records the
// archive's policy selects, capped at MaxRecordsPerSnapshot (truncation is a
// warning, not an error), and writes the count. Unpacking: reads it back.
func (c *Collection) SerializeRecordCount(a *archive.Archive) (int, error) {
	if !a.IsPacking() {
		return int(a.Reader().ReadH()), nil
	}

	count := 0
	for _, rec := range c.records {
		if rec.ShouldSerialize(a) {
			count++
		}
	}
	if count > MaxRecordsPerSnapshot {
		c.log.Warn("power snapshot truncated",
			zap.Int("eligible", count),
			zap.Int("cap", MaxRecordsPerSnapshot))
		count = MaxRecordsPerSnapshot
	}
	a.Writer().WriteH(uint16(count))
	return count, nil
}

// SerializeTo is the body pass. Records are encoded in ascending prototype
// id order, each as a delta against the previously encoded record in this
// same pass. Writing a different number of records than declared by the
// count pass is a hard encoding error.
func (c *Collection) SerializeTo(a *archive.Archive, count int) error {
	var prev *Record
	written := 0
	for _, id := range c.sortedIDs() {
		if written == count {
			break
		}
		rec := c.records[id]
		if !rec.ShouldSerialize(a) {
			continue
		}
		rec.encodeTo(a, prev)
		prev = rec
		written++
	}
	if written != count {
		c.log.Error("power snapshot count mismatch",
			zap.Int("declared", count),
			zap.Int("written", written))
		return ErrCountMismatch
	}
	return nil
}

// SerializeFrom mirrors the body pass: it reads exactly count records, each
// rebuilt against the previous one, and inserts them into the mapping. The
// collection must be empty beforehand; stale contents indicate caller misuse
// and are forcibly cleared with an anomaly log before decoding proceeds.
func (c *Collection) SerializeFrom(a *archive.Archive, count int) error {
	if len(c.records) != 0 {
		c.log.Error("decoding into non-empty power collection, clearing stale records",
			zap.Int("stale", len(c.records)))
		c.records = make(map[PrototypeID]*Record, count)
		c.throwable = nil
		c.throwableCancel = nil
	}

	var prev *Record
	for i := 0; i < count; i++ {
		rec, err := decodeRecord(a, prev)
		if err != nil {
			return fmt.Errorf("decode power record %d/%d: %w", i+1, count, err)
		}
		rec.power = NewPower(rec.protoID, c.db.BlueprintClass(rec.protoID), rec.props, c.owner.EntityID())
		c.records[rec.protoID] = rec
		switch {
		case rec.power.IsThrowable() && c.throwable == nil:
			c.throwable = rec
		case rec.power.IsThrowableCancel() && c.throwableCancel == nil:
			c.throwableCancel = rec
		}
		prev = rec
	}
	return nil
}

// SendEntireCollectionTo packs the owner-channel replication snapshot and
// sends it to a single client, the resync path for the controlling client
// itself on world entry.
func (c *Collection) SendEntireCollectionTo(client Client) error {
	return c.SendSnapshotTo(client, archive.PolicyAllChannels)
}

// SendSnapshotTo packs a replication snapshot restricted to policy and sends
// it to a single client. Observers that newly gain proximity interest get a
// PolicyProximity snapshot so the incremental broadcasts that follow have a
// baseline to apply against.
func (c *Collection) SendSnapshotTo(client Client, policy archive.Policy) error {
	a := archive.NewPacking(archive.PurposeReplication, policy)
	count, err := c.SerializeRecordCount(a)
	if err != nil {
		return err
	}
	if err := c.SerializeTo(a, count); err != nil {
		return err
	}

	w := packet.NewWriterWithOpcode(packet.S_OPCODE_POWER_COLLECTION)
	w.WriteQ(c.owner.EntityID())
	w.WriteBytes(a.Bytes())
	client.SendMessage(w.Bytes())
	return nil
}
