package power

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veldrin/server/internal/game/archive"
	"github.com/veldrin/server/internal/net/packet"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeOwner struct {
	id          uint64
	inWorld     bool
	inGame      bool
	progression map[PrototypeID]bool
	teamUpAway  map[PrototypeID]bool

	assigned   []PrototypeID
	unassigned []PrototypeID
}

func newFakeOwner() *fakeOwner {
	return &fakeOwner{
		id:          42,
		inWorld:     true,
		inGame:      true,
		progression: map[PrototypeID]bool{},
		teamUpAway:  map[PrototypeID]bool{},
	}
}

func (o *fakeOwner) EntityID() uint64 { return o.id }
func (o *fakeOwner) IsInWorld() bool  { return o.inWorld }
func (o *fakeOwner) IsInGame() bool   { return o.inGame }
func (o *fakeOwner) HasPowerInProgressionBuild(id PrototypeID) bool {
	return o.progression[id]
}
func (o *fakeOwner) IsTeamUpAwayPassive(id PrototypeID) bool {
	return o.teamUpAway[id]
}
func (o *fakeOwner) OnPowerAssigned(p *Power)   { o.assigned = append(o.assigned, p.ProtoID()) }
func (o *fakeOwner) OnPowerUnassigned(p *Power) { o.unassigned = append(o.unassigned, p.ProtoID()) }

type fakeDB struct {
	blueprints map[PrototypeID]string
	unapproved map[PrototypeID]bool
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		blueprints: map[PrototypeID]string{},
		unapproved: map[PrototypeID]bool{},
	}
}

func (db *fakeDB) IsApproved(id PrototypeID) bool { return !db.unapproved[id] }
func (db *fakeDB) BlueprintClass(id PrototypeID) string {
	if bp, ok := db.blueprints[id]; ok {
		return bp
	}
	return BlueprintPower
}

type castEvent struct {
	assigned bool
	owner    uint64
	protoID  PrototypeID
}

type fakeCaster struct {
	events []castEvent
}

func (c *fakeCaster) PowerAssigned(owner uint64, id PrototypeID, _ IndexProps) {
	c.events = append(c.events, castEvent{assigned: true, owner: owner, protoID: id})
}
func (c *fakeCaster) PowerUnassigned(owner uint64, id PrototypeID) {
	c.events = append(c.events, castEvent{assigned: false, owner: owner, protoID: id})
}

type fakeClient struct {
	messages [][]byte
}

func (c *fakeClient) SendMessage(data []byte) {
	c.messages = append(c.messages, data)
}

func newTestCollection(t *testing.T) (*Collection, *fakeOwner, *fakeDB, *fakeCaster, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.WarnLevel)
	owner := newFakeOwner()
	db := newFakeDB()
	caster := &fakeCaster{}
	c := NewCollection(owner, db, caster, zap.New(core))
	return c, owner, db, caster, logs
}

func props(rank, charLvl, combatLvl, itemLvl int32, variation float32) IndexProps {
	return IndexProps{
		Rank:           rank,
		CharacterLevel: charLvl,
		CombatLevel:    combatLvl,
		ItemLevel:      itemLvl,
		ItemVariation:  variation,
	}
}

func TestAssignCreatesRecordAndNotifies(t *testing.T) {
	c, owner, _, caster, _ := newTestCollection(t)

	p, err := c.Assign(1001, props(2, 10, 5, 0, 0), 0, true)
	require.NoError(t, err)
	require.NotNil(t, p)

	rec := c.GetRecord(1001)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.RefCount())
	assert.Same(t, p, rec.Power())
	assert.Equal(t, []PrototypeID{1001}, owner.assigned)

	require.Len(t, caster.events, 1)
	assert.True(t, caster.events[0].assigned)
	assert.Equal(t, owner.id, caster.events[0].owner)
}

func TestAssignSilentDoesNotBroadcast(t *testing.T) {
	c, _, _, caster, _ := newTestCollection(t)

	_, err := c.Assign(1001, IndexProps{}, 0, false)
	require.NoError(t, err)
	assert.Empty(t, caster.events)
}

func TestAssignRefusedWhenOwnerNotInWorld(t *testing.T) {
	c, owner, _, _, _ := newTestCollection(t)
	owner.inWorld = false

	_, err := c.Assign(1001, IndexProps{}, 0, true)
	assert.ErrorIs(t, err, ErrOwnerNotInWorld)
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, owner.assigned)
}

func TestComboEffectAssignableOutOfWorld(t *testing.T) {
	c, owner, db, _, _ := newTestCollection(t)
	owner.inWorld = false
	db.blueprints[2001] = BlueprintComboEffect

	p, err := c.Assign(2001, IndexProps{}, 0, false)
	require.NoError(t, err)
	assert.True(t, p.IsComboEffect())
}

func TestAssignRefusedWhenNotApproved(t *testing.T) {
	c, _, db, _, _ := newTestCollection(t)
	db.unapproved[1001] = true

	_, err := c.Assign(1001, IndexProps{}, 0, true)
	assert.ErrorIs(t, err, ErrNotApproved)
	assert.Equal(t, 0, c.Len())
}

func TestPlainReassignIsError(t *testing.T) {
	c, _, _, _, _ := newTestCollection(t)

	_, err := c.Assign(1001, IndexProps{}, 0, false)
	require.NoError(t, err)

	_, err = c.Assign(1001, IndexProps{}, 0, false)
	assert.ErrorIs(t, err, ErrAlreadyAssigned)
	assert.Equal(t, 1, c.GetRecord(1001).RefCount())
}

func TestDifferentTriggerStacksReference(t *testing.T) {
	c, owner, _, _, _ := newTestCollection(t)

	first, err := c.Assign(1001, IndexProps{}, 0, false)
	require.NoError(t, err)

	second, err := c.Assign(1001, IndexProps{}, 9999, false)
	require.NoError(t, err)

	// Same shared instance, one record, two reference layers.
	assert.Same(t, first, second)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 2, c.GetRecord(1001).RefCount())
	// The owner hook fires only on record creation.
	assert.Equal(t, []PrototypeID{1001}, owner.assigned)
}

func TestUnassignPeelsReferenceLayers(t *testing.T) {
	c, owner, _, caster, _ := newTestCollection(t)

	_, err := c.Assign(1001, IndexProps{}, 0, true)
	require.NoError(t, err)
	_, err = c.Assign(1001, IndexProps{}, 9999, true)
	require.NoError(t, err)

	// First unassign: record survives, notification still sent.
	require.NoError(t, c.Unassign(1001, true))
	assert.True(t, c.Contains(1001))
	assert.Equal(t, 1, c.GetRecord(1001).RefCount())
	assert.Empty(t, owner.unassigned)

	// Second unassign: record deleted, owner notified.
	require.NoError(t, c.Unassign(1001, true))
	assert.False(t, c.Contains(1001))
	assert.Equal(t, []PrototypeID{1001}, owner.unassigned)

	// Both decrements notify clients, not just the deleting one.
	var unassignedCount int
	for _, ev := range caster.events {
		if !ev.assigned {
			unassignedCount++
		}
	}
	assert.Equal(t, 2, unassignedCount)
}

func TestUnassignUnknownIsError(t *testing.T) {
	c, _, _, _, _ := newTestCollection(t)
	assert.ErrorIs(t, c.Unassign(1001, false), ErrNotAssigned)
}

func TestUnassignRefusedWhenOwnerNotInWorld(t *testing.T) {
	c, owner, _, _, _ := newTestCollection(t)

	_, err := c.Assign(1001, IndexProps{}, 0, false)
	require.NoError(t, err)

	owner.inWorld = false
	assert.ErrorIs(t, c.Unassign(1001, false), ErrOwnerNotInWorld)
	assert.True(t, c.Contains(1001))
}

func TestThrowableSlotTracksRecord(t *testing.T) {
	c, _, db, _, logs := newTestCollection(t)
	db.blueprints[3001] = BlueprintThrowable
	db.blueprints[3002] = BlueprintThrowable
	db.blueprints[3010] = BlueprintThrowableCancel

	_, err := c.Assign(3001, IndexProps{}, 0, false)
	require.NoError(t, err)
	_, err = c.Assign(3010, IndexProps{}, 0, false)
	require.NoError(t, err)

	require.NotNil(t, c.ThrowablePower())
	assert.Equal(t, PrototypeID(3001), c.ThrowablePower().ProtoID())
	require.NotNil(t, c.ThrowableCancelPower())
	assert.Equal(t, PrototypeID(3010), c.ThrowableCancelPower().ProtoID())

	// A second throwable warns, takes the slot, and both records coexist.
	_, err = c.Assign(3002, IndexProps{}, 0, false)
	require.NoError(t, err)
	assert.Equal(t, PrototypeID(3002), c.ThrowablePower().ProtoID())
	assert.True(t, c.Contains(3001))
	assert.Len(t, logs.FilterMessageSnippet("throwable slot already occupied").All(), 1)

	// Removing the slot holder clears the slot.
	require.NoError(t, c.Unassign(3002, false))
	assert.Nil(t, c.ThrowablePower())
	require.NoError(t, c.Unassign(3010, false))
	assert.Nil(t, c.ThrowableCancelPower())
}

func TestFlagsInheritedFromTriggeringRecord(t *testing.T) {
	c, owner, _, _, _ := newTestCollection(t)
	owner.progression[1001] = true

	// 1001 derives the progression flag from the owner's build.
	_, err := c.Assign(1001, IndexProps{}, 0, false)
	require.NoError(t, err)
	assert.True(t, c.GetRecord(1001).IsProgressionPower())

	// 1002 is triggered by 1001 and inherits its flags, even though the
	// owner's build does not contain 1002.
	_, err = c.Assign(1002, IndexProps{}, 1001, false)
	require.NoError(t, err)
	assert.True(t, c.GetRecord(1002).IsProgressionPower())
}

func TestTeamUpAwayFlagDerivedFromOwner(t *testing.T) {
	c, owner, _, _, _ := newTestCollection(t)
	owner.teamUpAway[1003] = true

	_, err := c.Assign(1003, IndexProps{}, 0, false)
	require.NoError(t, err)
	rec := c.GetRecord(1003)
	assert.False(t, rec.IsProgressionPower())
	assert.True(t, rec.IsTeamUpAwayPassive())
}

func TestOwnerExitRemovesNonComboRecords(t *testing.T) {
	c, owner, db, _, _ := newTestCollection(t)
	db.blueprints[2001] = BlueprintComboEffect

	_, err := c.Assign(1001, IndexProps{}, 0, false)
	require.NoError(t, err)
	_, err = c.Assign(2001, IndexProps{}, 0, false)
	require.NoError(t, err)

	c.OnOwnerExitedWorld()

	assert.False(t, c.Contains(1001))
	assert.True(t, c.Contains(2001))
	assert.Equal(t, []PrototypeID{1001}, owner.unassigned)
}

func TestPersistenceRoundTrip(t *testing.T) {
	c, _, db, _, _ := newTestCollection(t)
	db.blueprints[3001] = BlueprintThrowable

	entries := []struct {
		id PrototypeID
		p  IndexProps
	}{
		{1001, props(1, 10, 5, 0, 0)},
		{1002, props(1, 10, 5, 0, 0)}, // identical props: empty scalar mask
		{1003, props(3, 10, 7, 2, 1.5)},
		{3001, props(0, 0, 0, 0, 0)},
	}
	for _, e := range entries {
		_, err := c.Assign(e.id, e.p, 0, false)
		require.NoError(t, err)
	}

	packed := archive.NewPacking(archive.PurposePersistence, archive.PolicyAllChannels)
	count, err := c.SerializeRecordCount(packed)
	require.NoError(t, err)
	assert.Equal(t, len(entries), count)
	require.NoError(t, c.SerializeTo(packed, count))

	restored := NewCollection(newFakeOwner(), db, nil, zap.NewNop())
	unpacked := archive.NewUnpacking(archive.PurposePersistence, archive.PolicyAllChannels, packed.Bytes())
	gotCount, err := restored.SerializeRecordCount(unpacked)
	require.NoError(t, err)
	require.Equal(t, count, gotCount)
	require.NoError(t, restored.SerializeFrom(unpacked, gotCount))

	require.Equal(t, c.Len(), restored.Len())
	for _, e := range entries {
		rec := restored.GetRecord(e.id)
		require.NotNil(t, rec, "missing record %d", e.id)
		assert.Equal(t, e.p, rec.Props())
		assert.Equal(t, 1, rec.RefCount())
	}
	// The throwable slot is rebuilt from the decoded blueprint classes.
	require.NotNil(t, restored.ThrowablePower())
	assert.Equal(t, PrototypeID(3001), restored.ThrowablePower().ProtoID())
}

func TestReplicationOmitsComboEffectsWithoutOwnerChannel(t *testing.T) {
	c, _, db, _, _ := newTestCollection(t)
	db.blueprints[2001] = BlueprintComboEffect

	_, err := c.Assign(1001, IndexProps{}, 0, false)
	require.NoError(t, err)
	_, err = c.Assign(2001, IndexProps{}, 0, false)
	require.NoError(t, err)

	prox := archive.NewPacking(archive.PurposeReplication, archive.PolicyProximity)
	count, err := c.SerializeRecordCount(prox)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	owned := archive.NewPacking(archive.PurposeReplication, archive.PolicyOwner)
	count, err = c.SerializeRecordCount(owned)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	persisted := archive.NewPacking(archive.PurposePersistence, archive.PolicyAllChannels)
	count, err = c.SerializeRecordCount(persisted)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSnapshotTruncatesAboveCap(t *testing.T) {
	c, _, _, _, logs := newTestCollection(t)

	for i := 0; i < MaxRecordsPerSnapshot+20; i++ {
		_, err := c.Assign(PrototypeID(10000+i), IndexProps{}, 0, false)
		require.NoError(t, err)
	}

	a := archive.NewPacking(archive.PurposeReplication, archive.PolicyAllChannels)
	count, err := c.SerializeRecordCount(a)
	require.NoError(t, err)
	assert.Equal(t, MaxRecordsPerSnapshot, count)
	assert.Len(t, logs.FilterMessageSnippet("truncated").All(), 1)

	// The body pass honors the truncated count.
	require.NoError(t, c.SerializeTo(a, count))
}

func TestSerializeToDetectsCountMismatch(t *testing.T) {
	c, _, _, _, _ := newTestCollection(t)

	_, err := c.Assign(1001, IndexProps{}, 0, false)
	require.NoError(t, err)

	a := archive.NewPacking(archive.PurposePersistence, archive.PolicyAllChannels)
	_, err = c.SerializeRecordCount(a)
	require.NoError(t, err)

	assert.ErrorIs(t, c.SerializeTo(a, 2), ErrCountMismatch)
}

func TestDecodeIntoNonEmptyCollectionClearsFirst(t *testing.T) {
	source, _, db, _, _ := newTestCollection(t)
	_, err := source.Assign(1001, props(5, 1, 2, 3, 0), 0, false)
	require.NoError(t, err)

	packed := archive.NewPacking(archive.PurposePersistence, archive.PolicyAllChannels)
	count, err := source.SerializeRecordCount(packed)
	require.NoError(t, err)
	require.NoError(t, source.SerializeTo(packed, count))

	core, logs := observer.New(zap.ErrorLevel)
	dirty := NewCollection(newFakeOwner(), db, nil, zap.New(core))
	_, err = dirty.Assign(7777, IndexProps{}, 0, false)
	require.NoError(t, err)

	unpacked := archive.NewUnpacking(archive.PurposePersistence, archive.PolicyAllChannels, packed.Bytes())
	gotCount, err := dirty.SerializeRecordCount(unpacked)
	require.NoError(t, err)
	require.NoError(t, dirty.SerializeFrom(unpacked, gotCount))

	// Stale record gone, decoded record present, anomaly logged.
	assert.False(t, dirty.Contains(7777))
	assert.True(t, dirty.Contains(1001))
	assert.Len(t, logs.FilterMessageSnippet("non-empty").All(), 1)
}

func TestDecodeTruncatedDataFails(t *testing.T) {
	c, _, _, _, _ := newTestCollection(t)

	a := archive.NewUnpacking(archive.PurposePersistence, archive.PolicyAllChannels, []byte{0, 1})
	err := c.SerializeFrom(a, 1)
	assert.Error(t, err)
}

func TestSendEntireCollectionTo(t *testing.T) {
	c, owner, _, _, _ := newTestCollection(t)

	_, err := c.Assign(1001, props(1, 2, 3, 4, 0), 0, false)
	require.NoError(t, err)

	client := &fakeClient{}
	require.NoError(t, c.SendEntireCollectionTo(client))

	require.Len(t, client.messages, 1)
	r := packet.NewReader(client.messages[0])
	assert.Equal(t, packet.S_OPCODE_POWER_COLLECTION, r.Opcode())
	assert.Equal(t, owner.id, r.ReadQ())
	assert.Equal(t, uint16(1), r.ReadH())
}

func TestSendSnapshotToHonorsPolicy(t *testing.T) {
	c, owner, db, _, _ := newTestCollection(t)
	db.blueprints[2001] = BlueprintComboEffect

	_, err := c.Assign(1001, IndexProps{}, 0, false)
	require.NoError(t, err)
	_, err = c.Assign(2001, IndexProps{}, 0, false)
	require.NoError(t, err)

	client := &fakeClient{}
	require.NoError(t, c.SendSnapshotTo(client, archive.PolicyProximity))

	require.Len(t, client.messages, 1)
	r := packet.NewReader(client.messages[0])
	assert.Equal(t, packet.S_OPCODE_POWER_COLLECTION, r.Opcode())
	assert.Equal(t, owner.id, r.ReadQ())
	// Proximity snapshots omit the combo effect.
	assert.Equal(t, uint16(1), r.ReadH())
}

func TestDecodeTruncatedScalarFieldsFails(t *testing.T) {
	c, _, db, _, _ := newTestCollection(t)

	_, err := c.Assign(1001, props(3, 12, 0, 0, 0), 0, false)
	require.NoError(t, err)

	packed := archive.NewPacking(archive.PurposePersistence, archive.PolicyAllChannels)
	count, err := c.SerializeRecordCount(packed)
	require.NoError(t, err)
	require.NoError(t, c.SerializeTo(packed, count))

	// Keep the id+mask header but cut into the scalars the mask claims.
	data := packed.Bytes()
	truncated := data[:len(data)-4]

	restored := NewCollection(newFakeOwner(), db, nil, zap.NewNop())
	unpacked := archive.NewUnpacking(archive.PurposePersistence, archive.PolicyAllChannels, truncated)
	gotCount, err := restored.SerializeRecordCount(unpacked)
	require.NoError(t, err)
	err = restored.SerializeFrom(unpacked, gotCount)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "truncated")
	assert.Equal(t, 0, restored.Len())
}
