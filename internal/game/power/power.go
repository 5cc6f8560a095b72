// Package power implements the per-entity ability registry: ref-counted
// assignment and unassignment of power instances, the denormalized
// throwable slots, and the delta-encoded replication transcript for the
// whole collection.
package power

import (
	"fmt"
	"sync"
)

// PrototypeID identifies a power definition in the read-only design database.
type PrototypeID uint64

// Blueprint class names used by the design database. Classes drive both
// construction (see RegisterBlueprint) and assignment rules.
const (
	BlueprintPower           = "Power"
	BlueprintThrowable       = "ThrowablePower"
	BlueprintThrowableCancel = "ThrowableCancelPower"
	BlueprintComboEffect     = "ComboEffectPower"
)

// IndexProps are the scalar tuning inputs attached to a power instance.
// They affect the power's numeric output and are replicated to clients for
// tooltip/effect display; they carry no behavior themselves.
type IndexProps struct {
	Rank           int32
	CharacterLevel int32
	CombatLevel    int32
	ItemLevel      int32
	ItemVariation  float32
}

// DesignDB is the narrow read-only contract the collection needs from the
// game-design database. Assumed always available after startup.
type DesignDB interface {
	IsApproved(id PrototypeID) bool
	BlueprintClass(id PrototypeID) string
}

// Owner is the world entity a collection belongs to.
type Owner interface {
	EntityID() uint64
	IsInWorld() bool
	IsInGame() bool

	// Invoked synchronously by the collection on structural changes.
	OnPowerAssigned(p *Power)
	OnPowerUnassigned(p *Power)

	// Flag derivation inputs for records with no triggering power.
	HasPowerInProgressionBuild(id PrototypeID) bool
	IsTeamUpAwayPassive(id PrototypeID) bool
}

// Broadcaster delivers power notifications to every client whose area of
// interest currently includes the owner. The world's replication manager
// implements it; a nil broadcaster disables client notification entirely.
type Broadcaster interface {
	PowerAssigned(ownerID uint64, protoID PrototypeID, props IndexProps)
	PowerUnassigned(ownerID uint64, protoID PrototypeID)
}

// Client receives direct (non-broadcast) messages, e.g. a full collection
// resync when an observer newly gains interest.
type Client interface {
	SendMessage(data []byte)
}

// ActivateFunc runs a power's activation effect. Wired per blueprint class
// by the constructor registry; failures are reported, never panic.
type ActivateFunc func(p *Power) error

// Power is one runtime ability instance. It is shared between the record
// and every caller Assign returned it to, never copied. The owner
// reference is a non-owning lookup key, not a reverse ownership edge.
type Power struct {
	protoID   PrototypeID
	blueprint string
	ownerID   uint64
	props     IndexProps
	inWorld   bool
	activate  ActivateFunc
}

func (p *Power) ProtoID() PrototypeID { return p.protoID }
func (p *Power) Blueprint() string    { return p.blueprint }
func (p *Power) OwnerID() uint64      { return p.ownerID }
func (p *Power) Props() IndexProps    { return p.props }

func (p *Power) IsComboEffect() bool     { return p.blueprint == BlueprintComboEffect }
func (p *Power) IsThrowable() bool       { return p.blueprint == BlueprintThrowable }
func (p *Power) IsThrowableCancel() bool { return p.blueprint == BlueprintThrowableCancel }

// SetProps re-initializes the power's tuning inputs (rank-up, level-up).
func (p *Power) SetProps(props IndexProps) {
	p.props = props
}

// Activate runs the power's effect hook, if any.
func (p *Power) Activate() error {
	if p.activate == nil {
		return nil
	}
	if err := p.activate(p); err != nil {
		return fmt.Errorf("activate power %d: %w", p.protoID, err)
	}
	return nil
}

// OnOwnerExitedWorld tells the instance its owner left the simulated world.
func (p *Power) OnOwnerExitedWorld() {
	p.inWorld = false
}

// Constructor builds a power instance for one blueprint class.
type Constructor func(protoID PrototypeID, blueprint string, props IndexProps, ownerID uint64) *Power

var (
	ctorMu sync.RWMutex
	ctors  = make(map[string]Constructor)
)

// RegisterBlueprint maps a design-database blueprint class to a constructor.
// New classes are additive: nothing dispatches on concrete power types.
func RegisterBlueprint(class string, fn Constructor) {
	ctorMu.Lock()
	defer ctorMu.Unlock()
	ctors[class] = fn
}

// NewPower builds a power via the registered constructor for its blueprint
// class, falling back to a plain instance for unregistered classes.
func NewPower(protoID PrototypeID, blueprint string, props IndexProps, ownerID uint64) *Power {
	ctorMu.RLock()
	fn := ctors[blueprint]
	ctorMu.RUnlock()
	if fn != nil {
		return fn(protoID, blueprint, props, ownerID)
	}
	return &Power{
		protoID:   protoID,
		blueprint: blueprint,
		ownerID:   ownerID,
		props:     props,
		inWorld:   true,
	}
}

// NewPowerWithActivate is a helper for constructors that only differ in
// their activation hook.
func NewPowerWithActivate(protoID PrototypeID, blueprint string, props IndexProps, ownerID uint64, fn ActivateFunc) *Power {
	return &Power{
		protoID:   protoID,
		blueprint: blueprint,
		ownerID:   ownerID,
		props:     props,
		inWorld:   true,
		activate:  fn,
	}
}
