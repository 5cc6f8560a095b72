package system

import (
	"context"
	"time"

	"github.com/veldrin/server/internal/core/event"
	coresys "github.com/veldrin/server/internal/core/system"
	"github.com/veldrin/server/internal/game/archive"
	"github.com/veldrin/server/internal/persist"
	"github.com/veldrin/server/internal/world"
	"go.uber.org/zap"
)

// PersistenceSystem batch-saves dirty avatars every N ticks: position,
// level, and the encoded power collection. It subscribes to CharacterDirty
// so handlers mark avatars through the bus rather than poking the flag
// directly. Phase 5 (Persist).
type PersistenceSystem struct {
	worldState *world.State
	charRepo   *persist.CharacterRepo
	log        *zap.Logger
	tickCount  int
	interval   int // save pass every N ticks
}

func NewPersistenceSystem(ws *world.State, charRepo *persist.CharacterRepo, bus *event.Bus, intervalTicks int, log *zap.Logger) *PersistenceSystem {
	s := &PersistenceSystem{
		worldState: ws,
		charRepo:   charRepo,
		interval:   intervalTicks,
		log:        log,
	}
	event.Subscribe(bus, func(ev event.CharacterDirty) {
		if a, ok := ws.GetEntity(ev.EntityID).(*world.Avatar); ok {
			a.Dirty = true
		}
	})
	return s
}

func (s *PersistenceSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *PersistenceSystem) Update(_ time.Duration) {
	s.tickCount++
	if s.tickCount < s.interval {
		return
	}
	s.tickCount = 0
	s.saveAvatars(true)
}

// SaveAll persists every online avatar immediately, ignoring dirty flags.
// Called on graceful shutdown.
func (s *PersistenceSystem) SaveAll() {
	s.saveAvatars(false)
}

func (s *PersistenceSystem) saveAvatars(dirtyOnly bool) {
	s.worldState.AllAvatars(func(a *world.Avatar) {
		if dirtyOnly && !a.Dirty {
			return
		}
		if a.CharID == 0 {
			return // never loaded from a row, nothing to write back
		}

		blob, err := encodePowers(a)
		if err != nil {
			s.log.Error("power collection encode failed",
				zap.Error(err), zap.String("name", a.Name))
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		row := &persist.CharacterRow{
			ID:       a.CharID,
			Name:     a.Name,
			Level:    a.Level,
			X:        a.X,
			Y:        a.Y,
			RegionID: int32(a.Region),
			Heading:  a.Heading,
			Powers:   blob,
		}
		if err := s.charRepo.SaveState(ctx, row); err != nil {
			s.log.Error("avatar save failed", zap.Error(err), zap.String("name", a.Name))
			return
		}
		a.Dirty = false
	})
}

func encodePowers(a *world.Avatar) ([]byte, error) {
	if a.Powers == nil {
		return nil, nil
	}
	arc := archive.NewPacking(archive.PurposePersistence, archive.PolicyAllChannels)
	count, err := a.Powers.SerializeRecordCount(arc)
	if err != nil {
		return nil, err
	}
	if err := a.Powers.SerializeTo(arc, count); err != nil {
		return nil, err
	}
	return arc.Bytes(), nil
}
