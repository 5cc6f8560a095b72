package world

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Region is one simulated area. Regions are created on demand when the
// first entity joins and reclaimed by the maintenance sweep once idle.
type Region struct {
	ID         uint32
	CreatedAt  time.Time
	LastActive time.Time
	entities   map[uint64]struct{}
}

func (r *Region) Population() int { return len(r.entities) }

// RegionManager tracks live regions. Mutations happen under the world lock.
type RegionManager struct {
	regions map[uint32]*Region
	log     *zap.Logger
}

func NewRegionManager(log *zap.Logger) *RegionManager {
	return &RegionManager{
		regions: make(map[uint32]*Region, 16),
		log:     log,
	}
}

func (m *RegionManager) Get(id uint32) *Region {
	return m.regions[id]
}

func (m *RegionManager) Count() int {
	return len(m.regions)
}

// Join adds an entity to a region, creating it on first use.
func (m *RegionManager) Join(regionID uint32, entityID uint64) *Region {
	r := m.regions[regionID]
	if r == nil {
		r = &Region{
			ID:        regionID,
			CreatedAt: time.Now(),
			entities:  make(map[uint64]struct{}, 8),
		}
		m.regions[regionID] = r
		m.log.Info("region created", zap.Uint32("region", regionID))
	}
	r.entities[entityID] = struct{}{}
	r.LastActive = time.Now()
	return r
}

// Leave removes an entity from a region. Empty regions stay until the
// maintenance sweep reclaims them, so rapid leave/join does not thrash.
func (m *RegionManager) Leave(regionID uint32, entityID uint64) {
	r := m.regions[regionID]
	if r == nil {
		return
	}
	delete(r.entities, entityID)
	r.LastActive = time.Now()
}

// SweepIdle removes empty regions idle for longer than timeout.
// Callers must hold the world lock.
func (m *RegionManager) SweepIdle(timeout time.Duration) int {
	removed := 0
	cutoff := time.Now().Add(-timeout)
	for id, r := range m.regions {
		if len(r.entities) == 0 && r.LastActive.Before(cutoff) {
			delete(m.regions, id)
			removed++
		}
	}
	if removed > 0 {
		m.log.Info("idle regions reclaimed", zap.Int("count", removed))
	}
	return removed
}

// Locker serializes access to shared simulation state. The game's world
// lock implements it.
type Locker interface {
	WithLock(fn func())
}

// StartMaintenance runs the periodic idle-region sweep as a supervised
// background task. It holds the world lock only for the sweep itself and
// is cancelled through ctx at process shutdown. A panicking sweep is logged
// and the task loop keeps running.
func (m *RegionManager) StartMaintenance(ctx context.Context, locker Locker, idleTimeout, every time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				m.log.Info("region maintenance stopped")
				return
			case <-ticker.C:
				m.sweepSafely(locker, idleTimeout)
			}
		}
	}()
}

func (m *RegionManager) sweepSafely(locker Locker, idleTimeout time.Duration) {
	defer func() {
		if rec := recover(); rec != nil {
			m.log.Error("region maintenance sweep panicked", zap.Any("panic", rec))
		}
	}()
	locker.WithLock(func() {
		m.SweepIdle(idleTimeout)
	})
}
