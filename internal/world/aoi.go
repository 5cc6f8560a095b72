package world

// AOIGrid implements a cell-based area-of-interest index over observer
// sessions. Cell size is chosen so that a 3x3 neighbourhood of cells fully
// covers the interest range (Chebyshev distance 20).
// Accessed only from the game loop goroutine, so no locks.

const (
	cellSize      = 20
	interestRange = 20
)

type cellKey struct {
	regionID uint32
	cx       int32
	cy       int32
}

func toCellCoord(v int32) int32 {
	if v < 0 {
		return (v - cellSize + 1) / cellSize
	}
	return v / cellSize
}

// AOIGrid tracks which sessions are in which cells.
type AOIGrid struct {
	cells map[cellKey]map[uint64]struct{} // cellKey → set of sessionIDs
}

func NewAOIGrid() *AOIGrid {
	return &AOIGrid{
		cells: make(map[cellKey]map[uint64]struct{}),
	}
}

func (g *AOIGrid) key(x, y int32, regionID uint32) cellKey {
	return cellKey{regionID: regionID, cx: toCellCoord(x), cy: toCellCoord(y)}
}

// Add places a session into the grid.
func (g *AOIGrid) Add(sessionID uint64, x, y int32, regionID uint32) {
	k := g.key(x, y, regionID)
	cell := g.cells[k]
	if cell == nil {
		cell = make(map[uint64]struct{})
		g.cells[k] = cell
	}
	cell[sessionID] = struct{}{}
}

// Remove takes a session out of the grid.
func (g *AOIGrid) Remove(sessionID uint64, x, y int32, regionID uint32) {
	k := g.key(x, y, regionID)
	cell := g.cells[k]
	if cell != nil {
		delete(cell, sessionID)
		if len(cell) == 0 {
			delete(g.cells, k)
		}
	}
}

// Move updates a session's cell when its position changes.
func (g *AOIGrid) Move(sessionID uint64, oldX, oldY int32, oldRegion uint32, newX, newY int32, newRegion uint32) {
	oldK := g.key(oldX, oldY, oldRegion)
	newK := g.key(newX, newY, newRegion)
	if oldK == newK {
		return
	}
	g.Remove(sessionID, oldX, oldY, oldRegion)
	g.Add(sessionID, newX, newY, newRegion)
}

// GetNearby returns all session IDs in a 3x3 neighbourhood of cells around
// the given position. Callers do fine-grained distance filtering.
func (g *AOIGrid) GetNearby(x, y int32, regionID uint32) []uint64 {
	cx := toCellCoord(x)
	cy := toCellCoord(y)
	var result []uint64
	for dx := int32(-1); dx <= 1; dx++ {
		for dy := int32(-1); dy <= 1; dy++ {
			k := cellKey{regionID: regionID, cx: cx + dx, cy: cy + dy}
			for sid := range g.cells[k] {
				result = append(result, sid)
			}
		}
	}
	return result
}

func chebyshev(x1, y1, x2, y2 int32) int32 {
	dx := x1 - x2
	if dx < 0 {
		dx = -dx
	}
	dy := y1 - y2
	if dy < 0 {
		dy = -dy
	}
	if dy > dx {
		return dy
	}
	return dx
}
