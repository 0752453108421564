package world

import (
	"math"
)

type cellKey struct {
	x, y, z int64
}

// Grid is a uniform-cell spatial hash over entity positions. It answers the
// radius queries the visibility resolver runs per observer. Cell size is a
// tuning knob: cells much smaller than typical query radii inflate the cell
// scan, much larger ones inflate the candidate filter.
type Grid struct {
	cellSize  float64
	cells     map[cellKey]map[EntityID]struct{}
	positions map[EntityID]Vec3
}

func NewGrid(cellSize float64) *Grid {
	if cellSize <= 0 {
		cellSize = 1000
	}
	return &Grid{
		cellSize:  cellSize,
		cells:     make(map[cellKey]map[EntityID]struct{}),
		positions: make(map[EntityID]Vec3),
	}
}

func (g *Grid) keyFor(p Vec3) cellKey {
	return cellKey{
		x: int64(math.Floor(p.X / g.cellSize)),
		y: int64(math.Floor(p.Y / g.cellSize)),
		z: int64(math.Floor(p.Z / g.cellSize)),
	}
}

// Upsert inserts or moves an entity.
func (g *Grid) Upsert(id EntityID, pos Vec3) {
	if prev, ok := g.positions[id]; ok {
		prevKey := g.keyFor(prev)
		newKey := g.keyFor(pos)
		if prevKey == newKey {
			g.positions[id] = pos
			return
		}
		g.removeFromCell(prevKey, id)
	}
	key := g.keyFor(pos)
	cell, ok := g.cells[key]
	if !ok {
		cell = make(map[EntityID]struct{})
		g.cells[key] = cell
	}
	cell[id] = struct{}{}
	g.positions[id] = pos
}

func (g *Grid) Remove(id EntityID) {
	pos, ok := g.positions[id]
	if !ok {
		return
	}
	g.removeFromCell(g.keyFor(pos), id)
	delete(g.positions, id)
}

func (g *Grid) removeFromCell(key cellKey, id EntityID) {
	if cell, ok := g.cells[key]; ok {
		delete(cell, id)
		if len(cell) == 0 {
			delete(g.cells, key)
		}
	}
}

// QueryRadius returns every entity within radius of center, exact-filtered
// after the cell scan. Order is unspecified; callers needing determinism
// sort the result.
func (g *Grid) QueryRadius(center Vec3, radius float64) []EntityID {
	if radius < 0 {
		return nil
	}
	minKey := g.keyFor(Vec3{center.X - radius, center.Y - radius, center.Z - radius})
	maxKey := g.keyFor(Vec3{center.X + radius, center.Y + radius, center.Z + radius})
	r2 := radius * radius

	var out []EntityID
	for x := minKey.x; x <= maxKey.x; x++ {
		for y := minKey.y; y <= maxKey.y; y++ {
			for z := minKey.z; z <= maxKey.z; z++ {
				cell, ok := g.cells[cellKey{x, y, z}]
				if !ok {
					continue
				}
				for id := range cell {
					p := g.positions[id]
					dx, dy, dz := p.X-center.X, p.Y-center.Y, p.Z-center.Z
					if dx*dx+dy*dy+dz*dz <= r2 {
						out = append(out, id)
					}
				}
			}
		}
	}
	return out
}

func (g *Grid) Len() int {
	return len(g.positions)
}
