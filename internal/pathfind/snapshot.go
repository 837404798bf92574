package pathfind

import (
	"errors"
)

// MaxRegionCells bounds the snapshot Around will take.
const MaxRegionCells = 1 << 20

// ErrRegionTooLarge is returned by Around when the box exceeds
// MaxRegionCells.
var ErrRegionTooLarge = errors.New("pathfind: search region too large")

// Region is an immutable copy of a rectangle of a Grid. Cells outside the
// rectangle are not walkable. Once built it never reads the source grid,
// so it is safe to search from any goroutine.
type Region struct {
	lo, hi Cell
	width  int
	open   []bool
}

var _ Grid = (*Region)(nil)

// Snapshot copies the walkability of every cell from a to b inclusive. The
// corners may be given in any order. It calls grid.Walkable once per cell,
// so it must run wherever grid may be read.
func Snapshot(grid Grid, a, b Cell) *Region {
	lo := Cell{min(a.X, b.X), min(a.Y, b.Y)}
	hi := Cell{max(a.X, b.X), max(a.Y, b.Y)}
	r := &Region{
		lo:    lo,
		hi:    hi,
		width: hi.X - lo.X + 1,
	}
	r.open = make([]bool, r.width*(hi.Y-lo.Y+1))
	for y := lo.Y; y <= hi.Y; y++ {
		for x := lo.X; x <= hi.X; x++ {
			r.open[r.index(x, y)] = grid.Walkable(x, y)
		}
	}
	return r
}

// Around snapshots the bounding box of from and to grown by margin cells on
// every side, clipped to width x height when both are positive.
func Around(grid Grid, from, to Cell, margin, width, height int) (*Region, error) {
	margin = max(margin, 0)
	a := Cell{min(from.X, to.X) - margin, min(from.Y, to.Y) - margin}
	b := Cell{max(from.X, to.X) + margin, max(from.Y, to.Y) + margin}
	if width > 0 && height > 0 {
		a = Cell{max(a.X, 0), max(a.Y, 0)}
		b = Cell{min(b.X, width-1), min(b.Y, height-1)}
		if a.X > b.X || a.Y > b.Y {
			// Nothing of the box is on the grid.
			return Snapshot(grid, from, from), nil
		}
	}
	if cells := (b.X - a.X + 1) * (b.Y - a.Y + 1); cells > MaxRegionCells {
		return nil, ErrRegionTooLarge
	}
	return Snapshot(grid, a, b), nil
}

func (r *Region) index(x, y int) int {
	return (y-r.lo.Y)*r.width + (x - r.lo.X)
}

func (r *Region) Walkable(x, y int) bool {
	if x < r.lo.X || x > r.hi.X || y < r.lo.Y || y > r.hi.Y {
		return false
	}
	return r.open[r.index(x, y)]
}

// Bounds returns the inclusive corners of the region.
func (r *Region) Bounds() (lo, hi Cell) { return r.lo, r.hi }
