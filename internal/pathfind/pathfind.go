// Package pathfind implements grid A* search. It is meant to run inside an
// async job, never on the tick goroutine, so it honours ctx cancellation.
package pathfind

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
)

// DefaultMaxExpansions bounds a search over an unbounded grid.
const DefaultMaxExpansions = 1 << 16

var (
	// ErrNoPath is returned when the goal is unreachable.
	ErrNoPath = errors.New("pathfind: no path")
	// ErrBlockedEndpoint is returned when from or to is not walkable.
	ErrBlockedEndpoint = errors.New("pathfind: endpoint not walkable")
)

// Grid reports walkability. world.Facade satisfies it.
type Grid interface {
	Walkable(x, y int) bool
}

// Cell is a grid coordinate.
type Cell struct {
	X, Y int
}

func (c Cell) String() string { return fmt.Sprintf("(%d,%d)", c.X, c.Y) }

func manhattan(a, b Cell) int {
	return abs(a.X-b.X) + abs(a.Y-b.Y)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// 4-connected, in a fixed order so equal-cost paths are deterministic.
var neighbours = [...]Cell{{1, 0}, {0, 1}, {-1, 0}, {0, -1}}

type item struct {
	cell  Cell
	g, f  int
	seq   int
	index int
}

type openSet []*item

func (o openSet) Len() int { return len(o) }
func (o openSet) Less(i, j int) bool {
	if o[i].f != o[j].f {
		return o[i].f < o[j].f
	}
	if o[i].g != o[j].g {
		return o[i].g > o[j].g
	}
	return o[i].seq < o[j].seq
}
func (o openSet) Swap(i, j int) {
	o[i], o[j] = o[j], o[i]
	o[i].index = i
	o[j].index = j
}
func (o *openSet) Push(x any) {
	it := x.(*item)
	it.index = len(*o)
	*o = append(*o, it)
}
func (o *openSet) Pop() any {
	old := *o
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*o = old[:n-1]
	return it
}

// Options tunes a search.
type Options struct {
	// MaxExpansions caps the closed set; 0 uses DefaultMaxExpansions.
	MaxExpansions int
}

// Find returns the path from `from` to `to`, both inclusive. The path for
// from == to is that single cell.
func Find(ctx context.Context, grid Grid, from, to Cell) ([]Cell, error) {
	return FindWithOptions(ctx, grid, from, to, Options{})
}

// FindWithOptions is Find with explicit limits.
func FindWithOptions(ctx context.Context, grid Grid, from, to Cell, opts Options) ([]Cell, error) {
	if grid == nil {
		return nil, errors.New("pathfind: nil grid")
	}
	if !grid.Walkable(from.X, from.Y) || !grid.Walkable(to.X, to.Y) {
		return nil, ErrBlockedEndpoint
	}
	if from == to {
		return []Cell{from}, nil
	}
	limit := opts.MaxExpansions
	if limit <= 0 {
		limit = DefaultMaxExpansions
	}

	var (
		open   openSet
		seq    int
		items  = map[Cell]*item{}
		parent = map[Cell]Cell{}
		closed = map[Cell]bool{}
	)
	start := &item{cell: from, f: manhattan(from, to)}
	items[from] = start
	heap.Push(&open, start)

	for open.Len() > 0 {
		if len(closed)&255 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		cur := heap.Pop(&open).(*item)
		if cur.cell == to {
			return reconstruct(parent, from, to), nil
		}
		closed[cur.cell] = true
		if len(closed) > limit {
			return nil, fmt.Errorf("%w: search exceeded %d expansions", ErrNoPath, limit)
		}
		for _, d := range neighbours {
			next := Cell{cur.cell.X + d.X, cur.cell.Y + d.Y}
			if closed[next] || !grid.Walkable(next.X, next.Y) {
				continue
			}
			g := cur.g + 1
			if it, ok := items[next]; ok {
				if g >= it.g {
					continue
				}
				it.g = g
				it.f = g + manhattan(next, to)
				parent[next] = cur.cell
				heap.Fix(&open, it.index)
				continue
			}
			seq++
			it := &item{cell: next, g: g, f: g + manhattan(next, to), seq: seq}
			items[next] = it
			parent[next] = cur.cell
			heap.Push(&open, it)
		}
	}
	return nil, ErrNoPath
}

func reconstruct(parent map[Cell]Cell, from, to Cell) []Cell {
	path := []Cell{to}
	for c := to; c != from; {
		c = parent[c]
		path = append(path, c)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
