// Package world is the narrow component facade that context-aware tasks
// use to read and write entity state. Storage mechanics live elsewhere; a
// nil Facade means the simulation is headless and tasks fall back to the
// blackboard.
package world

import (
	"fmt"
	"sort"
	"sync"

	"github.com/joeycumines/taskgraph/internal/blackboard"
)

// Position is an entity's location.
type Position struct {
	blackboard.Vector
}

// Movement carries an entity's velocity and speed limit.
type Movement struct {
	Velocity blackboard.Vector
	MaxSpeed float64
}

// Facade exposes typed component pointers. Pointers returned are owned by
// the facade and are only valid on the tick goroutine.
type Facade interface {
	Position(id blackboard.EntityID) (*Position, bool)
	Movement(id blackboard.EntityID) (*Movement, bool)
	// Walkable reports whether a grid cell can be traversed.
	Walkable(x, y int) bool
}

// Bounded is implemented by facades whose grid is finite. Pathfinding uses
// it to clip the region it copies off the world.
type Bounded interface {
	Bounds() (width, height int)
}

type cell struct{ x, y int }

// Memory is a map-backed Facade over a bounded grid. The zero value is not
// usable; create with NewMemory.
//
// Component access is tick-bound. The blocked set is guarded so obstacles
// may be edited from outside the tick goroutine.
type Memory struct {
	positions map[blackboard.EntityID]*Position
	movements map[blackboard.EntityID]*Movement

	mu      sync.RWMutex
	width   int
	height  int
	blocked map[cell]struct{}
}

var (
	_ Facade  = (*Memory)(nil)
	_ Bounded = (*Memory)(nil)
)

// NewMemory creates a world with a width x height grid. Non-positive
// dimensions produce an unbounded grid.
func NewMemory(width, height int) *Memory {
	return &Memory{
		positions: make(map[blackboard.EntityID]*Position),
		movements: make(map[blackboard.EntityID]*Movement),
		width:     width,
		height:    height,
		blocked:   make(map[cell]struct{}),
	}
}

// Spawn attaches a Position at p and a Movement with the given max speed.
// A maxSpeed of zero attaches no Movement component.
func (m *Memory) Spawn(id blackboard.EntityID, p blackboard.Vector, maxSpeed float64) {
	m.positions[id] = &Position{Vector: p}
	if maxSpeed > 0 {
		m.movements[id] = &Movement{MaxSpeed: maxSpeed}
	} else {
		delete(m.movements, id)
	}
}

// Despawn removes every component of id.
func (m *Memory) Despawn(id blackboard.EntityID) {
	delete(m.positions, id)
	delete(m.movements, id)
}

func (m *Memory) Position(id blackboard.EntityID) (*Position, bool) {
	p, ok := m.positions[id]
	return p, ok
}

func (m *Memory) Movement(id blackboard.EntityID) (*Movement, bool) {
	mv, ok := m.movements[id]
	return mv, ok
}

// Entities returns the ids with a Position, sorted.
func (m *Memory) Entities() []blackboard.EntityID {
	out := make([]blackboard.EntityID, 0, len(m.positions))
	for id := range m.positions {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Block marks cells as not walkable.
func (m *Memory) Block(cells ...[2]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cells {
		m.blocked[cell{c[0], c[1]}] = struct{}{}
	}
}

// Unblock clears blocked cells.
func (m *Memory) Unblock(cells ...[2]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cells {
		delete(m.blocked, cell{c[0], c[1]})
	}
}

func (m *Memory) Walkable(x, y int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.width > 0 && (x < 0 || x >= m.width) {
		return false
	}
	if m.height > 0 && (y < 0 || y >= m.height) {
		return false
	}
	_, blocked := m.blocked[cell{x, y}]
	return !blocked
}

// Bounds returns the grid dimensions.
func (m *Memory) Bounds() (width, height int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.width, m.height
}

func (m *Memory) String() string {
	w, h := m.Bounds()
	return fmt.Sprintf("world(%dx%d, %d entities)", w, h, len(m.positions))
}
