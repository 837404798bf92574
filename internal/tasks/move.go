package tasks

import (
	"github.com/joeycumines/taskgraph/internal/blackboard"
	"github.com/joeycumines/taskgraph/internal/task"
	"github.com/joeycumines/taskgraph/internal/world"
)

const (
	defaultSpeed     = 1.0
	defaultTolerance = 0.1
)

// MoveTo steps the entity towards `target` at `speed` units per second
// until within `tolerance`. With a world attached it moves the Position
// component and drives Movement.Velocity; a missing component fails the
// task. Headless, it moves the blackboard `position` vector instead.
type MoveTo struct {
	// movement is held while Running so Abort can stop the entity.
	movement *world.Movement
}

func (m *MoveTo) Execute(task.Params) task.Status { return task.Failure }

func (m *MoveTo) ExecuteWithContext(ctx *task.Context, params task.Params) task.Status {
	if ctx == nil {
		return task.Failure
	}
	target, ok := params.Vector("target")
	if !ok {
		return task.Failure
	}
	tolerance := params.Float("tolerance", defaultTolerance)

	if ctx.Headless() {
		if ctx.Blackboard == nil {
			return task.Failure
		}
		pos, ok := ctx.Blackboard.Get(KeyPosition).AsVector()
		if !ok {
			return task.Failure
		}
		next, arrived := step(pos, target, params.Float("speed", defaultSpeed)*ctx.DeltaTime, tolerance)
		if !ctx.Blackboard.Set(KeyPosition, blackboard.VectorValue(next)) {
			return task.Failure
		}
		if arrived {
			return task.Success
		}
		return task.Running
	}

	pos, ok := ctx.World.Position(ctx.Entity)
	if !ok {
		m.movement = nil
		return task.Failure
	}
	mv, ok := ctx.World.Movement(ctx.Entity)
	if !ok {
		m.movement = nil
		return task.Failure
	}
	speed := params.Float("speed", mv.MaxSpeed)
	if mv.MaxSpeed > 0 && speed > mv.MaxSpeed {
		speed = mv.MaxSpeed
	}
	next, arrived := step(pos.Vector, target, speed*ctx.DeltaTime, tolerance)
	if arrived {
		pos.Vector = next
		mv.Velocity = blackboard.Vector{}
		m.movement = nil
		return task.Success
	}
	if ctx.DeltaTime > 0 {
		mv.Velocity = next.Sub(pos.Vector).Scale(1 / ctx.DeltaTime)
	}
	pos.Vector = next
	m.movement = mv
	return task.Running
}

// Abort stops the entity if a move was in progress.
func (m *MoveTo) Abort() {
	if m.movement != nil {
		m.movement.Velocity = blackboard.Vector{}
		m.movement = nil
	}
}

// step advances pos towards target by at most dist, snapping to target
// when it is reached.
func step(pos, target blackboard.Vector, dist, tolerance float64) (blackboard.Vector, bool) {
	remaining := pos.Dist(target)
	if remaining <= tolerance {
		return pos, true
	}
	if dist >= remaining {
		return target, true
	}
	if dist <= 0 {
		return pos, false
	}
	return pos.Add(target.Sub(pos).Scale(dist / remaining)), false
}
