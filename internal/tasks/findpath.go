package tasks

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/joeycumines/taskgraph/internal/asyncreq"
	"github.com/joeycumines/taskgraph/internal/blackboard"
	"github.com/joeycumines/taskgraph/internal/pathfind"
	"github.com/joeycumines/taskgraph/internal/task"
	"github.com/joeycumines/taskgraph/internal/world"
)

// DefaultSearchMargin is how far beyond the start/target box a world
// search may detour.
const DefaultSearchMargin = 16

// FindPath plans a grid path to `target` on a background worker. The first
// tick submits the search and returns Running; later ticks poll until the
// result arrives, then write the next waypoint and the path length to the
// blackboard (`waypoint`, `path_length`).
//
// With a world attached, the walkable cells around start and target (grown
// by `margin`, default DefaultSearchMargin) are copied on the tick
// goroutine and only that copy reaches the worker. Headless, the grid is
// open and unbounded. The start is the entity Position, or the blackboard
// `position`.
type FindPath struct {
	delay time.Duration

	hasRequest bool
	id         asyncreq.ID
	async      asyncreq.Requester
}

func (f *FindPath) Execute(task.Params) task.Status { return task.Failure }

func (f *FindPath) ExecuteWithContext(ctx *task.Context, params task.Params) task.Status {
	if ctx == nil || ctx.Async == nil {
		return task.Failure
	}
	if !f.hasRequest {
		return f.submit(ctx, params)
	}
	if !ctx.Async.IsComplete(f.id) {
		return task.Running
	}

	res, _ := ctx.Async.GetResult(f.id)
	ctx.Async.Cancel(f.id)
	f.reset()

	if res.Err != nil {
		loggerOf(ctx, nil).Debug("[Task] find_path failed", "entity", uint64(ctx.Entity), "error", res.Err)
		return task.Failure
	}
	path, ok := res.Value.([]pathfind.Cell)
	if !ok || len(path) == 0 {
		return task.Failure
	}
	next := path[0]
	if len(path) > 1 {
		next = path[1]
	}
	if ctx.Blackboard != nil {
		ctx.Blackboard.Set(KeyWaypoint, blackboard.VectorValue(blackboard.Vector{X: float64(next.X), Y: float64(next.Y)}))
		ctx.Blackboard.Set(KeyPathLength, blackboard.IntValue(int64(len(path)-1)))
	}
	return task.Success
}

func (f *FindPath) submit(ctx *task.Context, params task.Params) task.Status {
	target, ok := params.Vector("target")
	if !ok {
		return task.Failure
	}
	from, ok := startPosition(ctx)
	if !ok {
		return task.Failure
	}
	start, goal := cellOf(from), cellOf(target)
	var grid pathfind.Grid = openGrid{}
	if !ctx.Headless() {
		var width, height int
		if b, ok := ctx.World.(world.Bounded); ok {
			width, height = b.Bounds()
		}
		margin := int(params.Int("margin", DefaultSearchMargin))
		region, err := pathfind.Around(ctx.World, start, goal, margin, width, height)
		if err != nil {
			loggerOf(ctx, nil).Debug("[Task] find_path not submitted", "entity", uint64(ctx.Entity), "error", err)
			return task.Failure
		}
		grid = region
	}
	delay := params.Seconds("delay", f.delay)

	f.async = ctx.Async
	f.id = ctx.Async.Request(func(jctx context.Context) (any, error) {
		path, err := pathfind.Find(jctx, grid, start, goal)
		if err != nil {
			return nil, fmt.Errorf("path %v -> %v: %w", start, goal, err)
		}
		return path, nil
	}, delay)
	f.hasRequest = true
	return task.Running
}

// Abort cancels the outstanding request, if any.
func (f *FindPath) Abort() {
	if f.hasRequest && f.async != nil {
		f.async.Cancel(f.id)
	}
	f.reset()
}

func (f *FindPath) reset() {
	f.hasRequest = false
	f.id = 0
	f.async = nil
}

func startPosition(ctx *task.Context) (blackboard.Vector, bool) {
	if !ctx.Headless() {
		p, ok := ctx.World.Position(ctx.Entity)
		if !ok {
			return blackboard.Vector{}, false
		}
		return p.Vector, true
	}
	if ctx.Blackboard == nil {
		return blackboard.Vector{}, false
	}
	return ctx.Blackboard.Get(KeyPosition).AsVector()
}

func cellOf(v blackboard.Vector) pathfind.Cell {
	return pathfind.Cell{X: int(math.Round(v.X)), Y: int(math.Round(v.Y))}
}

type openGrid struct{}

func (openGrid) Walkable(int, int) bool { return true }
