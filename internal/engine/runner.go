package engine

import (
	"sort"

	"github.com/joeycumines/taskgraph/internal/blackboard"
	"github.com/joeycumines/taskgraph/internal/graph"
	"github.com/joeycumines/taskgraph/internal/task"
)

// NoNode is the cursor value of an idle runner.
const NoNode = -1

// slot owns one Running task instance. Only the runner holds it, and a
// fresh instance is created per activation, so two runners never share a
// task.
type slot struct {
	task task.AtomicTask
	// timer is how long this leaf has been Running, in seconds.
	timer float64
}

// nodeState is runner-local state for a composite or decorator.
type nodeState struct {
	// cursor is the Running child of a Sequence/Selector.
	cursor int
	// iterations counts Repeater successes.
	iterations int
	// inProgress marks a Cooldown whose child is Running.
	inProgress bool
	// lastDone is the runner clock at the Cooldown child's last terminal
	// status; it survives halts.
	lastDone float64
	hasDone  bool
}

func (s *nodeState) halt() {
	s.cursor = 0
	s.iterations = 0
	s.inProgress = false
}

// Runner is the per-agent execution cursor over a template. It is owned by
// one agent and must only be ticked from one goroutine.
//
// A leaf that returns Running keeps its task instance in a slot keyed by
// node index; the next tick re-ticks that instance. Outside of Parallel
// nodes at most one slot is occupied, since Sequence and Selector stop at
// the first Running child.
type Runner struct {
	bb *blackboard.Blackboard

	// template is the bound template; node indices are only meaningful
	// against it, so any other value (even with the same id) rebinds.
	template   *graph.Template
	templateID string

	current    int
	stateTimer float64
	lastStatus task.Status
	clock      float64

	nodes  map[int]*nodeState
	active map[int]*slot

	owner       int64
	ownerWarned bool
}

// NewRunner creates an idle runner for an agent whose blackboard is bb. bb
// may be nil for trees that use no variables.
func NewRunner(bb *blackboard.Blackboard) *Runner {
	return &Runner{
		bb:      bb,
		current: NoNode,
		nodes:   make(map[int]*nodeState),
		active:  make(map[int]*slot),
	}
}

// Blackboard returns the agent's blackboard.
func (r *Runner) Blackboard() *blackboard.Blackboard { return r.bb }

// TemplateID returns the id of the bound template, empty before the first
// tick.
func (r *Runner) TemplateID() string { return r.templateID }

// Status returns the result of the last Tick, or Aborted after an Abort
// that interrupted running work.
func (r *Runner) Status() task.Status { return r.lastStatus }

// Current returns the index of the first Running leaf, or NoNode.
func (r *Runner) Current() int { return r.current }

// StateTimer returns how long the current leaf has been Running.
func (r *Runner) StateTimer() float64 { return r.stateTimer }

// Clock returns the total tick time this runner has seen.
func (r *Runner) Clock() float64 { return r.clock }

// ActiveTask returns the task instance owned for the current leaf, or nil.
func (r *Runner) ActiveTask() task.AtomicTask {
	if s, ok := r.active[r.current]; ok {
		return s.task
	}
	return nil
}

// ActiveNodes returns the indices of every leaf holding a Running task,
// sorted.
func (r *Runner) ActiveNodes() []int {
	out := make([]int, 0, len(r.active))
	for idx := range r.active {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// Idle reports whether no task is Running.
func (r *Runner) Idle() bool { return len(r.active) == 0 }

func (r *Runner) state(idx int) *nodeState {
	s, ok := r.nodes[idx]
	if !ok {
		s = &nodeState{}
		r.nodes[idx] = s
	}
	return s
}
