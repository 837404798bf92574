// Package sim hosts a population of agents, each a runner bound to a task
// graph template, and steps them frame by frame.
//
// All agent ticks happen on whichever goroutine calls Step (directly, or
// through the go-behaviortree ticker started by Start). Spawn, Despawn and
// HotSwap may be called from other goroutines; they serialise with Step.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	bt "github.com/joeycumines/go-behaviortree"

	"github.com/joeycumines/taskgraph/internal/blackboard"
	"github.com/joeycumines/taskgraph/internal/engine"
	"github.com/joeycumines/taskgraph/internal/graph"
	"github.com/joeycumines/taskgraph/internal/task"
)

var (
	ErrAgentExists  = errors.New("agent already spawned")
	ErrUnknownAgent = errors.New("unknown agent")
	ErrNilTemplate  = errors.New("nil template")
)

// Result is one agent's outcome for a frame.
type Result struct {
	Entity blackboard.EntityID
	Status task.Status
}

// Agent is a spawned entity with its runner and template.
type Agent struct {
	Entity   blackboard.EntityID
	Runner   *engine.Runner
	Template *graph.Template

	// node ticks Runner against Template; rebuilt whenever Runner changes.
	node bt.Node
}

// Simulation owns a set of agents driven by one Engine.
type Simulation struct {
	ID uuid.UUID

	eng     *engine.Engine
	logger  *slog.Logger
	metrics *Metrics
	manager bt.Manager

	mu     sync.Mutex
	agents map[blackboard.EntityID]*Agent
	frames uint64
	clock  float64
	dt     float64 // of the frame being stepped
}

// Option configures a Simulation.
type Option func(*Simulation)

// WithLogger sets the logger. The simulation id is attached to every record.
func WithLogger(l *slog.Logger) Option {
	return func(s *Simulation) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records frame and agent metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Simulation) { s.metrics = m }
}

// New creates an empty simulation driven by eng.
func New(eng *engine.Engine, opts ...Option) *Simulation {
	s := &Simulation{
		ID:      uuid.New(),
		eng:     eng,
		logger:  slog.Default(),
		manager: bt.NewManager(),
		agents:  make(map[blackboard.EntityID]*Agent),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("sim", s.ID.String())
	return s
}

// Engine returns the driving engine.
func (s *Simulation) Engine() *engine.Engine { return s.eng }

// check reports templates referencing unregistered tasks.
func (s *Simulation) check(tpl *graph.Template) error {
	if tpl == nil {
		return ErrNilTemplate
	}
	if missing := s.eng.Registry().Missing(tpl.TaskIDs()); len(missing) > 0 {
		return fmt.Errorf("template %q references unregistered tasks %v", tpl.ID(), missing)
	}
	return nil
}

// Spawn adds an agent for entity running tpl, with a fresh blackboard
// built from the template schema.
func (s *Simulation) Spawn(entity blackboard.EntityID, tpl *graph.Template) error {
	if err := s.check(tpl); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[entity]; ok {
		return fmt.Errorf("%w: %d", ErrAgentExists, entity)
	}
	a := &Agent{Entity: entity, Template: tpl}
	s.bindLocked(a, engine.NewRunner(blackboard.New(tpl.Schema(), s.logger)))
	s.agents[entity] = a
	s.metrics.setAgents(len(s.agents))
	s.logger.Debug("[Sim] agent spawned", "entity", uint64(entity), "template", tpl.ID())
	return nil
}

// Despawn aborts the agent's running task (if any) and removes it.
func (s *Simulation) Despawn(entity blackboard.EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[entity]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownAgent, entity)
	}
	s.eng.Abort(a.Runner)
	delete(s.agents, entity)
	s.metrics.setAgents(len(s.agents))
	s.logger.Debug("[Sim] agent despawned", "entity", uint64(entity))
	return nil
}

// HotSwap aborts the agent and rebinds it to tpl. Stored blackboard values
// whose name and type are declared by the new schema are carried over.
func (s *Simulation) HotSwap(entity blackboard.EntityID, tpl *graph.Template) error {
	if err := s.check(tpl); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[entity]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownAgent, entity)
	}
	s.eng.Abort(a.Runner)

	old := a.Runner.Blackboard()
	bb := blackboard.New(tpl.Schema(), s.logger)
	for _, def := range tpl.Schema().Vars() {
		if v, ok := old.Stored(def.Name); ok && v.Type() == def.Type {
			bb.Set(def.Name, v)
		}
	}
	s.logger.Info("[Sim] template hot-swapped",
		"entity", uint64(entity), "from", a.Template.ID(), "to", tpl.ID())
	a.Template = tpl
	s.bindLocked(a, engine.NewRunner(bb))
	return nil
}

// bindLocked attaches r to the agent along with the bt.Node that ticks it. The node
// reads the agent's template and the frame dt at tick time.
func (s *Simulation) bindLocked(a *Agent, r *engine.Runner) {
	a.Runner = r
	a.node = s.eng.AsNode(a.Entity, r,
		func() *graph.Template { return a.Template },
		func() float64 { return s.dt })
}

// Agent returns a copy of the agent record for entity.
func (s *Simulation) Agent(entity blackboard.EntityID) (Agent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[entity]
	if !ok {
		return Agent{}, false
	}
	return *a, true
}

// Entities returns the spawned entities in ascending order.
func (s *Simulation) Entities() []blackboard.EntityID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked()
}

func (s *Simulation) sortedLocked() []blackboard.EntityID {
	out := make([]blackboard.EntityID, 0, len(s.agents))
	for id := range s.agents {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Frames returns the number of frames stepped.
func (s *Simulation) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Clock returns the simulated seconds elapsed.
func (s *Simulation) Clock() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

// Step ticks every agent once, in ascending entity order, advancing dt
// simulated seconds.
func (s *Simulation) Step(dt float64) []Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	s.dt = dt
	ids := s.sortedLocked()
	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		a := s.agents[id]
		// AsNode never returns an error.
		st, _ := a.node.Tick()
		status := engine.FromBT(st)
		s.metrics.ticked(status)
		results = append(results, Result{Entity: id, Status: status})
	}
	s.frames++
	if dt > 0 {
		s.clock += dt
	}
	s.metrics.frame(time.Since(start).Seconds())
	return results
}

// Node returns a bt.Node that steps the simulation by dt each tick. It
// reports Running, and Failure once limit frames have been stepped (limit
// zero never stops).
func (s *Simulation) Node(dt float64, limit uint64) bt.Node {
	return bt.New(func([]bt.Node) (bt.Status, error) {
		s.Step(dt)
		if limit > 0 && s.Frames() >= limit {
			return bt.Failure, nil
		}
		return bt.Running, nil
	})
}

// Start steps the simulation every interval of wall time on a
// go-behaviortree ticker until ctx is done, Stop is called, or limit frames
// have run. Several tickers may be started; Done closes once all of them
// have finished.
func (s *Simulation) Start(ctx context.Context, interval time.Duration, dt float64, limit uint64) error {
	if interval <= 0 {
		return fmt.Errorf("sim: non-positive tick interval %v", interval)
	}
	ticker := bt.NewTickerStopOnFailure(ctx, interval, s.Node(dt, limit))
	if err := s.manager.Add(ticker); err != nil {
		ticker.Stop()
		return fmt.Errorf("sim: start ticker: %w", err)
	}
	s.logger.Info("[Sim] started", "interval", interval.String(), "dt", dt, "limit", limit)
	return nil
}

// Done closes when every started ticker has stopped.
func (s *Simulation) Done() <-chan struct{} { return s.manager.Done() }

// Err returns the first ticker error, if any.
func (s *Simulation) Err() error { return s.manager.Err() }

// Stop stops all tickers and aborts every agent.
func (s *Simulation) Stop() {
	s.manager.Stop()
	<-s.manager.Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.sortedLocked() {
		s.eng.Abort(s.agents[id].Runner)
	}
	s.logger.Info("[Sim] stopped", "frames", s.frames, "clock", s.clock)
}
