package command

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/joeycumines/taskgraph/internal/blackboard"
	"github.com/joeycumines/taskgraph/internal/config"
	"github.com/joeycumines/taskgraph/internal/engine"
	"github.com/joeycumines/taskgraph/internal/graph"
	"github.com/joeycumines/taskgraph/internal/logging"
	"github.com/joeycumines/taskgraph/internal/sim"
	"github.com/joeycumines/taskgraph/internal/task"
	"github.com/joeycumines/taskgraph/internal/world"
)

// RunCommand simulates agents executing a graph.
type RunCommand struct {
	*BaseCommand
	config *config.Config

	agents      int
	ticks       int
	dt          float64
	realtime    bool
	interval    time.Duration
	trace       bool
	metricsAddr string
	logLevel    string
	logFile     string
	worldSize   string
	maxSpeed    float64

	// ready, when set, receives the metrics listener address once serving.
	ready func(addr string)
}

// NewRunCommand creates a new run command. Flag defaults come from cfg.
func NewRunCommand(cfg *config.Config) *RunCommand {
	return &RunCommand{
		BaseCommand: NewBaseCommand(
			"run",
			"Simulate agents executing a graph document",
			"run [options] <graph.yaml>",
		),
		config: cfg,
	}
}

// SetupFlags configures the flags for the run command.
func (c *RunCommand) SetupFlags(fs *flag.FlagSet) {
	schema := config.DefaultSchema()
	cfg := cfgOrEmpty(c.config)
	atoi := func(key string) int {
		n, _ := strconv.Atoi(schema.ResolveCommand(cfg, "run", key))
		return n
	}
	dt, _ := strconv.ParseFloat(schema.ResolveCommand(cfg, "run", config.KeyDT), 64)

	fs.IntVar(&c.agents, "agents", atoi(config.KeyAgents), "Number of agents (entities 1..N)")
	fs.IntVar(&c.ticks, "ticks", atoi(config.KeyTicks), "Frames to simulate; 0 runs until interrupted")
	fs.Float64Var(&c.dt, "dt", dt, "Simulated seconds per frame")
	fs.BoolVar(&c.realtime, "realtime", false, "Pace frames on wall-clock time instead of running flat out")
	fs.DurationVar(&c.interval, "interval", schema.ResolveDuration(cfg, config.KeyTickInterval), "Wall-clock time between realtime frames")
	fs.BoolVar(&c.trace, "trace", false, "Print every node evaluation and dump captured logs at exit")
	fs.StringVar(&c.metricsAddr, "metrics-addr", schema.Resolve(cfg, config.KeyMetricsAddr), "Serve Prometheus metrics on this address")
	fs.StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	fs.StringVar(&c.logFile, "log-file", "", "JSON log file path (overrides config)")
	fs.StringVar(&c.worldSize, "world", "", "Attach a WIDTHxHEIGHT grid world; empty runs headless")
	fs.Float64Var(&c.maxSpeed, "max-speed", 2, "Max speed of agents in the world")
}

// Execute loads the graph, spawns the agents and runs the simulation.
func (c *RunCommand) Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) != 1 {
		_, _ = fmt.Fprintf(stderr, "Usage: %s\n", c.Usage())
		return fmt.Errorf("expected exactly one graph file")
	}
	if c.agents < 1 {
		return fmt.Errorf("-agents must be at least 1")
	}
	if c.ticks < 0 {
		return fmt.Errorf("-ticks must not be negative")
	}
	if c.ticks == 0 && !c.realtime {
		return fmt.Errorf("-ticks 0 requires -realtime")
	}

	logs, err := logging.Open(c.config, logging.Options{Level: c.logLevel, File: c.logFile, Console: stderr})
	if err != nil {
		return err
	}
	defer logs.Close()
	logger := logs.Logger

	tpl, err := graph.LoadFile(args[0])
	if err != nil {
		return err
	}

	var engineOpts []engine.Option
	var w *world.Memory
	if c.worldSize != "" {
		width, height, err := parseSize(c.worldSize)
		if err != nil {
			return err
		}
		w = world.NewMemory(width, height)
		engineOpts = append(engineOpts, engine.WithWorld(w))
	}
	out := &lockedWriter{w: stdout}
	if c.trace {
		engineOpts = append(engineOpts, engine.WithObserver(engine.ObserverFunc(func(ev engine.NodeEvent) {
			_, _ = fmt.Fprintf(out, "trace entity=%d node=%s kind=%s status=%s\n",
				ev.Entity, ev.NodeID, ev.Kind, ev.Status)
		})))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st, err := newStack(ctx, c.config, logger, engineOpts...)
	if err != nil {
		return err
	}
	defer st.close()

	s := sim.New(st.engine, sim.WithLogger(logger), sim.WithMetrics(sim.MustNewMetrics(st.metrics)))
	for i := 1; i <= c.agents; i++ {
		id := blackboard.EntityID(i)
		if w != nil {
			w.Spawn(id, blackboard.Vector{X: 0, Y: float64(i - 1)}, c.maxSpeed)
		}
		if err := s.Spawn(id, tpl); err != nil {
			return err
		}
	}
	logger.Info("[Run] simulation ready", "sim", s.ID.String(), "template", tpl.ID(),
		"agents", c.agents, "ticks", c.ticks, "dt", c.dt, "realtime", c.realtime)

	g, gctx := errgroup.WithContext(ctx)
	if c.metricsAddr != "" {
		ln, err := net.Listen("tcp", c.metricsAddr)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(st.metrics, promhttp.HandlerOpts{}))
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		logger.Info("[Run] serving metrics", "addr", ln.Addr().String())
		if c.ready != nil {
			c.ready(ln.Addr().String())
		}
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	var finished bool
	g.Go(func() error {
		defer cancel()
		if c.realtime {
			return c.runRealtime(gctx, s)
		}
		finished = c.runFlat(gctx, s)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if finished {
		_, _ = fmt.Fprintln(out, "all agents finished")
	}
	c.summary(out, s)
	if c.trace {
		for _, e := range logs.Memory.Entries() {
			_, _ = fmt.Fprintf(out, "log %s %s %s%s\n", e.Time.Format(time.RFC3339Nano), e.Level, e.Message, formatAttrs(e.Attrs))
		}
	}
	return nil
}

// runFlat steps the simulation as fast as possible. It stops after the
// frame limit, on cancellation, or once every agent has finished in the
// same frame (reported as true). Agents still running afterwards are
// aborted.
func (c *RunCommand) runFlat(ctx context.Context, s *sim.Simulation) bool {
	defer s.Stop()
	for i := 0; i < c.ticks && ctx.Err() == nil; i++ {
		done := true
		for _, r := range s.Step(c.dt) {
			if r.Status == task.Running {
				done = false
			}
		}
		if done {
			return true
		}
	}
	return false
}

func (c *RunCommand) runRealtime(ctx context.Context, s *sim.Simulation) error {
	if err := s.Start(ctx, c.interval, c.dt, uint64(c.ticks)); err != nil {
		return err
	}
	select {
	case <-s.Done():
	case <-ctx.Done():
	}
	s.Stop()
	if err := s.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (c *RunCommand) summary(out io.Writer, s *sim.Simulation) {
	_, _ = fmt.Fprintf(out, "simulation %s: %d frames, %.3fs simulated\n", s.ID, s.Frames(), s.Clock())
	for _, id := range s.Entities() {
		a, ok := s.Agent(id)
		if !ok {
			continue
		}
		_, _ = fmt.Fprintf(out, "agent %d [%s]: %s\n", id, a.Template.ID(), a.Runner.Status())
		bb := a.Runner.Blackboard()
		for _, k := range bb.Keys() {
			_, _ = fmt.Fprintf(out, "  %s = %s\n", k, bb.Get(k))
		}
	}
}

func formatAttrs(attrs map[string]string) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(" " + k + "=" + attrs[k])
	}
	return b.String()
}

// parseSize parses WIDTHxHEIGHT.
func parseSize(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid world size %q (want WIDTHxHEIGHT)", s)
	}
	width, err1 := strconv.Atoi(ws)
	height, err2 := strconv.Atoi(hs)
	if err1 != nil || err2 != nil || width < 1 || height < 1 {
		return 0, 0, fmt.Errorf("invalid world size %q (want WIDTHxHEIGHT)", s)
	}
	return width, height, nil
}

// lockedWriter serialises writes from the tick goroutine and the caller.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
