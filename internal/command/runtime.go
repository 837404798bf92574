package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joeycumines/taskgraph/internal/asyncreq"
	"github.com/joeycumines/taskgraph/internal/config"
	"github.com/joeycumines/taskgraph/internal/engine"
	"github.com/joeycumines/taskgraph/internal/registry"
	"github.com/joeycumines/taskgraph/internal/tasks"
)

// newTaskRegistry returns a registry holding the built-in tasks, sized from
// cfg.
func newTaskRegistry(cfg *config.Config, logger *slog.Logger) (*registry.Registry, error) {
	schema := config.DefaultSchema()
	reg := registry.New()
	err := tasks.RegisterBuiltins(reg, tasks.Options{
		Logger:          logger,
		ExprCacheSize:   schema.ResolveInt(cfg, config.KeyExprCacheSize),
		ScriptCacheSize: schema.ResolveInt(cfg, config.KeyScriptCacheSize),
		ScriptBudget:    schema.ResolveDuration(cfg, config.KeyScriptBudget),
	})
	if err != nil {
		return nil, fmt.Errorf("register built-in tasks: %w", err)
	}
	return reg, nil
}

// stack is the engine and its collaborators for one run.
type stack struct {
	registry *registry.Registry
	async    *asyncreq.Manager
	metrics  *prometheus.Registry
	engine   *engine.Engine
}

// newStack wires registry, async manager and engine from cfg. Metrics are
// registered on a private registry. The caller must call close.
func newStack(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...engine.Option) (*stack, error) {
	schema := config.DefaultSchema()

	policy, err := engine.ParseParallelPolicy(schema.Resolve(cfgOrEmpty(cfg), config.KeyParallelPolicy))
	if err != nil {
		return nil, err
	}
	reg, err := newTaskRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}

	metrics := prometheus.NewRegistry()
	async := asyncreq.NewManager(ctx,
		asyncreq.WithWorkers(schema.ResolveInt(cfg, config.KeyAsyncWorkers)),
		asyncreq.WithLogger(logger),
		asyncreq.WithMetrics(asyncreq.MustNewMetrics(metrics)),
	)

	base := []engine.Option{
		engine.WithLogger(logger),
		engine.WithAsync(async),
		engine.WithParallelPolicy(policy),
	}
	return &stack{
		registry: reg,
		async:    async,
		metrics:  metrics,
		engine:   engine.New(reg, append(base, opts...)...),
	}, nil
}

func (s *stack) close() {
	s.async.Close()
}

func cfgOrEmpty(cfg *config.Config) *config.Config {
	if cfg == nil {
		return config.NewConfig()
	}
	return cfg
}
