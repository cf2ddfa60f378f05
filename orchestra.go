// Package orchestra wires the full multi-agent workflow stack with minimal
// boilerplate.
//
// Usage:
//
//	import "github.com/orchestrahq/orchestra"
//
//	sys, err := orchestra.New(nil, orchestra.WithInvokerFactory(factory))
//	exec, err := sys.Execute(ctx, wf, nil)
//
// The zero-option form runs with a nop invoker and the defaults from
// [config.Default]; supply options to plug in real agents, a Redis-backed
// queue, Prometheus metrics, or a custom logger.
package orchestra

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/orchestrahq/orchestra/collab"
	"github.com/orchestrahq/orchestra/config"
	"github.com/orchestrahq/orchestra/event"
	"github.com/orchestrahq/orchestra/internal/metrics"
	"github.com/orchestrahq/orchestra/model"
	"github.com/orchestrahq/orchestra/monitor"
	"github.com/orchestrahq/orchestra/orchestrator"
	"github.com/orchestrahq/orchestra/pool"
	"github.com/orchestrahq/orchestra/queue"
	"github.com/orchestrahq/orchestra/types"
	"github.com/orchestrahq/orchestra/workflow"
)

// System bundles the engine, pool, orchestrator, monitor, collaboration
// manager, and model registry behind one lifecycle.
type System struct {
	Config       *config.Config
	Bus          event.Bus
	Engine       *workflow.Engine
	Pool         *pool.Pool
	Queue        queue.TaskQueue
	Monitor      *monitor.Monitor
	Collab       *collab.Manager
	Models       *model.Registry
	Orchestrator *orchestrator.Orchestrator

	logger *zap.Logger
}

type options struct {
	logger   *zap.Logger
	factory  pool.InvokerFactory
	checker  pool.HealthChecker
	registry prometheus.Registerer
	queue    queue.TaskQueue
	profiler monitor.Profiler
	bus      event.Bus
}

// Option configures the system created by [New].
type Option func(*options)

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option { return func(o *options) { o.logger = logger } }

// WithInvokerFactory sets the factory the pool uses to build agent
// invokers.
func WithInvokerFactory(f pool.InvokerFactory) Option { return func(o *options) { o.factory = f } }

// WithHealthChecker sets the agent health probe.
func WithHealthChecker(c pool.HealthChecker) Option { return func(o *options) { o.checker = c } }

// WithMetricsRegistry enables Prometheus metrics on the given registry.
func WithMetricsRegistry(reg prometheus.Registerer) Option {
	return func(o *options) { o.registry = reg }
}

// WithQueue overrides the durable task queue built from the configuration.
func WithQueue(q queue.TaskQueue) Option { return func(o *options) { o.queue = q } }

// WithProfiler sets the resource profiler consulted by the monitor.
func WithProfiler(p monitor.Profiler) Option { return func(o *options) { o.profiler = p } }

// WithBus overrides the default in-process event bus.
func WithBus(b event.Bus) Option { return func(o *options) { o.bus = b } }

// New assembles a System. A nil cfg uses [config.Default]; the configuration
// is validated before anything starts.
func New(cfg *config.Config, opts ...Option) (*System, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if o.factory == nil {
		o.factory = func(string) (pool.Invoker, types.AgentType, error) {
			return pool.InvokerFunc(func(context.Context, *types.AgentTask, map[string]any) (any, error) {
				return nil, types.NewError(types.ErrAgentFailure, "no invoker factory configured")
			}), types.AgentCustom, nil
		}
	}

	var collector *metrics.Collector
	if o.registry != nil {
		collector = metrics.NewCollector("orchestra", o.registry)
	}

	bus := o.bus
	if bus == nil {
		bus = event.NewBus(logger)
	}

	taskQueue := o.queue
	if taskQueue == nil {
		var err error
		taskQueue, err = queue.New(cfg.Queue, logger)
		if err != nil {
			return nil, err
		}
	}

	agentPool, err := pool.New(cfg.Pool, o.factory, o.checker, bus, collector, logger)
	if err != nil {
		taskQueue.Close()
		return nil, err
	}

	engine := workflow.NewEngine(cfg.Workflow, logger)
	mon := monitor.New(cfg.Monitor, bus, collector, o.profiler, logger)
	manager := collab.NewManager(cfg.Collab, bus, logger)
	registry := model.NewRegistry(logger)
	orch := orchestrator.New(*cfg, engine, agentPool, taskQueue, mon, bus, collector, logger)

	return &System{
		Config:       cfg,
		Bus:          bus,
		Engine:       engine,
		Pool:         agentPool,
		Queue:        taskQueue,
		Monitor:      mon,
		Collab:       manager,
		Models:       registry,
		Orchestrator: orch,
		logger:       logger,
	}, nil
}

// ModelInvokerFactory builds an invoker factory backed by the model
// registry: every invocation selects the best matching model for the given
// requirements and generates with the task's prompt input.
func ModelInvokerFactory(registry *model.Registry, req model.Requirements) pool.InvokerFactory {
	return func(agentID string) (pool.Invoker, types.AgentType, error) {
		return pool.InvokerFunc(func(ctx context.Context, task *types.AgentTask, input map[string]any) (any, error) {
			m, err := registry.Select(req)
			if err != nil {
				return nil, err
			}
			prompt, _ := input["prompt"].(string)
			return m.Generate(ctx, prompt, input)
		}), types.AgentLLM, nil
	}
}

// Execute runs a workflow through the orchestrator.
func (s *System) Execute(ctx context.Context, wf *types.AgentWorkflow, execCtx map[string]any) (*types.WorkflowExecution, error) {
	return s.Orchestrator.Execute(ctx, wf, execCtx)
}

// Shutdown stops all components: the orchestrator first so no new work
// reaches the pool or queue, then the collaboration manager, pool, queue,
// and bus.
func (s *System) Shutdown(ctx context.Context) error {
	s.Orchestrator.Shutdown()
	s.Collab.Shutdown()
	err := s.Pool.Shutdown(ctx)
	if qErr := s.Queue.Close(); err == nil {
		err = qErr
	}
	s.Bus.Stop()
	return err
}
