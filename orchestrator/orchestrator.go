// Package orchestrator is the composition root: it admits workflow
// submissions through a bounded execution queue, turns definitions into
// staged plans, drives task execution against the agent pool, and feeds
// completed executions to the monitor.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/orchestrahq/orchestra/config"
	"github.com/orchestrahq/orchestra/event"
	"github.com/orchestrahq/orchestra/internal/metrics"
	"github.com/orchestrahq/orchestra/monitor"
	"github.com/orchestrahq/orchestra/pool"
	"github.com/orchestrahq/orchestra/queue"
	"github.com/orchestrahq/orchestra/types"
	"github.com/orchestrahq/orchestra/workflow"
)

// execution is the registry entry for one running workflow. The done map
// carries a broadcast channel per task, closed when that task settles, so
// dependents wake without polling.
type execution struct {
	record *types.WorkflowExecution
	wf     *types.AgentWorkflow
	cancel context.CancelFunc
	ctx    context.Context
	done   map[string]chan struct{}
}

// Orchestrator executes workflows. All mutation of execution records goes
// through its methods; callers receive snapshots.
type Orchestrator struct {
	cfg       config.Config
	engine    *workflow.Engine
	pool      *pool.Pool
	queue     queue.TaskQueue
	monitor   *monitor.Monitor
	bus       event.Bus
	collector *metrics.Collector
	logger    *zap.Logger

	limiter *rate.Limiter
	sem     chan struct{}

	mu     sync.Mutex
	active map[string]*execution
	closed bool

	workerCtx    context.Context
	workerCancel context.CancelFunc
	wg           sync.WaitGroup
}

// New creates an orchestrator and starts the retry worker. The queue and
// monitor may be nil; retry re-delivery and post-run analysis are then
// skipped.
func New(cfg config.Config, engine *workflow.Engine, agentPool *pool.Pool, taskQueue queue.TaskQueue,
	mon *monitor.Monitor, bus event.Bus, collector *metrics.Collector, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}

	maxConcurrent := cfg.Execution.MaxConcurrentWorkflows
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}

	limit := rate.Inf
	burst := maxConcurrent
	if cfg.Execution.RateLimitCap > 0 && cfg.Execution.RateLimitWindow > 0 {
		limit = rate.Every(cfg.Execution.RateLimitWindow / time.Duration(cfg.Execution.RateLimitCap))
		// The burst is the per-window cap itself, so a window's worth of
		// submissions may arrive at once but never more.
		burst = cfg.Execution.RateLimitCap
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:          cfg,
		engine:       engine,
		pool:         agentPool,
		queue:        taskQueue,
		monitor:      mon,
		bus:          bus,
		collector:    collector,
		logger:       logger.With(zap.String("component", "orchestrator")),
		limiter:      rate.NewLimiter(limit, burst),
		sem:          make(chan struct{}, maxConcurrent),
		active:       make(map[string]*execution),
		workerCtx:    workerCtx,
		workerCancel: workerCancel,
	}
	if o.queue != nil {
		o.wg.Add(1)
		go o.retryWorker()
	}
	return o
}

// Execute runs a workflow to completion and returns its execution record.
// Admission blocks on the rate limiter and the concurrent-workflow cap.
// A stage failure does not fail the workflow; only cancellation or an
// escaping system error yields a non-completed status.
func (o *Orchestrator) Execute(ctx context.Context, wf *types.AgentWorkflow, execCtx map[string]any) (*types.WorkflowExecution, error) {
	if err := o.admit(ctx); err != nil {
		return nil, err
	}
	defer func() { <-o.sem }()

	parsed, err := o.engine.Parse(wf)
	if err != nil {
		return nil, err
	}
	plan, err := o.engine.BuildPlan(parsed)
	if err != nil {
		return nil, err
	}

	exec, err := o.register(ctx, wf, execCtx)
	if err != nil {
		return nil, err
	}
	defer o.unregister(exec.record.ID)
	defer exec.cancel()

	o.logger.Info("execution started",
		zap.String("execution_id", exec.record.ID),
		zap.String("workflow_id", wf.ID),
		zap.Int("tasks", len(wf.Tasks)),
		zap.Int("stages", len(plan.Stages)),
	)
	o.publish(event.NewWorkflowEvent(event.WorkflowStarted, exec.record.ID, wf.ID, types.ExecutionRunning, ""))

	runErr := o.runStages(exec, plan)
	o.finalize(exec, runErr)
	return o.snapshot(exec.record), runErr
}

// admit applies the submission rate limit and the global concurrency cap.
func (o *Orchestrator) admit(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return types.NewError(types.ErrExecutionCancelled, "orchestrator is shut down")
	}
	o.mu.Unlock()

	if err := o.limiter.Wait(ctx); err != nil {
		return types.NewError(types.ErrRateLimited, "submission rate limit wait aborted").WithCause(err)
	}
	select {
	case o.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) register(ctx context.Context, wf *types.AgentWorkflow, execCtx map[string]any) (*execution, error) {
	record := &types.WorkflowExecution{
		ID:         uuid.New().String(),
		WorkflowID: wf.ID,
		Status:     types.ExecutionRunning,
		StartTime:  time.Now(),
		Results:    make(map[string]*types.TaskResult, len(wf.Tasks)),
		Metrics:    &types.ExecutionMetrics{TotalTasks: len(wf.Tasks)},
		Context:    execCtx,
	}
	done := make(map[string]chan struct{}, len(wf.Tasks))
	for i := range wf.Tasks {
		t := &wf.Tasks[i]
		record.Tasks = append(record.Tasks, &types.TaskExecution{
			TaskID:  t.ID,
			AgentID: t.AgentID,
			Status:  types.TaskPending,
		})
		done[t.ID] = make(chan struct{})
	}

	execCtxInner, cancel := context.WithCancel(ctx)
	exec := &execution{
		record: record,
		wf:     wf,
		cancel: cancel,
		ctx:    execCtxInner,
		done:   done,
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		cancel()
		return nil, types.NewError(types.ErrExecutionCancelled, "orchestrator is shut down")
	}
	o.active[record.ID] = exec
	o.mu.Unlock()
	return exec, nil
}

func (o *Orchestrator) unregister(execID string) {
	o.mu.Lock()
	delete(o.active, execID)
	o.mu.Unlock()
}

// finalize stamps the terminal status and emits the closing events. Failed
// tasks alone leave the workflow completed.
func (o *Orchestrator) finalize(exec *execution, runErr error) {
	o.mu.Lock()
	record := exec.record
	record.EndTime = time.Now()
	record.Metrics.TotalDuration = record.EndTime.Sub(record.StartTime)

	var evType event.Type
	switch {
	case runErr != nil && types.GetErrorCode(runErr) == types.ErrExecutionCancelled:
		record.Status = types.ExecutionCancelled
		evType = event.WorkflowCancelled
	case runErr != nil:
		record.Status = types.ExecutionFailed
		evType = event.WorkflowFailed
	default:
		record.Status = types.ExecutionCompleted
		evType = event.WorkflowCompleted
	}
	for _, t := range record.Tasks {
		if !t.Status.Terminal() {
			t.Status = types.TaskCancelled
			record.Metrics.CancelledTasks++
		}
	}
	status := record.Status
	duration := record.Metrics.TotalDuration
	o.mu.Unlock()

	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	o.publish(event.NewWorkflowEvent(evType, record.ID, record.WorkflowID, status, errMsg))
	if o.collector != nil {
		o.collector.RecordExecution(record.WorkflowID, string(status), duration)
	}
	o.logger.Info("execution finished",
		zap.String("execution_id", record.ID),
		zap.String("status", string(status)),
		zap.Duration("duration", duration),
	)
	if o.monitor != nil {
		o.monitor.Analyze(record)
	}
}

// Cancel marks an active execution and its non-terminal tasks cancelled and
// removes it from the active set. In-flight agent calls are not
// interrupted; their surrounding bookkeeping settles as cancelled.
func (o *Orchestrator) Cancel(execID string) error {
	o.mu.Lock()
	exec, ok := o.active[execID]
	if !ok {
		o.mu.Unlock()
		return types.NewErrorf(types.ErrValidationFailed, "execution %q not active", execID)
	}
	delete(o.active, execID)
	o.mu.Unlock()

	exec.cancel()
	o.logger.Info("execution cancelled", zap.String("execution_id", execID))
	return nil
}

// Execution returns a snapshot of an active execution record.
func (o *Orchestrator) Execution(execID string) (*types.WorkflowExecution, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	exec, ok := o.active[execID]
	if !ok {
		return nil, false
	}
	return o.snapshot(exec.record), true
}

// snapshot deep-copies an execution record. Callers still running the
// execution must hold the orchestrator mutex.
func (o *Orchestrator) snapshot(record *types.WorkflowExecution) *types.WorkflowExecution {
	m := *record.Metrics
	out := &types.WorkflowExecution{
		ID:         record.ID,
		WorkflowID: record.WorkflowID,
		Status:     record.Status,
		StartTime:  record.StartTime,
		EndTime:    record.EndTime,
		Results:    make(map[string]*types.TaskResult, len(record.Results)),
		Metrics:    &m,
		Context:    record.Context,
	}
	for _, t := range record.Tasks {
		task := *t
		out.Tasks = append(out.Tasks, &task)
	}
	for id, r := range record.Results {
		result := *r
		out.Results[id] = &result
	}
	return out
}

// ActiveCount reports the number of executions in the active set.
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// Shutdown cancels all active executions, rejects further submissions, and
// stops the retry worker.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	execs := make([]*execution, 0, len(o.active))
	for _, e := range o.active {
		execs = append(execs, e)
	}
	o.mu.Unlock()

	for _, e := range execs {
		e.cancel()
	}
	o.workerCancel()
	o.wg.Wait()
}

func (o *Orchestrator) publish(ev event.Event) {
	if o.bus != nil {
		o.bus.Publish(ev)
	}
}
