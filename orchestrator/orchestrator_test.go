package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestrahq/orchestra/config"
	"github.com/orchestrahq/orchestra/pool"
	"github.com/orchestrahq/orchestra/queue"
	"github.com/orchestrahq/orchestra/types"
	"github.com/orchestrahq/orchestra/workflow"
)

// recordingInvoker captures invocation order and delegates to a per-task
// handler.
type recordingInvoker struct {
	mu       sync.Mutex
	order    []string
	handlers map[string]func(ctx context.Context, task *types.AgentTask, input map[string]any) (any, error)
}

func newRecordingInvoker() *recordingInvoker {
	return &recordingInvoker{handlers: make(map[string]func(context.Context, *types.AgentTask, map[string]any) (any, error))}
}

func (r *recordingInvoker) handle(taskID string, fn func(context.Context, *types.AgentTask, map[string]any) (any, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskID] = fn
}

func (r *recordingInvoker) Invoke(ctx context.Context, task *types.AgentTask, input map[string]any) (any, error) {
	r.mu.Lock()
	r.order = append(r.order, task.ID)
	fn := r.handlers[task.ID]
	r.mu.Unlock()
	if fn != nil {
		return fn(ctx, task, input)
	}
	return "ok:" + task.ID, nil
}

func (r *recordingInvoker) invocations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.order...)
}

type testHarness struct {
	orch    *Orchestrator
	invoker *recordingInvoker
	queue   *queue.MemoryQueue
}

func newHarness(t *testing.T, mutate func(*config.Config)) *testHarness {
	t.Helper()
	cfg := config.Default()
	cfg.Pool.MinAgents = 1
	cfg.Pool.MaxAgents = 8
	cfg.Pool.HealthCheckInterval = time.Hour
	cfg.Pool.ScaleInterval = time.Hour
	cfg.Queue.Backoff = time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	invoker := newRecordingInvoker()
	factory := func(agentID string) (pool.Invoker, types.AgentType, error) {
		return invoker, types.AgentHybrid, nil
	}
	p, err := pool.New(cfg.Pool, factory, nil, nil, nil, nil)
	require.NoError(t, err)

	q := queue.NewMemoryQueue(cfg.Queue, nil)
	engine := workflow.NewEngine(cfg.Workflow, nil)
	orch := New(*cfg, engine, p, q, nil, nil, nil, nil)

	t.Cleanup(func() {
		orch.Shutdown()
		q.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return &testHarness{orch: orch, invoker: invoker, queue: q}
}

func sequentialWorkflow() *types.AgentWorkflow {
	return &types.AgentWorkflow{
		ID:   "wf-seq",
		Name: "sequential",
		Tasks: []types.AgentTask{
			{ID: "t1", AgentID: "a1", Timeout: time.Second},
			{ID: "t2", AgentID: "a1", Dependencies: []string{"t1"}, Timeout: time.Second},
		},
	}
}

func TestSequentialScenario(t *testing.T) {
	h := newHarness(t, nil)

	var t1Recorded atomic.Bool
	var t2SawT1 atomic.Bool
	h.invoker.handle("t1", func(context.Context, *types.AgentTask, map[string]any) (any, error) {
		t1Recorded.Store(true)
		return "one", nil
	})
	h.invoker.handle("t2", func(_ context.Context, _ *types.AgentTask, input map[string]any) (any, error) {
		if deps, ok := input["dependencies"].(map[string]any); ok {
			t2SawT1.Store(deps["t1"] == "one")
		}
		return "two", nil
	})

	exec, err := h.orch.Execute(context.Background(), sequentialWorkflow(), nil)
	require.NoError(t, err)

	assert.Equal(t, types.ExecutionCompleted, exec.Status)
	require.Contains(t, exec.Results, "t1")
	require.Contains(t, exec.Results, "t2")
	assert.Equal(t, "one", exec.Results["t1"].Output)
	assert.Equal(t, "two", exec.Results["t2"].Output)
	assert.True(t, t2SawT1.Load(), "t2 must see t1's recorded result")
	assert.Equal(t, []string{"t1", "t2"}, h.invoker.invocations())
}

func TestStageIsolation(t *testing.T) {
	h := newHarness(t, nil)

	h.invoker.handle("b", func(context.Context, *types.AgentTask, map[string]any) (any, error) {
		return nil, types.NewError(types.ErrAgentFailure, "b exploded")
	})

	wf := &types.AgentWorkflow{
		ID:   "wf-iso",
		Name: "isolation",
		Tasks: []types.AgentTask{
			{ID: "a", AgentID: "a1", Timeout: time.Second},
			{ID: "b", AgentID: "a2", Dependencies: []string{"a"}, Timeout: time.Second},
			{ID: "c", AgentID: "a3", Dependencies: []string{"a"}, Timeout: time.Second},
		},
	}

	exec, err := h.orch.Execute(context.Background(), wf, nil)
	require.NoError(t, err)

	// A failing sibling never skips the other; the workflow still
	// completes.
	assert.Equal(t, types.ExecutionCompleted, exec.Status)
	require.Contains(t, exec.Results, "b")
	require.Contains(t, exec.Results, "c")
	assert.False(t, exec.Results["b"].Succeeded())
	assert.True(t, exec.Results["c"].Succeeded())
	assert.Equal(t, 1, exec.Metrics.FailedTasks)
	assert.Equal(t, 2, exec.Metrics.CompletedTasks)
}

func TestDiamondStageOrdering(t *testing.T) {
	h := newHarness(t, nil)

	wf := &types.AgentWorkflow{
		ID:   "wf-diamond",
		Name: "diamond",
		Tasks: []types.AgentTask{
			{ID: "a", AgentID: "g1", Timeout: time.Second},
			{ID: "b", AgentID: "g2", Dependencies: []string{"a"}, Timeout: time.Second},
			{ID: "c", AgentID: "g3", Dependencies: []string{"a"}, Timeout: time.Second},
			{ID: "d", AgentID: "g4", Dependencies: []string{"b", "c"}, Timeout: time.Second},
		},
	}

	exec, err := h.orch.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	require.Equal(t, types.ExecutionCompleted, exec.Status)

	order := h.invoker.invocations()
	require.Len(t, order, 4)
	assert.Equal(t, "a", order[0])
	assert.Equal(t, "d", order[3])
}

func TestRetrySucceedsWithinBudget(t *testing.T) {
	h := newHarness(t, nil)

	var calls atomic.Int32
	h.invoker.handle("flaky", func(context.Context, *types.AgentTask, map[string]any) (any, error) {
		if calls.Add(1) < 3 {
			return nil, types.NewError(types.ErrAgentFailure, "transient")
		}
		return "recovered", nil
	})

	wf := &types.AgentWorkflow{
		ID:   "wf-retry",
		Name: "retry",
		Tasks: []types.AgentTask{
			{ID: "flaky", AgentID: "a1", Timeout: time.Second, RetryPolicy: types.DefaultRetryPolicy()},
		},
	}

	exec, err := h.orch.Execute(context.Background(), wf, nil)
	require.NoError(t, err)

	assert.Equal(t, types.ExecutionCompleted, exec.Status)
	require.Contains(t, exec.Results, "flaky")
	assert.Equal(t, "recovered", exec.Results["flaky"].Output)
	assert.Equal(t, 3, exec.Results["flaky"].Attempts)
	assert.EqualValues(t, 3, calls.Load())
}

func TestRetryBudgetExhausted(t *testing.T) {
	h := newHarness(t, nil)

	var calls atomic.Int32
	h.invoker.handle("doomed", func(context.Context, *types.AgentTask, map[string]any) (any, error) {
		calls.Add(1)
		return nil, types.NewError(types.ErrAgentFailure, "permanent")
	})

	wf := &types.AgentWorkflow{
		ID:   "wf-retry-fail",
		Name: "retry-fail",
		Tasks: []types.AgentTask{
			{ID: "doomed", AgentID: "a1", Timeout: time.Second, RetryPolicy: types.DefaultRetryPolicy()},
		},
	}

	exec, err := h.orch.Execute(context.Background(), wf, nil)
	require.NoError(t, err)

	assert.Equal(t, types.ExecutionCompleted, exec.Status)
	require.Contains(t, exec.Results, "doomed")
	assert.False(t, exec.Results["doomed"].Succeeded())
	assert.EqualValues(t, 3, calls.Load(), "inline attempt plus two retries")
}

func TestCancelCooperative(t *testing.T) {
	h := newHarness(t, nil)

	started := make(chan string, 1)
	h.invoker.handle("slow", func(ctx context.Context, _ *types.AgentTask, _ map[string]any) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return "too late", nil
		}
	})

	wf := &types.AgentWorkflow{
		ID:   "wf-cancel",
		Name: "cancel",
		Tasks: []types.AgentTask{
			{ID: "slow", AgentID: "a1", Timeout: time.Minute},
		},
	}

	done := make(chan *types.WorkflowExecution, 1)
	go func() {
		exec, _ := h.orch.Execute(context.Background(), wf, nil)
		done <- exec
	}()

	require.Eventually(t, func() bool {
		if h.orch.ActiveCount() != 1 {
			return false
		}
		h.orch.mu.Lock()
		defer h.orch.mu.Unlock()
		for id := range h.orch.active {
			started <- id
			return true
		}
		return false
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.orch.Cancel(<-started))

	select {
	case exec := <-done:
		assert.Equal(t, types.ExecutionCancelled, exec.Status)
		te, ok := exec.TaskExecution("slow")
		require.True(t, ok)
		assert.True(t, te.Status.Terminal())
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled execution never finished")
	}
	assert.Equal(t, 0, h.orch.ActiveCount())
}

func TestTaskTimeout(t *testing.T) {
	h := newHarness(t, nil)

	h.invoker.handle("slow", func(ctx context.Context, _ *types.AgentTask, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	wf := &types.AgentWorkflow{
		ID:   "wf-timeout",
		Name: "timeout",
		Tasks: []types.AgentTask{
			{ID: "slow", AgentID: "a1", Timeout: 20 * time.Millisecond},
		},
	}

	exec, err := h.orch.Execute(context.Background(), wf, nil)
	require.NoError(t, err)

	assert.Equal(t, types.ExecutionCompleted, exec.Status)
	result := exec.Results["slow"]
	require.NotNil(t, result)
	assert.False(t, result.Succeeded())
	assert.Contains(t, result.Error, "timeout")
}

func TestInvalidWorkflowRejected(t *testing.T) {
	h := newHarness(t, nil)

	wf := &types.AgentWorkflow{
		ID:   "wf-cycle",
		Name: "cycle",
		Tasks: []types.AgentTask{
			{ID: "a", AgentID: "a1", Dependencies: []string{"b"}, Timeout: time.Second},
			{ID: "b", AgentID: "a1", Dependencies: []string{"a"}, Timeout: time.Second},
		},
	}

	_, err := h.orch.Execute(context.Background(), wf, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrCycleDetected, types.GetErrorCode(err))
}

func TestShutdownRejectsSubmissions(t *testing.T) {
	h := newHarness(t, nil)
	h.orch.Shutdown()

	_, err := h.orch.Execute(context.Background(), sequentialWorkflow(), nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrExecutionCancelled, types.GetErrorCode(err))
}

func TestSubmissionRateLimit(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Execution.RateLimitWindow = time.Hour
		cfg.Execution.RateLimitCap = 2
	})

	wf := func(id string) *types.AgentWorkflow {
		return &types.AgentWorkflow{
			ID:    id,
			Name:  id,
			Tasks: []types.AgentTask{{ID: "t1", AgentID: "a1", Timeout: time.Second}},
		}
	}

	// A burst of RateLimitCap submissions is admitted at once.
	for i := 0; i < 2; i++ {
		exec, err := h.orch.Execute(context.Background(), wf(fmt.Sprintf("wf-rl-%d", i)), nil)
		require.NoError(t, err)
		assert.Equal(t, types.ExecutionCompleted, exec.Status)
	}

	// The next submission must wait out the window; a short deadline
	// surfaces the rate limit instead.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := h.orch.Execute(ctx, wf("wf-rl-over"), nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrRateLimited, types.GetErrorCode(err))
}

func TestConcurrencyCap(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Execution.MaxConcurrentWorkflows = 1
		cfg.Pool.MaxAgents = 8
	})

	release := make(chan struct{})
	var running atomic.Int32
	var peak atomic.Int32
	h.invoker.handle("hold", func(ctx context.Context, _ *types.AgentTask, _ map[string]any) (any, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		defer running.Add(-1)
		select {
		case <-release:
			return "done", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	wf := func(id string) *types.AgentWorkflow {
		return &types.AgentWorkflow{
			ID:    id,
			Name:  id,
			Tasks: []types.AgentTask{{ID: "hold", AgentID: "", Timeout: time.Minute}},
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.orch.Execute(context.Background(), wf("wf-cap"), nil)
		}()
	}

	require.Eventually(t, func() bool { return running.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, peak.Load(), "only one workflow may run at a time")
}
