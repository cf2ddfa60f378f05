package pool

import (
	"context"
	"sync/atomic"

	"github.com/orchestrahq/orchestra/types"
)

// Lease is a caller's handle on an allocated agent. Release is idempotent
// and must be called on every exit path, typically via defer.
type Lease struct {
	pool      *Pool
	invoker   Invoker
	agentType types.AgentType
	released  atomic.Bool

	// AgentID identifies the leased instance.
	AgentID string
}

// Invoke executes a task on the leased agent.
func (l *Lease) Invoke(ctx context.Context, task *types.AgentTask, input map[string]any) (any, error) {
	if l.released.Load() {
		return nil, types.NewErrorf(types.ErrAgentFailure, "lease on agent %q already released", l.AgentID)
	}
	return l.invoker.Invoke(ctx, task, input)
}

// Release returns the agent to the pool. Safe to call more than once.
func (l *Lease) Release() {
	if l.released.Swap(true) {
		return
	}
	l.pool.release(l.AgentID)
}
