// Package pool implements the agent pool: a bounded, auto-scaling set of
// worker instances with FIFO allocation queueing and periodic health checks.
// Callers receive leases, never the instance records themselves, and must
// release every lease on every exit path.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orchestrahq/orchestra/config"
	"github.com/orchestrahq/orchestra/event"
	"github.com/orchestrahq/orchestra/internal/metrics"
	"github.com/orchestrahq/orchestra/types"
)

// Invoker executes one task on behalf of an agent instance.
type Invoker interface {
	Invoke(ctx context.Context, task *types.AgentTask, input map[string]any) (any, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, task *types.AgentTask, input map[string]any) (any, error)

// Invoke implements Invoker.
func (f InvokerFunc) Invoke(ctx context.Context, task *types.AgentTask, input map[string]any) (any, error) {
	return f(ctx, task, input)
}

// InvokerFactory builds the invoker backing a new agent instance. The pool
// calls it on every spawn; for LLM-backed workers this is where the model
// registry selects a concrete model.
type InvokerFactory func(agentID string) (Invoker, types.AgentType, error)

// agent couples an instance record with its invoker. Owned by the pool's
// mutex; never escapes the package.
type agent struct {
	inst    *types.AgentInstance
	invoker Invoker
	healthy bool
}

func (a *agent) available() bool {
	return a.healthy && a.inst.ActiveRequests == 0 && a.inst.Status == types.AgentAvailable
}

type acquireResult struct {
	lease *Lease
	err   error
}

// waiter is one queued acquisition request. agentID is empty for generic
// requests. The result channel is buffered so delivery never blocks.
type waiter struct {
	agentID string
	ch      chan acquireResult
}

// Stats is a point-in-time view of pool composition.
type Stats struct {
	Total     int
	Available int
	Busy      int
	Offline   int
	Queued    int
}

// Pool manages minAgents..maxAgents worker instances.
type Pool struct {
	cfg        config.PoolConfig
	invokerFor InvokerFactory
	checker    HealthChecker
	bus        event.Bus
	collector  *metrics.Collector
	logger     *zap.Logger

	mu      sync.Mutex
	agents  map[string]*agent
	waiters []*waiter
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a pool, pre-spawns MinAgents instances, and starts the health
// check and auto-scale loops. bus and collector may be nil.
func New(cfg config.PoolConfig, factory InvokerFactory, checker HealthChecker, bus event.Bus, collector *metrics.Collector, logger *zap.Logger) (*Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if checker == nil {
		checker = NopChecker{}
	}
	p := &Pool{
		cfg:        cfg,
		invokerFor: factory,
		checker:    checker,
		bus:        bus,
		collector:  collector,
		logger:     logger.With(zap.String("component", "agent_pool")),
		agents:     make(map[string]*agent),
		done:       make(chan struct{}),
	}

	p.mu.Lock()
	for i := 0; i < cfg.MinAgents; i++ {
		if _, err := p.spawnLocked(""); err != nil {
			p.mu.Unlock()
			return nil, err
		}
	}
	p.mu.Unlock()

	p.wg.Add(2)
	go p.healthLoop()
	go p.scaleLoop()
	return p, nil
}

// Acquire returns a lease on an agent. With a specific agentID, a busy
// instance queues the caller FIFO until release; an unknown ID is spawned
// on demand while the pool is below MaxAgents. With no ID, the
// least-recently-used available agent is preferred, then scale-up, then
// FIFO queueing.
func (p *Pool) Acquire(ctx context.Context, agentID string) (*Lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, types.NewError(types.ErrPoolShutdown, "agent pool is shut down")
	}

	if agentID != "" {
		if a, ok := p.agents[agentID]; ok {
			if a.available() {
				lease := p.allocateLocked(a)
				p.mu.Unlock()
				p.publish(event.NewAgentEvent(event.AgentAllocated, lease.AgentID, lease.agentType, p.size()))
				return lease, nil
			}
			return p.waitLocked(ctx, agentID)
		}
		if len(p.agents) < p.cfg.MaxAgents {
			a, err := p.spawnLocked(agentID)
			if err != nil {
				p.mu.Unlock()
				return nil, err
			}
			lease := p.allocateLocked(a)
			p.mu.Unlock()
			p.publish(event.NewAgentEvent(event.AgentAllocated, lease.AgentID, lease.agentType, p.size()))
			return lease, nil
		}
		p.mu.Unlock()
		return nil, types.NewErrorf(types.ErrAgentNotFound,
			"agent %q not in pool and pool is at capacity %d", agentID, p.cfg.MaxAgents)
	}

	if a := p.lruAvailableLocked(); a != nil {
		lease := p.allocateLocked(a)
		p.mu.Unlock()
		p.publish(event.NewAgentEvent(event.AgentAllocated, lease.AgentID, lease.agentType, p.size()))
		return lease, nil
	}
	if len(p.agents) < p.cfg.MaxAgents {
		a, err := p.spawnLocked("")
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
		lease := p.allocateLocked(a)
		p.mu.Unlock()
		p.publish(event.NewAgentEvent(event.AgentAllocated, lease.AgentID, lease.agentType, p.size()))
		return lease, nil
	}
	return p.waitLocked(ctx, "")
}

// waitLocked enqueues a waiter and blocks until delivery, context
// cancellation, or shutdown. Called with the mutex held; releases it.
func (p *Pool) waitLocked(ctx context.Context, agentID string) (*Lease, error) {
	w := &waiter{agentID: agentID, ch: make(chan acquireResult, 1)}
	p.waiters = append(p.waiters, w)
	p.updateGaugesLocked()
	p.mu.Unlock()

	select {
	case res := <-w.ch:
		return res.lease, res.err
	case <-ctx.Done():
		p.mu.Lock()
		p.removeWaiterLocked(w)
		p.mu.Unlock()
		// The lease may have been delivered concurrently; hand it back.
		select {
		case res := <-w.ch:
			if res.lease != nil {
				res.lease.Release()
			}
		default:
		}
		return nil, types.NewError(types.ErrPoolExhausted, "agent wait aborted").WithCause(ctx.Err())
	}
}

func (p *Pool) removeWaiterLocked(target *waiter) {
	for i, w := range p.waiters {
		if w == target {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

// spawnLocked adds a new instance. Empty id means generate one.
func (p *Pool) spawnLocked(id string) (*agent, error) {
	if id == "" {
		id = uuid.New().String()
	}
	invoker, agentType, err := p.invokerFor(id)
	if err != nil {
		return nil, types.NewErrorf(types.ErrAgentFailure, "spawn agent %q", id).WithCause(err)
	}
	now := time.Now()
	a := &agent{
		inst: &types.AgentInstance{
			ID:        id,
			Type:      agentType,
			Status:    types.AgentAvailable,
			CreatedAt: now,
			LastUsed:  now,
		},
		invoker: invoker,
		healthy: true,
	}
	p.agents[id] = a
	p.updateGaugesLocked()
	p.logger.Info("agent spawned", zap.String("agent_id", id), zap.String("type", string(agentType)))
	p.publish(event.NewAgentEvent(event.AgentCreated, id, agentType, len(p.agents)))
	return a, nil
}

// lruAvailableLocked returns the available agent with the oldest LastUsed.
func (p *Pool) lruAvailableLocked() *agent {
	var lru *agent
	for _, a := range p.agents {
		if !a.available() {
			continue
		}
		if lru == nil || a.inst.LastUsed.Before(lru.inst.LastUsed) {
			lru = a
		}
	}
	return lru
}

func (p *Pool) allocateLocked(a *agent) *Lease {
	a.inst.ActiveRequests++
	a.inst.Status = types.AgentBusy
	a.inst.LastUsed = time.Now()
	p.updateGaugesLocked()
	return &Lease{pool: p, AgentID: a.inst.ID, agentType: a.inst.Type, invoker: a.invoker}
}

// release returns an allocation. At zero active requests the instance goes
// back into rotation and the wait queue drains in FIFO order.
func (p *Pool) release(agentID string) {
	p.mu.Lock()
	a, ok := p.agents[agentID]
	if !ok {
		p.mu.Unlock()
		return
	}
	a.inst.ActiveRequests--
	if a.inst.ActiveRequests <= 0 {
		a.inst.ActiveRequests = 0
		if a.healthy {
			a.inst.Status = types.AgentAvailable
		} else {
			a.inst.Status = types.AgentOffline
		}
	}
	delivered := p.drainLocked()
	p.updateGaugesLocked()
	agentType := a.inst.Type
	size := len(p.agents)
	p.mu.Unlock()

	p.publish(event.NewAgentEvent(event.AgentReleased, agentID, agentType, size))
	for _, d := range delivered {
		d.w.ch <- acquireResult{lease: d.lease}
		p.publish(event.NewAgentEvent(event.AgentAllocated, d.lease.AgentID, d.lease.agentType, size))
	}
}

type delivery struct {
	w     *waiter
	lease *Lease
}

// drainLocked hands available agents to queued waiters, scanning from the
// front so earlier requests win regardless of kind.
func (p *Pool) drainLocked() []delivery {
	var out []delivery
	for {
		matched := false
		for i, w := range p.waiters {
			var a *agent
			if w.agentID != "" {
				if cand, ok := p.agents[w.agentID]; ok && cand.available() {
					a = cand
				}
			} else {
				a = p.lruAvailableLocked()
			}
			if a == nil {
				continue
			}
			lease := p.allocateLocked(a)
			out = append(out, delivery{w: w, lease: lease})
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			matched = true
			break
		}
		if !matched {
			return out
		}
	}
}

// Stats returns the current pool composition. The invariant
// Available+Busy+Offline == Total holds at all times.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

func (p *Pool) statsLocked() Stats {
	s := Stats{Total: len(p.agents), Queued: len(p.waiters)}
	for _, a := range p.agents {
		switch a.inst.Status {
		case types.AgentAvailable:
			s.Available++
		case types.AgentBusy:
			s.Busy++
		case types.AgentOffline:
			s.Offline++
		}
	}
	return s
}

// Snapshot returns read-only copies of every instance record.
func (p *Pool) Snapshot() []types.AgentSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.AgentSnapshot, 0, len(p.agents))
	for _, a := range p.agents {
		out = append(out, a.inst.Snapshot())
	}
	return out
}

func (p *Pool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.agents)
}

func (p *Pool) updateGaugesLocked() {
	if p.collector == nil {
		return
	}
	s := p.statsLocked()
	p.collector.SetPoolGauges(s.Total, s.Busy, s.Offline, s.Queued)
}

func (p *Pool) publish(ev event.Event) {
	if p.bus != nil {
		p.bus.Publish(ev)
	}
}

// Shutdown stops the background loops, rejects all queued waiters with a
// pool-shutdown error, and releases all instances. No timer fires after it
// returns.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	close(p.done)
	p.wg.Wait()

	err := types.NewError(types.ErrPoolShutdown, "agent pool is shut down")
	for _, w := range waiters {
		w.ch <- acquireResult{err: err}
	}

	p.mu.Lock()
	p.agents = make(map[string]*agent)
	p.updateGaugesLocked()
	p.mu.Unlock()

	p.logger.Info("agent pool shut down", zap.Int("rejected_waiters", len(waiters)))
	return nil
}
