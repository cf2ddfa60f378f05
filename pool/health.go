package pool

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/orchestrahq/orchestra/event"
	"github.com/orchestrahq/orchestra/types"
)

// HealthChecker probes one agent instance. A non-nil error marks the agent
// offline; a later nil result restores it.
type HealthChecker interface {
	Check(ctx context.Context, agent types.AgentSnapshot) error
}

// HealthCheckerFunc adapts a function to the HealthChecker interface.
type HealthCheckerFunc func(ctx context.Context, agent types.AgentSnapshot) error

// Check implements HealthChecker.
func (f HealthCheckerFunc) Check(ctx context.Context, agent types.AgentSnapshot) error {
	return f(ctx, agent)
}

// NopChecker reports every agent healthy.
type NopChecker struct{}

// Check implements HealthChecker.
func (NopChecker) Check(context.Context, types.AgentSnapshot) error { return nil }

// healthLoop probes every instance on the configured interval.
func (p *Pool) healthLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.checkHealth()
		}
	}
}

func (p *Pool) checkHealth() {
	snapshots := p.Snapshot()

	for _, snap := range snapshots {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.HealthCheckInterval)
		err := p.checker.Check(ctx, snap)
		cancel()

		p.mu.Lock()
		a, ok := p.agents[snap.ID]
		if !ok {
			p.mu.Unlock()
			continue
		}
		wasHealthy := a.healthy
		a.healthy = err == nil
		var delivered []delivery
		switch {
		case wasHealthy && !a.healthy:
			if a.inst.ActiveRequests == 0 {
				a.inst.Status = types.AgentOffline
			}
		case !wasHealthy && a.healthy:
			if a.inst.ActiveRequests == 0 {
				a.inst.Status = types.AgentAvailable
			}
			delivered = p.drainLocked()
		}
		p.updateGaugesLocked()
		size := len(p.agents)
		agentType := a.inst.Type
		p.mu.Unlock()

		if wasHealthy && err != nil {
			p.logger.Warn("agent failed health check", zap.String("agent_id", snap.ID), zap.Error(err))
			p.publish(event.NewAgentEvent(event.AgentUnhealthy, snap.ID, agentType, size))
		} else if !wasHealthy && err == nil {
			p.logger.Info("agent recovered", zap.String("agent_id", snap.ID))
			p.publish(event.NewAgentEvent(event.AgentRecovered, snap.ID, agentType, size))
		}
		for _, d := range delivered {
			d.w.ch <- acquireResult{lease: d.lease}
			p.publish(event.NewAgentEvent(event.AgentAllocated, d.lease.AgentID, d.lease.agentType, size))
		}
	}
}

// scaleLoop compares busy/total utilization against the scale thresholds on
// a fixed interval, independent of execution traffic.
func (p *Pool) scaleLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.ScaleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.autoscale()
		}
	}
}

func (p *Pool) autoscale() {
	p.mu.Lock()
	s := p.statsLocked()
	if s.Total == 0 {
		p.mu.Unlock()
		return
	}
	utilization := float64(s.Busy) / float64(s.Total)

	switch {
	case utilization >= p.cfg.ScaleUpThreshold && s.Total < p.cfg.MaxAgents:
		a, err := p.spawnLocked("")
		if err != nil {
			p.mu.Unlock()
			p.logger.Error("scale-up failed", zap.Error(err))
			return
		}
		delivered := p.drainLocked()
		size := len(p.agents)
		p.mu.Unlock()
		p.logger.Info("pool scaled up",
			zap.Float64("utilization", utilization),
			zap.Int("total", size),
		)
		p.publish(event.NewAgentEvent(event.PoolScaledUp, a.inst.ID, a.inst.Type, size))
		for _, d := range delivered {
			d.w.ch <- acquireResult{lease: d.lease}
			p.publish(event.NewAgentEvent(event.AgentAllocated, d.lease.AgentID, d.lease.agentType, size))
		}

	case utilization <= p.cfg.ScaleDownThreshold && s.Total > p.cfg.MinAgents:
		// Only an idle available instance may be removed, LRU first.
		victim := p.lruAvailableLocked()
		if victim == nil {
			p.mu.Unlock()
			return
		}
		delete(p.agents, victim.inst.ID)
		p.updateGaugesLocked()
		size := len(p.agents)
		victimID := victim.inst.ID
		victimType := victim.inst.Type
		p.mu.Unlock()
		p.logger.Info("pool scaled down",
			zap.Float64("utilization", utilization),
			zap.String("agent_id", victimID),
			zap.Int("total", size),
		)
		p.publish(event.NewAgentEvent(event.PoolScaledDown, victimID, victimType, size))

	default:
		p.mu.Unlock()
	}
}
