package types

import "time"

// AgentType classifies what backs a pooled agent.
type AgentType string

const (
	// AgentLLM is backed by a language model through the model registry.
	AgentLLM AgentType = "llm"
	// AgentTool is backed by a deterministic tool invocation.
	AgentTool AgentType = "tool"
	// AgentHybrid combines model calls and tool calls.
	AgentHybrid AgentType = "hybrid"
	// AgentCustom is backed by a caller-supplied invoker.
	AgentCustom AgentType = "custom"
)

// AgentStatus is the pool-visible state of an agent instance.
type AgentStatus string

const (
	AgentAvailable AgentStatus = "available"
	AgentBusy      AgentStatus = "busy"
	AgentOffline   AgentStatus = "offline"
)

// AgentInstance is the pool's record of one worker. The pool owns it
// exclusively; callers only ever see leases and snapshots, never this struct.
type AgentInstance struct {
	ID             string      `json:"id"`
	Type           AgentType   `json:"type"`
	Status         AgentStatus `json:"status"`
	Model          string      `json:"model,omitempty"`
	ActiveRequests int         `json:"active_requests"`
	LastUsed       time.Time   `json:"last_used"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Snapshot returns a point-in-time copy safe to hand out of the pool.
func (a *AgentInstance) Snapshot() AgentSnapshot {
	return AgentSnapshot{
		ID:             a.ID,
		Type:           a.Type,
		Status:         a.Status,
		Model:          a.Model,
		ActiveRequests: a.ActiveRequests,
		LastUsed:       a.LastUsed,
	}
}

// AgentSnapshot is a read-only view of an agent instance.
type AgentSnapshot struct {
	ID             string      `json:"id"`
	Type           AgentType   `json:"type"`
	Status         AgentStatus `json:"status"`
	Model          string      `json:"model,omitempty"`
	ActiveRequests int         `json:"active_requests"`
	LastUsed       time.Time   `json:"last_used"`
}
