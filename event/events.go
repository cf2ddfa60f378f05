package event

import (
	"time"

	"github.com/orchestrahq/orchestra/types"
)

// base carries the fields shared by all concrete events.
type base struct {
	T  Type
	At time.Time
}

func (b base) Type() Type           { return b.T }
func (b base) Timestamp() time.Time { return b.At }

func now(t Type) base { return base{T: t, At: time.Now()} }

// WorkflowEvent reports a workflow execution lifecycle transition.
type WorkflowEvent struct {
	base
	ExecutionID string
	WorkflowID  string
	Status      types.ExecutionStatus
	Error       string
}

// NewWorkflowEvent builds a workflow lifecycle event.
func NewWorkflowEvent(t Type, executionID, workflowID string, status types.ExecutionStatus, errMsg string) *WorkflowEvent {
	return &WorkflowEvent{base: now(t), ExecutionID: executionID, WorkflowID: workflowID, Status: status, Error: errMsg}
}

// TaskEvent reports a task lifecycle transition within an execution.
type TaskEvent struct {
	base
	ExecutionID string
	TaskID      string
	AgentID     string
	Status      types.TaskStatus
	Duration    time.Duration
	Error       string
}

// NewTaskEvent builds a task lifecycle event.
func NewTaskEvent(t Type, executionID, taskID, agentID string, status types.TaskStatus, d time.Duration, errMsg string) *TaskEvent {
	return &TaskEvent{base: now(t), ExecutionID: executionID, TaskID: taskID, AgentID: agentID, Status: status, Duration: d, Error: errMsg}
}

// AgentEvent reports an agent pool membership or allocation change.
type AgentEvent struct {
	base
	AgentID   string
	AgentType types.AgentType
	PoolSize  int
}

// NewAgentEvent builds an agent pool event.
func NewAgentEvent(t Type, agentID string, agentType types.AgentType, poolSize int) *AgentEvent {
	return &AgentEvent{base: now(t), AgentID: agentID, AgentType: agentType, PoolSize: poolSize}
}

// AlertEvent carries a monitoring alert.
type AlertEvent struct {
	base
	Alert types.Alert
}

// NewAlertEvent builds an alert event.
func NewAlertEvent(alert types.Alert) *AlertEvent {
	return &AlertEvent{base: now(AlertRaised), Alert: alert}
}

// MonitoringEvent carries a periodic monitoring snapshot.
type MonitoringEvent struct {
	base
	ExecutionID string
	Insights    []types.Insight
	Metrics     *types.ExecutionMetrics
}

// NewMonitoringEvent builds a monitoring update event.
func NewMonitoringEvent(executionID string, insights []types.Insight, metrics *types.ExecutionMetrics) *MonitoringEvent {
	return &MonitoringEvent{base: now(MonitoringUpdate), ExecutionID: executionID, Insights: insights, Metrics: metrics}
}

// SessionEvent reports a collaboration session lifecycle change.
type SessionEvent struct {
	base
	SessionID  string
	WorkflowID string
	Status     types.SessionStatus
}

// NewSessionEvent builds a session lifecycle event.
func NewSessionEvent(t Type, sessionID, workflowID string, status types.SessionStatus) *SessionEvent {
	return &SessionEvent{base: now(t), SessionID: sessionID, WorkflowID: workflowID, Status: status}
}

// ParticipantEvent reports a participant joining or leaving a session.
type ParticipantEvent struct {
	base
	SessionID     string
	ParticipantID string
	Role          types.ParticipantRole
}

// NewParticipantEvent builds a participant event.
func NewParticipantEvent(t Type, sessionID, participantID string, role types.ParticipantRole) *ParticipantEvent {
	return &ParticipantEvent{base: now(t), SessionID: sessionID, ParticipantID: participantID, Role: role}
}

// LockEvent reports an advisory lock acquisition or release.
type LockEvent struct {
	base
	SessionID string
	Resource  string
	HolderID  string
	LockType  types.LockType
}

// NewLockEvent builds a lock event.
func NewLockEvent(t Type, sessionID, resource, holderID string, lockType types.LockType) *LockEvent {
	return &LockEvent{base: now(t), SessionID: sessionID, Resource: resource, HolderID: holderID, LockType: lockType}
}

// BroadcastEvent carries a conflict-resolved batch of edits applied to a
// session's shared context.
type BroadcastEvent struct {
	base
	SessionID string
	Version   int64
	Edits     []types.Edit
}

// NewBroadcastEvent builds an updates broadcast event.
func NewBroadcastEvent(sessionID string, version int64, edits []types.Edit) *BroadcastEvent {
	return &BroadcastEvent{base: now(UpdatesBroadcast), SessionID: sessionID, Version: version, Edits: edits}
}
