package types

import "time"

// AlertSeverity orders alerts by urgency.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// AlertKind names the condition that produced an alert.
type AlertKind string

const (
	AlertFailureRate AlertKind = "failure_rate"
	AlertDuration    AlertKind = "duration"
	AlertMemory      AlertKind = "memory"
	AlertCPU         AlertKind = "cpu"
	AlertAnomaly     AlertKind = "anomaly"
)

// Alert is an immutable analysis record attached to one execution.
type Alert struct {
	ID          string        `json:"id"`
	ExecutionID string        `json:"execution_id"`
	WorkflowID  string        `json:"workflow_id"`
	Kind        AlertKind     `json:"kind"`
	Severity    AlertSeverity `json:"severity"`
	Message     string        `json:"message"`
	Value       float64       `json:"value"`
	Threshold   float64       `json:"threshold"`
	CreatedAt   time.Time     `json:"created_at"`
}

// InsightKind names the optimization opportunity an insight describes.
type InsightKind string

const (
	InsightBottleneck      InsightKind = "bottleneck"
	InsightParallelization InsightKind = "parallelization"
	InsightBatching        InsightKind = "batching"
)

// Insight is an immutable optimization finding for one execution.
type Insight struct {
	ID          string      `json:"id"`
	ExecutionID string      `json:"execution_id"`
	Kind        InsightKind `json:"kind"`
	TaskIDs     []string    `json:"task_ids"`
	Message     string      `json:"message"`
	CreatedAt   time.Time   `json:"created_at"`
}
