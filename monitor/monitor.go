// Package monitor implements the execution monitor: configured threshold
// checks, statistical anomaly detection against historical runs, and
// bottleneck/optimization insights for finished workflow executions.
package monitor

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orchestrahq/orchestra/config"
	"github.com/orchestrahq/orchestra/event"
	"github.com/orchestrahq/orchestra/internal/metrics"
	"github.com/orchestrahq/orchestra/types"
)

// bottleneckShare is the fraction of total execution time above which a task
// counts as a bottleneck.
const bottleneckShare = 0.20

// anomalySigma is the outlier cutoff in standard deviations.
const anomalySigma = 2.0

// Profiler samples per-task resource usage. The default profiler measures
// wall time only; callers may plug a sampler that reads real memory and CPU
// figures.
type Profiler interface {
	Profile(exec *types.WorkflowExecution) (memoryBytes int64, cpuPercent float64)
}

type nopProfiler struct{}

func (nopProfiler) Profile(*types.WorkflowExecution) (int64, float64) { return 0, 0 }

// historyEntry is one retained execution observation.
type historyEntry struct {
	executionID string
	duration    time.Duration
	failed      bool
}

// Monitor analyzes workflow executions. History is kept per workflow, capped
// at the configured limit with oldest entries evicted first.
type Monitor struct {
	cfg       config.MonitorConfig
	bus       event.Bus
	collector *metrics.Collector
	profiler  Profiler
	logger    *zap.Logger

	mu      sync.Mutex
	history map[string][]historyEntry
}

// New creates a monitor. bus, collector, and profiler may be nil.
func New(cfg config.MonitorConfig, bus event.Bus, collector *metrics.Collector, profiler Profiler, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if profiler == nil {
		profiler = nopProfiler{}
	}
	return &Monitor{
		cfg:       cfg,
		bus:       bus,
		collector: collector,
		profiler:  profiler,
		logger:    logger.With(zap.String("component", "execution_monitor")),
		history:   make(map[string][]historyEntry),
	}
}

// Watch emits an in-progress monitoring snapshot for a running execution.
// Terminal executions fall through to Analyze.
func (m *Monitor) Watch(exec *types.WorkflowExecution) {
	if exec.Status.Terminal() {
		m.Analyze(exec)
		return
	}
	if m.bus != nil {
		m.bus.Publish(event.NewMonitoringEvent(exec.ID, nil, exec.Metrics))
	}
}

// Analyze runs all checks against a finished execution, records it into the
// workflow's history, and emits alert and monitoring events. Alerts and
// insights are immutable once returned.
func (m *Monitor) Analyze(exec *types.WorkflowExecution) ([]types.Alert, []types.Insight) {
	duration := exec.EndTime.Sub(exec.StartTime)
	memBytes, cpuPct := m.profiler.Profile(exec)
	if exec.Metrics != nil {
		if memBytes > exec.Metrics.PeakMemoryBytes {
			exec.Metrics.PeakMemoryBytes = memBytes
		}
		if cpuPct > 0 {
			exec.Metrics.AvgCPUPercent = cpuPct
		}
	}

	alerts := m.checkThresholds(exec, duration)
	if a := m.checkAnomaly(exec, duration); a != nil {
		alerts = append(alerts, *a)
	}
	insights := m.deriveInsights(exec, duration)

	m.recordHistory(exec, duration)

	for _, alert := range alerts {
		m.logger.Warn("alert raised",
			zap.String("execution_id", alert.ExecutionID),
			zap.String("kind", string(alert.Kind)),
			zap.String("severity", string(alert.Severity)),
			zap.String("message", alert.Message),
		)
		if m.collector != nil {
			m.collector.RecordAlert(string(alert.Kind), string(alert.Severity))
		}
		if m.bus != nil {
			m.bus.Publish(event.NewAlertEvent(alert))
		}
	}
	if m.bus != nil {
		m.bus.Publish(event.NewMonitoringEvent(exec.ID, insights, exec.Metrics))
	}
	return alerts, insights
}

// HistoryLen returns the number of retained runs for a workflow.
func (m *Monitor) HistoryLen(workflowID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history[workflowID])
}

func (m *Monitor) recordHistory(exec *types.WorkflowExecution, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := append(m.history[exec.WorkflowID], historyEntry{
		executionID: exec.ID,
		duration:    duration,
		failed:      exec.Status == types.ExecutionFailed,
	})
	if len(entries) > m.cfg.HistoryLimit {
		entries = entries[len(entries)-m.cfg.HistoryLimit:]
	}
	m.history[exec.WorkflowID] = entries
}

// checkThresholds compares the execution against every configured limit.
// Crossing a threshold raises medium/high; crossing 1.5x raises critical.
func (m *Monitor) checkThresholds(exec *types.WorkflowExecution, duration time.Duration) []types.Alert {
	var alerts []types.Alert

	add := func(kind types.AlertKind, value, threshold float64, msg string) {
		if threshold <= 0 || value < threshold {
			return
		}
		alerts = append(alerts, types.Alert{
			ID:          uuid.New().String(),
			ExecutionID: exec.ID,
			WorkflowID:  exec.WorkflowID,
			Kind:        kind,
			Severity:    severityFor(value, threshold),
			Message:     msg,
			Value:       value,
			Threshold:   threshold,
			CreatedAt:   time.Now(),
		})
	}

	if exec.Metrics != nil {
		failurePct := exec.Metrics.FailureRate() * 100
		add(types.AlertFailureRate, failurePct, m.cfg.FailureRatePercent,
			fmt.Sprintf("task failure rate %.1f%% exceeds %.1f%%", failurePct, m.cfg.FailureRatePercent))
		add(types.AlertMemory, float64(exec.Metrics.PeakMemoryBytes), float64(m.cfg.MaxMemoryBytes),
			fmt.Sprintf("peak memory %d bytes exceeds %d", exec.Metrics.PeakMemoryBytes, m.cfg.MaxMemoryBytes))
		add(types.AlertCPU, exec.Metrics.AvgCPUPercent, m.cfg.MaxCPUPercent,
			fmt.Sprintf("cpu usage %.1f%% exceeds %.1f%%", exec.Metrics.AvgCPUPercent, m.cfg.MaxCPUPercent))
	}
	add(types.AlertDuration, duration.Seconds(), m.cfg.MaxDuration.Seconds(),
		fmt.Sprintf("execution took %s, limit %s", duration, m.cfg.MaxDuration))

	return alerts
}

// severityFor bands the overshoot ratio: <1.25x medium, <1.5x high,
// otherwise critical.
func severityFor(value, threshold float64) types.AlertSeverity {
	ratio := value / threshold
	switch {
	case ratio >= 1.5:
		return types.SeverityCritical
	case ratio >= 1.25:
		return types.SeverityHigh
	default:
		return types.SeverityMedium
	}
}

// checkAnomaly flags the execution when its duration lies more than two
// standard deviations from the workflow's historical mean. Fewer than the
// configured minimum of prior runs suppresses detection entirely.
func (m *Monitor) checkAnomaly(exec *types.WorkflowExecution, duration time.Duration) *types.Alert {
	m.mu.Lock()
	entries := m.history[exec.WorkflowID]
	m.mu.Unlock()

	if len(entries) < m.cfg.MinHistoryForAnomaly {
		return nil
	}

	var sum float64
	for _, e := range entries {
		sum += e.duration.Seconds()
	}
	mean := sum / float64(len(entries))

	var variance float64
	for _, e := range entries {
		d := e.duration.Seconds() - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(len(entries)))
	if stddev == 0 {
		return nil
	}

	deviation := math.Abs(duration.Seconds() - mean)
	if deviation <= anomalySigma*stddev {
		return nil
	}

	return &types.Alert{
		ID:          uuid.New().String(),
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		Kind:        types.AlertAnomaly,
		Severity:    types.SeverityHigh,
		Message: fmt.Sprintf("duration %.2fs deviates %.1f standard deviations from mean %.2fs over %d runs",
			duration.Seconds(), deviation/stddev, mean, len(entries)),
		Value:     duration.Seconds(),
		Threshold: mean + anomalySigma*stddev,
		CreatedAt: time.Now(),
	}
}

// deriveInsights flags bottleneck tasks and batching/parallelization
// opportunities.
func (m *Monitor) deriveInsights(exec *types.WorkflowExecution, total time.Duration) []types.Insight {
	var insights []types.Insight
	if total <= 0 || len(exec.Results) == 0 {
		return insights
	}

	type timing struct {
		taskID   string
		agentID  string
		duration time.Duration
	}
	timings := make([]timing, 0, len(exec.Results))
	for id, r := range exec.Results {
		timings = append(timings, timing{taskID: id, agentID: r.AgentID, duration: r.Duration})
	}
	sort.Slice(timings, func(i, j int) bool {
		if timings[i].duration != timings[j].duration {
			return timings[i].duration > timings[j].duration
		}
		return timings[i].taskID < timings[j].taskID
	})

	// Top three longest tasks are bottleneck candidates when any of them
	// dominates total execution time.
	top := timings
	if len(top) > 3 {
		top = top[:3]
	}
	var bottlenecks []string
	for _, t := range top {
		if float64(t.duration) > bottleneckShare*float64(total) {
			bottlenecks = append(bottlenecks, t.taskID)
		}
	}
	if len(bottlenecks) > 0 {
		insights = append(insights, types.Insight{
			ID:          uuid.New().String(),
			ExecutionID: exec.ID,
			Kind:        types.InsightBottleneck,
			TaskIDs:     bottlenecks,
			Message: fmt.Sprintf("%d task(s) each consumed more than %.0f%% of total execution time",
				len(bottlenecks), bottleneckShare*100),
			CreatedAt: time.Now(),
		})
	}

	// Same-agent clusters are batching opportunities.
	byAgent := make(map[string][]string)
	for _, t := range timings {
		byAgent[t.agentID] = append(byAgent[t.agentID], t.taskID)
	}
	agents := make([]string, 0, len(byAgent))
	for agentID := range byAgent {
		agents = append(agents, agentID)
	}
	sort.Strings(agents)
	for _, agentID := range agents {
		tasks := byAgent[agentID]
		if len(tasks) < 2 {
			continue
		}
		sort.Strings(tasks)
		insights = append(insights, types.Insight{
			ID:          uuid.New().String(),
			ExecutionID: exec.ID,
			Kind:        types.InsightBatching,
			TaskIDs:     tasks,
			Message:     fmt.Sprintf("%d tasks share agent %q and may batch into one session", len(tasks), agentID),
			CreatedAt:   time.Now(),
		})
	}

	return insights
}
