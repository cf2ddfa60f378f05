// Package metrics provides internal Prometheus collectors for the
// orchestrator. This package is internal and should not be imported by
// external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector aggregates the orchestrator's Prometheus metrics.
type Collector struct {
	// Execution metrics
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	tasksTotal        *prometheus.CounterVec
	taskDuration      *prometheus.HistogramVec

	// Pool metrics
	poolSize    prometheus.Gauge
	poolBusy    prometheus.Gauge
	poolOffline prometheus.Gauge
	poolQueued  prometheus.Gauge

	// Monitoring metrics
	alertsTotal *prometheus.CounterVec

	// Queue metrics
	queueDepth prometheus.Gauge
}

// NewCollector registers and returns the orchestrator collectors under the
// given namespace, using the provided registerer. A nil registerer falls
// back to the default registry.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{}

	c.executionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_executions_total",
			Help:      "Total number of workflow executions by terminal status",
		},
		[]string{"status"},
	)

	c.executionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_execution_duration_seconds",
			Help:      "Workflow execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"workflow_id"},
	)

	c.tasksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Total number of task executions by terminal status",
		},
		[]string{"status"},
	)

	c.taskDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task execution duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"agent_id"},
	)

	c.poolSize = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_agents",
		Help:      "Current number of agent instances in the pool",
	})

	c.poolBusy = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_agents_busy",
		Help:      "Current number of busy agent instances",
	})

	c.poolOffline = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_agents_offline",
		Help:      "Current number of offline agent instances",
	})

	c.poolQueued = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_waiters",
		Help:      "Callers waiting for an agent",
	})

	c.alertsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Monitoring alerts emitted by kind and severity",
		},
		[]string{"kind", "severity"},
	)

	c.queueDepth = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "durable_queue_depth",
		Help:      "Items pending in the durable task queue",
	})

	return c
}

// RecordExecution records one finished workflow execution.
func (c *Collector) RecordExecution(workflowID, status string, d time.Duration) {
	c.executionsTotal.WithLabelValues(status).Inc()
	c.executionDuration.WithLabelValues(workflowID).Observe(d.Seconds())
}

// RecordTask records one finished task execution.
func (c *Collector) RecordTask(agentID, status string, d time.Duration) {
	c.tasksTotal.WithLabelValues(status).Inc()
	c.taskDuration.WithLabelValues(agentID).Observe(d.Seconds())
}

// SetPoolGauges updates the pool composition gauges.
func (c *Collector) SetPoolGauges(total, busy, offline, queued int) {
	c.poolSize.Set(float64(total))
	c.poolBusy.Set(float64(busy))
	c.poolOffline.Set(float64(offline))
	c.poolQueued.Set(float64(queued))
}

// RecordAlert counts one emitted alert.
func (c *Collector) RecordAlert(kind, severity string) {
	c.alertsTotal.WithLabelValues(kind, severity).Inc()
}

// SetQueueDepth updates the durable queue depth gauge.
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}
