// Package config loads and validates orchestrator configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PoolConfig bounds and tunes the agent pool.
type PoolConfig struct {
	MinAgents           int           `yaml:"min_agents"`
	MaxAgents           int           `yaml:"max_agents"`
	ScaleUpThreshold    float64       `yaml:"scale_up_threshold"`
	ScaleDownThreshold  float64       `yaml:"scale_down_threshold"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	ScaleInterval       time.Duration `yaml:"scale_interval"`
}

// WorkflowConfig bounds workflow definitions accepted by the engine.
type WorkflowConfig struct {
	MaxTasks         int           `yaml:"max_tasks"`
	MaxDepth         int           `yaml:"max_depth"`
	DefaultTimeout   time.Duration `yaml:"default_timeout"`
	EnableValidation bool          `yaml:"enable_validation"`
}

// MonitorConfig sets the execution monitor thresholds.
type MonitorConfig struct {
	// FailureRatePercent is the task failure rate threshold, 0-100.
	FailureRatePercent float64       `yaml:"failure_rate_percent"`
	MaxDuration        time.Duration `yaml:"max_duration"`
	MaxMemoryBytes     int64         `yaml:"max_memory_bytes"`
	MaxCPUPercent      float64       `yaml:"max_cpu_percent"`
	// HistoryLimit caps retained executions per workflow.
	HistoryLimit int `yaml:"history_limit"`
	// MinHistoryForAnomaly is the minimum prior runs before anomaly
	// detection engages.
	MinHistoryForAnomaly int `yaml:"min_history_for_anomaly"`
}

// CollabConfig tunes collaboration sessions.
type CollabConfig struct {
	MaxParticipants int           `yaml:"max_participants"`
	SessionTimeout  time.Duration `yaml:"session_timeout"`
	LockTTL         time.Duration `yaml:"lock_ttl"`
	DebounceWindow  time.Duration `yaml:"debounce_window"`
	// Strategy selects conflict resolution: last-write-wins,
	// operational-transform, or crdt.
	Strategy string `yaml:"strategy"`
}

// ExecutionConfig bounds concurrent workflow execution.
type ExecutionConfig struct {
	MaxConcurrentWorkflows int           `yaml:"max_concurrent_workflows"`
	RateLimitWindow        time.Duration `yaml:"rate_limit_window"`
	RateLimitCap           int           `yaml:"rate_limit_cap"`
	DependencyWaitTimeout  time.Duration `yaml:"dependency_wait_timeout"`
}

// QueueConfig configures the durable task queue collaborator.
type QueueConfig struct {
	// Backend selects the queue implementation: memory or redis.
	Backend   string        `yaml:"backend"`
	RedisAddr string        `yaml:"redis_addr"`
	KeyPrefix string        `yaml:"key_prefix"`
	MaxRetry  int           `yaml:"max_retry"`
	Backoff   time.Duration `yaml:"backoff"`
}

// Config is the full orchestrator configuration. All sections are required
// at construction; Validate rejects anything out of range.
type Config struct {
	Pool      PoolConfig      `yaml:"pool"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Collab    CollabConfig    `yaml:"collab"`
	Execution ExecutionConfig `yaml:"execution"`
	Queue     QueueConfig     `yaml:"queue"`
}

// Default returns the documented defaults.
func Default() *Config {
	return &Config{
		Pool: PoolConfig{
			MinAgents:           2,
			MaxAgents:           10,
			ScaleUpThreshold:    0.8,
			ScaleDownThreshold:  0.3,
			HealthCheckInterval: 30 * time.Second,
			ScaleInterval:       15 * time.Second,
		},
		Workflow: WorkflowConfig{
			MaxTasks:         100,
			MaxDepth:         20,
			DefaultTimeout:   5 * time.Minute,
			EnableValidation: true,
		},
		Monitor: MonitorConfig{
			FailureRatePercent:   20,
			MaxDuration:          10 * time.Minute,
			MaxMemoryBytes:       1 << 30,
			MaxCPUPercent:        80,
			HistoryLimit:         100,
			MinHistoryForAnomaly: 5,
		},
		Collab: CollabConfig{
			MaxParticipants: 10,
			SessionTimeout:  30 * time.Minute,
			LockTTL:         30 * time.Second,
			DebounceWindow:  50 * time.Millisecond,
			Strategy:        "last-write-wins",
		},
		Execution: ExecutionConfig{
			MaxConcurrentWorkflows: 10,
			RateLimitWindow:        time.Second,
			RateLimitCap:           20,
			DependencyWaitTimeout:  30 * time.Second,
		},
		Queue: QueueConfig{
			Backend:   "memory",
			KeyPrefix: "orchestra",
			MaxRetry:  3,
			Backoff:   time.Second,
		},
	}
}

// Load reads a YAML config file, layered over Default. An empty path falls
// back to the ORCHESTRA_CONFIG environment variable; when that is unset too,
// the defaults are returned as-is.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("ORCHESTRA_CONFIG")
	}
	if path == "" {
		return Default(), nil
	}
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section for out-of-range values.
func (c *Config) Validate() error {
	if c.Pool.MinAgents < 0 {
		return fmt.Errorf("pool.min_agents must be >= 0, got %d", c.Pool.MinAgents)
	}
	if c.Pool.MaxAgents < c.Pool.MinAgents || c.Pool.MaxAgents < 1 {
		return fmt.Errorf("pool.max_agents must be >= max(1, min_agents), got %d", c.Pool.MaxAgents)
	}
	if c.Pool.ScaleUpThreshold <= 0 || c.Pool.ScaleUpThreshold > 1 {
		return fmt.Errorf("pool.scale_up_threshold must be in (0,1], got %v", c.Pool.ScaleUpThreshold)
	}
	if c.Pool.ScaleDownThreshold < 0 || c.Pool.ScaleDownThreshold >= c.Pool.ScaleUpThreshold {
		return fmt.Errorf("pool.scale_down_threshold must be in [0, scale_up_threshold), got %v", c.Pool.ScaleDownThreshold)
	}
	if c.Pool.HealthCheckInterval <= 0 || c.Pool.ScaleInterval <= 0 {
		return fmt.Errorf("pool intervals must be positive")
	}
	if c.Workflow.MaxTasks <= 0 {
		return fmt.Errorf("workflow.max_tasks must be positive, got %d", c.Workflow.MaxTasks)
	}
	if c.Workflow.DefaultTimeout <= 0 {
		return fmt.Errorf("workflow.default_timeout must be positive")
	}
	if c.Monitor.FailureRatePercent < 0 || c.Monitor.FailureRatePercent > 100 {
		return fmt.Errorf("monitor.failure_rate_percent must be in [0,100], got %v", c.Monitor.FailureRatePercent)
	}
	if c.Monitor.HistoryLimit <= 0 {
		return fmt.Errorf("monitor.history_limit must be positive, got %d", c.Monitor.HistoryLimit)
	}
	if c.Collab.MaxParticipants <= 0 {
		return fmt.Errorf("collab.max_participants must be positive, got %d", c.Collab.MaxParticipants)
	}
	switch c.Collab.Strategy {
	case "last-write-wins", "operational-transform", "crdt":
	default:
		return fmt.Errorf("collab.strategy must be one of last-write-wins, operational-transform, crdt; got %q", c.Collab.Strategy)
	}
	if c.Execution.MaxConcurrentWorkflows <= 0 {
		return fmt.Errorf("execution.max_concurrent_workflows must be positive, got %d", c.Execution.MaxConcurrentWorkflows)
	}
	if c.Execution.RateLimitCap <= 0 || c.Execution.RateLimitWindow <= 0 {
		return fmt.Errorf("execution rate limit window and cap must be positive")
	}
	switch c.Queue.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("queue.backend must be memory or redis, got %q", c.Queue.Backend)
	}
	return nil
}
