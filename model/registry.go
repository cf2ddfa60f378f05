// Package model provides capability-based model selection for LLM-backed
// agents. Each registered model is wrapped with a rate limiter and a
// performance tracker whose observations feed back into selection.
package model

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/orchestrahq/orchestra/types"
)

// Capability names what a model can do.
type Capability string

const (
	CapGenerate Capability = "generate"
	CapEmbed    Capability = "embed"
	CapToolUse  Capability = "tool-use"
	CapVision   Capability = "vision"
)

// Profile describes one backing model.
type Profile struct {
	Name          string
	Provider      string
	Capabilities  []Capability
	CostPerKToken float64
	P50Latency    time.Duration
	// MaxQPS bounds request rate; 0 means unlimited.
	MaxQPS int
}

// Has reports whether the profile advertises a capability.
func (p *Profile) Has(c Capability) bool {
	for _, have := range p.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Generator is the uniform generate capability every provider binding must
// expose. Concrete SDK bindings live outside this module.
type Generator interface {
	Generate(ctx context.Context, prompt string, input map[string]any) (any, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt string, input map[string]any) (any, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string, input map[string]any) (any, error) {
	return f(ctx, prompt, input)
}

// Requirements filters and weights model selection.
type Requirements struct {
	Capability Capability
	// MaxCostPerKToken excludes models above this cost; 0 disables the cap.
	MaxCostPerKToken float64
	// MaxLatency excludes models whose observed latency exceeds it; 0
	// disables the cap.
	MaxLatency time.Duration
	// CostWeight and LatencyWeight bias scoring; both default to 1.
	CostWeight    float64
	LatencyWeight float64
}

// Model is a registered model wrapped with rate limiting and performance
// tracking. Obtain one through Registry.Select.
type Model struct {
	profile   Profile
	generator Generator
	limiter   *rate.Limiter
	perf      *perfTracker
	logger    *zap.Logger
}

// Profile returns a copy of the model's profile.
func (m *Model) Profile() Profile { return m.profile }

// Stats returns the model's observed performance.
func (m *Model) Stats() PerfStats { return m.perf.stats() }

// Generate waits for rate-limit admission, invokes the backing generator,
// and records latency and outcome.
func (m *Model) Generate(ctx context.Context, prompt string, input map[string]any) (any, error) {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, types.NewErrorf(types.ErrRateLimited,
				"model %s rate limit wait aborted", m.profile.Name).WithCause(err).WithRetryable(true)
		}
	}

	start := time.Now()
	out, err := m.generator.Generate(ctx, prompt, input)
	latency := time.Since(start)
	m.perf.observe(latency, err == nil)

	if err != nil {
		m.logger.Warn("model call failed",
			zap.String("model", m.profile.Name),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		return nil, err
	}
	return out, nil
}

// Registry owns the set of selectable models.
type Registry struct {
	mu     sync.RWMutex
	models map[string]*Model
	logger *zap.Logger
}

// NewRegistry creates an empty model registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		models: make(map[string]*Model),
		logger: logger.With(zap.String("component", "model_registry")),
	}
}

// Register wraps a generator with the profile's rate limit and performance
// tracking and adds it to the registry. Re-registering a name replaces it.
func (r *Registry) Register(profile Profile, generator Generator) {
	var limiter *rate.Limiter
	if profile.MaxQPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(profile.MaxQPS), profile.MaxQPS)
	}
	m := &Model{
		profile:   profile,
		generator: generator,
		limiter:   limiter,
		perf:      newPerfTracker(profile.P50Latency),
		logger:    r.logger,
	}

	r.mu.Lock()
	r.models[profile.Name] = m
	r.mu.Unlock()

	r.logger.Info("model registered",
		zap.String("model", profile.Name),
		zap.String("provider", profile.Provider),
		zap.Int("max_qps", profile.MaxQPS),
	)
}

// Get returns a registered model by name.
func (r *Registry) Get(name string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	return m, ok
}

// Select returns the registered model that best satisfies the requirements:
// capability filter first, then lowest weighted cost/latency score, with
// observed error rate as a penalty.
func (r *Registry) Select(req Requirements) (*Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type scored struct {
		model *Model
		score float64
	}
	var candidates []scored

	for _, m := range r.models {
		if req.Capability != "" && !m.profile.Has(req.Capability) {
			continue
		}
		if req.MaxCostPerKToken > 0 && m.profile.CostPerKToken > req.MaxCostPerKToken {
			continue
		}
		stats := m.perf.stats()
		latency := stats.EWMALatency
		if latency == 0 {
			latency = m.profile.P50Latency
		}
		if req.MaxLatency > 0 && latency > req.MaxLatency {
			continue
		}
		candidates = append(candidates, scored{model: m, score: score(m.profile, stats, latency, req)})
	}

	if len(candidates) == 0 {
		return nil, types.NewErrorf(types.ErrNoModel,
			"no registered model satisfies capability %q", req.Capability)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score < candidates[j].score
		}
		return candidates[i].model.profile.Name < candidates[j].model.profile.Name
	})
	return candidates[0].model, nil
}

func score(p Profile, stats PerfStats, latency time.Duration, req Requirements) float64 {
	costWeight := req.CostWeight
	if costWeight == 0 {
		costWeight = 1
	}
	latencyWeight := req.LatencyWeight
	if latencyWeight == 0 {
		latencyWeight = 1
	}

	s := costWeight*p.CostPerKToken + latencyWeight*latency.Seconds()

	// Error-rate penalty mirrors the health banding used for providers.
	switch {
	case stats.ErrorRate > 0.10:
		s *= 5
	case stats.ErrorRate > 0.05:
		s *= 2
	case stats.ErrorRate > 0.01:
		s *= 1.25
	}
	return s
}
