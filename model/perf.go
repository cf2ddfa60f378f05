package model

import (
	"sync"
	"time"
)

// ewmaAlpha weights new observations against history.
const ewmaAlpha = 0.2

// PerfStats is a point-in-time view of a model's observed performance.
type PerfStats struct {
	Calls       int64
	Failures    int64
	ErrorRate   float64
	EWMALatency time.Duration
	LastCall    time.Time
}

// perfTracker maintains an exponentially weighted latency average and error
// counts for one model.
type perfTracker struct {
	mu       sync.Mutex
	calls    int64
	failures int64
	ewma     time.Duration
	lastCall time.Time
}

func newPerfTracker(seed time.Duration) *perfTracker {
	return &perfTracker{ewma: seed}
}

func (t *perfTracker) observe(latency time.Duration, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.calls++
	if !ok {
		t.failures++
	}
	if t.ewma == 0 {
		t.ewma = latency
	} else {
		t.ewma = time.Duration(ewmaAlpha*float64(latency) + (1-ewmaAlpha)*float64(t.ewma))
	}
	t.lastCall = time.Now()
}

func (t *perfTracker) stats() PerfStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := PerfStats{
		Calls:       t.calls,
		Failures:    t.failures,
		EWMALatency: t.ewma,
		LastCall:    t.lastCall,
	}
	if t.calls > 0 {
		s.ErrorRate = float64(t.failures) / float64(t.calls)
	}
	return s
}
