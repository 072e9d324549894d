package placement

import (
	"sync"

	"golang.org/x/time/rate"
)

// DispatchLimiter caps the rate at which the placement tick dispatches
// tasks to an individual worker, independent of the worker's own
// max-concurrency admission check. Grounded in the teacher's
// scheduler.TokenBucketLimiter (per-key token buckets behind one mutex),
// generalized from per-node/per-tenant keys to per-worker dispatch
// shaping (spec.md §10 domain-stack wiring for golang.org/x/time/rate).
type DispatchLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

// NewDispatchLimiter creates a limiter allowing r dispatches/sec per worker
// with the given burst. r <= 0 disables rate shaping entirely.
func NewDispatchLimiter(r float64, burst int) *DispatchLimiter {
	return &DispatchLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(r),
		burst:    burst,
	}
}

// Allow reports whether workerID may receive another dispatch right now.
// A disabled limiter (r <= 0) always allows.
func (l *DispatchLimiter) Allow(workerID string) bool {
	if l == nil || l.r <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[workerID]
	if !ok {
		lim = rate.NewLimiter(l.r, l.burst)
		l.limiters[workerID] = lim
	}
	return lim.Allow()
}
