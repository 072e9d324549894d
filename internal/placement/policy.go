package placement

import (
	"time"

	"github.com/fluxsched/fluxsched/internal/registry"
	"github.com/fluxsched/fluxsched/internal/taskmodel"
)

// ioMemoryThresholdBytes is the "modest threshold" referenced by spec.md
// §4.3's affinity bonus for io-type tasks.
const ioMemoryThresholdBytes = 512 * 1024 * 1024

// Policy scores (worker, task) pairs and picks the best admissible worker.
// Grounded in scheduler.Scheduler.processNextTask's admission chain (health,
// rate limits, concurrency budget) and NodeHealth.CalculateCompositeScore,
// adapted into the spec's two-phase filter-then-score contract.
type Policy struct {
	Limiter *DispatchLimiter
}

// New returns a Policy with dispatch-rate shaping disabled by default.
func New() *Policy {
	return &Policy{Limiter: NewDispatchLimiter(0, 0)}
}

// Select applies the admissibility filter to every candidate, scores the
// survivors, and returns the worker id with the highest suitability score
// (ties broken by worker id). Returns ("", false) if no candidate is
// admissible.
func (p *Policy) Select(task *taskmodel.Task, candidates []registry.Candidate, now time.Time) (string, bool) {
	var (
		bestID    string
		bestScore float64
		found     bool
	)

	for _, c := range candidates {
		if !p.admissible(task, c, now) {
			continue
		}
		score := suitability(task, c, now)
		if !found || score > bestScore || (score == bestScore && c.Handle.ID() < bestID) {
			bestID = c.Handle.ID()
			bestScore = score
			found = true
		}
	}
	return bestID, found
}

// admissible implements spec.md §4.3's four admissibility conditions.
func (p *Policy) admissible(task *taskmodel.Task, c registry.Candidate, now time.Time) bool {
	if !c.Handle.Running() {
		return false
	}
	if c.Handle.ActiveCount() >= c.Handle.MaxConcurrency() {
		return false
	}
	if !c.Status.Available() {
		return false
	}
	if task.Deadline.IsZero() {
		// No deadline supplied: treat as never-urgent but still placeable.
	} else {
		timeUntilDeadline := task.Deadline.Sub(now)
		estimate := EstimateRuntime(task)
		if timeUntilDeadline <= 2*estimate {
			return false
		}
	}
	if !p.Limiter.Allow(c.Handle.ID()) {
		return false
	}
	return true
}

// suitability implements spec.md §4.3's scoring formula: health_score base,
// affinity bonus, deadline urgency bonus, load penalty.
func suitability(task *taskmodel.Task, c registry.Candidate, now time.Time) float64 {
	score := c.Status.HealthScore()

	switch task.Type {
	case "compute":
		if c.Status.CPULoad < 50 {
			score += 10
		}
	case "io":
		if c.Status.MemoryUsed < ioMemoryThresholdBytes {
			score += 10
		}
	default:
		// Equivalent affinity rule for other types: reward low queue depth.
		if c.Status.TasksQueued == 0 {
			score += 10
		}
	}

	if !task.Deadline.IsZero() {
		until := task.Deadline.Sub(now)
		switch {
		case until < time.Second:
			score += 20
		case until < 5*time.Second:
			score += 10
		}
	}

	score -= 5 * float64(c.Handle.ActiveCount())
	return score
}
