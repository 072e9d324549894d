// Package registry implements the WorkerRegistry component (spec.md §4.2,
// C3): live workers, their last-known status, and their last heartbeat
// timestamp. Grounded in the teacher's store.MemoryStore agent map and
// coordination.AgentMonitor's staleness sweep, generalized from
// Postgres/Redis-backed Agent records to an in-memory worker-handle
// registry that the Scheduler Core calls directly (no HTTP hop).
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/fluxsched/fluxsched/internal/taskmodel"
)

// Handle is the capability surface the registry holds for a worker: enough
// to dispatch and cancel tasks without the registry owning the worker.
type Handle interface {
	ID() string
	Running() bool
	MaxConcurrency() int
	ActiveCount() int
	AcceptTask(task *taskmodel.Task) bool
	Cancel(id string) bool
}

type entry struct {
	handle Handle
	status taskmodel.NodeStatus
}

// Registry holds one handle and one last-known status per worker id.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{workers: make(map[string]*entry)}
}

// Register adds a worker handle to the registry. A fresh, zero-value
// status is recorded until the worker's first heartbeat.
func (r *Registry) Register(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[h.ID()] = &entry{handle: h, status: taskmodel.NodeStatus{NodeID: h.ID()}}
}

// Unregister removes a worker from the registry.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, id)
}

// UpdateStatus overwrites the last-known status for a worker. An update for
// an unknown id is dropped silently (the worker was evicted) per spec.md
// §4.2's invariant.
func (r *Registry) UpdateStatus(status taskmodel.NodeStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.workers[status.NodeID]
	if !ok {
		return
	}
	e.status = status
}

// StaleSince returns the ids of workers whose last heartbeat is older than
// threshold, as of now.
func (r *Registry) StaleSince(now time.Time, threshold time.Duration) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []string
	for id, e := range r.workers {
		if e.status.LastHeartbeat.IsZero() {
			continue // never heartbeated yet; not stale, just new
		}
		if now.Sub(e.status.LastHeartbeat) > threshold {
			stale = append(stale, id)
		}
	}
	sort.Strings(stale)
	return stale
}

// Snapshot returns a copy of every worker's last-known status.
func (r *Registry) Snapshot() []taskmodel.NodeStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]taskmodel.NodeStatus, 0, len(r.workers))
	for _, e := range r.workers {
		out = append(out, e.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// IterCandidates returns the handles and statuses of every registered
// worker, for the Placement Policy to filter and score.
func (r *Registry) IterCandidates() []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Candidate, 0, len(r.workers))
	for _, e := range r.workers {
		out = append(out, Candidate{Handle: e.handle, Status: e.status})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle.ID() < out[j].Handle.ID() })
	return out
}

// Get returns the handle for id, or nil if not registered.
func (r *Registry) Get(id string) Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.workers[id]
	if !ok {
		return nil
	}
	return e.handle
}

// Candidate pairs a worker handle with its last-known status, the unit the
// Placement Policy scores.
type Candidate struct {
	Handle Handle
	Status taskmodel.NodeStatus
}
