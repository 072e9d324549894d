// Package taskstore implements the TaskStore component (spec.md §4.1,
// C4): the task id map, the pending priority queue, and completed results.
// Grounded in the teacher's scheduler.ThreadSafeQueue (heap + mutex) and
// scheduler.Scheduler's bookkeeping of per-task state, generalized to the
// spec's insert/pop/assign/requeue/complete/drop contract.
package taskstore

import (
	"sort"
	"sync"
	"time"

	"github.com/fluxsched/fluxsched/internal/schederr"
	"github.com/fluxsched/fluxsched/internal/taskmodel"
)

// Store holds tasks by id, the pending priority queue, and completed
// results. All mutating operations are linearizable with respect to each
// other (spec.md §4.1 concurrency note); reads may proceed concurrently
// with other reads.
type Store struct {
	mu sync.RWMutex

	tasks   map[string]*taskmodel.Task
	results map[string]*taskmodel.TaskResult
	pending *priorityQueue

	totalCompleted   int64
	completedOnTime  int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		tasks:   make(map[string]*taskmodel.Task),
		results: make(map[string]*taskmodel.TaskResult),
		pending: newPriorityQueue(),
	}
}

// Insert adds task to the id map and pushes it onto the pending queue.
// Fails with ErrDuplicateTask if the id is already present.
func (s *Store) Insert(task *taskmodel.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return schederr.ErrDuplicateTask
	}
	s.tasks[task.ID] = task
	s.pending.push(task)
	return nil
}

// PopNextPending returns the highest-priority still-pending task, skipping
// and discarding any stale queue entries (tasks that were assigned or
// cancelled after being queued) per spec.md's required stale-entry skip
// policy (T5).
func (s *Store) PopNextPending() *taskmodel.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		t := s.pending.pop()
		if t == nil {
			return nil
		}
		if _, live := s.tasks[t.ID]; !live {
			continue // dropped/cancelled since being queued
		}
		if !t.Pending() {
			continue // assigned or completed since being queued
		}
		return t
	}
}

// MarkAssigned sets AssignedTo and StartedAt. Idempotent if already
// assigned to the same worker; rejects reassignment to a different worker.
func (s *Store) MarkAssigned(id, workerID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return schederr.ErrUnknownTask
	}
	if t.AssignedTo == workerID {
		return nil // idempotent
	}
	if t.AssignedTo != "" {
		return schederr.ErrReassignmentDenied
	}
	t.AssignedTo = workerID
	t.StartedAt = now
	return nil
}

// Requeue clears AssignedTo and pushes the task back onto the pending
// queue. No-op if the task is already completed or unknown.
func (s *Store) Requeue(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.Completed() {
		return
	}
	t.AssignedTo = ""
	t.StartedAt = time.Time{}
	s.pending.push(t)
}

// RecordCompletion sets CompletedAt and stores the result. Returns
// ErrAlreadyCompleted on a second call for the same id, and
// ErrUnknownTask if the id was dropped before completion arrived.
func (s *Store) RecordCompletion(id string, result *taskmodel.TaskResult, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return schederr.ErrUnknownTask
	}
	if t.Completed() {
		return schederr.ErrAlreadyCompleted
	}
	t.CompletedAt = now
	s.results[id] = result
	s.totalCompleted++
	if !t.Deadline.IsZero() && !now.After(t.Deadline) {
		s.completedOnTime++
	}
	return nil
}

// Drop removes a task entirely (cancellation of a task not yet assigned).
func (s *Store) Drop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
}

// Get returns a copy of the task, or nil if unknown.
func (s *Store) Get(id string) *taskmodel.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil
	}
	return t.Clone()
}

// GetResult returns the recorded result for id, or nil if none yet.
func (s *Store) GetResult(id string) *taskmodel.TaskResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[id]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

// ListPending returns a snapshot of all currently-pending tasks, in
// priority order.
func (s *Store) ListPending() []*taskmodel.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*taskmodel.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if t.Pending() {
			out = append(out, t.Clone())
		}
	}
	sortByQueueOrder(out)
	return out
}

// Metrics returns the running totals needed for the deadline-satisfaction
// rate (spec.md T3: completed_on_time <= total_completed).
func (s *Store) Metrics() (totalCompleted, completedOnTime int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalCompleted, s.completedOnTime
}

// DeadlineSatisfactionRate returns completedOnTime/totalCompleted, or 1 if
// nothing has completed yet.
func (s *Store) DeadlineSatisfactionRate() float64 {
	total, onTime := s.Metrics()
	if total == 0 {
		return 1
	}
	return float64(onTime) / float64(total)
}

func sortByQueueOrder(tasks []*taskmodel.Task) {
	// Reuse the same strict weak ordering as the heap for a stable,
	// human-readable pending listing.
	sort.Slice(tasks, func(i, j int) bool { return less(tasks[i], tasks[j]) })
}

func less(a, b *taskmodel.Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.Deadline.Equal(b.Deadline) {
		return a.Deadline.Before(b.Deadline)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
