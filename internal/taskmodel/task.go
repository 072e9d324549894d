// Package taskmodel defines the core entities shared across the scheduler:
// Task, TaskResult, NodeStatus and the opaque Principal/SecurityContext the
// core receives from the PolicyGate.
package taskmodel

import "time"

// Task is a unit of work submitted to the scheduler.
type Task struct {
	ID          string            `json:"id" db:"id"`
	Type        string            `json:"type" db:"type"`
	Payload     []byte            `json:"payload" db:"payload"`
	Deadline    time.Time         `json:"deadline" db:"deadline"`
	Priority    int               `json:"priority" db:"priority"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	AssignedTo  string            `json:"assigned_to" db:"assigned_to"`
	StartedAt   time.Time         `json:"started_at" db:"started_at"`
	CompletedAt time.Time         `json:"completed_at" db:"completed_at"`
	SubmittedBy string            `json:"submitted_by" db:"submitted_by"`
	Metadata    map[string]string `json:"metadata,omitempty" db:"metadata"`
}

// Pending reports whether the task has not yet been assigned to a worker.
func (t *Task) Pending() bool {
	return t.AssignedTo == "" && t.CompletedAt.IsZero()
}

// InFlight reports whether the task is currently assigned to a worker.
func (t *Task) InFlight() bool {
	return t.AssignedTo != "" && t.CompletedAt.IsZero()
}

// Completed reports whether the task has a recorded completion.
func (t *Task) Completed() bool {
	return !t.CompletedAt.IsZero()
}

// Clone returns a deep-enough copy safe to hand to a caller without
// exposing the store's internal pointer.
func (t *Task) Clone() *Task {
	cp := *t
	if t.Payload != nil {
		cp.Payload = append([]byte(nil), t.Payload...)
	}
	if t.Metadata != nil {
		cp.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// TaskResult is the outcome of executing a Task. Exactly one TaskResult is
// accepted per TaskID over the task's lifetime (spec invariant T1).
type TaskResult struct {
	TaskID        string        `json:"task_id" db:"task_id"`
	Success       bool          `json:"success" db:"success"`
	ResultData    []byte        `json:"result_data,omitempty" db:"result_data"`
	ErrorMessage  string        `json:"error_message,omitempty" db:"error_message"`
	ExecutionTime time.Duration `json:"-" db:"-"`
	ExecutionMS   int64         `json:"execution_time_ms" db:"execution_time_ms"`
}

// NodeStatus is a worker's self-reported health snapshot.
type NodeStatus struct {
	NodeID           string    `json:"node_id" db:"node_id"`
	CPULoad          float64   `json:"cpu_load" db:"cpu_load"`
	MemoryUsed       uint64    `json:"memory_used" db:"memory_used"`
	TasksQueued      int       `json:"tasks_queued" db:"tasks_queued"`
	TasksProcessing  int       `json:"tasks_processing" db:"tasks_processing"`
	HealthIndicators [3]float64 `json:"health_indicators" db:"health_indicators"`
	LastHeartbeat    time.Time `json:"last_heartbeat" db:"last_heartbeat"`
}

// Available implements the derived availability rule from spec.md §3:
// cpu_load < 90 and the minimum health indicator > 20.
func (s NodeStatus) Available() bool {
	if s.CPULoad >= 90 {
		return false
	}
	return s.minHealthIndicator() > 20
}

// HealthScore is the derived mean(health_indicators) * (1 - cpu_load/100).
func (s NodeStatus) HealthScore() float64 {
	mean := (s.HealthIndicators[0] + s.HealthIndicators[1] + s.HealthIndicators[2]) / 3
	return mean * (1 - s.CPULoad/100)
}

func (s NodeStatus) minHealthIndicator() float64 {
	m := s.HealthIndicators[0]
	for _, h := range s.HealthIndicators[1:] {
		if h < m {
			m = h
		}
	}
	return m
}

// Principal is the authenticated caller, opaque to the scheduler core beyond
// the fields it needs to evaluate validity and pass to the PolicyGate.
type Principal struct {
	UserID    string
	Roles     map[string]struct{}
	Token     string
	ExpiresAt time.Time
}

// Valid reports whether the principal carries a non-empty identity and has
// not expired, per spec.md §3.
func (p *Principal) Valid(now time.Time) bool {
	if p == nil {
		return false
	}
	if p.UserID == "" || p.Token == "" {
		return false
	}
	return p.ExpiresAt.After(now)
}

// HasRole reports whether the principal carries the given role tag.
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	_, ok := p.Roles[role]
	return ok
}
