package scheduler

import (
	"encoding/json"
	"log"
)

// Decision is a structured log entry for a single placement attempt,
// grounded in the teacher's SchedulingDecision/logDecision
// (control_plane/scheduler/types.go, control_plane/scheduler/scheduler.go):
// one JSON line per decision, plus a metrics increment. The teacher's
// tenant/rate-limit-specific fields are dropped; what survives is the
// "structured line per decision, one metric increment per line" shape.
type Decision struct {
	TaskID   string `json:"task_id"`
	Decision string `json:"decision"` // DISPATCH, NO_ELIGIBLE_WORKER, REJECTED
	WorkerID string `json:"worker_id,omitempty"`
	Priority int    `json:"priority"`
	Reason   string `json:"reason,omitempty"`
}

// logDecision writes d as a single JSON line, mirroring the teacher's
// logDecision. Metrics are incremented by the caller, which already holds
// the specific label value.
func logDecision(d Decision) {
	data, _ := json.Marshal(d)
	log.Println(string(data))
}
