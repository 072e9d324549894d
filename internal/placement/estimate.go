// Package placement implements the Placement Policy component (spec.md
// §4.3, C5): admissibility filtering and suitability scoring of
// (worker, task) pairs.
package placement

import (
	"strconv"
	"time"

	"github.com/fluxsched/fluxsched/internal/taskmodel"
)

// EstimateRuntime returns the estimated execution duration for a task, keyed
// by task type and scaled by a difficulty hint carried in Task.Metadata.
// Grounded in original_source/.../worker_node.hpp's calculate_work_duration:
// a per-type base cost plus a linear difficulty term (complexity for
// "compute", size for "io", count for "network"); unknown types fall back
// to the original's default 300ms base. Monotone in the difficulty hint, as
// spec.md §4.3 requires.
func EstimateRuntime(task *taskmodel.Task) time.Duration {
	switch task.Type {
	case "compute":
		complexity := metaInt(task, "complexity", 1)
		return time.Duration(200+complexity*50) * time.Millisecond
	case "io":
		size := metaInt(task, "size", 1)
		return time.Duration(100+size/1024) * time.Millisecond
	case "network":
		count := metaInt(task, "count", 1)
		return time.Duration(150+count*10) * time.Millisecond
	default:
		return 300 * time.Millisecond
	}
}

func metaInt(task *taskmodel.Task, key string, def int) int {
	if task.Metadata == nil {
		return def
	}
	v, ok := task.Metadata[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
