// Package store defines the external SnapshotStore and IdempotencyStore
// contracts (spec.md §6's durability note, SPEC_FULL.md §10). TaskStore
// itself never imports this package; a deployment wires a SnapshotStore
// implementation at the process edge, alongside the in-memory core.
package store

import (
	"context"
	"time"

	"github.com/fluxsched/fluxsched/internal/taskmodel"
)

// SnapshotStore persists tasks and results so a pending queue can survive
// a process restart. On reload, every task SaveTask persisted without a
// matching SaveResult MUST be treated as pending and re-placed, per
// spec.md §6.
type SnapshotStore interface {
	SaveTask(ctx context.Context, task *taskmodel.Task) error
	SaveResult(ctx context.Context, result *taskmodel.TaskResult) error
	LoadPending(ctx context.Context) ([]*taskmodel.Task, error)
}

// IdempotencyStore dedupes client-side submission retries within a live
// process, keyed on a caller-supplied token. It does not provide
// exactly-once delivery across process crashes (spec.md Non-goals).
type IdempotencyStore interface {
	// Reserve atomically claims key for ttl, returning true if this call
	// won the race (the key was not already held).
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
