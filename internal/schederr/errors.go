// Package schederr defines the sentinel error kinds that cross the
// scheduler's external boundary (spec.md §6/§7), plus internal-only kinds
// that never surface to Submit/Cancel callers: AlreadyCompleted, which the
// TaskStore returns for a duplicate completion and NotifyCompleted drops,
// and CapacityExceeded/NoEligibleWorker, which runPlacementTick produces,
// recovers from locally, and uses to fill each Decision's Reason field.
package schederr

import "errors"

var (
	// ErrInvalidPrincipal is returned when the calling principal is empty or
	// expired.
	ErrInvalidPrincipal = errors.New("fluxsched: invalid principal")

	// ErrUnauthorized is returned when the PolicyGate denies the action.
	ErrUnauthorized = errors.New("fluxsched: unauthorized")

	// ErrUnknownTask is returned by operations addressing a task id that is
	// not present in the TaskStore.
	ErrUnknownTask = errors.New("fluxsched: unknown task")

	// ErrAlreadyCompleted is returned internally when a second completion
	// arrives for a task id that already has a recorded result. Submitters
	// never see this; the duplicate is dropped silently by the caller.
	ErrAlreadyCompleted = errors.New("fluxsched: task already completed")

	// ErrDuplicateTask is returned by TaskStore.Insert when the id already
	// exists.
	ErrDuplicateTask = errors.New("fluxsched: duplicate task id")

	// ErrCapacityExceeded is an internal, transient condition: the worker
	// the placement tick chose rejected the task because it raced to
	// capacity. The scheduler retries placement on the next tick.
	ErrCapacityExceeded = errors.New("fluxsched: worker capacity exceeded")

	// ErrNoEligibleWorker is an internal, transient condition never
	// surfaced to callers; it causes the placement tick to leave the task
	// at the head of the queue and try again next tick.
	ErrNoEligibleWorker = errors.New("fluxsched: no eligible worker")

	// ErrReassignmentDenied is returned when TaskStore.MarkAssigned is
	// called for a task already assigned to a different worker.
	ErrReassignmentDenied = errors.New("fluxsched: task assigned to a different worker")
)
