// Package awaitable implements the Completion Awaitable component
// (spec.md §4.5, C7): a one-shot handle that resolves to a task's result.
//
// Grounded in the teacher's channel-actor idiom (control_plane/ws_hub.go's
// register/unregister channels feeding a single loop) and the
// single-value-wait shape of joeycumines-go-utilpkg/longpoll.Channel from
// the retrieval pack, adapted from "wait for N values with a timeout" to
// "wait for exactly one value, or none if already delivered".
package awaitable

import (
	"context"

	"github.com/fluxsched/fluxsched/internal/eventbus"
	"github.com/fluxsched/fluxsched/internal/taskmodel"
)

// Awaitable suspends a caller until a specific task completes. State
// machine: Pending -> Ready. Once ready it yields the result exactly once
// via Wait; repeated calls to Wait after the first all return the same
// cached result immediately.
type Awaitable struct {
	taskID string
	ready  chan struct{}
	result *taskmodel.TaskResult
	sub    eventbus.Subscription
}

// New subscribes to bus for the first task_completed event matching
// taskID. If existing is non-nil (the result was already recorded at
// construction time, per spec.md §4.5), the Awaitable is immediately
// ready and no subscription is made.
func New(bus eventbus.Bus, taskID string, existing *taskmodel.TaskResult) *Awaitable {
	a := &Awaitable{taskID: taskID, ready: make(chan struct{})}

	if existing != nil {
		a.result = existing
		close(a.ready)
		return a
	}

	a.sub = bus.SubscribeTaskCompleted(func(result *taskmodel.TaskResult) {
		if result.TaskID != taskID {
			return
		}
		select {
		case <-a.ready:
			// Already resolved (race with a concurrent construction-time
			// lookup); the bus guarantees at-most-once delivery per id so
			// this should not happen, but stay defensive.
		default:
			a.result = result
			close(a.ready)
		}
	})
	return a
}

// Wait blocks until the task completes or ctx is cancelled. Cancelling ctx
// unsubscribes from the bus (if still pending) and never cancels the
// underlying task, per spec.md §5's waiter-cancellation semantics.
func (a *Awaitable) Wait(ctx context.Context) (*taskmodel.TaskResult, error) {
	select {
	case <-a.ready:
		return a.result, nil
	case <-ctx.Done():
		a.Close()
		return nil, ctx.Err()
	}
}

// Close unsubscribes from the bus, releasing the Awaitable early. Dropping
// an Awaitable without completing the wait must call Close to avoid
// leaking the subscription; safe to call more than once or after Wait has
// already returned.
func (a *Awaitable) Close() {
	if a.sub != nil {
		a.sub.Unsubscribe()
	}
}
