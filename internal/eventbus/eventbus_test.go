package eventbus

import (
	"testing"

	"github.com/fluxsched/fluxsched/internal/taskmodel"
)

func TestPublishTaskCompletedFansOutToAllSubscribers(t *testing.T) {
	b := New()
	var a, bCount int
	b.SubscribeTaskCompleted(func(r *taskmodel.TaskResult) { a++ })
	b.SubscribeTaskCompleted(func(r *taskmodel.TaskResult) { bCount++ })

	b.PublishTaskCompleted(&taskmodel.TaskResult{TaskID: "t1"})

	if a != 1 || bCount != 1 {
		t.Fatalf("expected both subscribers invoked once, got a=%d b=%d", a, bCount)
	}
}

func TestUnsubscribeStopsFutureDelivery(t *testing.T) {
	b := New()
	var count int
	sub := b.SubscribeTaskCompleted(func(r *taskmodel.TaskResult) { count++ })

	b.PublishTaskCompleted(&taskmodel.TaskResult{TaskID: "t1"})
	sub.Unsubscribe()
	b.PublishTaskCompleted(&taskmodel.TaskResult{TaskID: "t2"})

	if count != 1 {
		t.Fatalf("expected exactly one delivery before unsubscribe, got %d", count)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New()
	sub := b.SubscribeTaskCompleted(func(r *taskmodel.TaskResult) {})
	sub.Unsubscribe()
	sub.Unsubscribe() // must not panic
}

func TestStatusAndTaskTopicsAreIndependent(t *testing.T) {
	b := New()
	var statusCount int
	b.SubscribeStatusChanged(func(s taskmodel.NodeStatus) { statusCount++ })

	b.PublishTaskCompleted(&taskmodel.TaskResult{TaskID: "t1"})

	if statusCount != 0 {
		t.Fatalf("expected status subscriber unaffected by task_completed publish, got %d", statusCount)
	}
}

func TestSubscriptionIDsDoNotCollideAcrossTopics(t *testing.T) {
	b := New()
	taskSub := b.SubscribeTaskCompleted(func(r *taskmodel.TaskResult) {})
	statusSub := b.SubscribeStatusChanged(func(s taskmodel.NodeStatus) {})

	var statusCount int
	b.SubscribeStatusChanged(func(s taskmodel.NodeStatus) { statusCount++ })

	// Unsubscribing the task subscription must not remove the status
	// subscription registered around the same time, even though both
	// draw from the same atomic id counter.
	taskSub.Unsubscribe()
	statusSub.Unsubscribe()
	b.PublishStatusChanged(taskmodel.NodeStatus{NodeID: "w1"})

	if statusCount != 1 {
		t.Fatalf("expected the remaining status subscriber to still fire, got %d", statusCount)
	}
}
