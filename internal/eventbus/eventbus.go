// Package eventbus defines the Event Bus external interface contract
// (spec.md §4.7, C9) and a default in-process implementation.
//
// The interface shape is grounded in the teacher's streaming.Publisher /
// streaming.Subscriber / streaming.Subscription contract
// (control_plane/streaming/interface.go). The default implementation's
// register/unregister/broadcast fan-out follows control_plane/ws_hub.go,
// generalized from websocket fan-out to typed in-process callbacks; it
// uses mutex-guarded subscriber maps and calls handlers directly on the
// publisher's goroutine, with no actor loop.
package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/fluxsched/fluxsched/internal/taskmodel"
)

// TaskCompletedHandler is invoked, from publisher context, for every
// task_completed event. Per spec.md §4.7 it must be safe to call from the
// publisher's goroutine.
type TaskCompletedHandler func(result *taskmodel.TaskResult)

// StatusChangedHandler is invoked, from publisher context, for every
// status_changed event.
type StatusChangedHandler func(status taskmodel.NodeStatus)

// Subscription is a handle to a single subscribe call; Unsubscribe removes
// it. Safe to call more than once.
type Subscription interface {
	Unsubscribe()
}

// Bus is the external interface the Scheduler Core and Completion
// Awaitable depend on. Delivery is at-most-once in-process, unordered
// across topics, ordered within a single topic (spec.md §4.7/§5).
type Bus interface {
	PublishTaskCompleted(result *taskmodel.TaskResult)
	PublishStatusChanged(status taskmodel.NodeStatus)
	SubscribeTaskCompleted(handler TaskCompletedHandler) Subscription
	SubscribeStatusChanged(handler StatusChangedHandler) Subscription
}

// InProcessBus is the default Bus implementation: two independent
// subscriber lists, each protected by its own mutex so that publishing on
// one topic never blocks on the other (ordered within a topic, unordered
// across topics).
type InProcessBus struct {
	nextID uint64 // accessed via atomic

	mu       sync.RWMutex
	taskSubs map[uint64]TaskCompletedHandler

	statusMu   sync.RWMutex
	statusSubs map[uint64]StatusChangedHandler
}

// New returns an empty InProcessBus.
func New() *InProcessBus {
	return &InProcessBus{
		taskSubs:   make(map[uint64]TaskCompletedHandler),
		statusSubs: make(map[uint64]StatusChangedHandler),
	}
}

// PublishTaskCompleted fans out result to every current task_completed
// subscriber. Fire-and-forget: no back-pressure on the caller.
func (b *InProcessBus) PublishTaskCompleted(result *taskmodel.TaskResult) {
	b.mu.RLock()
	handlers := make([]TaskCompletedHandler, 0, len(b.taskSubs))
	for _, h := range b.taskSubs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(result)
	}
}

// PublishStatusChanged fans out status to every current status_changed
// subscriber.
func (b *InProcessBus) PublishStatusChanged(status taskmodel.NodeStatus) {
	b.statusMu.RLock()
	handlers := make([]StatusChangedHandler, 0, len(b.statusSubs))
	for _, h := range b.statusSubs {
		handlers = append(handlers, h)
	}
	b.statusMu.RUnlock()

	for _, h := range handlers {
		h(status)
	}
}

// SubscribeTaskCompleted registers handler for every future task_completed
// event, until the returned Subscription is unsubscribed.
func (b *InProcessBus) SubscribeTaskCompleted(handler TaskCompletedHandler) Subscription {
	id := atomic.AddUint64(&b.nextID, 1)
	b.mu.Lock()
	b.taskSubs[id] = handler
	b.mu.Unlock()
	return &taskSub{bus: b, id: id}
}

// SubscribeStatusChanged registers handler for every future status_changed
// event.
func (b *InProcessBus) SubscribeStatusChanged(handler StatusChangedHandler) Subscription {
	id := atomic.AddUint64(&b.nextID, 1)
	b.statusMu.Lock()
	b.statusSubs[id] = handler
	b.statusMu.Unlock()
	return &statusSub{bus: b, id: id}
}

type taskSub struct {
	bus  *InProcessBus
	id   uint64
	once sync.Once
}

func (s *taskSub) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.taskSubs, s.id)
		s.bus.mu.Unlock()
	})
}

type statusSub struct {
	bus  *InProcessBus
	id   uint64
	once sync.Once
}

func (s *statusSub) Unsubscribe() {
	s.once.Do(func() {
		s.bus.statusMu.Lock()
		delete(s.bus.statusSubs, s.id)
		s.bus.statusMu.Unlock()
	})
}
