package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/fluxsched/fluxsched/internal/clock"
	"github.com/fluxsched/fluxsched/internal/eventbus"
	"github.com/fluxsched/fluxsched/internal/policy"
	"github.com/fluxsched/fluxsched/internal/taskmodel"
)

// fakeWorker is a minimal registry.Handle double that accepts every task
// up to a concurrency budget and completes it synchronously on demand.
type fakeWorker struct {
	id       string
	max      int
	running  bool
	accepted []*taskmodel.Task
	onDone   func(*taskmodel.TaskResult)
}

func newFakeWorker(id string, max int) *fakeWorker {
	return &fakeWorker{id: id, max: max, running: true}
}

func (w *fakeWorker) ID() string             { return w.id }
func (w *fakeWorker) Running() bool          { return w.running }
func (w *fakeWorker) MaxConcurrency() int    { return w.max }
func (w *fakeWorker) ActiveCount() int       { return len(w.accepted) }
func (w *fakeWorker) Cancel(id string) bool {
	for i, t := range w.accepted {
		if t.ID == id {
			w.accepted = append(w.accepted[:i], w.accepted[i+1:]...)
			return true
		}
	}
	return false
}

func (w *fakeWorker) AcceptTask(task *taskmodel.Task) bool {
	if !w.running || len(w.accepted) >= w.max {
		return false
	}
	w.accepted = append(w.accepted, task)
	return true
}

func (w *fakeWorker) complete(taskID string, success bool) *taskmodel.TaskResult {
	for i, t := range w.accepted {
		if t.ID == taskID {
			w.accepted = append(w.accepted[:i], w.accepted[i+1:]...)
			break
		}
	}
	return &taskmodel.TaskResult{TaskID: taskID, Success: success}
}

func allowAllGate() policy.Gate {
	g := policy.NewRBACGate()
	g.AddPermission("user", policy.ActionSubmit)
	g.AddPermission("user", policy.ActionCancel)
	g.AddPermission("user", policy.ActionView)
	return g
}

func principal(userID string, roles ...string) *taskmodel.Principal {
	rs := make(map[string]struct{}, len(roles)+1)
	rs["user"] = struct{}{}
	for _, r := range roles {
		rs[r] = struct{}{}
	}
	return &taskmodel.Principal{
		UserID:    userID,
		Roles:     rs,
		Token:     "tok",
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func healthyStatus(id string) taskmodel.NodeStatus {
	return taskmodel.NodeStatus{
		NodeID:           id,
		CPULoad:          10,
		HealthIndicators: [3]float64{90, 90, 90},
	}
}

func newTestScheduler(fc *clock.Fake) *Scheduler {
	s := New(allowAllGate(), eventbus.New(), fc, DefaultConfig(), nil)
	return s
}

func TestSubmitVisibleBeforePlacement(t *testing.T) {
	fc := clock.NewFake(time.Now())
	s := newTestScheduler(fc)

	id, err := s.Submit(&taskmodel.Task{Type: "compute"}, principal("alice"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	pending := s.ListPending()
	if len(pending) != 1 || pending[0].ID != id {
		t.Fatalf("expected submitted task visible in pending list, got %v", pending)
	}
}

func TestSubmitUnauthorized(t *testing.T) {
	fc := clock.NewFake(time.Now())
	s := newTestScheduler(fc) // "user" role only, "guest" has no permissions

	_, err := s.Submit(&taskmodel.Task{Type: "compute"}, &taskmodel.Principal{
		UserID: "mallory", Roles: map[string]struct{}{"guest": {}}, Token: "t", ExpiresAt: time.Now().Add(time.Hour),
	})
	if err == nil {
		t.Fatal("expected unauthorized error")
	}
}

func TestPriorityOrderDispatchedFirst(t *testing.T) {
	fc := clock.NewFake(time.Now())
	s := newTestScheduler(fc)
	w := newFakeWorker("w1", 5)
	s.RegisterWorker(w)
	s.UpdateNodeStatus(healthyStatus("w1"))

	p := principal("alice")
	lowID, _ := s.Submit(&taskmodel.Task{Type: "compute", Priority: 1}, p)
	highID, _ := s.Submit(&taskmodel.Task{Type: "compute", Priority: 10}, p)

	s.runPlacementTick()

	if len(w.accepted) != 2 {
		t.Fatalf("expected both tasks dispatched, got %d", len(w.accepted))
	}
	if w.accepted[0].ID != highID {
		t.Fatalf("expected high priority task dispatched first, got %s want %s", w.accepted[0].ID, highID)
	}
	if w.accepted[1].ID != lowID {
		t.Fatalf("expected low priority task dispatched second, got %s want %s", w.accepted[1].ID, lowID)
	}
}

func TestWorkerDeathRequeuesAssignedTasks(t *testing.T) {
	fc := clock.NewFake(time.Now())
	s := newTestScheduler(fc)
	w := newFakeWorker("w1", 5)
	s.RegisterWorker(w)
	s.UpdateNodeStatus(healthyStatus("w1"))

	id, _ := s.Submit(&taskmodel.Task{Type: "compute"}, principal("alice"))
	s.runPlacementTick()
	if len(w.accepted) != 1 {
		t.Fatalf("expected task dispatched before worker death")
	}

	s.UnregisterWorker("w1")

	pending := s.ListPending()
	if len(pending) != 1 || pending[0].ID != id {
		t.Fatalf("expected task requeued after worker death, got %v", pending)
	}
}

func TestHeartbeatAuditEvictsStaleWorker(t *testing.T) {
	fc := clock.NewFake(time.Now())
	s := newTestScheduler(fc)
	w := newFakeWorker("w1", 5)
	s.RegisterWorker(w)
	// A worker that never heartbeated is not stale, so record one heartbeat.
	status := healthyStatus("w1")
	status.LastHeartbeat = fc.Now()
	s.UpdateNodeStatus(status)

	id, _ := s.Submit(&taskmodel.Task{Type: "compute"}, principal("alice"))
	s.runPlacementTick()
	if len(w.accepted) != 1 {
		t.Fatalf("expected task dispatched")
	}

	fc.Advance(10 * time.Second)
	s.runHeartbeatAudit()

	pending := s.ListPending()
	if len(pending) != 1 || pending[0].ID != id {
		t.Fatalf("expected task requeued after stale eviction, got %v", pending)
	}
	if s.registry.Get("w1") != nil {
		t.Fatalf("expected stale worker evicted from registry")
	}
}

func TestCancelPendingTask(t *testing.T) {
	fc := clock.NewFake(time.Now())
	s := newTestScheduler(fc)

	p := principal("alice")
	id, _ := s.Submit(&taskmodel.Task{Type: "compute"}, p)

	ok, err := s.Cancel(id, p)
	if err != nil || !ok {
		t.Fatalf("expected cancel to succeed, got ok=%v err=%v", ok, err)
	}
	if len(s.ListPending()) != 0 {
		t.Fatalf("expected task removed from pending after cancel")
	}
}

func TestCancelAssignedTaskStopsWorker(t *testing.T) {
	fc := clock.NewFake(time.Now())
	s := newTestScheduler(fc)
	w := newFakeWorker("w1", 5)
	s.RegisterWorker(w)
	s.UpdateNodeStatus(healthyStatus("w1"))

	p := principal("alice")
	id, _ := s.Submit(&taskmodel.Task{Type: "compute"}, p)
	s.runPlacementTick()

	ok, err := s.Cancel(id, p)
	if err != nil || !ok {
		t.Fatalf("expected cancel to succeed, got ok=%v err=%v", ok, err)
	}
	if len(w.accepted) != 0 {
		t.Fatalf("expected worker to drop cancelled task, still has %d", len(w.accepted))
	}
}

func TestCancelDeniedForNonOwner(t *testing.T) {
	fc := clock.NewFake(time.Now())
	s := newTestScheduler(fc)

	owner := principal("alice")
	other := principal("bob")
	id, _ := s.Submit(&taskmodel.Task{Type: "compute"}, owner)

	_, err := s.Cancel(id, other)
	if err == nil {
		t.Fatal("expected unauthorized error for non-owning principal")
	}
	if len(s.ListPending()) != 1 {
		t.Fatalf("expected task to remain pending after denied cancel")
	}
}

func TestNotifyCompletedTracksDeadlineSatisfaction(t *testing.T) {
	fc := clock.NewFake(time.Now())
	s := newTestScheduler(fc)
	w := newFakeWorker("w1", 5)
	s.RegisterWorker(w)
	s.UpdateNodeStatus(healthyStatus("w1"))

	p := principal("alice")
	onTimeID, _ := s.Submit(&taskmodel.Task{Type: "compute", Deadline: fc.Now().Add(time.Hour)}, p)
	s.runPlacementTick()

	s.NotifyCompleted(&taskmodel.TaskResult{TaskID: onTimeID, Success: true})

	if rate := s.store.DeadlineSatisfactionRate(); rate != 1 {
		t.Fatalf("expected deadline satisfaction rate 1, got %f", rate)
	}

	// A second completion for the same id is dropped silently.
	s.NotifyCompleted(&taskmodel.TaskResult{TaskID: onTimeID, Success: false})
	total, _ := s.store.Metrics()
	if total != 1 {
		t.Fatalf("expected duplicate completion to be ignored, total=%d", total)
	}
}

func TestAwaitCompletionResolvesAfterNotify(t *testing.T) {
	fc := clock.NewFake(time.Now())
	s := newTestScheduler(fc)
	w := newFakeWorker("w1", 5)
	s.RegisterWorker(w)
	s.UpdateNodeStatus(healthyStatus("w1"))

	id, _ := s.Submit(&taskmodel.Task{Type: "compute"}, principal("alice"))
	s.runPlacementTick()

	aw, err := s.AwaitCompletion(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan *taskmodel.TaskResult, 1)
	go func() {
		r, _ := aw.Wait(context.Background())
		done <- r
	}()

	s.NotifyCompleted(&taskmodel.TaskResult{TaskID: id, Success: true})

	select {
	case r := <-done:
		if r.TaskID != id || !r.Success {
			t.Fatalf("unexpected result: %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("awaitable did not resolve")
	}
}

func TestAwaitCompletionUnknownTask(t *testing.T) {
	fc := clock.NewFake(time.Now())
	s := newTestScheduler(fc)
	if _, err := s.AwaitCompletion("no-such-task"); err == nil {
		t.Fatal("expected error for unknown task")
	}
}

func TestHighThroughputAdmission(t *testing.T) {
	fc := clock.NewFake(time.Now())
	s := newTestScheduler(fc)
	p := principal("alice")

	const n = 10000
	for i := 0; i < n; i++ {
		if _, err := s.Submit(&taskmodel.Task{Type: "compute", Priority: i % 10}, p); err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
	}
	if got := len(s.ListPending()); got != n {
		t.Fatalf("expected %d pending tasks, got %d", n, got)
	}
}
