package registry

import (
	"testing"
	"time"

	"github.com/fluxsched/fluxsched/internal/taskmodel"
)

type stubHandle struct {
	id      string
	running bool
}

func (h *stubHandle) ID() string                              { return h.id }
func (h *stubHandle) Running() bool                            { return h.running }
func (h *stubHandle) MaxConcurrency() int                      { return 5 }
func (h *stubHandle) ActiveCount() int                         { return 0 }
func (h *stubHandle) AcceptTask(task *taskmodel.Task) bool     { return h.running }
func (h *stubHandle) Cancel(id string) bool                    { return false }

func TestUpdateStatusDropsUnknownWorker(t *testing.T) {
	r := New()
	r.UpdateStatus(taskmodel.NodeStatus{NodeID: "ghost", CPULoad: 1})

	for _, s := range r.Snapshot() {
		if s.NodeID == "ghost" {
			t.Fatal("expected status update for unregistered worker to be dropped")
		}
	}
}

func TestStaleSinceIgnoresNeverHeartbeated(t *testing.T) {
	r := New()
	r.Register(&stubHandle{id: "w1", running: true})

	stale := r.StaleSince(time.Now(), 5*time.Second)
	if len(stale) != 0 {
		t.Fatalf("expected no stale workers before first heartbeat, got %v", stale)
	}
}

func TestStaleSinceDetectsExpiredHeartbeat(t *testing.T) {
	r := New()
	r.Register(&stubHandle{id: "w1", running: true})

	now := time.Now()
	r.UpdateStatus(taskmodel.NodeStatus{NodeID: "w1", LastHeartbeat: now})

	stale := r.StaleSince(now.Add(10*time.Second), 5*time.Second)
	if len(stale) != 1 || stale[0] != "w1" {
		t.Fatalf("expected w1 stale, got %v", stale)
	}

	fresh := r.StaleSince(now.Add(2*time.Second), 5*time.Second)
	if len(fresh) != 0 {
		t.Fatalf("expected no stale workers within threshold, got %v", fresh)
	}
}

func TestUnregisterRemovesFromCandidatesAndSnapshot(t *testing.T) {
	r := New()
	r.Register(&stubHandle{id: "w1", running: true})
	r.Unregister("w1")

	if len(r.IterCandidates()) != 0 {
		t.Fatal("expected no candidates after unregister")
	}
	if r.Get("w1") != nil {
		t.Fatal("expected Get to return nil after unregister")
	}
}

func TestIterCandidatesSortedByID(t *testing.T) {
	r := New()
	r.Register(&stubHandle{id: "w2", running: true})
	r.Register(&stubHandle{id: "w1", running: true})

	candidates := r.IterCandidates()
	if len(candidates) != 2 || candidates[0].Handle.ID() != "w1" || candidates[1].Handle.ID() != "w2" {
		t.Fatalf("expected candidates sorted by id, got %v", candidates)
	}
}
