package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fluxsched/fluxsched/internal/clock"
	"github.com/fluxsched/fluxsched/internal/taskmodel"
)

type fakeIdempotencyStore struct {
	mu      sync.Mutex
	claimed map[string]bool
}

func newFakeIdempotencyStore() *fakeIdempotencyStore {
	return &fakeIdempotencyStore{claimed: make(map[string]bool)}
}

func (f *fakeIdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimed[key] {
		return false, nil
	}
	f.claimed[key] = true
	return true, nil
}

func TestSubmitIdempotentRejectsRetryWithSameKey(t *testing.T) {
	fc := clock.NewFake(time.Now())
	s := newTestScheduler(fc).WithIdempotencyStore(newFakeIdempotencyStore())
	p := principal("alice")

	id1, err := s.SubmitIdempotent(context.Background(), &taskmodel.Task{Type: "compute"}, p, "retry-key-1")
	if err != nil {
		t.Fatalf("unexpected error on first submit: %v", err)
	}

	_, err = s.SubmitIdempotent(context.Background(), &taskmodel.Task{Type: "compute"}, p, "retry-key-1")
	if err == nil {
		t.Fatal("expected second submit with the same idempotency key to be rejected")
	}

	if len(s.ListPending()) != 1 || s.ListPending()[0].ID != id1 {
		t.Fatalf("expected exactly one admitted task, got %v", s.ListPending())
	}
}

func TestSubmitIdempotentWithoutStoreBehavesLikeSubmit(t *testing.T) {
	fc := clock.NewFake(time.Now())
	s := newTestScheduler(fc)
	p := principal("alice")

	_, err := s.SubmitIdempotent(context.Background(), &taskmodel.Task{Type: "compute"}, p, "some-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = s.SubmitIdempotent(context.Background(), &taskmodel.Task{Type: "compute"}, p, "some-key")
	if err != nil {
		t.Fatalf("expected second submit to also succeed without an idempotency store, got %v", err)
	}
	if len(s.ListPending()) != 2 {
		t.Fatalf("expected two independently admitted tasks, got %d", len(s.ListPending()))
	}
}
