package placement

import (
	"testing"

	"github.com/fluxsched/fluxsched/internal/taskmodel"
)

func TestEstimateRuntimeMonotoneInDifficulty(t *testing.T) {
	low := &taskmodel.Task{Type: "compute", Metadata: map[string]string{"complexity": "1"}}
	high := &taskmodel.Task{Type: "compute", Metadata: map[string]string{"complexity": "10"}}

	if EstimateRuntime(high) <= EstimateRuntime(low) {
		t.Fatalf("expected higher complexity to yield a longer estimate, low=%v high=%v",
			EstimateRuntime(low), EstimateRuntime(high))
	}
}

func TestEstimateRuntimeUnknownTypeFallsBackToDefault(t *testing.T) {
	task := &taskmodel.Task{Type: "mystery"}
	if got := EstimateRuntime(task); got != 300_000_000 { // 300ms in ns
		t.Fatalf("expected default 300ms estimate, got %v", got)
	}
}

func TestEstimateRuntimeIgnoresGarbageMetadata(t *testing.T) {
	task := &taskmodel.Task{Type: "compute", Metadata: map[string]string{"complexity": "not-a-number"}}
	if got := EstimateRuntime(task); got != 250_000_000 { // 200 + 1*50 ms, default complexity 1
		t.Fatalf("expected default complexity fallback, got %v", got)
	}
}
