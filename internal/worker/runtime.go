// Package worker implements the Worker Runtime component (spec.md §4.6,
// C8): per-worker task intake queue, bounded concurrent execution, status
// sampling, heartbeat emission, and the graceful stop protocol.
//
// Grounded in fluxforge/agent (executor.go, heartbeat.go), restructured
// from an HTTP-calling standalone agent process into an in-process runtime
// the Scheduler Core calls directly — the teacher's three-phase execution
// shape (commence / progress / terminate) and its "never propagate a raw
// failure outside the completion channel" discipline are kept; the
// HTTP POST to "/jobs/result" is replaced with the CompletionPublisher
// capability described in spec.md §9's design notes (a callback + token,
// not an owning back-pointer to the scheduler).
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fluxsched/fluxsched/internal/clock"
	"github.com/fluxsched/fluxsched/internal/taskmodel"
)

// WorkFunc executes a single task and returns its result. A WorkFunc must
// never panic past the runtime boundary; Runtime recovers any panic and
// synthesizes a failure completion in its place (spec.md §4.6:
// "the runtime never propagates a failure outside the completion
// channel").
type WorkFunc func(ctx context.Context, task *taskmodel.Task) *taskmodel.TaskResult

// CompletionPublisher delivers a task's result back to whoever is tracking
// it (normally Scheduler.NotifyCompleted). It is a capability, not an
// owning pointer. The runtime keeps calling it after Stop: for the shutdown
// results Stop synthesizes and for any task that finishes afterwards.
type CompletionPublisher func(result *taskmodel.TaskResult)

// Config configures a Runtime. Grounded in the teacher's SchedulerConfig /
// DefaultSchedulerConfig shape (a small struct plus a Default constructor).
type Config struct {
	MaxConcurrency int
	SampleInterval time.Duration // period of the dispatch re-check tick, ~500ms
	HeartbeatEvery time.Duration // default heartbeat period, ~1s
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 5,
		SampleInterval: 500 * time.Millisecond,
		HeartbeatEvery: time.Second,
	}
}

// Runtime is a single worker node's execution engine.
type Runtime struct {
	id     string
	work   WorkFunc
	clk    clock.Clock
	cfg    Config
	onDone CompletionPublisher
	onBeat func(status taskmodel.NodeStatus)

	mu      sync.Mutex
	running bool
	pending []*taskmodel.Task
	active  map[string]*activeTask

	sampleTicker    clock.Ticker
	heartbeatTicker clock.Ticker
	stopCh          chan struct{}
	loopWG          sync.WaitGroup // heartbeatLoop + dispatchLoop only
	taskWG          sync.WaitGroup // in-flight execute() goroutines

	dispatchCh chan struct{}
}

type activeTask struct {
	task   *taskmodel.Task
	cancel context.CancelFunc
}

// New returns a stopped Runtime for the given worker id.
func New(id string, work WorkFunc, clk clock.Clock, cfg Config, onDone CompletionPublisher, onBeat func(taskmodel.NodeStatus)) *Runtime {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = DefaultConfig().SampleInterval
	}
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = DefaultConfig().HeartbeatEvery
	}
	return &Runtime{
		id:         id,
		work:       work,
		clk:        clk,
		cfg:        cfg,
		onDone:     onDone,
		onBeat:     onBeat,
		active:     make(map[string]*activeTask),
		dispatchCh: make(chan struct{}, 1),
	}
}

// ID returns the worker's stable identifier.
func (r *Runtime) ID() string { return r.id }

// MaxConcurrency returns the configured concurrency budget.
func (r *Runtime) MaxConcurrency() int { return r.cfg.MaxConcurrency }

// Running reports whether Start has been called without a matching Stop.
func (r *Runtime) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// ActiveCount returns the number of tasks currently executing.
func (r *Runtime) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Start sets running and starts the heartbeat emitter and the dispatch
// loop. The SampleInterval ticker re-runs dispatch; status is sampled on
// demand by SampleStatus at each heartbeat, not by a separate sampler.
func (r *Runtime) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.mu.Unlock()

	r.sampleTicker = r.clk.NewTicker(r.cfg.SampleInterval)
	r.heartbeatTicker = r.clk.NewTicker(r.cfg.HeartbeatEvery)

	r.loopWG.Add(2)
	go r.heartbeatLoop()
	go r.dispatchLoop()
}

// Stop sets running false, cancels timers, and synthesizes a
// "worker shut down" completion for every task still pending or active,
// then clears both structures (spec.md §4.6).
//
// Stop waits only for the two control loops to exit, not for cancelled
// executions to unwind: an execute() goroutine that is slow to notice its
// context was cancelled must not be able to hang Stop. Its eventual
// completion (reported as cancelled) is published same as any other — the store treats it
// as a harmless duplicate of the shutdown result already recorded here.
func (r *Runtime) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	pending := r.pending
	r.pending = nil
	active := make([]*activeTask, 0, len(r.active))
	for _, a := range r.active {
		active = append(active, a)
	}
	r.active = make(map[string]*activeTask)
	stopCh := r.stopCh
	r.mu.Unlock()

	close(stopCh)
	if r.sampleTicker != nil {
		r.sampleTicker.Stop()
	}
	if r.heartbeatTicker != nil {
		r.heartbeatTicker.Stop()
	}
	r.loopWG.Wait()

	for _, t := range pending {
		r.publish(shutdownResult(t.ID))
	}
	for _, a := range active {
		a.cancel()
		r.publish(shutdownResult(a.task.ID))
	}
}

func shutdownResult(taskID string) *taskmodel.TaskResult {
	return &taskmodel.TaskResult{TaskID: taskID, Success: false, ErrorMessage: "worker shut down"}
}

// AcceptTask enqueues task if the worker is running and under its
// concurrency budget; otherwise it rejects. A false return tells the
// caller (the placement tick) to try the next worker on the next tick.
func (r *Runtime) AcceptTask(task *taskmodel.Task) bool {
	r.mu.Lock()
	if !r.running || len(r.active) >= r.cfg.MaxConcurrency {
		r.mu.Unlock()
		return false
	}
	r.pending = append(r.pending, task)
	r.mu.Unlock()

	select {
	case r.dispatchCh <- struct{}{}:
	default:
	}
	return true
}

// Cancel removes id from the pending queue if present, else cancels it in
// the active set if present, synthesizing a "cancelled" completion either
// way. Returns whether the task was found.
func (r *Runtime) Cancel(id string) bool {
	r.mu.Lock()
	for i, t := range r.pending {
		if t.ID == id {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			r.mu.Unlock()
			r.publish(&taskmodel.TaskResult{TaskID: id, Success: false, ErrorMessage: "cancelled"})
			return true
		}
	}
	a, ok := r.active[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	a.cancel()
	return true
}

// SampleStatus returns a current NodeStatus snapshot. The evolution of
// cpu_load/memory_used/health_indicators is implementation-defined per
// spec.md §4.6; this implementation derives a light synthetic load signal
// from queue/active depth so tests can assert monotonicity without a real
// OS sampler.
func (r *Runtime) SampleStatus() taskmodel.NodeStatus {
	r.mu.Lock()
	queued := len(r.pending)
	processing := len(r.active)
	maxConcurrency := r.cfg.MaxConcurrency
	r.mu.Unlock()

	saturation := float64(processing) / float64(maxConcurrency)
	cpuLoad := saturation * 80 // never reports full saturation as 100 on its own
	health := 100 - saturation*30

	return taskmodel.NodeStatus{
		NodeID:           r.id,
		CPULoad:          cpuLoad,
		MemoryUsed:       uint64(queued+processing) * 8 * 1024 * 1024,
		TasksQueued:      queued,
		TasksProcessing:  processing,
		HealthIndicators: [3]float64{health, health, health},
		LastHeartbeat:    r.clk.Now(),
	}
}

func (r *Runtime) publish(result *taskmodel.TaskResult) {
	r.mu.Lock()
	onDone := r.onDone
	r.mu.Unlock()
	if onDone != nil {
		onDone(result)
	}
}

func (r *Runtime) heartbeatLoop() {
	defer r.loopWG.Done()
	for {
		select {
		case <-r.stopCh:
			return
		case <-r.heartbeatTicker.C():
			status := r.SampleStatus()
			if r.onBeat != nil {
				r.onBeat(status)
			}
		}
	}
}

// dispatchLoop pulls accepted tasks off the pending queue and runs them
// concurrently, up to MaxConcurrency. Additional accepted tasks wait in
// the pending queue without blocking AcceptTask (spec.md §4.6).
func (r *Runtime) dispatchLoop() {
	defer r.loopWG.Done()
	for {
		select {
		case <-r.stopCh:
			return
		case <-r.sampleTicker.C():
			r.tryDispatch()
		case <-r.dispatchCh:
			r.tryDispatch()
		}
	}
}

func (r *Runtime) tryDispatch() {
	for {
		r.mu.Lock()
		if !r.running || len(r.pending) == 0 || len(r.active) >= r.cfg.MaxConcurrency {
			r.mu.Unlock()
			return
		}
		task := r.pending[0]
		r.pending = r.pending[1:]
		ctx, cancel := context.WithCancel(context.Background())
		r.active[task.ID] = &activeTask{task: task, cancel: cancel}
		r.mu.Unlock()

		r.taskWG.Add(1)
		go r.execute(ctx, task)
	}
}

// execute runs the three conceptual phases (commence / progress / terminate)
// of spec.md §4.6, recovering any panic escaping the work function into a
// failure completion.
func (r *Runtime) execute(ctx context.Context, task *taskmodel.Task) {
	defer r.taskWG.Done()

	start := r.clk.Now()
	result := r.runWork(ctx, task)
	if ctx.Err() != nil {
		// Cancelled (by Cancel or Stop) while running: report the
		// cancellation, whatever the work function returned.
		result = &taskmodel.TaskResult{TaskID: task.ID, Success: false, ErrorMessage: "cancelled"}
	}
	result.ExecutionTime = r.clk.Now().Sub(start)
	result.ExecutionMS = result.ExecutionTime.Milliseconds()

	r.mu.Lock()
	delete(r.active, task.ID)
	r.mu.Unlock()

	r.publish(result)

	select {
	case r.dispatchCh <- struct{}{}:
	default:
	}
}

func (r *Runtime) runWork(ctx context.Context, task *taskmodel.Task) (result *taskmodel.TaskResult) {
	defer func() {
		if rec := recover(); rec != nil {
			result = &taskmodel.TaskResult{
				TaskID:       task.ID,
				Success:      false,
				ErrorMessage: fmt.Sprintf("panic: %v", rec),
			}
		}
	}()

	select {
	case <-ctx.Done():
		return &taskmodel.TaskResult{TaskID: task.ID, Success: false, ErrorMessage: "cancelled"}
	default:
	}

	return r.work(ctx, task)
}
