// Package scheduler implements the Scheduler Core (spec.md §4.4, C6): the
// orchestrator wiring TaskStore, WorkerRegistry, Placement Policy, Event
// Bus, and Completion Awaitable behind the submit/await/cancel/notify API.
//
// Grounded in the teacher's scheduler.Scheduler (queue + admission checks +
// Submit/processNextTask shape) for the external API, and in
// coordination.AgentMonitor's ticker-driven sweep loop
// (control_plane/coordination/agent_monitor.go) for both control loops
// below. The teacher's admission knobs (circuit breaker, shard routing,
// admission mode) are out of spec.md's scope; what survives is its
// "lock, check, log, update metric" loop shape.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fluxsched/fluxsched/internal/awaitable"
	"github.com/fluxsched/fluxsched/internal/clock"
	"github.com/fluxsched/fluxsched/internal/eventbus"
	"github.com/fluxsched/fluxsched/internal/metrics"
	"github.com/fluxsched/fluxsched/internal/placement"
	"github.com/fluxsched/fluxsched/internal/policy"
	"github.com/fluxsched/fluxsched/internal/registry"
	"github.com/fluxsched/fluxsched/internal/schederr"
	"github.com/fluxsched/fluxsched/internal/store"
	"github.com/fluxsched/fluxsched/internal/taskmodel"
	"github.com/fluxsched/fluxsched/internal/taskstore"
)

// idempotencyTTL bounds how long a SubmitIdempotent reservation blocks a
// retried submission with the same token, grounded in the teacher's
// lock_expiry = max_expected_execution_time * 2 convention
// (control_plane/store/redis_idempotency.go).
const idempotencyTTL = 10 * time.Minute

// IDGenerator produces a fresh task id when a submission doesn't supply
// one. Pluggable so callers can swap in their own id scheme; the teacher's
// own generators (request ids, snowflake-style ids) are not reused
// verbatim because they are shaped around an entirely different entity.
type IDGenerator func() string

// Config tunes the two control loops. Grounded in agent_monitor.go's
// interval/threshold pair, extended with the placement tick's own period.
type Config struct {
	PlacementTick  time.Duration // ~100ms, spec.md §4.4
	HeartbeatAudit time.Duration // ~1s, spec.md §4.2/§4.4
	StaleThreshold time.Duration // 5s, spec.md §4.2
}

// DefaultConfig returns the periods named in spec.md.
func DefaultConfig() Config {
	return Config{
		PlacementTick:  100 * time.Millisecond,
		HeartbeatAudit: time.Second,
		StaleThreshold: 5 * time.Second,
	}
}

// Scheduler is the Scheduler Core: the single orchestrator a deployment
// constructs once and drives via Start/Stop.
type Scheduler struct {
	store    *taskstore.Store
	registry *registry.Registry
	policy   *placement.Policy
	gate     policy.Gate
	bus      eventbus.Bus
	clk      clock.Clock
	cfg      Config
	genID    IDGenerator
	idem     store.IdempotencyStore
	snapshot store.SnapshotStore

	mu          sync.Mutex
	running     bool
	stopCh      chan struct{}
	wg          sync.WaitGroup
	assignments map[string][]string // worker id -> task ids currently assigned to it

	placementTicker clock.Ticker
	auditTicker     clock.Ticker
}

// New wires a Scheduler from its component dependencies. bus and gate are
// external interfaces (spec.md C2/C9); a nil gate denies everything, a nil
// bus is a programmer error the caller must avoid.
func New(gate policy.Gate, bus eventbus.Bus, clk clock.Clock, cfg Config, genID IDGenerator) *Scheduler {
	if cfg.PlacementTick <= 0 {
		cfg.PlacementTick = DefaultConfig().PlacementTick
	}
	if cfg.HeartbeatAudit <= 0 {
		cfg.HeartbeatAudit = DefaultConfig().HeartbeatAudit
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = DefaultConfig().StaleThreshold
	}
	if genID == nil {
		genID = defaultIDGenerator()
	}
	if gate == nil {
		gate = denyAllGate{}
	}
	return &Scheduler{
		store:       taskstore.New(),
		registry:    registry.New(),
		policy:      placement.New(),
		gate:        gate,
		bus:         bus,
		clk:         clk,
		cfg:         cfg,
		genID:       genID,
		assignments: make(map[string][]string),
	}
}

// denyAllGate is the Gate New installs when given a nil gate.
type denyAllGate struct{}

func (denyAllGate) Authorize(*taskmodel.Principal, policy.Action, policy.Resource) bool { return false }

// WithIdempotencyStore attaches an optional IdempotencyStore, enabling
// SubmitIdempotent. Without one, SubmitIdempotent behaves like Submit.
func (s *Scheduler) WithIdempotencyStore(idem store.IdempotencyStore) *Scheduler {
	s.idem = idem
	return s
}

// WithSnapshotStore attaches an optional SnapshotStore (SPEC_FULL.md §10):
// every Submit and NotifyCompleted is persisted so a restart's rehydration
// pass (the caller's LoadPending) reflects this process's own activity,
// not just whatever an earlier process had saved. Without one, Submit and
// NotifyCompleted skip persistence entirely.
func (s *Scheduler) WithSnapshotStore(snap store.SnapshotStore) *Scheduler {
	s.snapshot = snap
	return s
}

func defaultIDGenerator() IDGenerator {
	var n uint64
	var mu sync.Mutex
	return func() string {
		mu.Lock()
		n++
		id := n
		mu.Unlock()
		return fmt.Sprintf("task-%d-%d", time.Now().UnixNano(), id)
	}
}

// Start launches the placement tick and heartbeat audit control loops.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.placementTicker = s.clk.NewTicker(s.cfg.PlacementTick)
	s.auditTicker = s.clk.NewTicker(s.cfg.HeartbeatAudit)

	s.wg.Add(2)
	go s.placementLoop()
	go s.heartbeatAuditLoop()

	log.Printf("scheduler: started (placement_tick=%s heartbeat_audit=%s stale_threshold=%s)",
		s.cfg.PlacementTick, s.cfg.HeartbeatAudit, s.cfg.StaleThreshold)
}

// Stop halts both control loops and waits for them to exit. It does not
// touch registered workers or in-flight tasks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh := s.stopCh
	s.mu.Unlock()

	close(stopCh)
	s.placementTicker.Stop()
	s.auditTicker.Stop()
	s.wg.Wait()
	log.Printf("scheduler: stopped")
}

// Submit validates the principal, authorizes the submission, assigns an id
// if the caller didn't supply one, and inserts the task into the
// TaskStore. The task is visible to ListPending immediately, before any
// placement tick has run (spec.md §4.4).
func (s *Scheduler) Submit(task *taskmodel.Task, principal *taskmodel.Principal) (string, error) {
	now := s.clk.Now()
	if !principal.Valid(now) {
		return "", schederr.ErrInvalidPrincipal
	}
	if !s.gate.Authorize(principal, policy.ActionSubmit, policy.Resource{TaskType: task.Type}) {
		return "", schederr.ErrUnauthorized
	}

	if task.ID == "" {
		task.ID = s.genID()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.SubmittedBy = principal.UserID

	if err := s.store.Insert(task); err != nil {
		return "", err
	}
	if s.snapshot != nil {
		if err := s.snapshot.SaveTask(context.Background(), task); err != nil {
			log.Printf("scheduler: snapshot save-task failed task=%s err=%v", task.ID, err)
		}
	}
	metrics.QueueDepth.Set(float64(len(s.store.ListPending())))
	return task.ID, nil
}

// SubmitIdempotent behaves like Submit, but first reserves idempotencyKey
// in the configured IdempotencyStore (SPEC_FULL.md §10): a retried submit
// carrying a key already reserved within idempotencyTTL is rejected with
// ErrDuplicateTask instead of admitting a second task. Without an
// IdempotencyStore configured, or with an empty key, it is plain Submit.
func (s *Scheduler) SubmitIdempotent(ctx context.Context, task *taskmodel.Task, principal *taskmodel.Principal, idempotencyKey string) (string, error) {
	if s.idem == nil || idempotencyKey == "" {
		return s.Submit(task, principal)
	}
	won, err := s.idem.Reserve(ctx, idempotencyKey, idempotencyTTL)
	if err != nil {
		return "", err
	}
	if !won {
		return "", schederr.ErrDuplicateTask
	}
	return s.Submit(task, principal)
}

// AwaitCompletion returns an Awaitable for taskID. If the task already has
// a recorded result, the Awaitable resolves immediately; otherwise it
// subscribes to task_completed events via the Event Bus (spec.md §4.5).
// Returns ErrUnknownTask if the id was never submitted.
func (s *Scheduler) AwaitCompletion(taskID string) (*awaitable.Awaitable, error) {
	if s.store.Get(taskID) == nil {
		return nil, schederr.ErrUnknownTask
	}
	existing := s.store.GetResult(taskID)
	return awaitable.New(s.bus, taskID, existing), nil
}

// Cancel authorizes the request, then applies spec.md §4.4's four
// cancellation outcomes: unknown task -> false; already completed -> false;
// pending-only -> dropped from the TaskStore; assigned -> the owning
// worker is asked to cancel it directly.
func (s *Scheduler) Cancel(taskID string, principal *taskmodel.Principal) (bool, error) {
	now := s.clk.Now()
	if !principal.Valid(now) {
		return false, schederr.ErrInvalidPrincipal
	}

	task := s.store.Get(taskID)
	if task == nil {
		return false, nil
	}

	resource := policy.Resource{TaskID: task.ID, TaskType: task.Type, SubmittedBy: task.SubmittedBy}
	if !s.gate.Authorize(principal, policy.ActionCancel, resource) {
		return false, schederr.ErrUnauthorized
	}

	if task.Completed() {
		return false, nil
	}
	if task.Pending() {
		s.store.Drop(taskID)
		return true, nil
	}

	// InFlight: ask the owning worker to cancel it.
	h := s.registry.Get(task.AssignedTo)
	if h == nil {
		// Worker already gone; the failure handler will have requeued it,
		// or is about to. Treat as not found for this call.
		return false, nil
	}
	h.Cancel(taskID)
	return true, nil
}

// NotifyCompleted records a task's result and publishes task_completed.
// A duplicate completion for an already-recorded task is dropped silently
// (spec invariant T1); NotifyCompleted itself never returns that as an
// error to the worker runtime, which has no use for it.
func (s *Scheduler) NotifyCompleted(result *taskmodel.TaskResult) {
	now := s.clk.Now()
	err := s.store.RecordCompletion(result.TaskID, result, now)
	if err == schederr.ErrAlreadyCompleted || err == schederr.ErrUnknownTask {
		return
	}

	if s.snapshot != nil {
		if err := s.snapshot.SaveResult(context.Background(), result); err != nil {
			log.Printf("scheduler: snapshot save-result failed task=%s err=%v", result.TaskID, err)
		}
	}

	metrics.TaskCompletions.WithLabelValues(fmt.Sprintf("%t", result.Success)).Inc()
	metrics.DeadlineSatisfactionRate.Set(s.store.DeadlineSatisfactionRate())
	s.bus.PublishTaskCompleted(result)
}

// RegisterWorker adds a worker handle to the registry, immediately making
// it eligible for the next placement tick.
func (s *Scheduler) RegisterWorker(h registry.Handle) {
	s.registry.Register(h)
	log.Printf("scheduler: worker registered id=%s", h.ID())
}

// UnregisterWorker removes a worker and requeues every task it held, per
// spec.md §4.4's worker-failure handler. Lock ordering: the registry
// mutation happens before any TaskStore mutation, per spec.md §5.
func (s *Scheduler) UnregisterWorker(id string) {
	s.registry.Unregister(id)
	s.requeueOrphansOf(id)
	log.Printf("scheduler: worker unregistered id=%s", id)
}

// UpdateNodeStatus records a worker's self-reported status and publishes
// status_changed (spec.md §4.4).
func (s *Scheduler) UpdateNodeStatus(status taskmodel.NodeStatus) {
	s.registry.UpdateStatus(status)
	if h := s.registry.Get(status.NodeID); h != nil && h.MaxConcurrency() > 0 {
		metrics.WorkerSaturation.WithLabelValues(status.NodeID).Set(float64(status.TasksProcessing) / float64(h.MaxConcurrency()))
	}
	s.bus.PublishStatusChanged(status)
}

// ListPending exposes the TaskStore's pending view, used by the
// observability surface and by tests asserting priority order.
func (s *Scheduler) ListPending() []*taskmodel.Task {
	return s.store.ListPending()
}

// Snapshot exposes the WorkerRegistry's last-known statuses.
func (s *Scheduler) Snapshot() []taskmodel.NodeStatus {
	return s.registry.Snapshot()
}

// requeueOrphansOf requeues every task assigned to workerID, using the
// Scheduler's own assignment index (the TaskStore's contract stays
// id/priority/queue only; it does not index tasks by worker).
func (s *Scheduler) requeueOrphansOf(workerID string) {
	ids := s.takeAssignments(workerID)
	for _, id := range ids {
		s.store.Requeue(id)
	}
	if len(ids) > 0 {
		metrics.RequeuedTasks.Add(float64(len(ids)))
	}
}

func (s *Scheduler) takeAssignments(workerID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.assignments[workerID]
	delete(s.assignments, workerID)
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

func (s *Scheduler) trackAssignment(workerID, taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[workerID] = append(s.assignments[workerID], taskID)
}

// placementLoop drains the pending queue once per tick, handing each task
// to the Placement Policy's chosen worker, stopping the tick as soon as a
// chosen worker rejects a task (spec.md §4.4: "on rejection, stop this
// tick; the task is retried by a later tick").
func (s *Scheduler) placementLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.placementTicker.C():
			s.runPlacementTick()
		}
	}
}

func (s *Scheduler) runPlacementTick() {
	now := s.clk.Now()
	for {
		task := s.store.PopNextPending()
		if task == nil {
			return
		}

		candidates := s.registry.IterCandidates()
		workerID, ok := s.policy.Select(task, candidates, now)
		if !ok {
			err := schederr.ErrNoEligibleWorker
			metrics.SchedulingDecisions.WithLabelValues("NO_ELIGIBLE_WORKER").Inc()
			logDecision(Decision{TaskID: task.ID, Decision: "NO_ELIGIBLE_WORKER", Priority: task.Priority, Reason: err.Error()})
			s.store.Requeue(task.ID)
			return
		}

		h := s.registry.Get(workerID)
		if h == nil {
			// Policy.Select chose workerID from a candidate snapshot that is
			// already stale; treat it the same as finding no eligible worker.
			err := schederr.ErrNoEligibleWorker
			metrics.SchedulingDecisions.WithLabelValues("NO_ELIGIBLE_WORKER").Inc()
			logDecision(Decision{TaskID: task.ID, Decision: "NO_ELIGIBLE_WORKER", WorkerID: workerID, Priority: task.Priority, Reason: err.Error()})
			s.store.Requeue(task.ID)
			return
		}
		if !h.AcceptTask(task) {
			err := schederr.ErrCapacityExceeded
			metrics.SchedulingDecisions.WithLabelValues("REJECTED").Inc()
			logDecision(Decision{TaskID: task.ID, Decision: "REJECTED", WorkerID: workerID, Priority: task.Priority, Reason: err.Error()})
			s.store.Requeue(task.ID)
			return
		}

		if err := s.store.MarkAssigned(task.ID, workerID, now); err != nil {
			// Lost a race with a cancellation between pop and assign; the
			// worker already has the task queued locally and will report a
			// completion the store will drop as unknown.
			log.Printf("scheduler: mark-assigned failed task=%s worker=%s err=%v", task.ID, workerID, err)
		}
		s.trackAssignment(workerID, task.ID)
		metrics.SchedulingDecisions.WithLabelValues("DISPATCH").Inc()
		metrics.AdmissionWaitSeconds.Observe(now.Sub(task.CreatedAt).Seconds())
		logDecision(Decision{TaskID: task.ID, Decision: "DISPATCH", WorkerID: workerID, Priority: task.Priority})
	}
}

// heartbeatAuditLoop evicts workers whose last heartbeat exceeds
// StaleThreshold, grounded in coordination.AgentMonitor.checkLiveness.
func (s *Scheduler) heartbeatAuditLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.auditTicker.C():
			s.runHeartbeatAudit()
		}
	}
}

func (s *Scheduler) runHeartbeatAudit() {
	now := s.clk.Now()
	stale := s.registry.StaleSince(now, s.cfg.StaleThreshold)
	for _, id := range stale {
		log.Printf("scheduler: worker heartbeat stale, evicting id=%s", id)
		s.UnregisterWorker(id)
		metrics.WorkerEvictions.Inc()
	}
	if len(stale) > 0 {
		// A batch of tasks just re-entered the pending queue; don't wait
		// for the next regular tick to place them.
		s.runPlacementTick()
	}
}
