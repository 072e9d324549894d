// Command fluxsched wires one Scheduler Core, an in-process Event Bus, a
// handful of Worker Runtimes, the Prometheus /metrics endpoint, and the
// websocket status feed into a single runnable process.
//
// This is demo/operational scaffolding around the core library, grounded
// in control_plane/main.go's flat main()-wires-everything style, not part
// of the core's tested surface.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fluxsched/fluxsched/internal/clock"
	"github.com/fluxsched/fluxsched/internal/eventbus"
	"github.com/fluxsched/fluxsched/internal/policy"
	"github.com/fluxsched/fluxsched/internal/scheduler"
	"github.com/fluxsched/fluxsched/internal/statusfeed"
	"github.com/fluxsched/fluxsched/internal/store/postgres"
	"github.com/fluxsched/fluxsched/internal/store/redisstore"
	"github.com/fluxsched/fluxsched/internal/taskmodel"
	"github.com/fluxsched/fluxsched/internal/worker"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func main() {
	gate := policy.NewRBACGate()
	gate.AddPermission("operator", policy.ActionSubmit)
	gate.AddPermission("operator", policy.ActionCancel)

	verifier := policy.NewHMACVerifier([]byte(envOr("FLUXSCHED_TOKEN_SECRET", "dev-secret-do-not-use-in-prod")),
		"fluxsched", envOr("FLUXSCHED_TOKEN_AUDIENCE", "fluxsched-clients"))

	bus := eventbus.New()

	cfg := scheduler.Config{
		PlacementTick:  envDurationOr("FLUXSCHED_PLACEMENT_TICK", scheduler.DefaultConfig().PlacementTick),
		HeartbeatAudit: envDurationOr("FLUXSCHED_HEARTBEAT_AUDIT", scheduler.DefaultConfig().HeartbeatAudit),
		StaleThreshold: envDurationOr("FLUXSCHED_STALE_THRESHOLD", scheduler.DefaultConfig().StaleThreshold),
	}
	sched := scheduler.New(gate, bus, clock.System{}, cfg, nil)

	if redisAddr := os.Getenv("FLUXSCHED_REDIS_ADDR"); redisAddr != "" {
		idem, err := redisstore.New(redisAddr, os.Getenv("FLUXSCHED_REDIS_PASSWORD"), envIntOr("FLUXSCHED_REDIS_DB", 0))
		if err != nil {
			log.Fatalf("fluxsched: redis idempotency store unavailable: %v", err)
		}
		defer idem.Close()
		sched = sched.WithIdempotencyStore(idem)
		log.Printf("fluxsched: idempotent submission backed by redis at %s", redisAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if pgURL := os.Getenv("FLUXSCHED_POSTGRES_URL"); pgURL != "" {
		snap, err := postgres.New(ctx, pgURL)
		if err != nil {
			log.Fatalf("fluxsched: postgres snapshot store unavailable: %v", err)
		}
		defer snap.Close()
		rehydrate(ctx, sched, snap)
		sched = sched.WithSnapshotStore(snap)
		log.Printf("fluxsched: task/result persistence backed by postgres")
	}

	sched.Start()
	defer sched.Stop()

	workerCount := envIntOr("FLUXSCHED_WORKERS", 3)
	runtimes := make([]*worker.Runtime, 0, workerCount)
	for i := 0; i < workerCount; i++ {
		id := fmt.Sprintf("worker-%d", i)
		rt := worker.New(id, echoWork, clock.System{}, worker.DefaultConfig(),
			sched.NotifyCompleted, sched.UpdateNodeStatus)
		rt.Start()
		defer rt.Stop()
		sched.RegisterWorker(rt)
		runtimes = append(runtimes, rt)
	}
	log.Printf("fluxsched: started %d worker runtimes", len(runtimes))

	feed := statusfeed.NewHub(sched, bus)
	go feed.Run(ctx)

	a := &api{sched: sched, verifier: verifier}
	http.HandleFunc("/tasks", a.handleSubmit)
	http.HandleFunc("/tasks/", a.handleCancel)
	http.Handle("/status/stream", feed)
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	addr := ":" + envOr("FLUXSCHED_HTTP_PORT", "8080")
	srv := &http.Server{Addr: addr, Handler: http.DefaultServeMux}
	go func() {
		log.Printf("fluxsched: listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("fluxsched: http server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("fluxsched: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

// rehydrate reloads every unfinished task from snap and resubmits it as a
// system-originated submission, per spec.md §6: on reload, a task with no
// matching result MUST be treated as pending and re-placed.
func rehydrate(ctx context.Context, sched *scheduler.Scheduler, snap interface {
	LoadPending(ctx context.Context) ([]*taskmodel.Task, error)
}) {
	pending, err := snap.LoadPending(ctx)
	if err != nil {
		log.Printf("fluxsched: failed to load pending tasks from snapshot store: %v", err)
		return
	}
	system := &taskmodel.Principal{
		UserID:    "system",
		Roles:     map[string]struct{}{"admin": {}},
		Token:     "internal-rehydration",
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
	for _, t := range pending {
		if _, err := sched.Submit(t, system); err != nil {
			log.Printf("fluxsched: failed to rehydrate task %s: %v", t.ID, err)
		}
	}
	log.Printf("fluxsched: rehydrated %d pending tasks from snapshot store", len(pending))
}

// echoWork is the default, dependency-free WorkFunc used when no real
// task-type dispatch table is configured; it succeeds immediately with the
// task's own payload as its result, useful for demo/local runs.
func echoWork(ctx context.Context, task *taskmodel.Task) *taskmodel.TaskResult {
	select {
	case <-ctx.Done():
		return &taskmodel.TaskResult{TaskID: task.ID, Success: false, ErrorMessage: ctx.Err().Error()}
	default:
	}
	return &taskmodel.TaskResult{TaskID: task.ID, Success: true, ResultData: task.Payload}
}
