// Package statusfeed is a read-only status-streaming transport for
// dashboard clients, grounded in control_plane/ws_hub.go's
// register/unregister/broadcast channel-actor hub.
//
// Unlike the teacher's MetricsHub, which pulls per-tenant metrics from a
// dashboard service on every tick, this hub has no external dependency to
// poll: it holds a StatusSource (the Scheduler Core) and subscribes to the
// Event Bus's status_changed topic (SPEC_FULL.md §10), so a worker status
// change is pushed to clients as soon as it happens, with a periodic
// snapshot broadcast as a fallback for a quiet cluster.
package statusfeed

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fluxsched/fluxsched/internal/eventbus"
	"github.com/fluxsched/fluxsched/internal/taskmodel"
)

// maxConnections caps concurrent dashboard clients, grounded in the
// teacher's maxWSConnections.
const maxConnections = 200

// snapshotInterval is the fallback broadcast period for a cluster with no
// status_changed traffic, grounded in the teacher's 1s ticker.
const snapshotInterval = time.Second

// StatusSource is the subset of the Scheduler Core the hub needs to build
// a snapshot. Satisfied by *scheduler.Scheduler; declared here so
// statusfeed does not import the scheduler package directly.
type StatusSource interface {
	Snapshot() []taskmodel.NodeStatus
	ListPending() []*taskmodel.Task
}

// SchedulerMetrics is the payload pushed to every connected client.
type SchedulerMetrics struct {
	GeneratedAt time.Time              `json:"generated_at"`
	QueueDepth  int                    `json:"queue_depth"`
	Workers     []taskmodel.NodeStatus `json:"workers"`
}

// Hub manages dashboard WebSocket connections and broadcasts
// SchedulerMetrics snapshots, grounded in the teacher's MetricsHub.
type Hub struct {
	source StatusSource

	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}

	register   chan *websocket.Conn
	unregister chan *websocket.Conn

	statusSub eventbus.Subscription
}

// NewHub wires a Hub to source and subscribes it to bus's status_changed
// topic. Call Run to start serving.
func NewHub(source StatusSource, bus eventbus.Bus) *Hub {
	h := &Hub{
		source:     source,
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
	h.statusSub = bus.SubscribeStatusChanged(func(taskmodel.NodeStatus) {
		h.broadcastAsync()
	})
	return h
}

// Run starts the hub's main loop and blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.statusSub.Unsubscribe()
			h.shutdown()
			return

		case conn := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxConnections {
				h.mu.Unlock()
				conn.Close()
				log.Printf("statusfeed: connection rejected, max connections (%d) reached", maxConnections)
				continue
			}
			h.clients[conn] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("statusfeed: client registered, total=%d", total)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("statusfeed: client unregistered, total=%d", total)

		case <-ticker.C:
			h.broadcast()
		}
	}
}

// broadcastAsync is called from the Event Bus's publisher goroutine
// (spec.md §4.7: handlers must be safe to call from publisher context),
// so it never blocks the caller on hub state; it hands off to a fresh
// goroutine that takes the read lock itself.
func (h *Hub) broadcastAsync() {
	go h.broadcast()
}

// broadcast sends the current SchedulerMetrics snapshot to every
// connected client, dropping any connection that fails to accept it.
func (h *Hub) broadcast() {
	metrics := SchedulerMetrics{
		GeneratedAt: time.Now(),
		QueueDepth:  len(h.source.ListPending()),
		Workers:     h.source.Snapshot(),
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(metrics); err != nil {
			log.Printf("statusfeed: write error: %v", err)
			go h.Unregister(conn)
		}
	}
}

// Register adds a new client connection, blocking until the hub's loop
// accepts or rejects it.
func (h *Hub) Register(conn *websocket.Conn) {
	h.register <- conn
}

// Unregister removes a client connection.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// shutdown closes every client connection.
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	log.Printf("statusfeed: shutting down with %d clients", len(h.clients))
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
}
