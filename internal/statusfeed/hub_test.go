package statusfeed

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fluxsched/fluxsched/internal/eventbus"
	"github.com/fluxsched/fluxsched/internal/taskmodel"
)

type fakeSource struct {
	pending []*taskmodel.Task
	workers []taskmodel.NodeStatus
}

func (f *fakeSource) Snapshot() []taskmodel.NodeStatus { return f.workers }
func (f *fakeSource) ListPending() []*taskmodel.Task    { return f.pending }

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func TestHubBroadcastsSnapshotOnStatusChanged(t *testing.T) {
	bus := eventbus.New()
	source := &fakeSource{
		pending: []*taskmodel.Task{{ID: "t1"}, {ID: "t2"}},
		workers: []taskmodel.NodeStatus{{NodeID: "w1"}},
	}
	hub := NewHub(source, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	waitForClientCount(t, hub, 1)

	bus.PublishStatusChanged(taskmodel.NodeStatus{NodeID: "w1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got SchedulerMetrics
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("expected a broadcast message, got error: %v", err)
	}
	if got.QueueDepth != 2 {
		t.Fatalf("expected queue depth 2, got %d", got.QueueDepth)
	}
	if len(got.Workers) != 1 || got.Workers[0].NodeID != "w1" {
		t.Fatalf("expected one worker w1, got %v", got.Workers)
	}
}

func TestHubRejectsConnectionsOverCapacity(t *testing.T) {
	bus := eventbus.New()
	source := &fakeSource{}
	hub := NewHub(source, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	defer srv.Close()

	hub.mu.Lock()
	for i := 0; i < maxConnections; i++ {
		hub.clients[&websocket.Conn{}] = struct{}{}
	}
	hub.mu.Unlock()

	conn := dial(t, srv)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the connection to be closed once capacity is exceeded")
	}
}

func TestHubShutdownClosesClients(t *testing.T) {
	bus := eventbus.New()
	source := &fakeSource{}
	hub := NewHub(source, bus)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	waitForClientCount(t, hub, 1)

	cancel()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected shutdown to close the connection")
	}
}

func waitForClientCount(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for client count %d, got %d", want, hub.ClientCount())
}
