package dashboard

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func startTestServer(t *testing.T) *Server {
	t.Helper()
	server := NewServer("127.0.0.1:0")
	if err := server.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		if err := server.Stop(); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	})
	time.Sleep(100 * time.Millisecond)
	return server
}

func TestServer_StartStop(t *testing.T) {
	server := startTestServer(t)
	if server.Addr() == "" {
		t.Fatal("Addr() is empty after Start()")
	}
}

func TestServer_BroadcastReachesClient(t *testing.T) {
	server := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("websocket.Dial() error = %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if count := server.ClientCount(); count != 1 {
		t.Errorf("ClientCount() = %d, want 1", count)
	}

	server.Publish("task_created", map[string]any{"ado_id": 42})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if msg.Event != "task_created" {
		t.Errorf("Event = %q, want %q", msg.Event, "task_created")
	}
	if v, ok := msg.Fields["ado_id"].(float64); !ok || v != 42 {
		t.Errorf("Fields[ado_id] = %v, want 42", msg.Fields["ado_id"])
	}
}

func TestServer_PublishTracksStats(t *testing.T) {
	server := startTestServer(t)

	server.Publish("task_created", nil)
	server.Publish("task_created", nil)
	server.Publish("pr_task_updated", nil)
	server.Publish("project_sync_finished", nil)
	server.Publish("stale_mappings_removed", map[string]any{"count": 3})

	stats := server.GetStats()
	if stats.TasksCreated != 2 {
		t.Errorf("TasksCreated = %d, want 2", stats.TasksCreated)
	}
	if stats.PRTasksUpdated != 1 {
		t.Errorf("PRTasksUpdated = %d, want 1", stats.PRTasksUpdated)
	}
	if stats.SyncPasses != 1 {
		t.Errorf("SyncPasses = %d, want 1", stats.SyncPasses)
	}
	if stats.StaleRemoved != 3 {
		t.Errorf("StaleRemoved = %d, want 3", stats.StaleRemoved)
	}
}

func TestServer_PublishWithoutClientsDoesNotBlock(t *testing.T) {
	server := startTestServer(t)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			server.Publish("task_updated", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish() blocked with no clients connected")
	}
}
