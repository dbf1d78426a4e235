package notifiers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/daniacca/membranedb/internal/psystem"
	"github.com/gorilla/websocket"
)

func TestNewWebSocketNotifier(t *testing.T) {
	notifier := NewWebSocketNotifier("test-ws")
	defer notifier.Close()

	if notifier.ID() != "test-ws" {
		t.Errorf("Expected ID 'test-ws', got '%s'", notifier.ID())
	}
	if notifier.Type() != "websocket" {
		t.Errorf("Expected type 'websocket', got '%s'", notifier.Type())
	}
	upgrader := notifier.GetUpgrader()
	if upgrader.ReadBufferSize == 0 || upgrader.WriteBufferSize == 0 {
		t.Error("Expected non-zero buffer sizes")
	}
}

func TestWebSocketNotifier_Broadcast(t *testing.T) {
	notifier := NewWebSocketNotifier("test-ws")
	defer notifier.Close()

	srv := httptest.NewServer(notifier)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for notifier.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for client registration")
		}
		time.Sleep(5 * time.Millisecond)
	}

	event := psystem.StepEvent{EnvironmentID: "env-1", Step: 7}
	if err := notifier.Notify(context.Background(), event); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var got psystem.StepEvent
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Failed to decode message: %v", err)
	}
	if got.EnvironmentID != "env-1" || got.Step != 7 {
		t.Errorf("Unexpected event: %+v", got)
	}
}

func TestWebSocketNotifier_NotifyAfterClose(t *testing.T) {
	notifier := NewWebSocketNotifier("test-ws")
	if err := notifier.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := notifier.Close(); err != nil {
		t.Fatalf("Second Close returned error: %v", err)
	}
	if err := notifier.Notify(context.Background(), psystem.StepEvent{Step: 1}); err == nil {
		t.Error("Expected error notifying a closed notifier")
	}
}
