package ws

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPublishWithoutSubscribersDoesNotBlock(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()
	defer hub.Shutdown()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			hub.Publish("task-1", map[string]any{"type": "progress", "progress": i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked with no subscribers")
	}
}

func TestSubscriberCountEmpty(t *testing.T) {
	hub := NewHub(zap.NewNop())
	if got := hub.SubscriberCount(); got != 0 {
		t.Fatalf("subscriber count = %d, want 0", got)
	}
}

func TestFanOutDeliversToTaskAndGlobalRooms(t *testing.T) {
	hub := NewHub(zap.NewNop())

	taskClient := &Client{room: "task-1", send: make(chan []byte, 4), hub: hub}
	globalClient := &Client{room: GlobalRoom, send: make(chan []byte, 4), hub: hub}
	otherClient := &Client{room: "task-2", send: make(chan []byte, 4), hub: hub}
	hub.addClient(taskClient)
	hub.addClient(globalClient)
	hub.addClient(otherClient)

	hub.fanOut(Event{TaskID: "task-1", Payload: map[string]any{"type": "progress"}, Timestamp: time.Now()})

	if len(taskClient.send) != 1 {
		t.Fatalf("task room got %d messages, want 1", len(taskClient.send))
	}
	if len(globalClient.send) != 1 {
		t.Fatalf("global room got %d messages, want 1", len(globalClient.send))
	}
	if len(otherClient.send) != 0 {
		t.Fatalf("unrelated room got %d messages, want 0", len(otherClient.send))
	}
}

func TestFanOutDropsSlowSubscriber(t *testing.T) {
	hub := NewHub(zap.NewNop())

	slow := &Client{room: "task-1", send: make(chan []byte), hub: hub}
	hub.addClient(slow)

	hub.fanOut(Event{TaskID: "task-1", Payload: map[string]any{"type": "progress"}, Timestamp: time.Now()})

	if hub.SubscriberCount() != 0 {
		t.Fatal("slow subscriber must be dropped, not block delivery")
	}
	if _, open := <-slow.send; open {
		t.Fatal("dropped subscriber's channel must be closed")
	}
}
