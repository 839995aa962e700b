//go:build redis_integration

package events

import (
	"os"
	"testing"
	"time"
)

func TestRedisBrokerPublishAfterUnsubscribe(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set; skipping integration test")
	}
	b, err := NewRedisBroker(url)
	if err != nil {
		t.Fatalf("NewRedisBroker: %v", err)
	}

	ch := b.Subscribe("task-it")
	b.Unsubscribe("task-it", ch)

	// a publish after the stream detached must not crash the process
	b.Publish("task-it", Event{Type: "solve.status", Data: map[string]any{"status": "SOLVED"}})
	time.Sleep(200 * time.Millisecond)

	// the receive goroutine owns the close and has shut the channel down
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("event delivered after unsubscribe")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}
}

func TestRedisBrokerRoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set; skipping integration test")
	}
	b, err := NewRedisBroker(url)
	if err != nil {
		t.Fatalf("NewRedisBroker: %v", err)
	}
	ch := b.Subscribe("task-rt")
	defer b.Unsubscribe("task-rt", ch)

	b.Publish("task-rt", Event{Type: "solve.status", Data: map[string]any{"status": "RUNNING"}})
	select {
	case evt := <-ch:
		if evt.Data["status"] != "RUNNING" {
			t.Fatalf("event = %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}
