package events

import (
	"sync"
)

// Event is a solve job status update fanned out to stream subscribers.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Broker fans job events out by solve task id.
type Broker interface {
	Subscribe(taskID string) chan Event
	Unsubscribe(taskID string, ch chan Event)
	Publish(taskID string, evt Event)
}

type Memory struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{} // taskId -> set of channels
}

func NewMemory() *Memory {
	return &Memory{subs: map[string]map[chan Event]struct{}{}}
}

func (b *Memory) Subscribe(taskID string) chan Event {
	ch := make(chan Event, 8)
	b.mu.Lock()
	if b.subs[taskID] == nil {
		b.subs[taskID] = map[chan Event]struct{}{}
	}
	b.subs[taskID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Memory) Unsubscribe(taskID string, ch chan Event) {
	b.mu.Lock()
	if m := b.subs[taskID]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, taskID)
		}
	}
	b.mu.Unlock()
	close(ch)
}

func (b *Memory) Publish(taskID string, evt Event) {
	b.mu.Lock()
	for ch := range b.subs[taskID] {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}
