package lock

import (
	"context"
	"log"
	"sync"
	"time"
)

// Memory is an in-process Locker used when no REDIS_URL is set and in
// tests. Lease expiry is honored so that expiry-dependent behavior can
// be exercised without Redis.
type Memory struct {
	mu   sync.Mutex
	held map[string]time.Time // key -> lease deadline (zero = indefinite)
}

func NewMemory() *Memory {
	return &Memory{held: map[string]time.Time{}}
}

func (l *Memory) TryAcquire(ctx context.Context, key string, leaseSec int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if dl, ok := l.held[key]; ok {
		if dl.IsZero() || time.Now().Before(dl) {
			return false
		}
		// lease expired; previous holder loses the key
	}
	var dl time.Time
	if leaseSec > 0 {
		dl = time.Now().Add(time.Duration(leaseSec) * time.Second)
	}
	l.held[key] = dl
	return true
}

func (l *Memory) Release(ctx context.Context, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; !ok {
		log.Printf("UNLOCK_SKIP key=%s reason=not_held", key)
		return
	}
	delete(l.held, key)
}

// Held reports whether the key is currently locked (test helper).
func (l *Memory) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	dl, ok := l.held[key]
	if !ok {
		return false
	}
	return dl.IsZero() || time.Now().Before(dl)
}
