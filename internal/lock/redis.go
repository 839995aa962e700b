package lock

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockPrefix = "dispatch:solver:lock:"

// watchdogLease is the TTL used per renewal round when the caller asked
// for an indefinite lease.
const watchdogLease = 30 * time.Second

// releaseScript deletes the key only if this process still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the TTL only if this process still owns the key.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Redis implements Locker over a single Redis instance using SET NX PX
// with a per-acquisition owner token. Each held lock runs a watchdog that
// renews the TTL at a third of the lease; if the process dies the
// watchdog stops and the key expires within one lease.
type Redis struct {
	rdb *redis.Client

	mu   sync.Mutex
	held map[string]*heldLock
}

type heldLock struct {
	token string
	stop  chan struct{}
}

func NewRedis(url string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &Redis{rdb: redis.NewClient(opt), held: map[string]*heldLock{}}, nil
}

func (l *Redis) TryAcquire(ctx context.Context, key string, leaseSec int) bool {
	lease := watchdogLease
	if leaseSec > 0 {
		lease = time.Duration(leaseSec) * time.Second
	}
	token := uuid.New().String()
	ok, err := l.rdb.SetNX(ctx, lockPrefix+key, token, lease).Result()
	if err != nil {
		log.Printf("LOCK_ERROR key=%s err=%v", key, err)
		return false
	}
	if !ok {
		return false
	}
	h := &heldLock{token: token, stop: make(chan struct{})}
	l.mu.Lock()
	l.held[key] = h
	l.mu.Unlock()
	go l.watchdog(key, h, lease)
	return true
}

func (l *Redis) watchdog(key string, h *heldLock, lease time.Duration) {
	ticker := time.NewTicker(lease / 3)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			n, err := renewScript.Run(ctx, l.rdb, []string{lockPrefix + key}, h.token, lease.Milliseconds()).Int()
			cancel()
			if err != nil || n == 0 {
				// lost ownership (lease expired or key taken over); stop renewing
				log.Printf("LOCK_RENEW_LOST key=%s err=%v", key, err)
				return
			}
		}
	}
}

func (l *Redis) Release(ctx context.Context, key string) {
	l.mu.Lock()
	h, ok := l.held[key]
	delete(l.held, key)
	l.mu.Unlock()
	if !ok {
		log.Printf("UNLOCK_SKIP key=%s reason=not_held_by_this_process", key)
		return
	}
	close(h.stop)
	n, err := releaseScript.Run(ctx, l.rdb, []string{lockPrefix + key}, h.token).Int()
	if err != nil {
		log.Printf("UNLOCK_ERROR key=%s err=%v", key, err)
		return
	}
	if n == 0 {
		log.Printf("UNLOCK_SKIP key=%s reason=owner_changed", key)
	}
}
