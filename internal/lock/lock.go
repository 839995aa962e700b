package lock

import "context"

// Locker provides cluster-wide mutual exclusion with lease semantics.
// TryAcquire never blocks: if the key is held elsewhere it returns false
// immediately. A leaseSec > 0 bounds how long a crashed holder can keep
// the key; leaseSec <= 0 means the lock is held until Release, kept alive
// by a watchdog for as long as the holding process runs.
type Locker interface {
	TryAcquire(ctx context.Context, key string, leaseSec int) bool
	Release(ctx context.Context, key string)
}

// SolveKey builds the per-plan lock key.
func SolveKey(tenantID, planID string) string {
	return "solve:" + tenantID + ":" + planID
}
