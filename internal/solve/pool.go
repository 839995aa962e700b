package solve

import (
	"context"
	"log"
	"sync"

	"dispatchsolver/internal/metrics"
)

// pool is the bounded execution fabric for solve jobs: a fixed set of
// workers pulling from a bounded queue. Enqueue never blocks; a full
// queue is reported to the caller so the submission can be rolled back
// instead of stalling the HTTP handler.
type pool struct {
	queue chan job
	wg    sync.WaitGroup
	once  sync.Once
}

type job struct {
	run func(ctx context.Context)
}

func newPool(workers, depth int) *pool {
	if workers <= 0 {
		workers = 4
	}
	if depth <= 0 {
		depth = 200
	}
	p := &pool{queue: make(chan job, depth)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

func (p *pool) worker(id int) {
	defer p.wg.Done()
	for j := range p.queue {
		metrics.SolveQueueDepth.Set(float64(len(p.queue)))
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("SOLVE_PANIC worker=%d err=%v", id, r)
				}
			}()
			j.run(context.Background())
		}()
	}
}

// tryEnqueue reports false when the queue is full.
func (p *pool) tryEnqueue(run func(ctx context.Context)) bool {
	select {
	case p.queue <- job{run: run}:
		metrics.SolveQueueDepth.Set(float64(len(p.queue)))
		return true
	default:
		return false
	}
}

// shutdown stops intake and waits for in-flight jobs.
func (p *pool) shutdown() {
	p.once.Do(func() { close(p.queue) })
	p.wg.Wait()
}
