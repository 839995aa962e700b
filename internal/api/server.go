package api

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"dispatchsolver/internal/config"
	"dispatchsolver/internal/events"
	"dispatchsolver/internal/lock"
	"dispatchsolver/internal/matrix"
	"dispatchsolver/internal/metrics"
	"dispatchsolver/internal/opt"
	"dispatchsolver/internal/solve"
	"dispatchsolver/internal/status"
	"dispatchsolver/internal/store"
)

type Server struct {
	Store  store.Store
	Locker lock.Locker
	Broker events.Broker
	Solver *solve.Service

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewServer wires the whole stack from config: Postgres when
// DATABASE_URL is set (with dev migrations), otherwise in-memory;
// Redis lock and broker when REDIS_URL is set, otherwise in-memory.
func NewServer(cfg config.Config) (*Server, error) {
	var st store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		st = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := sp.MigrateDir("db/migrations"); err != nil {
			log.Printf("MIGRATE_WARN err=%v", err)
		}
		st = sp
	}

	var locker lock.Locker
	var broker events.Broker
	if strings.TrimSpace(cfg.RedisURL) != "" {
		rl, err := lock.NewRedis(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		locker = rl
		rb, err := events.NewRedisBroker(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		broker = rb
	} else {
		locker = lock.NewMemory()
		broker = events.NewMemory()
	}

	var provider matrix.Provider
	if cfg.Solve.MatrixProvider == "haversine" {
		provider = &matrix.Haversine{}
	} else {
		provider = matrix.Linear{}
	}

	tracker := status.NewTracker(st, broker)
	solver := solve.NewService(st, locker, tracker,
		solve.NewAssembler(st, provider), opt.NewHeuristic(),
		solve.Config{
			Workers:      cfg.Solve.Workers,
			QueueDepth:   cfg.Solve.QueueDepth,
			LockLeaseSec: cfg.Solve.LockLeaseSec,
		})

	metrics.RegisterDefault()
	return &Server{
		Store:    st,
		Locker:   locker,
		Broker:   broker,
		Solver:   solver,
		limiters: map[string]*rate.Limiter{},
	}, nil
}

func (s *Server) withTenant(r *http.Request) (context.Context, string) {
	// tenant from header; production would decode it from a JWT
	tenant := r.Header.Get("X-Tenant-Id")
	if tenant == "" {
		tenant = "t_demo"
	}
	ctx := context.WithValue(r.Context(), ctxKeyTenant{}, tenant)
	return ctx, tenant
}

type ctxKeyTenant struct{}

// limiter returns the per-tenant submit limiter: 10 submissions/sec
// with a burst of 20.
func (s *Server) limiter(tenant string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[tenant]
	if !ok {
		l = rate.NewLimiter(rate.Limit(10), 20)
		s.limiters[tenant] = l
	}
	return l
}
